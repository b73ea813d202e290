package configuration

import (
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
)

var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		FieldKindDecodeHook(),
	)),
}

var fieldKinds = map[string]domain.FieldKind{
	"text":   domain.TextField,
	"option": domain.OptionField,
}

// FieldKindDecodeHook lets field kinds be configured by name.
func FieldKindDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(domain.TextField) {
			return data, nil
		}
		kind, ok := fieldKinds[strings.ToLower(data.(string))]
		if !ok {
			return nil, errors.Errorf("unknown field kind %q", data)
		}
		return kind, nil
	}
}
