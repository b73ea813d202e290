package config

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

type nested struct {
	Port int `validate:"required"`
}

type outer struct {
	Name   string `validate:"oneof=a b"`
	Nested nested
}

func TestLogValidationErrors(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	err := validator.New().Struct(outer{Name: "c"})
	LogValidationErrors(err)

	var messages []string
	for _, entry := range hook.AllEntries() {
		assert.Equal(t, logrus.ErrorLevel, entry.Level)
		messages = append(messages, entry.Message)
	}
	assert.ElementsMatch(t, []string{
		"ConfigError: Field Name has invalid value c: oneof",
		"ConfigError: Field Nested.Port is required but was not found",
	}, messages)

	hook.Reset()
	LogValidationErrors(errors.New("boom"))
	assert.Equal(t, "ConfigError: boom", hook.LastEntry().Message)

	hook.Reset()
	LogValidationErrors(nil)
	assert.Empty(t, hook.AllEntries())
}
