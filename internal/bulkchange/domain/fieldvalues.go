package domain

import (
	"encoding/json"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Value is the value a user chose for a field. Option fields use Options, text fields use Text.
// An empty Value clears the field.
type Value struct {
	Options []int64 `json:"options,omitempty"`
	Text    string  `json:"text,omitempty"`
}

func (v Value) IsEmpty() bool {
	return len(v.Options) == 0 && v.Text == ""
}

// FieldValues maps field ids to the values chosen for them.
// FieldValues is immutable; With and Without return modified copies.
type FieldValues struct {
	values map[string]Value
}

func NewFieldValues() FieldValues {
	return FieldValues{values: map[string]Value{}}
}

func (f FieldValues) With(fieldId string, v Value) FieldValues {
	values := maps.Clone(f.values)
	if values == nil {
		values = map[string]Value{}
	}
	values[fieldId] = Value{Options: slices.Clone(v.Options), Text: v.Text}
	return FieldValues{values: values}
}

func (f FieldValues) Without(fieldId string) FieldValues {
	values := maps.Clone(f.values)
	delete(values, fieldId)
	return FieldValues{values: values}
}

func (f FieldValues) Get(fieldId string) (Value, bool) {
	v, ok := f.values[fieldId]
	if !ok {
		return Value{}, false
	}
	return Value{Options: slices.Clone(v.Options), Text: v.Text}, true
}

// FieldIds returns the ids of all fields holding a value, sorted.
func (f FieldValues) FieldIds() []string {
	ids := maps.Keys(f.values)
	slices.Sort(ids)
	return ids
}

func (f FieldValues) Len() int {
	return len(f.values)
}

func (f FieldValues) MarshalJSON() ([]byte, error) {
	if f.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f.values)
}

func (f *FieldValues) UnmarshalJSON(data []byte) error {
	values := map[string]Value{}
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	f.values = values
	return nil
}

// ApplyValue returns a copy of issue with field set to v.
func ApplyValue(issue *Issue, field Field, v Value) *Issue {
	updated := issue.DeepCopy()
	switch field.Kind {
	case OptionField:
		if updated.Options == nil {
			updated.Options = map[string][]int64{}
		}
		if len(v.Options) == 0 {
			delete(updated.Options, field.Id)
		} else {
			updated.Options[field.Id] = slices.Clone(v.Options)
		}
	default:
		if updated.Text == nil {
			updated.Text = map[string]string{}
		}
		if v.Text == "" {
			delete(updated.Text, field.Id)
		} else {
			updated.Text[field.Id] = v.Text
		}
	}
	return updated
}
