package wizard

import (
	"encoding/json"

	"golang.org/x/exp/slices"
)

// ChangeMode says how a chosen value is combined with the value an issue already has.
type ChangeMode string

const (
	Replace ChangeMode = "replace"
	Add     ChangeMode = "add"
	Remove  ChangeMode = "remove"
	Clear   ChangeMode = "clear"
)

// FieldAction is a field the user chose to change.
type FieldAction struct {
	FieldId string     `json:"fieldId"`
	Mode    ChangeMode `json:"mode"`
}

// ActionMap holds chosen field actions keyed by field id, in the order they were first chosen.
type ActionMap struct {
	order   []string
	actions map[string]FieldAction
}

func NewActionMap() *ActionMap {
	return &ActionMap{actions: map[string]FieldAction{}}
}

// Put adds action, or replaces the action for the same field without changing its position.
func (m *ActionMap) Put(action FieldAction) {
	if action.Mode == "" {
		action.Mode = Replace
	}
	if _, ok := m.actions[action.FieldId]; !ok {
		m.order = append(m.order, action.FieldId)
	}
	m.actions[action.FieldId] = action
}

func (m *ActionMap) Get(fieldId string) (FieldAction, bool) {
	a, ok := m.actions[fieldId]
	return a, ok
}

func (m *ActionMap) Remove(fieldId string) {
	if _, ok := m.actions[fieldId]; !ok {
		return
	}
	delete(m.actions, fieldId)
	i := slices.Index(m.order, fieldId)
	m.order = slices.Delete(m.order, i, i+1)
}

func (m *ActionMap) Keys() []string {
	return slices.Clone(m.order)
}

func (m *ActionMap) Values() []FieldAction {
	values := make([]FieldAction, 0, len(m.order))
	for _, id := range m.order {
		values = append(values, m.actions[id])
	}
	return values
}

func (m *ActionMap) Len() int {
	return len(m.order)
}

func (m *ActionMap) Clear() {
	m.order = nil
	m.actions = map[string]FieldAction{}
}

func (m *ActionMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Values())
}

func (m *ActionMap) UnmarshalJSON(data []byte) error {
	var values []FieldAction
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	m.Clear()
	for _, v := range values {
		m.Put(v)
	}
	return nil
}
