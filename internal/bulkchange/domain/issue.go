package domain

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// NoValue is the sentinel option id used in substitution tables.
// As a source key it matches issues that have no value for the field.
// As a target it means the value is cleared.
const NoValue int64 = -1

// ContextKey identifies the configuration an issue lives in. Field configuration and workflow are
// both resolved per context.
type ContextKey struct {
	ProjectId   int64  `json:"projectId"`
	IssueTypeId string `json:"issueTypeId"`
}

func (k ContextKey) String() string {
	return fmt.Sprintf("%d/%s", k.ProjectId, k.IssueTypeId)
}

type Issue struct {
	Id          int64  `json:"id"`
	Key         string `json:"key"`
	ProjectId   int64  `json:"projectId"`
	IssueTypeId string `json:"issueTypeId"`
	StatusId    string `json:"statusId"`
	// Id of the parent issue; zero for top level issues.
	ParentId int64 `json:"parentId,omitempty"`
	// Values of option-like fields (versions, components, select lists) keyed by field id.
	Options map[string][]int64 `json:"options,omitempty"`
	// Values of free text fields keyed by field id.
	Text     map[string]string `json:"text,omitempty"`
	Watchers []string          `json:"watchers,omitempty"`
}

func (i *Issue) Context() ContextKey {
	return ContextKey{ProjectId: i.ProjectId, IssueTypeId: i.IssueTypeId}
}

func (i *Issue) IsSubTask() bool {
	return i.ParentId != 0
}

func (i *Issue) IsWatchedBy(user string) bool {
	return slices.Contains(i.Watchers, user)
}

func (i *Issue) DeepCopy() *Issue {
	if i == nil {
		return nil
	}
	c := *i
	if i.Options != nil {
		c.Options = make(map[string][]int64, len(i.Options))
		for k, v := range i.Options {
			c.Options[k] = slices.Clone(v)
		}
	}
	if i.Text != nil {
		c.Text = maps.Clone(i.Text)
	}
	c.Watchers = slices.Clone(i.Watchers)
	return &c
}

// FieldIsEmpty returns true if the issue holds no value for field.
func (i *Issue) FieldIsEmpty(field Field) bool {
	if field.Kind == OptionField {
		return len(i.Options[field.Id]) == 0
	}
	return i.Text[field.Id] == ""
}
