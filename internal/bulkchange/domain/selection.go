package domain

import (
	"encoding/json"

	"golang.org/x/exp/slices"
)

// Selection is an ordered set of issues targeted by a bulk operation.
// A Selection holds its own copies of the issues and hands out copies, so it can't change once created.
type Selection struct {
	issues []*Issue
}

func NewSelection(issues []*Issue) Selection {
	seen := make(map[int64]bool, len(issues))
	copied := make([]*Issue, 0, len(issues))
	for _, issue := range issues {
		if issue == nil || seen[issue.Id] {
			continue
		}
		seen[issue.Id] = true
		copied = append(copied, issue.DeepCopy())
	}
	return Selection{issues: copied}
}

func (s Selection) Issues() []*Issue {
	issues := make([]*Issue, len(s.issues))
	for i, issue := range s.issues {
		issues[i] = issue.DeepCopy()
	}
	return issues
}

func (s Selection) Len() int {
	return len(s.issues)
}

func (s Selection) IsEmpty() bool {
	return len(s.issues) == 0
}

func (s Selection) Contains(id int64) bool {
	return slices.IndexFunc(s.issues, func(i *Issue) bool { return i.Id == id }) >= 0
}

func (s Selection) Ids() []int64 {
	ids := make([]int64, len(s.issues))
	for i, issue := range s.issues {
		ids[i] = issue.Id
	}
	return ids
}

func (s Selection) Keys() []string {
	keys := make([]string, len(s.issues))
	for i, issue := range s.issues {
		keys[i] = issue.Key
	}
	return keys
}

// Contexts returns the distinct contexts of the selected issues, in order of first appearance.
func (s Selection) Contexts() []ContextKey {
	var contexts []ContextKey
	seen := map[ContextKey]bool{}
	for _, issue := range s.issues {
		c := issue.Context()
		if !seen[c] {
			seen[c] = true
			contexts = append(contexts, c)
		}
	}
	return contexts
}

func (s Selection) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.issues)
}

func (s *Selection) UnmarshalJSON(data []byte) error {
	var issues []*Issue
	if err := json.Unmarshal(data, &issues); err != nil {
		return err
	}
	*s = NewSelection(issues)
	return nil
}
