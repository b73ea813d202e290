package transition

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
)

// ShortListSize is the number of issue keys shown when summarising a group.
const ShortListSize = 5

// ActionSource returns the workflow of an issue and the actions currently available to it.
type ActionSource interface {
	AvailableActions(ctx context.Context, issue *domain.Issue) (*domain.Workflow, []domain.Action, error)
}

type Group struct {
	Key        Key
	ActionName string
	Issues     []*domain.Issue
}

func (g *Group) IssueKeys() []string {
	keys := make([]string, len(g.Issues))
	for i, issue := range g.Issues {
		keys[i] = issue.Key
	}
	return keys
}

// ShortList returns the keys of the first ShortListSize issues in the group.
func (g *Group) ShortList() []string {
	keys := g.IssueKeys()
	if len(keys) > ShortListSize {
		keys = keys[:ShortListSize]
	}
	return keys
}

func (g *Group) IsShortListed() bool {
	return len(g.Issues) > ShortListSize
}

// Groups is a multimap from Key to issues. Keys are kept in the order they were first seen, so for a
// fixed selection and workflow configuration the result is always the same.
type Groups struct {
	order  []Key
	groups map[Key]*Group
	// Selected issues no transition is available to.
	Skipped []*domain.Issue
}

func newGroups() *Groups {
	return &Groups{groups: map[Key]*Group{}}
}

func (g *Groups) add(key Key, actionName string, issue *domain.Issue) {
	group, ok := g.groups[key]
	if !ok {
		group = &Group{Key: key, ActionName: actionName}
		g.groups[key] = group
		g.order = append(g.order, key)
	}
	group.Issues = append(group.Issues, issue)
}

func (g *Groups) Keys() []Key {
	return slices.Clone(g.order)
}

func (g *Groups) Get(key Key) (*Group, bool) {
	group, ok := g.groups[key]
	return group, ok
}

func (g *Groups) Len() int {
	return len(g.order)
}

// Workflows returns the names of workflows with at least one transition, in order of first appearance.
func (g *Groups) Workflows() []string {
	var workflows []string
	for _, k := range g.order {
		if !slices.Contains(workflows, k.Workflow) {
			workflows = append(workflows, k.Workflow)
		}
	}
	return workflows
}

// KeysForWorkflow returns the keys of workflow sorted by action id, then destination.
func (g *Groups) KeysForWorkflow(workflow string) []Key {
	var keys []Key
	for _, k := range g.order {
		if k.Workflow == workflow {
			keys = append(keys, k)
		}
	}
	slices.SortStableFunc(keys, func(a, b Key) bool {
		if a.ActionId != b.ActionId {
			return a.ActionId < b.ActionId
		}
		return a.DestinationStatus < b.DestinationStatus
	})
	return keys
}

// Grouper turns a selection of issues on possibly different workflows and statuses into the set of
// distinct transitions a user can choose from.
type Grouper struct {
	actions ActionSource
}

func NewGrouper(actions ActionSource) *Grouper {
	return &Grouper{actions: actions}
}

// Group keys every available action of every issue by workflow, action and destination status.
// An action looping back to its origin is keyed by the issue's own status, so issues in different
// statuses taking the same looping action end up in different groups.
// Actions whose destination isn't part of the issue's workflow are left out.
func (gr *Grouper) Group(ctx context.Context, issues []*domain.Issue) (*Groups, error) {
	groups := newGroups()
	for _, issue := range issues {
		w, actions, err := gr.actions.AvailableActions(ctx, issue)
		if err != nil {
			return nil, err
		}
		grouped := false
		for _, action := range actions {
			destination, ok := w.Destination(issue.StatusId, action)
			if !ok {
				log.WithFields(log.Fields{
					"issue":    issue.Key,
					"workflow": w.Name,
					"action":   action.Id,
				}).Warn("skipping transition with unreachable destination")
				continue
			}
			key := Key{Workflow: w.Name, ActionId: action.Id, DestinationStatus: destination}
			groups.add(key, action.Name, issue)
			grouped = true
		}
		if !grouped {
			groups.Skipped = append(groups.Skipped, issue)
		}
	}
	return groups, nil
}
