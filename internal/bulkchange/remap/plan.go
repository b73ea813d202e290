package remap

import (
	"golang.org/x/exp/slices"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

// Substitution maps option ids in the source context to option ids in the target context.
// A domain.NoValue key applies to issues without a value; a domain.NoValue target removes the value.
type Substitution map[int64]int64

func (s Substitution) apply(values []int64) []int64 {
	if len(values) == 0 {
		if to, ok := s[domain.NoValue]; ok && to != domain.NoValue {
			return []int64{to}
		}
		return nil
	}
	var result []int64
	for _, v := range values {
		to, ok := s[v]
		if !ok || to == domain.NoValue || slices.Contains(result, to) {
			continue
		}
		result = append(result, to)
	}
	return result
}

// Node remaps the issues of one source context into one target context.
type Node struct {
	Source domain.ContextKey
	Target domain.ContextKey
	Issues []*domain.Issue
	// Fields of the target context.
	Fields []domain.Field
	// Keyed by field id, for every option field present in both contexts.
	Substitutions map[string]Substitution
	// Source status -> target status.
	Statuses map[string]string
	Warnings []string
	// Issue with the target context and chosen values applied, for previews only.
	Preview *domain.Issue
	Depth   int

	children []int
}

func (n *Node) IssueKeys() []string {
	keys := make([]string, len(n.Issues))
	for i, issue := range n.Issues {
		keys[i] = issue.Key
	}
	return keys
}

func (n *Node) apply(issue *domain.Issue, values domain.FieldValues, retained map[string]bool) *domain.Issue {
	moved := issue.DeepCopy()
	moved.ProjectId = n.Target.ProjectId
	moved.IssueTypeId = n.Target.IssueTypeId
	if status, ok := n.Statuses[issue.StatusId]; ok {
		moved.StatusId = status
	}
	moved.Options = map[string][]int64{}
	moved.Text = map[string]string{}
	for _, f := range n.Fields {
		switch f.Kind {
		case domain.OptionField:
			if sub, ok := n.Substitutions[f.Id]; ok {
				if mapped := sub.apply(issue.Options[f.Id]); len(mapped) > 0 {
					moved.Options[f.Id] = mapped
				}
			}
		default:
			if text := issue.Text[f.Id]; text != "" {
				moved.Text[f.Id] = text
			}
		}
		v, ok := values.Get(f.Id)
		if !ok || (retained[f.Id] && !moved.FieldIsEmpty(f)) {
			continue
		}
		moved = domain.ApplyValue(moved, f, v)
	}
	return moved
}

// missingRequired returns the keys of issues that would be left without a value for field, if it is
// required in the target.
func (n *Node) missingRequired(field domain.Field, values domain.FieldValues, retained map[string]bool) []string {
	if !field.Required {
		return nil
	}
	var missing []string
	for _, issue := range n.Issues {
		if n.apply(issue, values, retained).FieldIsEmpty(field) {
			missing = append(missing, issue.Key)
		}
	}
	return missing
}

// Plan is the tree of context mappings for a move. Nodes are held in an arena and only refer to their
// children by index, so the tree is always walked from the roots down.
type Plan struct {
	nodes    []*Node
	roots    []int
	byIssue  map[int64]int
	values   domain.FieldValues
	retained map[string]bool
}

func newPlan(values domain.FieldValues, retained []string) *Plan {
	p := &Plan{
		byIssue:  map[int64]int{},
		values:   values,
		retained: map[string]bool{},
	}
	for _, f := range retained {
		p.retained[f] = true
	}
	return p
}

func (p *Plan) add(n *Node, parent int) int {
	idx := len(p.nodes)
	p.nodes = append(p.nodes, n)
	for _, issue := range n.Issues {
		p.byIssue[issue.Id] = idx
	}
	if parent < 0 {
		p.roots = append(p.roots, idx)
	} else {
		p.nodes[parent].children = append(p.nodes[parent].children, idx)
	}
	return idx
}

func (p *Plan) Roots() []*Node {
	return p.resolve(p.roots)
}

func (p *Plan) Children(n *Node) []*Node {
	return p.resolve(n.children)
}

func (p *Plan) resolve(indices []int) []*Node {
	nodes := make([]*Node, len(indices))
	for i, idx := range indices {
		nodes[i] = p.nodes[idx]
	}
	return nodes
}

// Walk visits every node, parents before their children.
func (p *Plan) Walk(fn func(n *Node)) {
	var visit func(idx int)
	visit = func(idx int) {
		fn(p.nodes[idx])
		for _, child := range p.nodes[idx].children {
			visit(child)
		}
	}
	for _, root := range p.roots {
		visit(root)
	}
}

// NodesFor returns the nodes remapping issues out of source.
func (p *Plan) NodesFor(source domain.ContextKey) []*Node {
	var nodes []*Node
	p.Walk(func(n *Node) {
		if n.Source == source {
			nodes = append(nodes, n)
		}
	})
	return nodes
}

func (p *Plan) NodeForIssue(issueId int64) (*Node, bool) {
	idx, ok := p.byIssue[issueId]
	if !ok {
		return nil, false
	}
	return p.nodes[idx], true
}

// Issues returns every issue in the plan, parents before their subtasks.
func (p *Plan) Issues() []*domain.Issue {
	var issues []*domain.Issue
	p.Walk(func(n *Node) {
		issues = append(issues, n.Issues...)
	})
	return issues
}

func (p *Plan) NumberOfIssues() int {
	return len(p.byIssue)
}

func (p *Plan) Warnings() []string {
	var warnings []string
	p.Walk(func(n *Node) {
		warnings = append(warnings, n.Warnings...)
	})
	return warnings
}

// Apply returns a copy of issue moved to its target context.
func (p *Plan) Apply(issue *domain.Issue) (*domain.Issue, error) {
	n, ok := p.NodeForIssue(issue.Id)
	if !ok {
		return nil, &bulkerrors.ErrNotFound{Type: "mapping", Value: issue.Key, Message: "issue is not part of this move"}
	}
	return n.apply(issue, p.values, p.retained), nil
}
