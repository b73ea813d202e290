package authorization

import (
	"context"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type principalKey struct{}

// All users are implicitly part of this group.
const EveryoneGroup = "everyone"

const AnonymousName = "anonymous"

// Default principal used if no principal can be found in a context.
var anonymousPrincipal = NewStaticPrincipal(AnonymousName, []string{})

// Principal represents an entity that can be authenticated (e.g., a user).
// Each principal has a name associated with it and may be part of one or more groups.
type Principal interface {
	GetName() string
	GetGroupNames() []string
	IsInGroup(group string) bool
}

// Default implementation of the Principal interface.
// Here, static refers to the fact that the principal doesn't change once it has been created.
type StaticPrincipal struct {
	name   string
	groups map[string]bool
}

func NewStaticPrincipal(name string, groups []string) *StaticPrincipal {
	set := map[string]bool{EveryoneGroup: true}
	for _, g := range groups {
		set[g] = true
	}
	return &StaticPrincipal{name: name, groups: set}
}

func (p *StaticPrincipal) IsInGroup(group string) bool {
	return p.groups[group]
}

func (p *StaticPrincipal) GetName() string {
	return p.name
}

// GetGroupNames returns the groups of the principal, sorted.
func (p *StaticPrincipal) GetGroupNames() []string {
	names := maps.Keys(p.groups)
	slices.Sort(names)
	return names
}

// GetPrincipal returns the principal (e.g., a user) contained in a context.
// If no principal can be found, a principal representing an anonymous (unauthenticated) user is returned.
func GetPrincipal(ctx context.Context) Principal {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok {
		return anonymousPrincipal
	}
	return p
}

// WithPrincipal returns a new context containing a principal that is a child to the given context.
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

func IsAnonymous(principal Principal) bool {
	return principal == nil || principal.GetName() == AnonymousName
}
