package authorization

import (
	"net/http"
	"strings"
)

const (
	UserHeader   = "X-Remote-User"
	GroupsHeader = "X-Remote-Groups"
)

// HeaderAuthMiddleware trusts the identity asserted by a fronting proxy and stores it in the request
// context. Requests without a user header are treated as anonymous.
func HeaderAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserHeader))
		if user == "" {
			next.ServeHTTP(w, r)
			return
		}
		groups := []string{}
		for _, g := range strings.Split(r.Header.Get(GroupsHeader), ",") {
			if g = strings.TrimSpace(g); g != "" {
				groups = append(groups, g)
			}
		}
		ctx := WithPrincipal(r.Context(), NewStaticPrincipal(user, groups))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
