package routegroups

import (
	"net/http"
)

// Guards wraps handlers with authentication and a permission check.
type Guards struct {
	WithKey           func(http.HandlerFunc) http.HandlerFunc
	RequirePermission func(perm string) func(http.HandlerFunc) http.HandlerFunc
}

func (g Guards) KeyPerm(perm string, h http.HandlerFunc) http.HandlerFunc {
	return g.WithKey(g.RequirePermission(perm)(h))
}
