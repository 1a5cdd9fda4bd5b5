package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

// Roles, lowest first. Each API token carries one role.
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

var roleRank = map[string]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

func KnownRole(role string) bool {
	_, ok := roleRank[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

// HasAtLeast reports whether the highest of roles ranks at or above required.
func HasAtLeast(roles []string, required string) bool {
	need := roleRank[strings.ToLower(required)]
	if need == 0 {
		return false
	}
	for _, role := range roles {
		if roleRank[strings.ToLower(strings.TrimSpace(role))] >= need {
			return true
		}
	}
	return false
}

// Route assigns the role needed for requests whose path starts with Prefix.
// An empty Method matches every method.
type Route struct {
	Method string
	Prefix string
	Role   string
}

// Policy is checked in order; the first matching route wins. Requests no
// route matches need viewer for read-only methods and editor otherwise.
type Policy []Route

func (p Policy) RequiredRole(r *http.Request) string {
	for _, route := range p {
		if route.Method != "" && !strings.EqualFold(route.Method, r.Method) {
			continue
		}
		if strings.HasPrefix(r.URL.Path, route.Prefix) {
			return route.Role
		}
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer
	default:
		return RoleEditor
	}
}

func (p Policy) Authorizer() AuthorizeFunc {
	return func(r *http.Request, identity Identity) error {
		required := p.RequiredRole(r)
		if HasAtLeast(identity.Roles, required) {
			return nil
		}
		return &ForbiddenError{Required: required}
	}
}

// MethodRoleAuthorizer applies the method defaults of an empty Policy.
func MethodRoleAuthorizer() AuthorizeFunc {
	return Policy(nil).Authorizer()
}

// ForbiddenError names the role a request lacked.
type ForbiddenError struct {
	Required string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s role required", e.Required)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }
