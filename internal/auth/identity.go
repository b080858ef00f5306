package auth

import (
	"net/http"
	"strings"

	"github.com/rl1809/bookstore/internal/core/domain"
)

// Trust headers. Only the edge sets them; services behind it believe them
// without re-verification.
const (
	HeaderPrincipalID = "X-User-Id"
	HeaderRole        = "X-User-Role"
)

var trustHeaders = []string{HeaderPrincipalID, HeaderRole}

func isTrustHeader(name string) bool {
	for _, h := range trustHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// IdentityFromHeaders rebuilds the caller's SecurityContext. If either header
// is missing, or the role is not one we know, the context is empty.
func IdentityFromHeaders(h http.Header) domain.SecurityContext {
	principal := strings.TrimSpace(h.Get(HeaderPrincipalID))
	role, ok := domain.ParseRole(strings.TrimSpace(h.Get(HeaderRole)))
	if principal == "" || !ok {
		return domain.SecurityContext{}
	}
	return domain.SecurityContext{PrincipalID: principal, Role: role}
}

func IdentityFromRequest(r *http.Request) domain.SecurityContext {
	return IdentityFromHeaders(r.Header)
}
