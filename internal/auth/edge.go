package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/core/domain"
)

type TokenVerifier interface {
	Verify(token string) (domain.Claims, error)
}

// EdgeAuthenticator is the front-door filter. It is the only place a
// caller-presented credential is checked.
type EdgeAuthenticator struct {
	verifier TokenVerifier
	public   map[string]struct{}
	logger   *zap.Logger
}

// NewEdgeAuthenticator builds the filter. publicPaths are matched exactly
// against the request path.
func NewEdgeAuthenticator(verifier TokenVerifier, publicPaths []string, logger *zap.Logger) *EdgeAuthenticator {
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		if p = strings.TrimSpace(p); p != "" {
			public[p] = struct{}{}
		}
	}
	return &EdgeAuthenticator{verifier: verifier, public: public, logger: logger}
}

func (e *EdgeAuthenticator) IsPublic(path string) bool {
	_, ok := e.public[path]
	return ok
}

func (e *EdgeAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Caller-supplied trust headers never pass the edge, public path or not.
		r = r.Clone(r.Context())
		for name := range r.Header {
			if isTrustHeader(name) {
				delete(r.Header, name)
			}
		}

		if e.IsPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			e.reject(w, r, "missing or malformed bearer token", nil)
			return
		}

		claims, err := e.verifier.Verify(token)
		if err != nil {
			e.reject(w, r, "token rejected", err)
			return
		}

		r.Header.Set(HeaderPrincipalID, claims.Subject)
		r.Header.Set(HeaderRole, string(claims.Role))
		next.ServeHTTP(w, r)
	})
}

func (e *EdgeAuthenticator) reject(w http.ResponseWriter, r *http.Request, reason string, err error) {
	e.logger.Info("request rejected at edge",
		zap.String("path", r.URL.Path),
		zap.String("reason", reason),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="bookstore"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   string(domain.KindUnauthenticated),
		"message": reason,
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
