package storage

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/rl1809/bookstore/internal/core/domain"
)

type staticUser struct {
	password string
	role     domain.Role
}

// StaticCredentialStore is a fixed user table for local runs, standing in
// for the real identity provider.
type StaticCredentialStore struct {
	users map[string]staticUser
}

// NewStaticCredentialStore parses entries of the form "name:password:ROLE".
func NewStaticCredentialStore(entries []string) (*StaticCredentialStore, error) {
	users := make(map[string]staticUser, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		parts := strings.Split(e, ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("credential entry %q: want name:password:ROLE", e)
		}
		role, ok := domain.ParseRole(parts[2])
		if !ok {
			return nil, fmt.Errorf("credential entry for %s: unknown role %q", parts[0], parts[2])
		}
		users[parts[0]] = staticUser{password: parts[1], role: role}
	}
	return &StaticCredentialStore{users: users}, nil
}

func (s *StaticCredentialStore) Authenticate(ctx context.Context, username, password string) (string, domain.Role, error) {
	u, ok := s.users[username]
	if !ok || subtle.ConstantTimeCompare([]byte(u.password), []byte(password)) != 1 {
		return "", "", fmt.Errorf("%w: bad credentials", domain.ErrUnauthenticated)
	}
	return username, u.role, nil
}
