package port

import (
	"context"
	"time"

	"github.com/rl1809/bookstore/internal/core/domain"
)

// CredentialStore checks a username/password pair. It returns
// domain.ErrUnauthenticated when they do not match.
type CredentialStore interface {
	Authenticate(ctx context.Context, username, password string) (subject string, role domain.Role, err error)
}

type TokenIssuer interface {
	Issue(subject string, role domain.Role) (string, error)
	TTL() time.Duration
}
