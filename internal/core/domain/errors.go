package domain

import "errors"

var (
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrItemNotFound         = errors.New("item not found")
	ErrItemExists           = errors.New("item already exists")
	ErrConflict             = errors.New("concurrent update conflict")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrOrchestrationFailure = errors.New("orchestration failure")
)

// Kind is the machine-readable error kind returned to callers.
type Kind string

const (
	KindUnauthenticated      Kind = "UNAUTHENTICATED"
	KindUnauthorized         Kind = "UNAUTHORIZED"
	KindInvalidRequest       Kind = "INVALID_REQUEST"
	KindItemNotFound         Kind = "ITEM_NOT_FOUND"
	KindItemExists           Kind = "ITEM_EXISTS"
	KindConflict             Kind = "CONFLICT"
	KindInsufficientStock    Kind = "INSUFFICIENT_STOCK"
	KindUpstreamUnavailable  Kind = "UPSTREAM_UNAVAILABLE"
	KindOrchestrationFailure Kind = "ORCHESTRATION_FAILURE"
	KindInternal             Kind = "INTERNAL"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnauthenticated, KindUnauthenticated},
	{ErrUnauthorized, KindUnauthorized},
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrItemNotFound, KindItemNotFound},
	{ErrItemExists, KindItemExists},
	{ErrConflict, KindConflict},
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrUpstreamUnavailable, KindUpstreamUnavailable},
	{ErrOrchestrationFailure, KindOrchestrationFailure},
}

// KindOf classifies err against the taxonomy. Anything unrecognised is
// KindInternal.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
