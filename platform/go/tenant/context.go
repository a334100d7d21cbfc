package tenant

import (
	"context"
	"strings"
)

// Space captures the resolved tenant partition for a request. The tenant ID
// is opaque: the core never parses or authenticates it, it only scopes every
// counter, lookup, and query.
type Space struct {
	TenantID string
}

type ctxKey string

const spaceKey ctxKey = "CAMPUS_TENANT_SPACE"

// WithSpace returns a derived context carrying the tenant Space.
func WithSpace(ctx context.Context, space Space) context.Context {
	return context.WithValue(ctx, spaceKey, space)
}

// FromContext extracts the tenant Space and a boolean indicating presence.
func FromContext(ctx context.Context) (Space, bool) {
	v := ctx.Value(spaceKey)
	if v == nil {
		return Space{}, false
	}

	space, ok := v.(Space)
	if !ok || strings.TrimSpace(space.TenantID) == "" {
		return Space{}, false
	}
	return space, true
}
