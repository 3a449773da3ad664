package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ctxUserID      contextKey = "user_id"
	ctxPermissions contextKey = "permissions"
)

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	if v, ok := ctx.Value(ctxUserID).(uuid.UUID); ok && v != uuid.Nil {
		return v, true
	}
	return uuid.Nil, false
}

func PermissionsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxPermissions).([]string); ok {
		return v
	}
	return nil
}

// WithUser injects the authenticated identity; tests use this to skip the
// token round trip.
func WithUser(ctx context.Context, userID uuid.UUID, permissions []string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, userID)
	return context.WithValue(ctx, ctxPermissions, permissions)
}

func hasPermission(ctx context.Context, perm string) bool {
	for _, p := range PermissionsFromContext(ctx) {
		if p == perm {
			return true
		}
	}
	return false
}
