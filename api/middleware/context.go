package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/ticketbooth/pkg/enums"
)

type contextKey string

const ctxCaller contextKey = "caller"

// caller is the authenticated principal resolved from the bearer token.
type caller struct {
	userID string
	role   enums.UserRole
}

func callerFrom(ctx context.Context) caller {
	if ctx == nil {
		return caller{}
	}
	c, _ := ctx.Value(ctxCaller).(caller)
	return c
}

// WithCaller injects an authenticated caller into the context.
func WithCaller(ctx context.Context, userID string, role enums.UserRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxCaller, caller{userID: userID, role: role})
}

func UserIDFromContext(ctx context.Context) string { return callerFrom(ctx).userID }

func RoleFromContext(ctx context.Context) enums.UserRole { return callerFrom(ctx).role }

// CallerID returns the authenticated user as a UUID, or uuid.Nil.
func CallerID(ctx context.Context) uuid.UUID {
	id, err := uuid.Parse(callerFrom(ctx).userID)
	if err != nil {
		return uuid.Nil
	}
	return id
}
