package middleware

import (
	"net/http"
	"slices"

	"github.com/angelmondragon/ticketbooth/api/responses"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
	pkgerrors "github.com/angelmondragon/ticketbooth/pkg/errors"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
)

// RequireRole admits callers whose token role is one of allowed.
func RequireRole(logg *logger.Logger, allowed ...enums.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if !slices.Contains(allowed, role) {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Newf(pkgerrors.CodeForbidden, "role %q may not perform this action", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCheckInRole admits door staff and admins.
func RequireCheckInRole(logg *logger.Logger) func(http.Handler) http.Handler {
	return RequireRole(logg, enums.UserRoleStaff, enums.UserRoleAdmin)
}
