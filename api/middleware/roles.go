package middleware

import (
	"net/http"

	"github.com/kotilabs/housing-backend/api/responses"
	"github.com/kotilabs/housing-backend/pkg/auth"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/logger"
)

// RequireManager admits tenant managers and platform admins.
func RequireManager(logg *logger.Logger) func(http.Handler) http.Handler {
	return requireActor(logg, "manager role required", auth.Actor.IsManager)
}

// RequireAdmin admits platform admins only.
func RequireAdmin(logg *logger.Logger) func(http.Handler) http.Handler {
	return requireActor(logg, "admin role required", auth.Actor.IsAdmin)
}

func requireActor(logg *logger.Logger, msg string, allowed func(auth.Actor) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if !allowed(actor) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, msg))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
