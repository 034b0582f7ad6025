// Package callerctx resolves the authenticated caller for controllers.
package callerctx

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/kotilabs/housing-backend/api/middleware"
	"github.com/kotilabs/housing-backend/pkg/auth"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
)

// ResolveActor returns the caller seeded by the auth middleware. A caller
// without a tenant is rejected.
func ResolveActor(r *http.Request) (auth.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok || actor.UserID == uuid.Nil {
		return auth.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	if actor.TenantID == uuid.Nil {
		return auth.Actor{}, pkgerrors.New(pkgerrors.CodeForbidden, "tenant context required")
	}
	return actor, nil
}
