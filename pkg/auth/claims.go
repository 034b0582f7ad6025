package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kotilabs/housing-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     enums.TenantRole
	JTI      string
}

// AccessTokenClaims represents the typed JWT issued by the identity service.
type AccessTokenClaims struct {
	UserID   uuid.UUID        `json:"user_id"`
	TenantID uuid.UUID        `json:"tenant_id"`
	Role     enums.TenantRole `json:"role"`
	jwt.RegisteredClaims
}

// Actor is the authenticated caller of a synchronous operation.
type Actor struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     enums.TenantRole
}

// ActorFromClaims builds an Actor from verified token claims.
func ActorFromClaims(claims *AccessTokenClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{UserID: claims.UserID, TenantID: claims.TenantID, Role: claims.Role}
}

// IsManager reports whether the actor may manage billing for its tenant.
// Platform admins are treated as managers.
func (a Actor) IsManager() bool {
	return a.Role == enums.TenantRoleManager || a.Role == enums.TenantRoleAdmin
}

// IsAdmin reports whether the actor is a platform administrator.
func (a Actor) IsAdmin() bool {
	return a.Role == enums.TenantRoleAdmin
}
