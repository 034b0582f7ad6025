package callerctx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotilabs/housing-backend/api/middleware"
	"github.com/kotilabs/housing-backend/pkg/auth"
	"github.com/kotilabs/housing-backend/pkg/enums"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
)

func TestResolveActor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := ResolveActor(req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	noTenant := auth.Actor{UserID: uuid.New(), Role: enums.TenantRoleManager}
	_, err = ResolveActor(req.WithContext(middleware.WithActor(req.Context(), noTenant)))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	want := auth.Actor{UserID: uuid.New(), TenantID: uuid.New(), Role: enums.TenantRoleManager}
	got, err := ResolveActor(req.WithContext(middleware.WithActor(req.Context(), want)))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
