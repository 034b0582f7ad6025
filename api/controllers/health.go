package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/kotilabs/housing-backend/api/responses"
	"github.com/kotilabs/housing-backend/pkg/config"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/logger"
)

const readyTimeout = 2 * time.Second

// Pinger is satisfied by the db, redis and gcs clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyDeps lists the dependencies probed by the readiness check. Nil
// entries are skipped.
type ReadyDeps struct {
	DB      Pinger
	Redis   Pinger
	Storage Pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Housing-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, deps ReadyDeps, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Housing-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := map[string]Pinger{
			"db":      deps.DB,
			"redis":   deps.Redis,
			"storage": deps.Storage,
		}
		failed := map[string]string{}
		for name, p := range checks {
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(failed))
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
