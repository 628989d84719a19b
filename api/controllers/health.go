package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/locad/locad-payments/api/responses"
	"github.com/locad/locad-payments/pkg/config"
	pkgerrors "github.com/locad/locad-payments/pkg/errors"
	"github.com/locad/locad-payments/pkg/logger"
)

const (
	envHeader    = "X-LocAD-Env"
	readyTimeout = 3 * time.Second
)

// Pinger is any dependency the readiness check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependency names a readiness check. A nil Pinger is reported as skipped.
type Dependency struct {
	Name   string
	Pinger Pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, deps ...Dependency) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := make(map[string]string, len(deps))
		failed := map[string]string{}
		for _, dep := range deps {
			if dep.Pinger == nil {
				checks[dep.Name] = "skipped"
				continue
			}
			if err := dep.Pinger.Ping(ctx); err != nil {
				checks[dep.Name] = "error"
				failed[dep.Name] = err.Error()
				continue
			}
			checks[dep.Name] = "ok"
		}

		if len(failed) > 0 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(failed))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
