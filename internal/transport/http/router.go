package http

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"domainpay/internal/platform/middleware"
	"domainpay/internal/transport/http/respond"
)

// Routable is anything that contributes a sub-router.
type Routable interface {
	Routes() chi.Router
}

// Deps carries everything the router mounts. DB and Redis are only pinged by
// the health endpoint; nil Redis means it was not configured and is skipped.
type Deps struct {
	Payments    Routable
	Fulfillment Routable
	Auth        middleware.JWTValidator
	DB          *sql.DB
	Redis       *redis.Client
	Logger      *slog.Logger
}

// NewRouter assembles the HTTP surface. The callback route stays outside the
// auth middleware: the gateway authenticates with its signature, operators
// with a bearer token.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", healthHandler(d))
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/payments", d.Payments.Routes())

	r.Route("/orders", func(r chi.Router) {
		r.Use(middleware.RequireAuth(d.Auth, d.Logger))
		r.Mount("/", d.Fulfillment.Routes())
	})

	return r
}

func healthHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		if d.DB != nil {
			if err := d.DB.PingContext(ctx); err != nil {
				checks["database"] = err.Error()
				healthy = false
			} else {
				checks["database"] = "ok"
			}
		}
		if d.Redis != nil {
			if err := d.Redis.Ping(ctx).Err(); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			} else {
				checks["redis"] = "ok"
			}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(w, status, map[string]any{
			"healthy": healthy,
			"checks":  checks,
		})
	}
}
