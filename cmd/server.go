package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otherjamesbrown/meetcap/pkg/buildinfo"
	"github.com/otherjamesbrown/meetcap/pkg/db"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

// newOpsHandler serves /metrics, /healthz and /version.
func newOpsHandler(reg *prometheus.Registry, pool *pgxpool.Pool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/healthz", db.HealthHandler(pool))
	mux.Handle("/version", buildinfo.Handler(ServiceName))
	return mux
}

// serveOps runs the ops endpoints on addr until ctx is done.
func serveOps(ctx context.Context, addr string, h http.Handler, logger logging.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("Ops server listening", logging.F("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Ops server failed", logging.Err(err))
		}
	}()
}
