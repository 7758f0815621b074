package connectrpc

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/fpt/klein-dm/internal/session"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
)

// NewHandler returns the h2c handler serving service
func NewHandler(service session.Service, logger *pkgLogger.Logger) http.Handler {
	mux := http.NewServeMux()
	NewTurnServer(service, logger).Mount(mux)
	return h2c.NewHandler(mux, &http2.Server{})
}

// StartServer starts the Connect HTTP/2 server and blocks until ctx is cancelled.
func StartServer(ctx context.Context, addr string, service session.Service, logger *pkgLogger.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(service, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.InfoWithIntention(pkgLogger.IntentionStatus, "Connect server listening", "addr", addr, "service", ServiceName)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server error")
	}
	return nil
}
