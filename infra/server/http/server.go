// Package http hosts the single HTTP listener: websocket upgrades, the
// admin REST surface, and the prometheus endpoint share one port.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"github.com/webitel/relay-service/config"
)

type Server struct {
	logger *slog.Logger
	srv    *http.Server
	tls    config.TLSConfig
}

func NewServer(logger *slog.Logger, cfg *config.Config, handler http.Handler) *Server {
	return &Server{
		logger: logger,
		tls:    cfg.TLS,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start binds the listener synchronously so a bad port fails startup,
// then serves in the background. Serve errors after startup shut the
// fx app down with the I/O exit code.
func (s *Server) Start(shutdowner fx.Shutdowner) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.srv.Addr, err)
	}
	s.logger.Info("http listening",
		slog.String("addr", s.srv.Addr),
		slog.Bool("tls", s.tls.Enabled()),
	)

	go func() {
		var err error
		if s.tls.Enabled() {
			err = s.srv.ServeTLS(ln, s.tls.Cert, s.tls.Key)
		} else {
			err = s.srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http serve failed", slog.Any("err", err))
			shutdowner.Shutdown(fx.ExitCode(69))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

var Module = fx.Module("http-server",
	fx.Provide(NewServer),
	fx.Invoke(func(lc fx.Lifecycle, s *Server, shutdowner fx.Shutdowner) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return s.Start(shutdowner) },
			OnStop:  func(ctx context.Context) error { return s.Stop(ctx) },
		})
	}),
)
