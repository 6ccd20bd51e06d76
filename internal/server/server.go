// Package server is the visitor counter's raw TCP front end: a listener
// that starts one goroutine per accepted connection, and the handler that
// turns a request line into a counter operation.
//
// Connections carry no deadlines and handlers no cancellation. A wedged
// store call blocks its own goroutine only; the accept loop keeps running.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/runnerr0/visitortrack/internal/config"
	"github.com/runnerr0/visitortrack/internal/storage"
	"github.com/runnerr0/visitortrack/internal/token"
)

// Server owns the listener and dispatches connections to a Handler.
type Server struct {
	cfg     *config.Config
	store   storage.CounterStore
	handler *Handler
	logger  *slog.Logger
}

// New builds a Server from cfg. When no secret is configured a random one
// is generated for the life of the process. A nil logger uses slog.Default().
func New(cfg *config.Config, store storage.CounterStore, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	secret := cfg.Security.Secret
	if secret == "" {
		var err error
		secret, err = token.RandomSecret()
		if err != nil {
			return nil, err
		}
		logger.Warn("security.secret not set, using a random per-process secret")
	}

	tokens, err := token.New(secret)
	if err != nil {
		return nil, fmt.Errorf("token generator: %w", err)
	}

	return &Server{
		cfg:     cfg,
		store:   store,
		handler: NewHandler(store, tokens, logger, cfg.Server.ReadBufferSize),
		logger:  logger,
	}, nil
}

// Listen binds the configured address, wrapping it in TLS when enabled.
func (s *Server) Listen() (net.Listener, error) {
	l, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.cfg.Server.Addr(), err)
	}

	if !s.cfg.TLS.Enabled {
		return l, nil
	}

	cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return tls.NewListener(l, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// ListenAndServe ensures the schema, binds the listener and serves until
// ctx is cancelled. Cancellation only closes the listener; connections
// already accepted run to completion on their own.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.store.EnsureSchema(ctx); err != nil {
		return err
	}

	l, err := s.Listen()
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("close listener", "error", err)
		}
	}()

	return s.Serve(l)
}

// Serve accepts connections on l until l is closed, handling each on its
// own goroutine. Accept errors are logged and retried with a short backoff.
// It returns nil once l is closed.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("server listening", "addr", l.Addr().String(), "tls", s.cfg.TLS.Enabled)

	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Info("listener closed")
				return nil
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Warn("accept connection", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		go s.handler.ServeConn(conn)
	}
}
