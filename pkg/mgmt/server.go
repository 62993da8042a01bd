// Package mgmt exposes a small operational HTTP surface for a running node:
// quoting metrics, record counts, replication backlog and the network size
// estimate. It is an operator endpoint, never part of the peer protocol.
package mgmt

import (
	"context"
	"net"
	"time"

	fiber "github.com/gofiber/fiber/v3"
	"github.com/hyp3rd/ewrap"

	"github.com/maidsafe/antstore/internal/sentinel"
	"github.com/maidsafe/antstore/pkg/payment"
	"github.com/maidsafe/antstore/pkg/protocol"
)

const (
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Store is the node store surface the endpoints read.
type Store interface {
	Metrics() payment.QuotingMetrics
	Addresses() map[protocol.NetworkAddress]protocol.RecordType
	ResponsibleDistanceRange() (protocol.Distance, bool)
}

// Fetcher reports the pull-replication backlog.
type Fetcher interface {
	PendingCount() int
}

// SizeEstimator reports the estimated network size.
type SizeEstimator interface {
	EstimateNetworkSize() (float64, error)
}

// Option configures the management HTTP server.
type Option func(*Server)

// WithAuth sets an auth function (return error to block).
func WithAuth(fn func(fiber.Ctx) error) Option {
	return func(s *Server) { s.authFunc = fn }
}

// WithReadTimeout sets read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

// WithWriteTimeout sets write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// WithFetcher wires the replication backlog endpoint.
func WithFetcher(fetcher Fetcher) Option {
	return func(s *Server) { s.fetcher = fetcher }
}

// WithSizeEstimator wires the network size endpoint.
func WithSizeEstimator(estimator SizeEstimator) Option {
	return func(s *Server) { s.estimator = estimator }
}

// Server holds the Fiber app and settings. Start is lazy and idempotent.
type Server struct {
	addr         string
	app          *fiber.App
	readTimeout  time.Duration
	writeTimeout time.Duration
	authFunc     func(fiber.Ctx) error
	ln           net.Listener
	started      bool

	fetcher   Fetcher
	estimator SizeEstimator
}

// NewServer builds the server holder around a node store.
func NewServer(addr string, opts ...Option) *Server {
	srv := &Server{
		addr:         addr,
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.app = fiber.New(fiber.Config{
		ReadTimeout:  srv.readTimeout,
		WriteTimeout: srv.writeTimeout,
	})

	return srv
}

// Start launches the listener (idempotent).
func (s *Server) Start(ctx context.Context, store Store) error {
	if s.started {
		return nil
	}

	s.mountRoutes(store)

	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return ewrap.Wrap(err, "mgmt listen")
	}

	s.ln = ln

	go func() {
		// Optional operator endpoint; serve errors are not fatal to the node.
		_ = s.app.Listener(ln)
	}()

	s.started = true

	return nil
}

// Address returns the bound address (useful when passing ":0" for an
// ephemeral port). Empty if not started yet.
func (s *Server) Address() string {
	if s.ln == nil {
		return ""
	}

	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.started {
		return nil
	}

	ch := make(chan error, 1)

	go func() {
		ch <- s.app.Shutdown()
	}()

	select {
	case <-ctx.Done():
		return sentinel.ErrMgmtHTTPShutdownTimeout
	case err := <-ch:
		return err
	}
}

func (s *Server) mountRoutes(store Store) {
	useAuth := s.wrapAuth

	s.app.Get("/health", useAuth(func(fiberCtx fiber.Ctx) error { return fiberCtx.SendString("ok") }))

	s.app.Get("/quoting", useAuth(func(fiberCtx fiber.Ctx) error {
		return fiberCtx.JSON(store.Metrics())
	}))

	s.app.Get("/records", useAuth(func(fiberCtx fiber.Ctx) error {
		addresses := store.Addresses()
		chunks := 0

		for _, recordType := range addresses {
			if recordType.Chunk {
				chunks++
			}
		}

		out := fiber.Map{
			"total":     len(addresses),
			"chunks":    chunks,
			"nonChunks": len(addresses) - chunks,
		}

		if distance, ok := store.ResponsibleDistanceRange(); ok {
			out["responsibleRangeIlog2"] = distance.ILog2()
		}

		return fiberCtx.JSON(out)
	}))

	s.app.Get("/replication", useAuth(func(fiberCtx fiber.Ctx) error {
		if s.fetcher == nil {
			return fiberCtx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "replication fetcher not wired"})
		}

		return fiberCtx.JSON(fiber.Map{"pending": s.fetcher.PendingCount()})
	}))

	s.app.Get("/network", useAuth(func(fiberCtx fiber.Ctx) error {
		if s.estimator == nil {
			return fiberCtx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "size estimator not wired"})
		}

		size, err := s.estimator.EstimateNetworkSize()
		if err != nil {
			return fiberCtx.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}

		return fiberCtx.JSON(fiber.Map{"estimatedSize": size})
	}))
}

// wrapAuth returns an auth-wrapped handler if authFunc provided.
func (s *Server) wrapAuth(handler fiber.Handler) fiber.Handler {
	if s.authFunc == nil {
		return handler
	}

	return func(fiberCtx fiber.Ctx) error {
		authErr := s.authFunc(fiberCtx)
		if authErr != nil {
			return authErr
		}

		return handler(fiberCtx)
	}
}
