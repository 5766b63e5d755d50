package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/siafuse/internal/logger"
	"github.com/marmos91/siafuse/pkg/adapter"
	"github.com/marmos91/siafuse/pkg/vfs"
)

// DefaultShutdownTimeout bounds adapter shutdown when none is configured.
const DefaultShutdownTimeout = 30 * time.Second

// Server manages the lifecycle of the transport adapters exposing one
// filesystem engine.
//
// Lifecycle:
//  1. Creation: New() with the dispatcher
//  2. Registration: AddAdapter() for each transport
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: context cancellation (or an adapter failure) stops every
//     adapter in reverse registration order, then force-closes the engine's
//     remaining handles
//
// Example usage:
//
//	srv := server.New(dispatcher, cfg.Server.ShutdownTimeout)
//	_ = srv.AddAdapter(fuse.New(fuseConfig, nil))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
type Server struct {
	dispatcher      *vfs.Dispatcher
	shutdownTimeout time.Duration

	// mu protects adapters and served
	mu       sync.Mutex
	adapters []adapter.Adapter
	served   bool
}

// New creates a Server for dispatcher.
//
// Panics if dispatcher is nil (indicates programmer error).
func New(dispatcher *vfs.Dispatcher, shutdownTimeout time.Duration) *Server {
	if dispatcher == nil {
		panic("dispatcher cannot be nil")
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	return &Server{
		dispatcher:      dispatcher,
		shutdownTimeout: shutdownTimeout,
	}
}

// AddAdapter registers a transport adapter and injects the dispatcher.
//
// Returns an error if an adapter with the same protocol and endpoint is
// already registered, or if Serve() has already been called.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return fmt.Errorf("cannot add adapter after Serve() has been called")
	}

	for _, existing := range s.adapters {
		if existing.Protocol() == a.Protocol() && existing.Endpoint() == a.Endpoint() {
			return fmt.Errorf("%s adapter already registered at %s", a.Protocol(), a.Endpoint())
		}
	}

	a.SetDispatcher(s.dispatcher)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter at %s", a.Protocol(), a.Endpoint())
	return nil
}

// Adapters returns a snapshot of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}

// Serve starts all registered adapters and blocks until they have all
// stopped.
//
// Shutdown is triggered by:
//   - ctx cancellation: returns ctx.Err()
//   - an adapter failing: every other adapter is stopped and the failure is returned
//   - every adapter returning on its own (e.g. external unmount): returns nil
//
// In every case the dispatcher is shut down before Serve returns, so handles
// the kernel never released are closed and unlinked inodes are reclaimed.
//
// Serve may only be called once.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return fmt.Errorf("Serve() has already been called on this server")
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	logger.Info("Starting server with %d adapter(s)", len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		g.Go(func() error {
			logger.Info("Starting %s adapter at %s", a.Protocol(), a.Endpoint())

			err := a.Serve(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("%s adapter failed: %v", a.Protocol(), err)
				return fmt.Errorf("%s adapter error: %w", a.Protocol(), err)
			}
			logger.Info("%s adapter stopped", a.Protocol())
			return nil
		})
	}

	served := make(chan error, 1)
	go func() { served <- g.Wait() }()

	var err error
	select {
	case <-gctx.Done():
		if ctx.Err() != nil {
			logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		}
		s.stopAdapters(adapters)
		err = <-served
	case err = <-served:
	}

	s.shutdownDispatcher()

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	logger.Info("Server stopped")
	return err
}

// stopAdapters stops every adapter in reverse registration order, sharing
// one shutdown deadline. Errors are logged and do not prevent stopping the
// remaining adapters.
func (s *Server) stopAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		logger.Debug("Stopping %s adapter at %s", a.Protocol(), a.Endpoint())

		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", a.Protocol(), err)
		}
	}
}

func (s *Server) shutdownDispatcher() {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.dispatcher.Shutdown(ctx); err != nil {
		logger.Warn("Dispatcher shutdown: %v", err)
	}
}
