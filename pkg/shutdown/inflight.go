package shutdown

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// InFlightTracker tracks in-flight work so that shutdown waits for it
type InFlightTracker struct {
	wg         sync.WaitGroup
	shutdownCh chan struct{}
	logger     *zap.Logger
	name       string
	mu         sync.RWMutex
}

// NewInFlightTracker creates a new in-flight work tracker
func NewInFlightTracker(name string, logger *zap.Logger) *InFlightTracker {
	return &InFlightTracker{
		shutdownCh: make(chan struct{}),
		logger:     logger,
		name:       name,
	}
}

// Add registers one unit of work. It returns false once shutdown has started.
func (ift *InFlightTracker) Add() bool {
	ift.mu.RLock()
	defer ift.mu.RUnlock()

	select {
	case <-ift.shutdownCh:
		return false
	default:
		ift.wg.Add(1)
		return true
	}
}

// Done marks one unit of work complete
func (ift *InFlightTracker) Done() {
	ift.wg.Done()
}

// IsShuttingDown reports whether shutdown has been initiated
func (ift *InFlightTracker) IsShuttingDown() bool {
	select {
	case <-ift.shutdownCh:
		return true
	default:
		return false
	}
}

// Middleware rejects new requests with 503 once shutdown starts and tracks the rest
func (ift *InFlightTracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ift.Add() {
			w.Header().Set("Connection", "close")
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}
		defer ift.Done()
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops accepting work and waits for in-flight work or ctx
func (ift *InFlightTracker) Shutdown(ctx context.Context) error {
	ift.mu.Lock()
	select {
	case <-ift.shutdownCh:
	default:
		close(ift.shutdownCh)
	}
	ift.mu.Unlock()

	ift.logger.Info("Waiting for in-flight work to complete", zap.String("tracker", ift.name))

	done := make(chan struct{})
	go func() {
		ift.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ift.logger.Info("All in-flight work completed", zap.String("tracker", ift.name))
		return nil
	case <-ctx.Done():
		ift.logger.Warn("Shutdown timeout - some work may be incomplete", zap.String("tracker", ift.name))
		return ctx.Err()
	}
}
