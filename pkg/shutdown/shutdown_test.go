package shutdown

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManager_ShutdownLIFO(t *testing.T) {
	m := NewManager(zap.NewNop(), time.Second)

	var order []string
	m.Register("database", func(context.Context) error {
		order = append(order, "database")
		return nil
	})
	m.Register("http", func(context.Context) error {
		order = append(order, "http")
		return errors.New("listener already closed")
	})
	m.RegisterNoErr("jobs", func() { order = append(order, "jobs") })

	failures := m.Shutdown()

	assert.Equal(t, []string{"jobs", "http", "database"}, order)
	require.Len(t, failures, 1)
	assert.EqualError(t, failures["http"], "listener already closed")
}

func TestInFlightTracker_WaitsForWork(t *testing.T) {
	tracker := NewInFlightTracker("http", zap.NewNop())

	require.True(t, tracker.Add())
	released := make(chan struct{})
	go func() {
		<-released
		tracker.Done()
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- tracker.Shutdown(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	assert.True(t, tracker.IsShuttingDown())
	assert.False(t, tracker.Add(), "no new work after shutdown starts")

	close(released)
	assert.NoError(t, <-errCh)
}

func TestInFlightTracker_ShutdownTimeout(t *testing.T) {
	tracker := NewInFlightTracker("http", zap.NewNop())
	require.True(t, tracker.Add())
	defer tracker.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tracker.Shutdown(ctx), context.DeadlineExceeded)
}

func TestInFlightTracker_Middleware(t *testing.T) {
	tracker := NewInFlightTracker("http", zap.NewNop())
	handler := tracker.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, tracker.Shutdown(context.Background()))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
