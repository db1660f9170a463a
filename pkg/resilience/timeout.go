package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines the timeout hierarchy, outermost first:
//
//	HTTP handler > settlement service > gateway submit > database query
//
// Each layer must finish before its parent gives up so that a timed-out
// submission is always observed by the service that issued it.
type TimeoutConfig struct {
	HTTPHandler   time.Duration // Operator request timeout
	Job           time.Duration // One scheduled job run
	Service       time.Duration // One settlement operation end to end
	GatewaySubmit time.Duration // One submit round trip, retries included
	GatewayPoll   time.Duration // One status poll
	DBQuery       time.Duration // One repository call
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler:   60 * time.Second,
		Job:           5 * time.Minute,
		Service:       50 * time.Second,
		GatewaySubmit: 30 * time.Second,
		GatewayPoll:   10 * time.Second,
		DBQuery:       5 * time.Second,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler:   5 * time.Second,
		Job:           10 * time.Second,
		Service:       4 * time.Second,
		GatewaySubmit: 500 * time.Millisecond,
		GatewayPoll:   500 * time.Millisecond,
		DBQuery:       time.Second,
	}
}

// HandlerContext creates a context with timeout for HTTP handlers
func (tc *TimeoutConfig) HandlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HTTPHandler)
}

// JobContext creates a context with timeout for a scheduled job run
func (tc *TimeoutConfig) JobContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Job)
}

// ServiceContext creates a context with timeout for service layer operations
func (tc *TimeoutConfig) ServiceContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Service)
}

// GatewaySubmitContext bounds a submission to the settlement network
func (tc *TimeoutConfig) GatewaySubmitContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.GatewaySubmit)
}

// GatewayPollContext bounds a status poll against the settlement network
func (tc *TimeoutConfig) GatewayPollContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.GatewayPoll)
}

// DBContext bounds a single repository call
func (tc *TimeoutConfig) DBContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.DBQuery)
}
