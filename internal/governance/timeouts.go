package governance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultRequestTimeout bounds a single outbound call when none is configured.
const DefaultRequestTimeout = 5 * time.Second

// TimeoutConfig defines timeout behavior for outbound requests.
type TimeoutConfig struct {
	// RequestTimeout is the maximum duration for a complete upstream exchange,
	// including reading the response body.
	RequestTimeout time.Duration
}

// TimeoutManager enforces timeout policies on requests.
// It is immutable after construction and safe for concurrent use.
type TimeoutManager struct {
	config TimeoutConfig
}

// NewTimeoutManager creates a timeout manager with the given configuration.
func NewTimeoutManager(config TimeoutConfig) *TimeoutManager {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	return &TimeoutManager{config: config}
}

// Config returns a copy of the timeout configuration.
func (tm *TimeoutManager) Config() TimeoutConfig {
	return tm.config
}

// Validate reports whether a configuration can be used.
func (c TimeoutConfig) Validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	return nil
}

// WithRequestTimeout derives a context bounded by the request timeout.
// Cancellation of the parent (client disconnect) still propagates.
func (tm *TimeoutManager) WithRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, tm.config.RequestTimeout)
}

// IsTimeout reports whether err was caused by a deadline rather than a refused
// or reset connection.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Some transports only surface the condition in the message.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}
