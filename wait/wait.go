// Package wait implements readiness policies: given a daemon.Client, a
// container id, and the container's LogPlexer, a Strategy resolves to
// ready or returns an *Error. Strategies run sequentially in
// declaration order; a later strategy is guaranteed to observe the
// side effects of an earlier one.
package wait

import (
	"context"
	"fmt"
	"time"

	"github.com/sidedock/tcgo/internal/daemon"
	"github.com/sidedock/tcgo/internal/logplex"
)

// DefaultTimeout is the global wait timeout used unless a Strategy
// overrides it.
const DefaultTimeout = 60 * time.Second

// Stream identifies stdout or stderr at the public API boundary,
// mirroring daemon.Stream's numbering so conversion between the two is a
// plain cast (ForLog's callers never import internal/daemon directly).
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// Target bundles everything a Strategy needs to resolve readiness: the
// daemon control channel, the container id, a way to resolve the
// container's resolved host port (for Tcp/Http probes), and the single
// LogPlexer subscription already open for this container.
type Target struct {
	Client daemon.Client
	ID     string
	Plexer *logplex.Plexer
	// HostIP is the address probes should dial: TESTCONTAINERS_HOST_OVERRIDE,
	// else 127.0.0.1 when left empty.
	HostIP string
}

// Strategy is a readiness policy. Implementations must not block longer
// than their Timeout(); the caller (internal/lifecycle.Manager) enforces
// this with context.WithTimeout regardless.
type Strategy interface {
	// WaitUntilReady blocks until the target is ready or ctx is done,
	// returning an *Error (or a wrapped context error) otherwise.
	WaitUntilReady(ctx context.Context, target Target) error
	// Timeout returns this strategy's timeout override, or 0 to use
	// DefaultTimeout.
	Timeout() time.Duration
}

// Error is the taxonomy of wait failures.
type Error struct {
	Kind    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("wait: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("wait: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

const (
	KindExceeded          = "exceeded"
	KindStreamEnded        = "stream_ended"
	KindUnhealthy          = "unhealthy"
	KindHealthNotConfigured = "health_not_configured"
	KindExecFailed         = "exec_failed"
)

// WithTimeout wraps an existing Strategy, overriding its timeout.
func WithTimeout(s Strategy, d time.Duration) Strategy {
	return &timeoutOverride{Strategy: s, timeout: d}
}

type timeoutOverride struct {
	Strategy
	timeout time.Duration
}

func (t *timeoutOverride) Timeout() time.Duration { return t.timeout }

// baseTimeout is embedded by concrete strategies that don't need a custom
// override mechanism beyond WithTimeout.
type baseTimeout struct {
	override time.Duration
}

func (b baseTimeout) Timeout() time.Duration { return b.override }
