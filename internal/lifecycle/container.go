package lifecycle

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/sidedock/tcgo/internal/daemon"
	"github.com/sidedock/tcgo/internal/logplex"
)

// PortNotMappedError is returned by HostPort when the internal port was
// never published, or was published but the daemon has not reported a
// binding for it yet.
type PortNotMappedError struct {
	InternalPort int
}

func (e *PortNotMappedError) Error() string {
	return fmt.Sprintf("lifecycle: port %d not mapped", e.InternalPort)
}

// Container is the live state a ContainerHandle exclusively owns. Stop
// and Rm are each independently idempotent; once either has completed,
// subsequent operations return ErrNotRunning.
type Container struct {
	manager *Manager
	client  daemon.Client

	id     string
	hostIP string

	mu    deadlock.RWMutex
	ports map[string]string // "internalPort/proto" -> host port
	netIP string

	Plexer *logplex.Plexer

	stopped atomic.Bool
	removed atomic.Bool
}

// Adopt constructs a Container bound to an already-running id without
// any start-side bookkeeping (no rescue job queued, no manager table
// entry): the non-owning variant, whose handle's Close must be a no-op.
func Adopt(m *Manager, id string) (*Container, error) {
	c := &Container{manager: m, client: m.client, id: id, hostIP: os.Getenv("TESTCONTAINERS_HOST_OVERRIDE")}
	if err := c.RefreshPorts(context.Background()); err != nil {
		return nil, fmt.Errorf("lifecycle: adopt %s: %w", id, err)
	}
	return c, nil
}

// ID returns the daemon-assigned container id.
func (c *Container) ID() string { return c.id }

// HostIP returns the address probes and callers should dial:
// TESTCONTAINERS_HOST_OVERRIDE, else 127.0.0.1.
func (c *Container) HostIP() string {
	if c.hostIP != "" {
		return c.hostIP
	}
	return "127.0.0.1"
}

// HostPort resolves the host-side binding for an internal port, trying
// tcp then udp. Returns PortNotMappedError if unbound, ErrNotRunning if
// the container has already been stopped or removed.
func (c *Container) HostPort(internalPort int) (string, error) {
	if c.removed.Load() || c.stopped.Load() {
		return "", ErrNotRunning
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, proto := range [2]string{"tcp", "udp"} {
		key := fmt.Sprintf("%d/%s", internalPort, proto)
		if p, ok := c.ports[key]; ok && p != "" {
			return p, nil
		}
	}
	return "", &PortNotMappedError{InternalPort: internalPort}
}

// RefreshPorts re-inspects the container and updates the resolved port
// map.
func (c *Container) RefreshPorts(ctx context.Context) error {
	insp, err := c.client.Inspect(ctx, c.id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.ports = insp.Network.Ports
	c.netIP = insp.Network.IPAddress
	c.mu.Unlock()
	return nil
}

// Exec launches a process inside the container.
func (c *Container) Exec(ctx context.Context, spec daemon.ExecSpec) (*daemon.ExecResult, error) {
	if c.removed.Load() || c.stopped.Load() {
		return nil, ErrNotRunning
	}
	return c.client.Exec(ctx, c.id, spec)
}

// FollowLogs registers a late-attaching subscriber, backfilled from the
// plexer's ring buffer. If consumer implements logplex.StreamCloser it
// receives a terminal Close once the container's log stream ends. The
// returned function unregisters it.
func (c *Container) FollowLogs(ctx context.Context, consumer logplex.Consumer) (unregister func()) {
	return c.Plexer.AddSubscriber(ctx, consumer, true)
}

// Stop sends SIGTERM then SIGKILL after timeout (0 uses the default
// grace period). Idempotent: a second call is a no-op.
func (c *Container) Stop(ctx context.Context, timeout time.Duration) error {
	if c.removed.Load() {
		return nil
	}
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if timeout <= 0 {
		timeout = stopTimeout
	}
	return c.client.Stop(ctx, c.id, timeout)
}

// Rm deletes the container record. Idempotent: a second call is a no-op.
func (c *Container) Rm(ctx context.Context) error {
	if !c.removed.CompareAndSwap(false, true) {
		return nil
	}
	defer c.manager.forget(c.id)
	return c.client.Remove(ctx, c.id, true, true)
}

// Cleanup runs Stop then Rm, aggregating both failures, and is the path
// taken by an owning ContainerHandle's drop. Calling it again after an
// explicit Rm is a no-op.
func (c *Container) Cleanup(ctx context.Context) error {
	var result *multierror.Error
	if err := c.Stop(ctx, stopTimeout); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Rm(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
