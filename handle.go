package tcgo

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sidedock/tcgo/internal/daemon"
	"github.com/sidedock/tcgo/internal/lifecycle"
)

// ExecResult is the live handle to an in-progress exec: Stdout/Stderr
// stream immediately, Wait blocks for the exit code.
type ExecResult struct {
	ID     string
	Stdout io.Reader
	Stderr io.Reader
	Wait   func(ctx context.Context) (int, error)
}

// ContainerHandle is the user-facing value returned by Run: it
// exclusively owns the underlying running container and is not
// clonable. An adopted handle (constructed via Adopt) never cleans up
// on Close.
type ContainerHandle struct {
	container *lifecycle.Container
	adopted   bool
}

// ID returns the daemon-assigned container id.
func (h *ContainerHandle) ID() string { return h.container.ID() }

// HostIP returns the address callers should dial.
func (h *ContainerHandle) HostIP() string { return h.container.HostIP() }

// HostPort resolves the host-side binding for a published internal port.
func (h *ContainerHandle) HostPort(internalPort int) (string, error) {
	port, err := h.container.HostPort(internalPort)
	if err != nil {
		return "", translatePortErr(err)
	}
	return port, nil
}

// Exec launches cmd inside the container and streams its output
// immediately.
func (h *ContainerHandle) Exec(ctx context.Context, cmd []string, env map[string]string) (*ExecResult, error) {
	result, err := h.container.Exec(ctx, daemon.ExecSpec{Cmd: cmd, Env: env})
	if err != nil {
		return nil, translateNotRunning(err)
	}
	return &ExecResult{ID: result.ID, Stdout: result.Stdout, Stderr: result.Stderr, Wait: result.Wait}, nil
}

// FollowLogs registers consumer to receive every subsequent frame,
// backfilled from recent history; late attachment is permitted. If
// consumer implements StreamCloser it receives a terminal Close once
// the container's log stream ends, whether attached before or after
// that happens. The returned function unregisters it.
func (h *ContainerHandle) FollowLogs(ctx context.Context, consumer Consumer) (unregister func()) {
	return h.container.FollowLogs(ctx, logplexAdapter{inner: consumer})
}

// Stop sends SIGTERM then SIGKILL after timeout (0 uses the 10s
// default). Idempotent; subsequent operations return ErrNotRunning.
func (h *ContainerHandle) Stop(ctx context.Context, timeout time.Duration) error {
	return translateNotRunning(h.container.Stop(ctx, timeout))
}

// Rm deletes the container record. Idempotent.
func (h *ContainerHandle) Rm(ctx context.Context) error {
	return translateNotRunning(h.container.Rm(ctx))
}

// Close performs the owning cleanup (stop+remove); a no-op on an
// adopted handle, whose drop must never clean up. Tests should defer
// this immediately after a successful Run.
func (h *ContainerHandle) Close(ctx context.Context) error {
	if h.adopted {
		return nil
	}
	return translateNotRunning(h.container.Cleanup(ctx))
}

func translateNotRunning(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, lifecycle.ErrNotRunning) {
		return ErrNotRunning
	}
	return err
}

func translatePortErr(err error) error {
	var pnm *lifecycle.PortNotMappedError
	if errors.As(err, &pnm) {
		return &PortNotMappedError{InternalPort: pnm.InternalPort}
	}
	return translateNotRunning(err)
}
