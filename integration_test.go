package tcgo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidedock/tcgo/internal/daemon"
	"github.com/sidedock/tcgo/wait"
)

// These tests dial a real Docker daemon and run real containers. They
// skip gracefully instead of failing when no daemon is reachable in
// this environment.

var (
	dockerProbeOnce sync.Once
	dockerAvailable bool
)

func skipUnlessDockerAvailable(t *testing.T) {
	t.Helper()
	dockerProbeOnce.Do(func() {
		client, err := newDaemonClient()
		if err != nil {
			fmt.Fprintf(os.Stderr, "docker daemon unavailable: %v\n", err)
			return
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err = client.Inspect(ctx, "tcgo-nonexistent-probe")
		if errors.Is(err, daemon.ErrContainerNotFound) {
			dockerAvailable = true
			return
		}
		fmt.Fprintf(os.Stderr, "docker daemon unreachable: %v\n", err)
	})
	if !dockerAvailable {
		t.Skip("docker daemon unreachable, skipping integration test")
	}
}

func TestIntegration_RedisReadyByLog(t *testing.T) {
	skipUnlessDockerAvailable(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	image := NewImage("redis", "7-alpine").
		WithExposedPorts(6379).
		WithReadyConditions(wait.ForLog(wait.Stdout, "Ready to accept connections", 1))

	handle, err := Run(ctx, ContainerRequest{
		Image: image,
		Ports: map[int]string{6379: ""},
	})
	require.NoError(t, err)
	defer handle.Close(context.Background())

	port, err := handle.HostPort(6379)
	require.NoError(t, err)
	assert.NotEmpty(t, port)
}

func TestIntegration_UnsatisfiableWaitSurfacesAsExceeded(t *testing.T) {
	skipUnlessDockerAvailable(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	image := NewImage("redis", "7-alpine").
		WithReadyConditions(wait.WithTimeout(wait.ForLog(wait.Stdout, "this will never appear", 1), 2*time.Second))

	_, err := Run(ctx, ContainerRequest{Image: image})
	require.Error(t, err)

	var werr *wait.Error
	require.True(t, errors.As(err, &werr), "expected a *wait.Error, got %T: %v", err, err)
}

func TestIntegration_ExecCapturesExitCode(t *testing.T) {
	skipUnlessDockerAvailable(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	image := NewImage("redis", "7-alpine").
		WithReadyConditions(wait.ForLog(wait.Stdout, "Ready to accept connections", 1))

	handle, err := Run(ctx, ContainerRequest{Image: image})
	require.NoError(t, err)
	defer handle.Close(context.Background())

	result, err := handle.Exec(ctx, []string{"false"}, nil)
	require.NoError(t, err)
	code, err := result.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}

func TestIntegration_LogFollowersReceiveBackfillAndLiveFrames(t *testing.T) {
	skipUnlessDockerAvailable(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	image := NewImage("redis", "7-alpine").
		WithReadyConditions(wait.ForLog(wait.Stdout, "Ready to accept connections", 1))

	handle, err := Run(ctx, ContainerRequest{Image: image})
	require.NoError(t, err)
	defer handle.Close(context.Background())

	var mu sync.Mutex
	var lines int
	unregister := handle.FollowLogs(ctx, ConsumerFunc(func(_ context.Context, frame LogFrame) error {
		mu.Lock()
		defer mu.Unlock()
		lines++
		return nil
	}))
	defer unregister()

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, lines, 0, "expected at least the backfilled startup log lines")
}

type closeTrackingConsumer struct {
	mu     sync.Mutex
	closed bool
}

func (c *closeTrackingConsumer) Accept(context.Context, LogFrame) error { return nil }

func (c *closeTrackingConsumer) Close(error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *closeTrackingConsumer) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestIntegration_LogFollowerReceivesTerminalMarkerOnStop(t *testing.T) {
	skipUnlessDockerAvailable(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	image := NewImage("redis", "7-alpine").
		WithReadyConditions(wait.ForLog(wait.Stdout, "Ready to accept connections", 1))

	handle, err := Run(ctx, ContainerRequest{Image: image})
	require.NoError(t, err)
	defer handle.Close(context.Background())

	consumer := &closeTrackingConsumer{}
	unregister := handle.FollowLogs(ctx, consumer)
	defer unregister()

	require.NoError(t, handle.Stop(ctx, 5*time.Second))

	assert.Eventually(t, consumer.wasClosed, 5*time.Second, 50*time.Millisecond,
		"FollowLogs consumer should receive a terminal Close once the log stream ends")
}

func TestIntegration_CloseIsIdempotent(t *testing.T) {
	skipUnlessDockerAvailable(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	image := NewImage("redis", "7-alpine").
		WithReadyConditions(wait.ForLog(wait.Stdout, "Ready to accept connections", 1))

	handle, err := Run(ctx, ContainerRequest{Image: image})
	require.NoError(t, err)

	require.NoError(t, handle.Close(context.Background()))
	require.NoError(t, handle.Close(context.Background()))

	_, err = handle.HostPort(6379)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestIntegration_AdoptedHandleCloseDoesNotCleanUp(t *testing.T) {
	skipUnlessDockerAvailable(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	image := NewImage("redis", "7-alpine").
		WithReadyConditions(wait.ForLog(wait.Stdout, "Ready to accept connections", 1))

	owning, err := Run(ctx, ContainerRequest{Image: image, Ports: map[int]string{6379: ""}})
	require.NoError(t, err)
	defer owning.Close(context.Background())

	adopted, err := Adopt(owning.ID())
	require.NoError(t, err)
	require.NoError(t, adopted.Close(context.Background()))

	// The container must still be alive: the adopted handle's Close was a
	// no-op, so the owning handle can still resolve its port.
	port, err := owning.HostPort(6379)
	assert.NoError(t, err)
	_ = port
}
