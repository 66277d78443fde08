package api

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sidedock/tcgo/internal/daemon"
)

// Exec launches a process inside the container and demultiplexes its
// stdout/stderr via the Docker hijacked connection, mirroring the
// teacher's ContainerExecAttach usage but resolved properly with
// pkg/stdcopy instead of a hand-rolled frame parser.
func (c *Client) Exec(ctx context.Context, id string, spec daemon.ExecSpec) (*daemon.ExecResult, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	created, err := c.sdk.ContainerExecCreate(ctx, id, types.ExecConfig{
		Cmd:          spec.Cmd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	})
	if err != nil {
		return nil, fmt.Errorf("api: failed to create exec: %w", err)
	}

	resp, err := c.sdk.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("api: failed to attach to exec: %w", err)
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	go func() {
		_, copyErr := stdcopy.StdCopy(stdoutW, stderrW, resp.Reader)
		stdoutW.CloseWithError(copyErr)
		stderrW.CloseWithError(copyErr)
		resp.Close()
	}()

	wait := func(ctx context.Context) (int, error) {
		for {
			inspect, err := c.sdk.ContainerExecInspect(ctx, created.ID)
			if err != nil {
				return 0, fmt.Errorf("api: failed to inspect exec: %w", err)
			}
			if !inspect.Running {
				return inspect.ExitCode, nil
			}
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
	}

	return &daemon.ExecResult{
		ID:     created.ID,
		Stdout: stdoutR,
		Stderr: stderrR,
		Wait:   wait,
	}, nil
}
