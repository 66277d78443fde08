// Package cli implements daemon.Client as a subprocess wrapper around a
// host CLI binary (docker, podman, nerdctl, ...), driving the engine
// through discrete subprocess invocations (create/start/stop/rm/inspect/
// logs/exec/cp)
// rather than its socket API.
package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sidedock/tcgo/internal/daemon"
)

// Client drives a container daemon by shelling out to Binary (default
// "docker"). It implements the identical daemon.Client contract as the
// api package's socket-based client.
type Client struct {
	Binary string
}

// New constructs a Client. binary defaults to "docker" when empty.
func New(binary string) *Client {
	if binary == "" {
		binary = "docker"
	}
	return &Client{Binary: binary}
}

func (c *Client) Close() error { return nil }

func (c *Client) run(ctx context.Context, args ...string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

func (c *Client) Create(ctx context.Context, spec daemon.CreateSpec) (string, error) {
	args := []string{"create"}

	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}
	for _, k := range spec.EnvKeys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}
	for _, m := range spec.Mounts {
		switch m.Type {
		case "tmpfs":
			args = append(args, "--tmpfs", m.Target)
		default:
			ro := ""
			if m.ReadOnly {
				ro = ":ro"
			}
			args = append(args, "-v", fmt.Sprintf("%s:%s%s", m.Source, m.Target, ro))
		}
	}
	for _, p := range spec.Ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		host := p.HostPort
		portSpec := fmt.Sprintf("%s:%d/%s", host, p.InternalPort, proto)
		if host == "" {
			portSpec = fmt.Sprintf("%d/%s", p.InternalPort, proto)
		}
		args = append(args, "-p", portSpec)
	}
	if spec.NetworkName != "" {
		args = append(args, "--network", spec.NetworkName)
		if spec.NetworkAlias != "" {
			args = append(args, "--network-alias", spec.NetworkAlias)
		}
	}
	for _, h := range spec.ExtraHosts {
		args = append(args, "--add-host", h)
	}
	if spec.CgroupNSMode != "" {
		args = append(args, "--cgroupns", spec.CgroupNSMode)
	}
	for k, v := range spec.Labels {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, v))
	}
	for _, e := range spec.Entrypoint {
		args = append(args, "--entrypoint", e)
	}

	image := spec.Repository
	if spec.Tag != "" {
		image = spec.Repository + ":" + spec.Tag
	}
	args = append(args, image)
	args = append(args, spec.Cmd...)

	stdout, stderr, err := c.run(ctx, args...)
	if err != nil {
		return "", &daemon.Error{Message: strings.TrimSpace(stderr), Err: err}
	}
	return strings.TrimSpace(stdout), nil
}

func (c *Client) Start(ctx context.Context, id string) error {
	_, stderr, err := c.run(ctx, "start", id)
	if err != nil {
		return fmt.Errorf("cli: failed to start %s: %s: %w", id, strings.TrimSpace(stderr), err)
	}
	return nil
}

func (c *Client) Stop(ctx context.Context, id string, timeout time.Duration) error {
	return daemon.RetryIdempotent(ctx, func(ctx context.Context) error {
		_, stderr, err := c.run(ctx, "stop", "-t", strconv.Itoa(int(timeout.Seconds())), id)
		if err != nil && !noSuchContainer(stderr) {
			return fmt.Errorf("cli: failed to stop %s: %s: %w", id, strings.TrimSpace(stderr), err)
		}
		return nil
	}, func(error) bool { return true })
}

func (c *Client) Remove(ctx context.Context, id string, force, removeVolumes bool) error {
	return daemon.RetryIdempotent(ctx, func(ctx context.Context) error {
		args := []string{"rm"}
		if force {
			args = append(args, "-f")
		}
		if removeVolumes {
			args = append(args, "-v")
		}
		args = append(args, id)
		_, stderr, err := c.run(ctx, args...)
		if err != nil && !noSuchContainer(stderr) {
			return fmt.Errorf("cli: failed to remove %s: %s: %w", id, strings.TrimSpace(stderr), err)
		}
		return nil
	}, func(error) bool { return true })
}

func (c *Client) Pull(ctx context.Context, ref string, _ *daemon.AuthConfig) error {
	_, _, inspectErr := c.run(ctx, "image", "inspect", ref)
	if inspectErr == nil {
		return nil
	}
	return daemon.RetryPull(ctx, func(ctx context.Context) error {
		log.Info().Str("image", ref).Msg("pulling image (cli)")
		_, stderr, err := c.run(ctx, "pull", ref)
		if err != nil {
			return fmt.Errorf("cli: pull %s: %s: %w", ref, strings.TrimSpace(stderr), err)
		}
		return nil
	}, func(err error) bool {
		return strings.Contains(strings.ToLower(err.Error()), "not found") ||
			strings.Contains(strings.ToLower(err.Error()), "manifest unknown")
	})
}

func noSuchContainer(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "no such container")
}

// inspectJSON is the subset of `docker inspect` output the Cli variant
// needs; it deliberately mirrors only the fields daemon.Inspection
// exposes rather than the engine's full schema.
type inspectJSON struct {
	ID    string `json:"Id"`
	State struct {
		Status     string `json:"Status"`
		Running    bool   `json:"Running"`
		Dead       bool   `json:"Dead"`
		Paused     bool   `json:"Paused"`
		Restarting bool   `json:"Restarting"`
		ExitCode   int    `json:"ExitCode"`
		FinishedAt string `json:"FinishedAt"`
		Health     *struct {
			Status string `json:"Status"`
		} `json:"Health"`
	} `json:"State"`
	NetworkSettings struct {
		IPAddress string `json:"IPAddress"`
		Ports     map[string][]struct {
			HostPort string `json:"HostPort"`
		} `json:"Ports"`
	} `json:"NetworkSettings"`
}

func (c *Client) Inspect(ctx context.Context, id string) (daemon.Inspection, error) {
	var out daemon.Inspection
	err := daemon.RetryIdempotent(ctx, func(ctx context.Context) error {
		stdout, stderr, err := c.run(ctx, "inspect", id)
		if err != nil {
			if noSuchContainer(stderr) {
				return daemon.ErrContainerNotFound
			}
			return fmt.Errorf("cli: inspect %s: %s: %w", id, strings.TrimSpace(stderr), err)
		}

		var parsed []inspectJSON
		if err := json.Unmarshal([]byte(stdout), &parsed); err != nil || len(parsed) == 0 {
			return fmt.Errorf("cli: failed to parse inspect output for %s: %w", id, err)
		}
		out = toInspection(parsed[0])
		return nil
	}, func(err error) bool { return err != daemon.ErrContainerNotFound })
	return out, err
}

func toInspection(j inspectJSON) daemon.Inspection {
	state := daemon.StateExited
	switch {
	case j.State.Running:
		state = daemon.StateRunning
	case j.State.Paused:
		state = daemon.StatePaused
	case j.State.Restarting:
		state = daemon.StateRestarting
	case j.State.Dead:
		state = daemon.StateDead
	case j.State.Status == "removing":
		state = daemon.StateRemoving
	}

	health := daemon.HealthNone
	if j.State.Health != nil {
		switch j.State.Health.Status {
		case "healthy":
			health = daemon.HealthHealthy
		case "unhealthy":
			health = daemon.HealthUnhealthy
		case "starting":
			health = daemon.HealthStarting
		}
	}

	var exitCode *int
	if !j.State.Running && j.State.FinishedAt != "" && j.State.FinishedAt != "0001-01-01T00:00:00Z" {
		ec := j.State.ExitCode
		exitCode = &ec
	}

	ports := map[string]string{}
	for natPort, bindings := range j.NetworkSettings.Ports {
		if len(bindings) > 0 {
			ports[natPort] = bindings[0].HostPort
		}
	}

	return daemon.Inspection{
		ID:     j.ID,
		State:  state,
		Health: health,
		Network: daemon.NetworkSettings{
			Ports:     ports,
			IPAddress: j.NetworkSettings.IPAddress,
		},
		ExitCode: exitCode,
	}
}

func (c *Client) Logs(ctx context.Context, id string, opts daemon.LogOptions) (<-chan daemon.LogFrame, <-chan error) {
	frames := make(chan daemon.LogFrame, 64)
	errCh := make(chan error, 1)

	args := []string{"logs"}
	if opts.Follow {
		args = append(args, "-f")
	}
	if !opts.Since.IsZero() {
		args = append(args, "--since", opts.Since.Format(time.RFC3339Nano))
	}
	args = append(args, id)

	cmd := exec.CommandContext(ctx, c.Binary, args...)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		close(frames)
		errCh <- err
		close(errCh)
		return frames, errCh
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		close(frames)
		errCh <- err
		close(errCh)
		return frames, errCh
	}

	if err := cmd.Start(); err != nil {
		close(frames)
		errCh <- err
		close(errCh)
		return frames, errCh
	}

	pump := func(r io.Reader, stream daemon.Stream) chan struct{} {
		done := make(chan struct{})
		go func() {
			defer close(done)
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := append([]byte(nil), scanner.Bytes()...)
				select {
				case frames <- daemon.LogFrame{Stream: stream, Bytes: line, LineHint: true}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return done
	}

	go func() {
		defer close(frames)
		defer close(errCh)
		stdoutDone := pump(stdoutPipe, daemon.Stdout)
		stderrDone := pump(stderrPipe, daemon.Stderr)
		<-stdoutDone
		<-stderrDone
		if err := cmd.Wait(); err != nil {
			select {
			case errCh <- err:
			default:
			}
		}
	}()

	return frames, errCh
}

func (c *Client) Exec(ctx context.Context, id string, spec daemon.ExecSpec) (*daemon.ExecResult, error) {
	execID := uuid.NewString()

	args := []string{"exec"}
	for k, v := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, id)
	args = append(args, spec.Cmd...)

	cmd := exec.CommandContext(ctx, c.Binary, args...)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("cli: failed to exec in %s: %w", id, err)
	}

	stdoutBuf := &bufCloser{}
	stderrBuf := &bufCloser{}
	go io.Copy(stdoutBuf, stdoutPipe)
	go io.Copy(stderrBuf, stderrPipe)

	waited := false
	var waitErr error
	var exitCode int
	wait := func(ctx context.Context) (int, error) {
		if !waited {
			waitErr = cmd.Wait()
			waited = true
			if waitErr != nil {
				if exitErr, ok := waitErr.(*exec.ExitError); ok {
					exitCode = exitErr.ExitCode()
					waitErr = nil
				}
			}
		}
		return exitCode, waitErr
	}

	return &daemon.ExecResult{
		ID:     execID,
		Stdout: stdoutBuf,
		Stderr: stderrBuf,
		Wait:   wait,
	}, nil
}

func (c *Client) CopyIn(ctx context.Context, id, dst string, tar io.Reader) error {
	cmd := exec.CommandContext(ctx, c.Binary, "cp", "-", fmt.Sprintf("%s:%s", id, dst))
	cmd.Stdin = tar
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("cli: copy into %s: %s: %w", id, strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

// bufCloser adapts a plain byte buffer into an io.ReadCloser for
// ExecResult's Stdout/Stderr fields.
type bufCloser struct {
	bytes.Buffer
}

func (b *bufCloser) Close() error { return nil }
