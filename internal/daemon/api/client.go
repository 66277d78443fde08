// Package api implements daemon.Client against a local Docker Engine API
// socket/HTTP endpoint via github.com/docker/docker/client.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog/log"

	"github.com/sidedock/tcgo/internal/daemon"
)

// Client implements daemon.Client using the Docker Engine API.
type Client struct {
	sdk *dockerclient.Client
}

// New constructs a Client. It honors DOCKER_HOST, DOCKER_TLS_VERIFY and
// DOCKER_CERT_PATH exactly as github.com/docker/docker/client's FromEnv
// does.
func New() (*Client, error) {
	sdk, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("api: failed to create docker client: %w", err)
	}
	return &Client{sdk: sdk}, nil
}

func (c *Client) Close() error {
	return c.sdk.Close()
}

func (c *Client) Create(ctx context.Context, spec daemon.CreateSpec) (string, error) {
	hostConfig := &container.HostConfig{}

	for _, m := range spec.Mounts {
		mt := mount.TypeBind
		switch m.Type {
		case "tmpfs":
			mt = mount.TypeTmpfs
		case "volume":
			mt = mount.TypeVolume
		}
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mt,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}
	for _, p := range spec.Ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		natPort, err := nat.NewPort(proto, strconv.Itoa(p.InternalPort))
		if err != nil {
			return "", fmt.Errorf("api: invalid port %d/%s: %w", p.InternalPort, proto, err)
		}
		exposedPorts[natPort] = struct{}{}
		hostPort := p.HostPort
		if hostPort == "0" {
			hostPort = ""
		}
		portBindings[natPort] = append(portBindings[natPort], nat.PortBinding{
			HostIP:   "0.0.0.0",
			HostPort: hostPort,
		})
	}
	hostConfig.PortBindings = portBindings

	if spec.NetworkName != "" {
		hostConfig.NetworkMode = container.NetworkMode(spec.NetworkName)
	}
	hostConfig.ExtraHosts = spec.ExtraHosts

	env := make([]string, 0, len(spec.EnvKeys))
	for _, k := range spec.EnvKeys {
		env = append(env, fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}

	image := spec.Repository
	if spec.Tag != "" {
		image = spec.Repository + ":" + spec.Tag
	}

	cfg := &container.Config{
		Image:        image,
		Cmd:          spec.Cmd,
		Entrypoint:   spec.Entrypoint,
		Env:          env,
		Labels:       spec.Labels,
		ExposedPorts: exposedPorts,
	}

	netCfg := &network.NetworkingConfig{}
	if spec.NetworkName != "" && spec.NetworkAlias != "" {
		netCfg.EndpointsConfig = map[string]*network.EndpointSettings{
			spec.NetworkName: {Aliases: []string{spec.NetworkAlias}},
		}
	}

	resp, err := c.sdk.ContainerCreate(ctx, cfg, hostConfig, netCfg, nil, spec.Name)
	if err != nil {
		return "", classifyCreateErr(err)
	}
	return resp.ID, nil
}

func (c *Client) Start(ctx context.Context, id string) error {
	if err := c.sdk.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("api: failed to start container %s: %w", id, err)
	}
	return nil
}

func (c *Client) Inspect(ctx context.Context, id string) (daemon.Inspection, error) {
	var out daemon.Inspection
	err := daemon.RetryIdempotent(ctx, func(ctx context.Context) error {
		info, err := c.sdk.ContainerInspect(ctx, id)
		if err != nil {
			if dockerclient.IsErrNotFound(err) {
				return daemon.ErrContainerNotFound
			}
			return err
		}
		out = toInspection(info)
		return nil
	}, isRetryableTransport)
	return out, wrapUnreachable(err)
}

func (c *Client) Stop(ctx context.Context, id string, timeout time.Duration) error {
	err := daemon.RetryIdempotent(ctx, func(ctx context.Context) error {
		secs := int(timeout.Seconds())
		err := c.sdk.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs})
		if err != nil && !dockerclient.IsErrNotFound(err) {
			return err
		}
		return nil
	}, isRetryableTransport)
	return wrapUnreachable(err)
}

func (c *Client) Remove(ctx context.Context, id string, force, removeVolumes bool) error {
	err := daemon.RetryIdempotent(ctx, func(ctx context.Context) error {
		err := c.sdk.ContainerRemove(ctx, id, types.ContainerRemoveOptions{
			Force:         force,
			RemoveVolumes: removeVolumes,
		})
		if err != nil && !dockerclient.IsErrNotFound(err) {
			return err
		}
		return nil
	}, isRetryableTransport)
	return wrapUnreachable(err)
}

func (c *Client) Pull(ctx context.Context, ref string, auth *daemon.AuthConfig) error {
	_, _, err := c.sdk.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	if !dockerclient.IsErrNotFound(err) {
		return wrapUnreachable(fmt.Errorf("api: failed to inspect image %s: %w", ref, err))
	}

	opts := types.ImagePullOptions{}
	if auth != nil {
		opts.RegistryAuth = encodeAuth(*auth)
	}

	err = daemon.RetryPull(ctx, func(ctx context.Context) error {
		log.Info().Str("image", ref).Msg("pulling image")
		reader, err := c.sdk.ImagePull(ctx, ref, opts)
		if err != nil {
			return err
		}
		defer reader.Close()
		_, err = io.Copy(io.Discard, reader)
		return err
	}, func(err error) bool {
		return dockerclient.IsErrNotFound(err)
	})
	return wrapPullErr(ref, err)
}

func toInspection(info types.ContainerJSON) daemon.Inspection {
	var state daemon.State
	var health daemon.Health
	var exitCode *int

	if info.State != nil {
		switch {
		case info.State.Running:
			state = daemon.StateRunning
		case info.State.Paused:
			state = daemon.StatePaused
		case info.State.Restarting:
			state = daemon.StateRestarting
		case info.State.Dead:
			state = daemon.StateDead
		default:
			state = daemon.StateExited
		}
		if info.State.Status == "removing" {
			state = daemon.StateRemoving
		}
		if !info.State.Running && info.State.FinishedAt != "" {
			ec := info.State.ExitCode
			exitCode = &ec
		}
		if info.State.Health != nil {
			switch info.State.Health.Status {
			case "healthy":
				health = daemon.HealthHealthy
			case "unhealthy":
				health = daemon.HealthUnhealthy
			case "starting":
				health = daemon.HealthStarting
			default:
				health = daemon.HealthNone
			}
		} else {
			health = daemon.HealthNone
		}
	}

	ports := map[string]string{}
	if info.NetworkSettings != nil {
		for natPort, bindings := range info.NetworkSettings.Ports {
			if len(bindings) > 0 {
				ports[string(natPort)] = bindings[0].HostPort
			}
		}
	}

	var ip string
	if info.NetworkSettings != nil {
		ip = info.NetworkSettings.IPAddress
	}

	return daemon.Inspection{
		ID:     info.ID,
		State:  state,
		Health: health,
		Network: daemon.NetworkSettings{
			Ports:     ports,
			IPAddress: ip,
		},
		ExitCode: exitCode,
	}
}

func isRetryableTransport(err error) bool {
	if err == nil {
		return false
	}
	if dockerclient.IsErrNotFound(err) || errors.Is(err, daemon.ErrContainerNotFound) {
		return false
	}
	// Anything else from the SDK at this layer is treated as a
	// transport-level hiccup (connection reset, timeout, daemon
	// restarting) and is safe to retry since Inspect/Stop/Remove are
	// idempotent.
	return true
}

func classifyCreateErr(err error) error {
	if dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("api: %w: %w", daemon.ErrImageNotFound, &daemon.Error{Status: "not_found", Message: err.Error(), Err: err})
	}
	return fmt.Errorf("api: failed to create container: %w", err)
}

// wrapUnreachable tags a transport failure that survived
// RetryIdempotent's backoff budget with daemon.ErrUnreachable, so
// callers can errors.Is against it instead of matching on the SDK's
// own error type. ErrContainerNotFound and context errors pass through
// unchanged, since neither is a reachability problem.
func wrapUnreachable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, daemon.ErrContainerNotFound) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("api: %w: %w", daemon.ErrUnreachable, err)
}

// wrapPullErr classifies a Pull failure: a definitive "not found"
// response is tagged with daemon.ErrImageNotFound, anything else that
// survived RetryPull's fixed schedule is a reachability problem.
func wrapPullErr(ref string, err error) error {
	if err == nil {
		return nil
	}
	if dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("api: image %s: %w: %w", ref, daemon.ErrImageNotFound, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("api: pulling %s: %w: %w", ref, daemon.ErrUnreachable, err)
}

// encodeAuth builds the X-Registry-Auth header value Docker expects:
// base64(json(AuthConfig)). Left empty for anonymous pulls so Pull never
// sends a bogus header.
func encodeAuth(a daemon.AuthConfig) string {
	if a.Username == "" && a.Password == "" {
		return ""
	}
	buf, err := json.Marshal(types.AuthConfig{
		Username:      a.Username,
		Password:      a.Password,
		ServerAddress: a.ServerAddress,
	})
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(buf)
}
