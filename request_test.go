package tcgo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRequest() ContainerRequest {
	image := NewImage("postgres", "11-alpine").
		WithEnv(map[string]string{"POSTGRES_HOST_AUTH_METHOD": "trust"}).
		WithExposedPorts(5432)

	return ContainerRequest{
		Image:  image,
		Ports:  map[int]string{5432: ""},
		Env:    map[string]string{"EXTRA": "1"},
		Labels: map[string]string{"team": "infra"},
	}
}

func TestMerge_IsDeterministic(t *testing.T) {
	a := buildRequest().Merge()
	b := buildRequest().Merge()
	assert.Equal(t, a, b)
}

func TestMerge_RequestEnvOverridesImageOnCollision(t *testing.T) {
	image := NewImage("redis", "7").WithEnv(map[string]string{"FOO": "image"})
	req := ContainerRequest{Image: image, Env: map[string]string{"FOO": "request"}}

	spec := req.Merge()
	assert.Equal(t, "request", spec.Env["FOO"])
}

func TestMerge_OnlyRequestedPortsArePublished(t *testing.T) {
	image := NewImage("redis", "7").WithExposedPorts(6379, 6380)
	req := ContainerRequest{Image: image, Ports: map[int]string{6379: ""}}

	spec := req.Merge()
	require.Len(t, spec.Ports, 1)
	assert.Equal(t, 6379, spec.Ports[0].InternalPort)
}

func TestMerge_CommandOverridesWhenRequestNonEmpty(t *testing.T) {
	image := NewImage("app", "latest").WithCmd("image-default")
	req := ContainerRequest{Image: image, Cmd: []string{"request-cmd"}}

	spec := req.Merge()
	assert.Equal(t, []string{"request-cmd"}, spec.Cmd)
}

func TestMerge_SessionLabelsAlwaysPresent(t *testing.T) {
	req := ContainerRequest{Image: NewImage("x", "y")}
	spec := req.Merge()
	assert.Equal(t, "true", spec.Labels["org.testcontainers"])
	assert.Equal(t, SessionID(), spec.Labels["org.testcontainers.session-id"])
}
