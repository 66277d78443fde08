package wait_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidedock/tcgo/internal/daemon"
	"github.com/sidedock/tcgo/wait"
)

func TestForHealthCheck_BecomesHealthy(t *testing.T) {
	client := newFakeClient()
	client.inspections = []daemon.Inspection{
		{Health: daemon.HealthStarting},
		{Health: daemon.HealthHealthy},
	}
	target := newTarget(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := wait.ForHealthCheck().WaitUntilReady(ctx, target)
	assert.NoError(t, err)
}

func TestForHealthCheck_Unhealthy(t *testing.T) {
	client := newFakeClient()
	client.inspections = []daemon.Inspection{{Health: daemon.HealthUnhealthy}}
	target := newTarget(t, client)

	err := wait.ForHealthCheck().WaitUntilReady(context.Background(), target)
	var werr *wait.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wait.KindUnhealthy, werr.Kind)
}

func TestForHealthCheck_NotConfigured(t *testing.T) {
	client := newFakeClient()
	client.inspections = []daemon.Inspection{{Health: daemon.HealthNone}}
	target := newTarget(t, client)

	err := wait.ForHealthCheck().WaitUntilReady(context.Background(), target)
	var werr *wait.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wait.KindHealthNotConfigured, werr.Kind)
}
