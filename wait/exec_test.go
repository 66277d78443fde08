package wait_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidedock/tcgo/internal/daemon"
	"github.com/sidedock/tcgo/wait"
)

func execResultWithCode(code int) *daemon.ExecResult {
	return &daemon.ExecResult{
		ID:     "exec-1",
		Stdout: strings.NewReader(""),
		Stderr: strings.NewReader(""),
		Wait:   func(ctx context.Context) (int, error) { return code, nil },
	}
}

func TestForExec_SucceedsOnExpectedExitCode(t *testing.T) {
	client := newFakeClient()
	client.execFunc = func(ctx context.Context, id string, spec daemon.ExecSpec) (*daemon.ExecResult, error) {
		assert.Equal(t, []string{"true"}, spec.Cmd)
		return execResultWithCode(0), nil
	}
	target := newTarget(t, client)

	err := wait.ForExec([]string{"true"}, 0).WaitUntilReady(context.Background(), target)
	assert.NoError(t, err)
}

func TestForExec_MismatchedExitCode(t *testing.T) {
	client := newFakeClient()
	client.execFunc = func(ctx context.Context, id string, spec daemon.ExecSpec) (*daemon.ExecResult, error) {
		return execResultWithCode(7), nil
	}
	target := newTarget(t, client)

	err := wait.ForExec([]string{"sh", "-c", "exit 7"}, 0).WaitUntilReady(context.Background(), target)
	var werr *wait.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wait.KindExecFailed, werr.Kind)
}
