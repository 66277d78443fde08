package wait

import (
	"context"
	"fmt"

	"github.com/sidedock/tcgo/internal/daemon"
)

// ForExec returns a Strategy that runs cmd inside the container and is
// ready once it exits with expectedExitCode.
func ForExec(cmd []string, expectedExitCode int) Strategy {
	return &cmdSuccess{cmd: cmd, expectedExitCode: expectedExitCode}
}

type cmdSuccess struct {
	baseTimeout
	cmd              []string
	expectedExitCode int
}

func (c *cmdSuccess) WaitUntilReady(ctx context.Context, target Target) error {
	result, err := target.Client.Exec(ctx, target.ID, daemon.ExecSpec{Cmd: c.cmd})
	if err != nil {
		return &Error{Kind: KindExecFailed, Err: err}
	}
	code, err := result.Wait(ctx)
	if err != nil {
		return &Error{Kind: KindExecFailed, Err: err}
	}
	if code != c.expectedExitCode {
		return &Error{Kind: KindExecFailed, Message: exitMismatchMsg(c.expectedExitCode, code)}
	}
	return nil
}

func exitMismatchMsg(expected, actual int) string {
	return fmt.Sprintf("exit code %d, expected %d", actual, expected)
}
