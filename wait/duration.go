package wait

import (
	"context"
	"time"
)

// ForDuration returns a Strategy that sleeps unconditionally, used as a
// trailing stabilization delay. Because strategies run sequentially, a
// ForDuration placed after a ForLog guarantees the matched line was
// observed at least d ago.
func ForDuration(d time.Duration) Strategy {
	return &durationWait{sleep: d}
}

type durationWait struct {
	baseTimeout
	sleep time.Duration
}

func (d *durationWait) WaitUntilReady(ctx context.Context, _ Target) error {
	timer := time.NewTimer(d.sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return &Error{Kind: KindExceeded, Err: ctx.Err()}
	}
}
