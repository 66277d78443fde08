package wait

import (
	"context"
	"sync"
	"time"
)

// All returns a Strategy that is ready once every inner strategy is ready,
// running them concurrently rather than sequentially.
func All(strategies ...Strategy) Strategy {
	return &allStrategy{strategies: strategies}
}

type allStrategy struct {
	strategies []Strategy
}

func (a *allStrategy) Timeout() time.Duration { return 0 }

func (a *allStrategy) WaitUntilReady(ctx context.Context, target Target) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(a.strategies))
	for i, s := range a.strategies {
		wg.Add(1)
		go func(i int, s Strategy) {
			defer wg.Done()
			errs[i] = s.WaitUntilReady(ctx, target)
		}(i, s)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Any returns a Strategy that is ready as soon as any one inner strategy
// is ready.
func Any(strategies ...Strategy) Strategy {
	return &anyStrategy{strategies: strategies}
}

type anyStrategy struct {
	strategies []Strategy
}

func (a *anyStrategy) Timeout() time.Duration { return 0 }

func (a *anyStrategy) WaitUntilReady(ctx context.Context, target Target) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		err error
	}
	results := make(chan outcome, len(a.strategies))
	for _, s := range a.strategies {
		go func(s Strategy) {
			results <- outcome{err: s.WaitUntilReady(ctx, target)}
		}(s)
	}

	var lastErr error
	for range a.strategies {
		res := <-results
		if res.err == nil {
			return nil
		}
		lastErr = res.err
	}
	return lastErr
}
