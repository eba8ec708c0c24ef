package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/hitmap/internal/runstate"
	"github.com/redis/go-redis/v9"
)

// MarkerSource looks up the latest marker of a run.
type MarkerSource interface {
	Get(ctx context.Context, runID string) (runstate.Marker, error)
}

// FollowRun polls for the marker of runID until the run finishes and returns
// the final marker. onChange, if set, is called with the first marker seen and
// again whenever the state or stage changes. A run that is not recorded yet is
// waited for. A zero timeout waits for as long as ctx allows.
func FollowRun(ctx context.Context, src MarkerSource, runID string, interval, timeout time.Duration, onChange func(runstate.Marker)) (runstate.Marker, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timeoutCh = time.After(timeout)
	}

	var last runstate.Marker
	seen := false
	for {
		m, err := src.Get(ctx, runID)
		switch {
		case errors.Is(err, redis.Nil):
			// Not recorded yet, keep polling
		case err != nil:
			return last, fmt.Errorf("failed to query run %s: %w", runID, err)
		default:
			if onChange != nil && (!seen || m.State != last.State || m.Stage != last.Stage) {
				onChange(m)
			}
			seen, last = true, m
			if m.State.Finished() {
				return m, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-timeoutCh:
			return last, fmt.Errorf("timeout waiting for run %s after %v", runID, timeout)
		case <-ticker.C:
		}
	}
}
