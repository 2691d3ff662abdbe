// Package retry paces repeated attempts: the public tunnel supervisor
// waits between client restarts, and both it and the jump-host dialer
// stop trying for a while once a gateway keeps failing.
package retry

import (
	"context"
	"time"
)

// Sleep waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
