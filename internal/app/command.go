package app

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// commandJob wraps an argv command as a dispatchable work function. A
// non-zero timeout bounds the run; output is only kept on failure.
func commandJob(argv []string, timeout time.Duration) func(ctx context.Context) error {
	cmd := append([]string(nil), argv...)
	return func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
		out, err := c.CombinedOutput()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%s: %w", cmd[0], ctx.Err())
			}
			return fmt.Errorf("%s: %w: %s", cmd[0], err, truncate(string(out), 512))
		}
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
