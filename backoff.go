package onramp

import (
	"context"
	"math/rand/v2"
	"time"
)

// defaultJitterMax bounds the uniform random component added to each retry
// delay so synchronized clients do not hammer the issuer in lockstep.
const defaultJitterMax = time.Second

// retryDelay returns the wait between attempt k and attempt k+1:
// base doubled per completed attempt, plus uniform jitter in [0, jitterMax).
func retryDelay(k int, base, jitterMax time.Duration) time.Duration {
	d := base << (k - 1)
	if jitterMax > 0 {
		d += rand.N(jitterMax)
	}
	return d
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
