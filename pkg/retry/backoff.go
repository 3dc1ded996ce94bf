package retry

import (
	"math/rand/v2"
	"time"
)

// Backoff computes a full-jitter exponential delay for attemptNum (0
// indexed): a uniform random duration between 0 and
// min(max, base*2^attemptNum). Full jitter avoids synchronized retry
// storms better than a fixed multiplier with a small jitter band.
func Backoff(attemptNum int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	ceiling := base
	for i := 0; i < attemptNum && ceiling < max; i++ {
		ceiling *= 2
	}
	if ceiling > max {
		ceiling = max
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling)))
}
