package jobs

import "time"

// RetryDelay returns min(base * 2^attempt, ceiling) without overflowing.
func RetryDelay(attempt int, base, ceiling time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultRetryBase
	}
	if ceiling <= 0 {
		ceiling = DefaultRetryCeiling
	}
	if base >= ceiling {
		return ceiling
	}

	delay := base
	for idx := 0; idx < attempt; idx++ {
		if delay > ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return delay
}
