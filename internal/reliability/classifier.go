package reliability

import "time"

// IsRetryableHTTPStatus reports whether a request that failed with the given
// status code is worth retrying. Rate limiting and server-side failures are
// retryable; anything in the 4xx range besides 429 indicates a request that
// will fail the same way again.
func IsRetryableHTTPStatus(code int) bool {
	if code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

// ExponentialBackoff computes a deterministic capped backoff duration.
// Attempt 0 returns base, and each subsequent attempt doubles the delay
// until cap is reached.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	d := base
	for ; attempt > 0; attempt-- {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
