package reliability

import "time"

// IsRetryableStatus classifies HTTP status codes a caller may retry.
func IsRetryableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// SuggestedBackoff computes a deterministic capped backoff for caller-side
// retries. The relay itself never retries; transports use this to fill
// Retry-After style hints.
func SuggestedBackoff(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if cap <= 0 {
		cap = 10 * time.Second
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
