package fetcher

import "time"

// BackoffDelay computes the jittered retry delay for a given retry depth.
// The seed decorrelates concurrently retrying workers: each worker starts
// from its own serial number and increments once per retry. The quadratic
// term must use true exponentiation, a bitwise-XOR rendition of depth^2
// collapses the delay to near zero at depth 2.
func BackoffDelay(depth int, seed int64) time.Duration {
	d := int64(depth)

	sleepMs := ((12 * d * d * seed) % 100) * (d % 5)

	// beyond depth 8 the linear term grows much faster to stop hammering a
	// failing network
	if depth > 8 {
		sleepMs += 225 * d
	} else {
		sleepMs += 30 * d
	}

	return time.Duration(sleepMs) * time.Millisecond
}
