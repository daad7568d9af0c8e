package fetcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		depth int
		seed  int64
		want  time.Duration
	}{
		// ((12*d*d*seed) % 100) * (d % 5) + 30*d
		{depth: 1, seed: 2, want: 54 * time.Millisecond},
		{depth: 2, seed: 3, want: 148 * time.Millisecond},
		{depth: 3, seed: 4, want: 186 * time.Millisecond},
		{depth: 4, seed: 5, want: 360 * time.Millisecond},
		// d % 5 zeroes the jitter at depth 5, leaving the linear term
		{depth: 5, seed: 6, want: 150 * time.Millisecond},
		{depth: 8, seed: 1, want: 444 * time.Millisecond},
		// beyond depth 8 the linear term switches to 225ms per depth
		{depth: 9, seed: 1, want: 2313 * time.Millisecond},
		{depth: 10, seed: 1, want: 2250 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BackoffDelay(tt.depth, tt.seed),
			"depth=%d seed=%d", tt.depth, tt.seed)
	}
}

// The quadratic term must be true multiplication. An accidental bitwise-XOR
// rendition of depth^2 evaluates to zero at depth 2 and collapses the jitter
// exactly where concurrent workers need decorrelation most.
func TestBackoffDelayDepthTwoKeepsJitter(t *testing.T) {
	linearOnly := 60 * time.Millisecond

	jittered := 0
	for seed := int64(1); seed <= 50; seed++ {
		if BackoffDelay(2, seed) > linearOnly {
			jittered++
		}
	}

	assert.Greater(t, jittered, 40)
}

func TestBackoffDelaySeedDecorrelation(t *testing.T) {
	// two workers at the same depth with different seeds must usually get
	// different delays
	distinct := map[time.Duration]struct{}{}
	for seed := int64(1); seed <= 10; seed++ {
		distinct[BackoffDelay(3, seed)] = struct{}{}
	}

	assert.Greater(t, len(distinct), 5)
}
