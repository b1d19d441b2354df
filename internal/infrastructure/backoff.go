package infrastructure

import (
	"math"
	"math/rand"
	"time"
)

type backoffPolicy struct {
	factor    float64
	minJitter time.Duration
	maxJitter time.Duration
}

func newBackoffPolicy(factor float64, minJitter, maxJitter, defaultMin, defaultMax time.Duration) backoffPolicy {
	if factor < 1 {
		factor = 2.0
	}
	if minJitter <= 0 {
		minJitter = defaultMin
	}
	if maxJitter <= 0 {
		maxJitter = defaultMax
	}
	if maxJitter < minJitter {
		maxJitter = minJitter
	}

	return backoffPolicy{factor: factor, minJitter: minJitter, maxJitter: maxJitter}
}

// delay grows exponentially from minJitter and never exceeds maxJitter.
func (p backoffPolicy) delay(attempt int, rng *rand.Rand) time.Duration {
	backoff := float64(p.minJitter) * math.Pow(p.factor, float64(attempt))
	if backoff > float64(p.maxJitter) {
		backoff = float64(p.maxJitter)
	}

	base := time.Duration(backoff)
	if p.maxJitter <= p.minJitter {
		return base
	}

	jitterWindow := p.maxJitter - p.minJitter
	jitter := time.Duration(rng.Int63n(int64(jitterWindow) + 1))
	result := base + jitter
	if result > p.maxJitter {
		return p.maxJitter
	}

	return result
}
