package migration

import "time"

const (
	initialInterval = 500 * time.Millisecond
	minInterval     = 100 * time.Millisecond
	maxInterval     = 5 * time.Second
	maxBackoffShift = 6
)

// pacer adapts the inter-batch sleep to observed batch health: fast
// healthy batches shrink the interval, failures grow it exponentially.
type pacer struct {
	interval            time.Duration
	consecutiveFailures int
}

func newPacer() *pacer {
	return &pacer{interval: initialInterval}
}

func (p *pacer) next() time.Duration { return p.interval }

// success resets the failure streak and speeds up when the batch averaged
// less than half the current interval per record.
func (p *pacer) success(avgPerRecord time.Duration) {
	p.consecutiveFailures = 0
	if avgPerRecord < p.interval/2 {
		p.interval = clampInterval(time.Duration(float64(p.interval) * 0.8))
	}
}

// failure backs off to initial × 2^consecutiveFailures, capped.
func (p *pacer) failure() {
	p.consecutiveFailures++
	shift := p.consecutiveFailures
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	p.interval = clampInterval(initialInterval << shift)
}

func clampInterval(d time.Duration) time.Duration {
	if d < minInterval {
		return minInterval
	}
	if d > maxInterval {
		return maxInterval
	}
	return d
}
