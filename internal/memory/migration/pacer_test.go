package migration

import (
	"testing"
	"time"
)

func TestPacerSpeedsUpOnFastBatches(t *testing.T) {
	p := newPacer()
	if p.next() != 500*time.Millisecond {
		t.Fatalf("initial = %v", p.next())
	}

	p.success(10 * time.Millisecond)
	if p.next() != 400*time.Millisecond {
		t.Errorf("after fast batch = %v, want 400ms", p.next())
	}

	// Slow batches leave the interval alone.
	before := p.next()
	p.success(before)
	if p.next() != before {
		t.Errorf("slow batch changed interval to %v", p.next())
	}

	for i := 0; i < 50; i++ {
		p.success(time.Millisecond)
	}
	if p.next() != minInterval {
		t.Errorf("floor = %v, want %v", p.next(), minInterval)
	}
}

func TestPacerBacksOffOnFailures(t *testing.T) {
	p := newPacer()

	p.failure()
	if p.next() != 1*time.Second {
		t.Errorf("after 1 failure = %v, want 1s", p.next())
	}
	p.failure()
	if p.next() != 2*time.Second {
		t.Errorf("after 2 failures = %v, want 2s", p.next())
	}
	p.failure()
	if p.next() != 4*time.Second {
		t.Errorf("after 3 failures = %v, want 4s", p.next())
	}
	p.failure()
	if p.next() != maxInterval {
		t.Errorf("after 4 failures = %v, want the cap", p.next())
	}

	p.success(time.Millisecond)
	if p.consecutiveFailures != 0 {
		t.Error("success must reset the failure streak")
	}
}
