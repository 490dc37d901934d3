package rtt

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MinRTT:     1000 * time.Millisecond,
		MaxRTT:     8000 * time.Millisecond,
		DefaultRTT: 5000 * time.Millisecond,
		RTTMult:    4,
		MinTimeout: 4000 * time.Millisecond,
		MaxTimeout: 32000 * time.Millisecond,
	}
}

func TestNewSeedsDefault(t *testing.T) {
	e := New(testConfig())
	if e.SRTT() != 5000*time.Millisecond {
		t.Fatalf("expected seeded srtt of 5s, got %v", e.SRTT())
	}
}

func TestUpdateConverges(t *testing.T) {
	e := New(testConfig())
	for i := 0; i < 50; i++ {
		e.Update(2000 * time.Millisecond)
	}
	if got := e.SRTT(); got < 1900*time.Millisecond || got > 2100*time.Millisecond {
		t.Fatalf("expected srtt to converge near 2s, got %v", got)
	}
}

func TestTimeoutClampedToBounds(t *testing.T) {
	e := New(testConfig())
	// A single wild sample should not push the timeout past maxTimeout.
	e.Update(8000 * time.Millisecond)
	if got := e.Timeout(); got > 32000*time.Millisecond {
		t.Fatalf("timeout exceeded max: %v", got)
	}
	if got := e.Timeout(); got < 4000*time.Millisecond {
		t.Fatalf("timeout below min: %v", got)
	}
}

func TestTimeoutNeverBelowMin(t *testing.T) {
	cfg := testConfig()
	e := New(cfg)
	for i := 0; i < 100; i++ {
		e.Update(1000 * time.Millisecond)
	}
	if got := e.Timeout(); got < cfg.MinTimeout {
		t.Fatalf("timeout %v below configured minimum %v", got, cfg.MinTimeout)
	}
}

func TestSequenceDeltaWraparound(t *testing.T) {
	cases := []struct {
		a, b uint32
		want int64
	}{
		{a: 10, b: 15, want: 5},
		{a: 15, b: 10, want: -5},
		{a: 0xFFFFFFF0, b: 5, want: 21},
		{a: 5, b: 0xFFFFFFF0, want: -21},
	}
	for _, c := range cases {
		if got := SequenceDelta(c.a, c.b); got != c.want {
			t.Fatalf("SequenceDelta(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
