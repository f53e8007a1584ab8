package security

import (
	"fmt"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 2, time.Minute, nil)
	defer rl.Stop()

	if !rl.Allow("10.0.0.1") {
		t.Error("first request denied within burst")
	}
	if !rl.Allow("10.0.0.1") {
		t.Error("second request denied within burst")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("third immediate request allowed past burst")
	}

	// Other identifiers have their own bucket.
	if !rl.Allow("10.0.0.2") {
		t.Error("unrelated identifier denied")
	}
}

func TestRateLimiter_ZeroRateDisables(t *testing.T) {
	rl := NewRateLimiter(0, 0, time.Minute, nil)
	defer rl.Stop()

	for i := 0; i < 100; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatal("zero rate must never deny")
		}
	}
}

// A full table denies new identifiers instead of letting an attacker
// rotate past the limiter.
func TestRateLimiter_FullTableDeniesNewIdentifiers(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute, nil)
	defer rl.Stop()
	rl.maxEntries = 3

	for i := 0; i < 3; i++ {
		rl.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	if rl.Allow("10.0.0.99") {
		t.Error("new identifier allowed after table filled")
	}
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute, nil)
	rl.Stop()
	rl.Stop()
}
