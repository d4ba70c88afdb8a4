package ratelimit

import (
	"fmt"
	"testing"
)

func newTestBucketLimiter(t *testing.T, rps, burst, maxEntries int) *BucketLimiter {
	t.Helper()
	bl := NewBucketLimiter(rps, burst, maxEntries, discardLogger())
	t.Cleanup(bl.Stop)
	return bl
}

func TestBucketLimiterAllowsWithinBurst(t *testing.T) {
	bl := newTestBucketLimiter(t, 1, 5, 100)

	for i := 0; i < 5; i++ {
		if !bl.Allow("203.0.113.10") {
			t.Fatalf("request %d within burst was denied", i+1)
		}
	}
	if bl.Allow("203.0.113.10") {
		t.Error("request beyond burst was allowed")
	}
}

func TestBucketLimiterIdentifiersAreIndependent(t *testing.T) {
	bl := newTestBucketLimiter(t, 1, 2, 100)

	bl.Allow("a")
	bl.Allow("a")
	if bl.Allow("a") {
		t.Fatal("a exceeded its burst")
	}
	if !bl.Allow("b") {
		t.Error("b should have a fresh bucket")
	}
}

func TestBucketLimiterLRUEviction(t *testing.T) {
	bl := newTestBucketLimiter(t, 1, 1, 4)

	for i := 0; i < 10; i++ {
		bl.Allow(fmt.Sprintf("id-%d", i))
	}
	if n := bl.Len(); n > 4 {
		t.Errorf("Len() = %d, want <= 4", n)
	}

	// An evicted identifier comes back with a fresh bucket.
	if !bl.Allow("id-0") {
		t.Error("evicted identifier should start over")
	}
}

func TestBucketLimiterCleanup(t *testing.T) {
	bl := newTestBucketLimiter(t, 1, 1, 100)

	bl.Allow("idle")
	bl.cleanup(0)

	if n := bl.Len(); n != 0 {
		t.Errorf("Len() after cleanup = %d, want 0", n)
	}
}
