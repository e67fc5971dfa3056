package pipeline

import (
	"fmt"
	"testing"
)

func TestSeenSetBasic(t *testing.T) {
	s := newSeenSet(10, 0.2)

	s.Add("a")
	s.Add("b")
	if !s.Contains("a") || !s.Contains("b") || s.Contains("c") {
		t.Error("membership wrong")
	}

	// Duplicate adds do not grow the set.
	s.Add("a")
	if s.Len() != 2 {
		t.Errorf("len = %d, want 2", s.Len())
	}
}

func TestSeenSetEvictsOldestFifth(t *testing.T) {
	s := newSeenSet(10, 0.2)
	for i := 0; i < 10; i++ {
		s.Add(fmt.Sprintf("k%d", i))
	}
	if s.Len() != 10 {
		t.Fatalf("len = %d, want 10", s.Len())
	}

	// The next add evicts the oldest 2 (capacity * 0.2) in insertion order.
	s.Add("k10")
	if s.Len() != 9 {
		t.Errorf("len after eviction = %d, want 9", s.Len())
	}
	if s.Contains("k0") || s.Contains("k1") {
		t.Error("oldest entries not evicted")
	}
	if !s.Contains("k2") || !s.Contains("k10") {
		t.Error("wrong entries evicted")
	}
}

func TestSeenSetNeverExceedsCapacity(t *testing.T) {
	s := newSeenSet(100, 0.2)
	for i := 0; i < 1000; i++ {
		s.Add(fmt.Sprintf("k%d", i))
		if s.Len() > 100 {
			t.Fatalf("size %d exceeded capacity at insert %d", s.Len(), i)
		}
	}
	// The newest key always survives.
	if !s.Contains("k999") {
		t.Error("most recent key missing")
	}
}
