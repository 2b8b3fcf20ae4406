package guardian

import (
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func TestVelocityThreshold(t *testing.T) {
	w := NewVelocityWindow(60*time.Second, 5, 0)
	for i := 0; i < 4; i++ {
		w.Record(fmt.Sprintf("o%d", i), t0.Add(time.Duration(i)*time.Second))
	}
	if w.IsOverThreshold(t0.Add(4 * time.Second)) {
		t.Fatal("4 entries should not cross threshold 5")
	}
	w.Record("o4", t0.Add(4*time.Second))
	if !w.IsOverThreshold(t0.Add(4 * time.Second)) {
		t.Fatal("5 entries should cross threshold 5")
	}
}

func TestVelocityPrune(t *testing.T) {
	w := NewVelocityWindow(60*time.Second, 5, 0)
	w.Record("old", t0)
	w.Record("new", t0.Add(59*time.Second))
	if got := w.Count(t0.Add(61 * time.Second)); got != 1 {
		t.Fatalf("expected 1 entry after prune, got %d", got)
	}
	// An entry exactly at now-T survives.
	if got := w.Count(t0.Add(60 * time.Second)); got != 2 {
		t.Fatalf("boundary entry should survive, got %d", got)
	}
}

func TestVelocityRecordIdempotent(t *testing.T) {
	w := NewVelocityWindow(60*time.Second, 5, 0)
	if !w.Record("dup", t0) {
		t.Fatal("first record should append")
	}
	if w.Record("dup", t0.Add(time.Second)) {
		t.Fatal("second record of same id within window should be ignored")
	}
	if got := w.Count(t0.Add(time.Second)); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
	// Once the first entry expires, the id may be recorded again.
	if !w.Record("dup", t0.Add(2*time.Minute)) {
		t.Fatal("expired id should be recordable again")
	}
}

func TestVelocityOverflowCap(t *testing.T) {
	w := NewVelocityWindow(60*time.Second, 100, 3)
	for i := 0; i < 3; i++ {
		if !w.Record(fmt.Sprintf("o%d", i), t0) {
			t.Fatalf("record %d should succeed", i)
		}
	}
	if w.Record("o3", t0) {
		t.Fatal("record past cap should be refused")
	}
	if !w.Overflowed() {
		t.Fatal("window should report overflow")
	}
	if w.Record("o4", t0) {
		t.Fatal("overflowed window must refuse further entries")
	}

	w.Reset()
	if w.Overflowed() {
		t.Fatal("reset should clear overflow")
	}
	if !w.Record("o5", t0) {
		t.Fatal("reset window should accept entries again")
	}
}

func TestVelocityEntriesStaySorted(t *testing.T) {
	w := NewVelocityWindow(60*time.Second, 5, 0)
	w.Record("a", t0.Add(10*time.Second))
	// Clock stepping backwards must not break the sort invariant.
	w.Record("b", t0.Add(5*time.Second))
	for i := 1; i < len(w.entries); i++ {
		if w.entries[i].at.Before(w.entries[i-1].at) {
			t.Fatal("entries out of order")
		}
	}
}
