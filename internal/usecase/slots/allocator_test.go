package slots

import (
	"errors"
	"testing"
	"time"

	"post-planner-bot/internal/domain"
)

func testAllocator(t *testing.T) *Allocator {
	t.Helper()
	buckets, err := ParseBuckets(
		"Sat,Sun 08:00-10:00",
		"Fri,Mon 08:00-10:00; Sat,Sun 11:30-13:00",
		"Sat,Sun 13:00-17:00",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return NewAllocator(Config{Buckets: buckets, Step: 5 * time.Minute, Location: time.UTC, HorizonDays: 60})
}

// 2026-08-26 is a Wednesday.
var testNow = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

func TestNextSlotStaysInsideWindow(t *testing.T) {
	a := testAllocator(t)
	taken := NewTakenSet()
	for i := 0; i < 50; i++ {
		slot, err := a.NextSlot(testNow, domain.PriorityP1, taken)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if wd := slot.Weekday(); wd != time.Saturday && wd != time.Sunday {
			t.Fatalf("slot %v is not on a weekend", slot)
		}
		minutes := slot.Hour()*60 + slot.Minute()
		if minutes < 8*60 || minutes >= 10*60 {
			t.Fatalf("slot %v is outside 08:00-10:00", slot)
		}
		taken.Add(slot)
	}
}

func TestNextSlotSkipsTakenInstants(t *testing.T) {
	a := testAllocator(t)
	first, err := a.NextSlot(testNow, domain.PriorityP3, NewTakenSet())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := a.NextSlot(testNow, domain.PriorityP3, NewTakenSet(first))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.After(first) {
		t.Fatalf("expected %v after %v", second, first)
	}
	if second.Sub(first) != 5*time.Minute {
		t.Fatalf("expected the next 5m step, got %v", second.Sub(first))
	}
}

func TestNextSlotIsStrictlyFuture(t *testing.T) {
	a := testAllocator(t)
	// A Saturday 08:00, exactly on a window boundary.
	saturday := time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC)
	slot, err := a.NextSlot(saturday, domain.PriorityP1, NewTakenSet())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slot.After(saturday) {
		t.Fatalf("slot %v is not strictly after now %v", slot, saturday)
	}
}

func TestNextSlotStaysInsideWindowAcrossFallBack(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	buckets, err := ParseBuckets("Sat,Sun 08:00-10:00", "Mon 08:00-10:00", "Tue 08:00-10:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := NewAllocator(Config{Buckets: buckets, Step: 5 * time.Minute, Location: la, HorizonDays: 60})

	// 2026-11-01 is the fall-back Sunday; the clock gains an hour
	// before the window opens.
	now := time.Date(2026, 10, 31, 23, 0, 0, 0, la)
	slot, err := a.NextSlot(now, domain.PriorityP1, NewTakenSet())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 11, 1, 8, 0, 0, 0, la)
	if !slot.Equal(want) {
		t.Fatalf("expected %v, got %v", want, slot)
	}
	local := slot.In(la)
	if minutes := local.Hour()*60 + local.Minute(); minutes < 8*60 || minutes >= 10*60 {
		t.Fatalf("slot %v is outside 08:00-10:00 local time", local)
	}
}

func TestNextSlotSkipsHourLostToSpringForward(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	buckets, err := ParseBuckets("Sun 02:00-03:00", "Mon 08:00-10:00", "Tue 08:00-10:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := NewAllocator(Config{Buckets: buckets, Step: 5 * time.Minute, Location: la, HorizonDays: 60})

	// 2027-03-14 02:00-03:00 local does not exist; the whole window
	// must be skipped, not shifted onto the following hour.
	now := time.Date(2027, 3, 13, 12, 0, 0, 0, la)
	slot, err := a.NextSlot(now, domain.PriorityP1, NewTakenSet())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2027, 3, 21, 2, 0, 0, 0, la)
	if !slot.Equal(want) {
		t.Fatalf("expected %v, got %v", want, slot)
	}
}

func TestNextSlotUnknownPriority(t *testing.T) {
	a := testAllocator(t)
	if _, err := a.NextSlot(testNow, domain.Priority("P0"), NewTakenSet()); !domain.IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestAllocateBatchStrictlyIncreasing(t *testing.T) {
	a := testAllocator(t)
	got, err := a.AllocateBatch(testNow, domain.PriorityP2, NewTakenSet(), 40)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := NewTakenSet()
	for i, slot := range got {
		if i > 0 && !slot.After(got[i-1]) {
			t.Fatalf("slot %d (%v) is not after slot %d (%v)", i, slot, i-1, got[i-1])
		}
		if seen.Has(slot) {
			t.Fatalf("slot %v allocated twice", slot)
		}
		seen.Add(slot)
	}
}

func TestResolveExplicit(t *testing.T) {
	const format = "2006-01-02 15:04"

	at, err := ResolveExplicit(testNow, format, "2026-09-05 09:30", time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2026, 9, 5, 9, 30, 0, 0, time.UTC); !at.Equal(want) {
		t.Fatalf("expected %v, got %v", want, at)
	}

	if _, err := ResolveExplicit(testNow, format, "2025-01-01 09:30", time.UTC); !errors.Is(err, domain.ErrScheduleInPast) {
		t.Fatalf("expected ErrScheduleInPast, got %v", err)
	}
	if _, err := ResolveExplicit(testNow, format, "not a date", time.UTC); !domain.IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestDelayNeverNegative(t *testing.T) {
	if d := Delay(testNow, testNow.Add(-time.Hour)); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
	if d := Delay(testNow, testNow.Add(90*time.Second)); d != 90*time.Second {
		t.Fatalf("expected 90s, got %v", d)
	}
}

func TestParseBucketSpec(t *testing.T) {
	rules, err := ParseBucketSpec("Fri,Mon 08:00-10:00; Sat,Sun 11:30-13:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[1].Start != 11*60+30 || rules[1].End != 13*60 {
		t.Fatalf("unexpected second window: %+v", rules[1])
	}

	for _, bad := range []string{"Sat", "Sat 10:00", "Noday 08:00-10:00", "Sat 10:00-08:00"} {
		if _, err := ParseBucketSpec(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
