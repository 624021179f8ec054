package clock

import (
	"testing"
	"time"
)

func TestDateOf(t *testing.T) {
	instant := time.Date(2026, 3, 2, 23, 45, 12, 999, time.UTC)
	got := DateOf(instant)
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("DateOf=%v, want %v", got, want)
	}
}

func TestTodayUsesSiteLocalDate(t *testing.T) {
	// 02:00 on March 3 in UTC+7 is still March 2 in UTC; Today must follow
	// the site's calendar, not UTC's.
	loc := time.FixedZone("UTC+7", 7*3600)
	instant := time.Date(2026, 3, 3, 2, 0, 0, 0, loc)
	got := DateOf(instant.In(loc))
	want := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("DateOf=%v, want %v", got, want)
	}
}

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)
	fake := NewFake(start)
	fake.Advance(45 * time.Minute)

	if got := fake.Now(); !got.Equal(start.Add(45 * time.Minute)) {
		t.Fatalf("Now=%v", got)
	}
	// Advancing past midnight rolls Today forward.
	want := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	if got := fake.Today(); !got.Equal(want) {
		t.Fatalf("Today=%v, want %v", got, want)
	}
}
