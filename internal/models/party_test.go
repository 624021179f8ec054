package models

import (
	"testing"
	"time"
)

func TestAge(t *testing.T) {
	on := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		dob  time.Time
		want int
	}{
		{time.Date(1966, 3, 2, 0, 0, 0, 0, time.UTC), 60},  // birthday today
		{time.Date(1966, 3, 3, 0, 0, 0, 0, time.UTC), 59},  // birthday tomorrow
		{time.Date(1966, 2, 28, 0, 0, 0, 0, time.UTC), 60}, // birthday passed
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 0},
	}
	for _, tt := range cases {
		p := Party{DateOfBirth: tt.dob}
		if got := p.Age(on); got != tt.want {
			t.Fatalf("Age(dob=%v)=%d, want %d", tt.dob, got, tt.want)
		}
	}
}

func TestSenior(t *testing.T) {
	on := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	senior := Party{DateOfBirth: time.Date(1966, 3, 2, 0, 0, 0, 0, time.UTC)}
	if !senior.Senior(on, 60) {
		t.Fatal("expected senior at exactly 60")
	}
	almost := Party{DateOfBirth: time.Date(1966, 3, 3, 0, 0, 0, 0, time.UTC)}
	if almost.Senior(on, 60) {
		t.Fatal("expected not senior at 59")
	}
	unknown := Party{}
	if unknown.Senior(on, 60) {
		t.Fatal("zero date of birth must not derive senior")
	}
}

func TestScoreFor(t *testing.T) {
	for priority, want := range map[string]int{
		PriorityNormal:    0,
		PriorityVIP:       400,
		PrioritySenior:    600,
		PriorityExpectant: 800,
		PriorityEmergency: 1000,
	} {
		got, ok := ScoreFor(priority)
		if !ok || got != want {
			t.Fatalf("ScoreFor(%q)=(%d,%v), want (%d,true)", priority, got, ok, want)
		}
	}
	if _, ok := ScoreFor("URGENT"); ok {
		t.Fatal("unknown priority must not resolve")
	}
}
