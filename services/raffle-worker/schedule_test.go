package raffleworker

import (
	"testing"
	"time"
)

func TestScheduleDue(t *testing.T) {
	hourly, err := NewSchedule("0 * * * *")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	last := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		hasLast bool
		now     time.Time
		want    bool
	}{
		{"first trigger", false, last, true},
		{"same hour", true, last.Add(30 * time.Minute), false},
		{"next tick", true, last.Add(time.Hour), true},
		{"missed ticks", true, last.Add(5 * time.Hour), true},
	}
	for _, tc := range cases {
		got, err := hourly.Due(last, tc.hasLast, tc.now)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: due=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestScheduleDisabled(t *testing.T) {
	s, err := NewSchedule("  ")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if s.Enabled() {
		t.Fatalf("blank schedule should be disabled")
	}
	if due, _ := s.Due(time.Time{}, false, time.Now()); due {
		t.Fatalf("disabled schedule is never due")
	}
	if _, err := NewSchedule("61 * * * *"); err == nil {
		t.Fatalf("expected invalid expression error")
	}
}
