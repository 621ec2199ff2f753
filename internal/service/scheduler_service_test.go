package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"daily-triage/internal/model"
)

func TestBuildDailySpec(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"00:05", "0 5 0 * * *", false},
		{"23:59", "0 59 23 * * *", false},
		{"9:30", "0 30 9 * * *", false},
		{"24:00", "", true},
		{"12:60", "", true},
		{"noon", "", true},
		{"12-30", "", true},
	}
	for _, tt := range tests {
		got, err := buildDailySpec(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("buildDailySpec(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestScheduleDailyUsesLocation(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	s := NewSchedulerService(testZone, log)

	id, err := s.ScheduleDaily("reset", "00:05", func() {})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := s.ScheduleDaily("bad", "25:00", func() {}); err == nil {
		t.Fatal("invalid time must be rejected")
	}

	s.Start()
	defer s.Stop()

	next := s.Next(id).In(testZone)
	if next.Hour() != 0 || next.Minute() != 5 {
		t.Fatalf("next run at %s", next)
	}
}

func TestDailySummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const user = "u1"

	report := f.create(t, user, TaskInput{Title: "Write <report>", Priority: intPtr(5), Spiciness: intPtr(2)})
	f.create(t, user, TaskInput{Title: "Later"})
	f.do(t, user, report.ID, model.EventAccept)
	f.do(t, user, report.ID, model.EventStart)
	f.clock.Advance(90 * time.Minute)
	f.do(t, user, report.ID, model.EventPause)

	text, err := NewReminderService(f.svc, f.cal).DailySummary(ctx, user, f.clock.Now())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	for _, want := range []string{
		"Write &lt;report&gt;",
		"⏸",
		"1h 30m",
		"📥 Inbox: 1 waiting",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}

	empty, err := NewReminderService(f.svc, f.cal).DailySummary(ctx, "nobody", f.clock.Now())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.Contains(empty, "nothing planned") || !strings.Contains(empty, "Inbox: 0 waiting") {
		t.Fatalf("unexpected empty summary:\n%s", empty)
	}
}
