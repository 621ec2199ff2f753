package model

import (
	"errors"
	"sort"
	"testing"
	"time"
)

func TestNextCoversEveryPair(t *testing.T) {
	allowed := 0
	for _, from := range Statuses {
		for _, ev := range Events {
			to, err := Next(from, ev)
			if err != nil {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("%s/%s: unexpected error type %v", from, ev, err)
				}
				if to != from {
					t.Fatalf("%s/%s: rejected event must keep status, got %s", from, ev, to)
				}
				continue
			}
			allowed++
			if to != "" && !to.Valid() {
				t.Fatalf("%s/%s: invalid target %q", from, ev, to)
			}
		}
	}
	if allowed != len(transitions) {
		t.Fatalf("expected %d allowed pairs, got %d", len(transitions), allowed)
	}
}

func TestInvalidTransitionMessage(t *testing.T) {
	_, err := Next(StatusInbox, EventPause)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if got := err.Error(); got != "cannot pause a task in status INBOX" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestAllowed(t *testing.T) {
	cases := map[Status][]Event{
		StatusInbox:      {EventAccept, EventReject, EventPostpone},
		StatusToday:      {EventStart},
		StatusInProgress: {EventPause, EventComplete},
		StatusPaused:     {EventStart, EventComplete},
		StatusCompleted:  {EventRestore},
		StatusTrash:      {EventRestore, EventDelete},
	}
	for from, want := range cases {
		got := Allowed(from)
		if len(got) != len(want) {
			t.Fatalf("%s: expected %v, got %v", from, want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s: expected %v, got %v", from, want, got)
			}
		}
	}
}

func TestParseEvent(t *testing.T) {
	if ev, ok := ParseEvent("complete"); !ok || ev != EventComplete {
		t.Fatalf("expected complete, got %q %v", ev, ok)
	}
	if _, ok := ParseEvent("archive"); ok {
		t.Fatal("unknown event must not parse")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		seconds int
		want    string
	}{
		{0, "0m"},
		{59, "0m"},
		{60, "1m"},
		{3599, "59m"},
		{3600, "1h 0m"},
		{5400, "1h 30m"},
		{-10, "0m"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.seconds); got != tc.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{&ValidationError{Field: "title", Reason: "empty"}, ErrValidation},
		{&NotFoundError{Entity: "task", ID: "x"}, ErrNotFound},
		{&InvalidTransitionError{From: StatusTrash, Event: EventStart}, ErrInvalidTransition},
		{&ConflictError{Reason: "dup"}, ErrConflict},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, tc.sentinel) {
			t.Errorf("%T does not match %v", tc.err, tc.sentinel)
		}
		if errors.Is(tc.err, errors.New("other")) {
			t.Errorf("%T matches an unrelated error", tc.err)
		}
	}
}

func TestTodayLessRanksStatusFirst(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	tasks := []*Task{
		{ID: "a", Status: StatusToday, Priority: 5, AcceptedAt: &t0},
		{ID: "b", Status: StatusPaused, Priority: 1, AcceptedAt: &t1},
		{ID: "c", Status: StatusInProgress, Priority: 1, AcceptedAt: &t1},
		{ID: "d", Status: StatusToday, Priority: 5, AcceptedAt: &t1},
	}
	sort.Slice(tasks, func(i, j int) bool { return TodayLess(tasks[i], tasks[j]) })
	got := ""
	for _, task := range tasks {
		got += task.ID
	}
	if got != "cbad" {
		t.Fatalf("expected cbad, got %s", got)
	}
}

func TestInboxLessPutsMissingDeadlinesLast(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	d := t0.Add(48 * time.Hour)
	a := &Task{ID: "a", Priority: 3, CreatedAt: t0}
	b := &Task{ID: "b", Priority: 3, CreatedAt: t0.Add(time.Hour), Deadline: &d}
	if !InboxLess(b, a) || InboxLess(a, b) {
		t.Fatal("task with deadline must sort before one without")
	}
	c := &Task{ID: "c", Priority: 4, CreatedAt: t0.Add(2 * time.Hour)}
	if !InboxLess(c, b) {
		t.Fatal("higher priority must sort first")
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	d := 30
	orig := &Task{
		ID:            "t",
		LastStartedAt: &now,
		Subtasks:      []Subtask{{ID: "s", Completed: false}},
		TimeSessions:  []TimeSession{{ID: "x", Duration: &d}},
	}
	c := orig.Clone()
	c.Subtasks[0].Completed = true
	*c.TimeSessions[0].Duration = 99
	later := now.Add(time.Hour)
	*c.LastStartedAt = later

	if orig.Subtasks[0].Completed || *orig.TimeSessions[0].Duration != 30 || !orig.LastStartedAt.Equal(now) {
		t.Fatal("clone shares state with the original")
	}
}

func TestTaskViews(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	ended := now
	task := &Task{
		Status:       StatusToday,
		Deadline:     &past,
		Subtasks:     []Subtask{{Completed: true}, {Completed: false}, {Completed: true}},
		TimeSessions: []TimeSession{{EndedAt: &ended}, {}},
	}
	if !task.IsOverdue(now) {
		t.Fatal("expected overdue")
	}
	task.Status = StatusCompleted
	if task.IsOverdue(now) {
		t.Fatal("completed tasks are never overdue")
	}
	if task.CompletedSubtasks() != 2 {
		t.Fatalf("expected 2 completed subtasks, got %d", task.CompletedSubtasks())
	}
	if !task.HasActiveSession() {
		t.Fatal("expected active session")
	}
}
