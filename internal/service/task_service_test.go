package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"

	"daily-triage/internal/model"
	"daily-triage/internal/repository"
)

var testZone = time.FixedZone("UTC+3", 3*60*60)

type fixture struct {
	svc   *TaskService
	store *repository.Store
	clock *FixedClock
	cal   Calendar
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := repository.NewDB(filepath.Join(t.TempDir(), "svc.db"), log)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = repository.Close(db) })

	store := repository.NewStore(db)
	clock := NewFixedClock(time.Date(2026, 3, 10, 10, 0, 0, 0, testZone))
	cal := Calendar{Loc: testZone}
	resets := NewResetService(store, clock, cal, log, 4)
	return &fixture{
		svc:   NewTaskService(store, resets, clock, cal, log),
		store: store,
		clock: clock,
		cal:   cal,
	}
}

func intPtr(v int) *int { return &v }

func (f *fixture) create(t *testing.T, userID string, in TaskInput) *model.Task {
	t.Helper()
	task, err := f.svc.CreateTask(context.Background(), userID, in)
	if err != nil {
		t.Fatalf("create %q: %v", in.Title, err)
	}
	return task
}

func (f *fixture) do(t *testing.T, userID, id string, ev model.Event) *model.Task {
	t.Helper()
	task, err := f.svc.Transition(context.Background(), userID, id, ev)
	if err != nil {
		t.Fatalf("%s: %v", ev, err)
	}
	return task
}

func (f *fixture) reload(t *testing.T, userID, id string) *model.Task {
	t.Helper()
	task, err := f.store.Tasks.Find(context.Background(), userID, id)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	return task
}

// assertTimeInvariants checks the session bookkeeping of one task.
func (f *fixture) assertTimeInvariants(t *testing.T, task *model.Task) {
	t.Helper()
	ctx := context.Background()
	active, err := f.store.Sessions.Active(ctx, task.ID)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if (active != nil) != (task.Status == model.StatusInProgress) {
		t.Fatalf("status %s with active session %v", task.Status, active != nil)
	}
	loaded, err := f.store.Tasks.Find(ctx, task.UserID, task.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	sum := 0
	for _, s := range loaded.TimeSessions {
		if s.Duration != nil {
			sum += *s.Duration
		}
	}
	if sum != task.TotalTimeSpent {
		t.Fatalf("totalTimeSpent %d, ended sessions sum %d", task.TotalTimeSpent, sum)
	}
}

// seed inserts a task directly in the given status, with a running session for IN_PROGRESS.
func (f *fixture) seed(t *testing.T, userID string, status model.Status) *model.Task {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now().UTC()
	if _, err := f.store.Users.Ensure(ctx, userID, now); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	task := &model.Task{UserID: userID, Title: "seeded " + string(status), Priority: 3, Spiciness: 3, Status: status}
	if err := f.store.Tasks.Create(ctx, task); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	if status == model.StatusInProgress {
		if _, err := BeginSession(ctx, f.store.Sessions, task.ID, now); err != nil {
			t.Fatalf("seed session: %v", err)
		}
	}
	return task
}

func TestEveryStatusEventPair(t *testing.T) {
	want := map[model.Status]map[model.Event]model.Status{
		model.StatusInbox: {
			model.EventAccept:   model.StatusToday,
			model.EventReject:   model.StatusTrash,
			model.EventPostpone: model.StatusInbox,
		},
		model.StatusToday:      {model.EventStart: model.StatusInProgress},
		model.StatusInProgress: {model.EventPause: model.StatusPaused, model.EventComplete: model.StatusCompleted},
		model.StatusPaused:     {model.EventStart: model.StatusInProgress, model.EventComplete: model.StatusCompleted},
		model.StatusCompleted:  {model.EventRestore: model.StatusInbox},
		model.StatusTrash:      {model.EventRestore: model.StatusInbox, model.EventDelete: ""},
	}

	f := newFixture(t)
	ctx := context.Background()
	for _, from := range model.Statuses {
		for _, ev := range model.Events {
			from, ev := from, ev
			t.Run(string(from)+"/"+string(ev), func(t *testing.T) {
				task := f.seed(t, "u1", from)
				got, err := f.svc.Transition(ctx, "u1", task.ID, ev)

				to, allowed := want[from][ev]
				if !allowed {
					var ite *model.InvalidTransitionError
					if !errors.As(err, &ite) {
						t.Fatalf("expected invalid transition, got %v", err)
					}
					if ite.From != from || ite.Event != ev {
						t.Fatalf("error names %s/%s", ite.From, ite.Event)
					}
					if after := f.reload(t, "u1", task.ID); after.Status != from {
						t.Fatalf("rejected event changed status to %s", after.Status)
					}
					return
				}
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				if ev == model.EventDelete {
					if _, err := f.store.Tasks.Find(ctx, "u1", task.ID); !errors.Is(err, model.ErrNotFound) {
						t.Fatalf("expected deleted task, got %v", err)
					}
					return
				}
				if got.Status != to {
					t.Fatalf("expected %s, got %s", to, got.Status)
				}
				f.assertTimeInvariants(t, got)
			})
		}
	}
}

func TestCreateAppearsFirstInInboxByPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, "u1", TaskInput{Title: "older", Priority: intPtr(4)})
	f.clock.Advance(time.Minute)
	f.create(t, "u1", TaskInput{Title: "default"})
	f.clock.Advance(time.Minute)
	created := f.create(t, "u1", TaskInput{Title: "Write report", Priority: intPtr(5), Spiciness: intPtr(2)})

	inbox, err := f.svc.Inbox(ctx, "u1")
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 3 || inbox[0].ID != created.ID {
		t.Fatalf("expected new high-priority task first, got %+v", inbox)
	}
	if inbox[2].Priority != 3 || inbox[2].Spiciness != 3 {
		t.Fatalf("expected defaults of 3, got %d/%d", inbox[2].Priority, inbox[2].Spiciness)
	}
}

func TestCreateWithSubtasks(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, "u1", TaskInput{Title: "  trip  ", Subtasks: []string{"pack", "book"}})
	if task.Title != "trip" || task.Status != model.StatusInbox {
		t.Fatalf("unexpected task %+v", task)
	}
	loaded := f.reload(t, "u1", task.ID)
	if len(loaded.Subtasks) != 2 || loaded.Subtasks[0].Title != "pack" || loaded.Subtasks[1].Order != 1 {
		t.Fatalf("unexpected subtasks %+v", loaded.Subtasks)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name string
		in   TaskInput
	}{
		{"blank title", TaskInput{Title: "   "}},
		{"priority too high", TaskInput{Title: "x", Priority: intPtr(6)}},
		{"priority negative", TaskInput{Title: "x", Priority: intPtr(-1)}},
		{"priority zero", TaskInput{Title: "x", Priority: intPtr(0)}},
		{"spiciness zero", TaskInput{Title: "x", Spiciness: intPtr(0)}},
		{"spiciness too high", TaskInput{Title: "x", Spiciness: intPtr(9)}},
		{"blank subtask", TaskInput{Title: "x", Subtasks: []string{"ok", " "}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.CreateTask(ctx, "u1", tc.in); !errors.Is(err, model.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	inbox, err := f.svc.Inbox(ctx, "u1")
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 0 {
		t.Fatalf("rejected input must not write, got %d tasks", len(inbox))
	}
}

func TestStartPauseAccumulatesTime(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, "u1", TaskInput{Title: "focus"})
	f.do(t, "u1", task.ID, model.EventAccept)

	started := f.do(t, "u1", task.ID, model.EventStart)
	if started.LastStartedAt == nil || !started.HasActiveSession() {
		t.Fatalf("expected running session, got %+v", started)
	}

	f.clock.Advance(90 * time.Second)
	paused := f.do(t, "u1", task.ID, model.EventPause)

	if paused.TotalTimeSpent != 90 {
		t.Fatalf("expected 90 seconds, got %d", paused.TotalTimeSpent)
	}
	if paused.Status != model.StatusPaused || paused.LastStartedAt != nil || paused.HasActiveSession() {
		t.Fatalf("unexpected paused task %+v", paused)
	}
	f.assertTimeInvariants(t, paused)

	f.do(t, "u1", task.ID, model.EventStart)
	f.clock.Advance(30*time.Second + 900*time.Millisecond)
	done := f.do(t, "u1", task.ID, model.EventComplete)
	if done.TotalTimeSpent != 120 {
		t.Fatalf("expected whole seconds to accumulate to 120, got %d", done.TotalTimeSpent)
	}
	if done.CompletedAt == nil {
		t.Fatal("expected completedAt set")
	}
	f.assertTimeInvariants(t, done)
}

func TestPauseWithoutActiveSessionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.seed(t, "u1", model.StatusToday)
	task.Status = model.StatusInProgress
	if err := f.store.Tasks.Save(ctx, task); err != nil {
		t.Fatalf("corrupt task: %v", err)
	}

	_, err := f.svc.Pause(ctx, "u1", task.ID)
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := f.reload(t, "u1", task.ID); got.Status != model.StatusInProgress {
		t.Fatalf("failed pause changed status to %s", got.Status)
	}
}

func TestCompleteFromPausedWithoutSession(t *testing.T) {
	f := newFixture(t)
	task := f.seed(t, "u1", model.StatusPaused)
	done := f.do(t, "u1", task.ID, model.EventComplete)
	if done.Status != model.StatusCompleted || done.TotalTimeSpent != 0 {
		t.Fatalf("unexpected completed task %+v", done)
	}
}

func TestPostponeHidesUntilNextDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, "u1", TaskInput{Title: "later"})

	postponed := f.do(t, "u1", task.ID, model.EventPostpone)
	wantUntil := time.Date(2026, 3, 11, 0, 0, 0, 0, testZone)
	if postponed.PostponedUntil == nil || !postponed.PostponedUntil.Equal(wantUntil) {
		t.Fatalf("expected postponed until %v, got %v", wantUntil, postponed.PostponedUntil)
	}
	if postponed.Status != model.StatusInbox {
		t.Fatalf("postpone must keep INBOX, got %s", postponed.Status)
	}

	inbox, err := f.svc.Inbox(ctx, "u1")
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 0 {
		t.Fatalf("expected postponed task hidden, got %d", len(inbox))
	}

	f.clock.Set(time.Date(2026, 3, 11, 8, 0, 0, 0, testZone))
	inbox, err = f.svc.Inbox(ctx, "u1")
	if err != nil {
		t.Fatalf("inbox next day: %v", err)
	}
	if len(inbox) != 1 || inbox[0].ID != task.ID {
		t.Fatalf("expected task back in inbox, got %+v", inbox)
	}
	if inbox[0].PostponedUntil != nil {
		t.Fatalf("expected reset to clear postponement, got %v", inbox[0].PostponedUntil)
	}
}

func TestRestoreCompletedClearsTime(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, "u1", TaskInput{Title: "done once"})
	f.do(t, "u1", task.ID, model.EventAccept)
	f.do(t, "u1", task.ID, model.EventStart)
	f.clock.Advance(time.Hour)
	done := f.do(t, "u1", task.ID, model.EventComplete)
	if done.TotalTimeSpent != 3600 {
		t.Fatalf("expected 3600 seconds, got %d", done.TotalTimeSpent)
	}

	restored := f.do(t, "u1", task.ID, model.EventRestore)
	if restored.Status != model.StatusInbox || restored.TotalTimeSpent != 0 {
		t.Fatalf("unexpected restored task %+v", restored)
	}
	if restored.CompletedAt != nil || restored.LastStartedAt != nil || restored.TrashedAt != nil {
		t.Fatalf("expected transition timestamps cleared, got %+v", restored)
	}
	f.assertTimeInvariants(t, restored)
}

func TestRestoreRunsPendingReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	planned := f.create(t, "u1", TaskInput{Title: "planned"})
	f.do(t, "u1", planned.ID, model.EventAccept)
	trashed := f.create(t, "u1", TaskInput{Title: "oops"})
	f.do(t, "u1", trashed.ID, model.EventReject)

	f.clock.Advance(24 * time.Hour)
	if _, err := f.svc.Restore(ctx, "u1", trashed.ID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := f.reload(t, "u1", planned.ID); got.Status != model.StatusInbox || got.AcceptedAt != nil {
		t.Fatalf("expected yesterday's plan back in inbox, got %s", got.Status)
	}
}

func TestDailyResetOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paused := f.create(t, "u1", TaskInput{Title: "paused"})
	f.do(t, "u1", paused.ID, model.EventAccept)
	f.do(t, "u1", paused.ID, model.EventStart)
	f.clock.Advance(10 * time.Minute)
	f.do(t, "u1", paused.ID, model.EventPause)

	idle := f.create(t, "u1", TaskInput{Title: "idle"})
	f.do(t, "u1", idle.ID, model.EventAccept)

	running := f.create(t, "u1", TaskInput{Title: "running"})
	f.do(t, "u1", running.ID, model.EventAccept)
	f.do(t, "u1", running.ID, model.EventStart)

	f.clock.Advance(24 * time.Hour)
	res, err := f.svc.PerformDailyReset(ctx, "u1")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !res.Applied || res.ReturnedToInbox != 1 || res.Resumed != 1 {
		t.Fatalf("unexpected reset result %+v", res)
	}

	if got := f.reload(t, "u1", paused.ID); got.Status != model.StatusToday {
		t.Fatalf("paused task should be TODAY, got %s", got.Status)
	}
	got := f.reload(t, "u1", idle.ID)
	if got.Status != model.StatusInbox || got.AcceptedAt != nil {
		t.Fatalf("idle task should be INBOX without acceptedAt, got %s %v", got.Status, got.AcceptedAt)
	}
	if got := f.reload(t, "u1", running.ID); got.Status != model.StatusInProgress {
		t.Fatalf("in-progress task must be untouched, got %s", got.Status)
	}
}

func TestPerformDailyResetIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paused := f.seed(t, "u1", model.StatusPaused)
	f.seed(t, "u1", model.StatusToday)

	f.clock.Advance(24 * time.Hour)
	first, err := f.svc.PerformDailyReset(ctx, "u1")
	if err != nil || !first.Applied {
		t.Fatalf("first reset: %+v %v", first, err)
	}
	snapshot, err := f.store.Tasks.ListToday(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	f.clock.Advance(time.Hour)
	second, err := f.svc.PerformDailyReset(ctx, "u1")
	if err != nil {
		t.Fatalf("second reset: %v", err)
	}
	if second.Applied {
		t.Fatalf("second reset on the same day must be a no-op, got %+v", second)
	}
	after, err := f.store.Tasks.ListToday(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(after) != len(snapshot) || len(after) != 1 || after[0].ID != paused.ID {
		t.Fatalf("state changed by second reset: before %d after %d", len(snapshot), len(after))
	}
}

func TestNeedsResetUsesLocalCalendarDay(t *testing.T) {
	f := newFixture(t)
	r := f.svc.resets
	last := time.Date(2026, 3, 10, 23, 30, 0, 0, testZone)

	if r.NeedsReset(&last, last.Add(20*time.Minute)) {
		t.Fatal("same local day must not need a reset")
	}
	if !r.NeedsReset(&last, last.Add(40*time.Minute)) {
		t.Fatal("crossing local midnight must need a reset")
	}
	if !r.NeedsReset(nil, last) {
		t.Fatal("missing last reset must need a reset")
	}
}

func TestOtherUsersTasksAreNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, "owner", TaskInput{Title: "private", Subtasks: []string{"a"}})

	for _, ev := range model.Events {
		if _, err := f.svc.Transition(ctx, "intruder", task.ID, ev); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("%s: expected not found, got %v", ev, err)
		}
	}
	title := "hijacked"
	if _, err := f.svc.UpdateTask(ctx, "intruder", task.ID, TaskPatch{Title: &title}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("update: expected not found, got %v", err)
	}
	if _, err := f.svc.ToggleSubtask(ctx, "intruder", task.ID, task.Subtasks[0].ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("toggle: expected not found, got %v", err)
	}
}

func TestUpdateTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deadline := time.Date(2026, 3, 12, 18, 0, 0, 0, testZone)
	task := f.create(t, "u1", TaskInput{Title: "draft", Deadline: &deadline})
	f.do(t, "u1", task.ID, model.EventAccept)

	title, prio := " final ", 5
	updated, err := f.svc.UpdateTask(ctx, "u1", task.ID, TaskPatch{Title: &title, Priority: &prio, ClearDeadline: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "final" || updated.Priority != 5 || updated.Deadline != nil {
		t.Fatalf("unexpected update result %+v", updated)
	}
	if updated.Status != model.StatusToday {
		t.Fatalf("update must not touch status, got %s", updated.Status)
	}

	bad := 0
	if _, err := f.svc.UpdateTask(ctx, "u1", task.ID, TaskPatch{Spiciness: &bad}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTaskPatchJSON(t *testing.T) {
	cases := []struct {
		name         string
		body         string
		wantDeadline bool
		wantClear    bool
	}{
		{"absent deadline", `{"title":"x"}`, false, false},
		{"null deadline", `{"deadline":null}`, false, true},
		{"set deadline", `{"deadline":"2026-03-12T18:00:00Z"}`, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var patch TaskPatch
			if err := sonic.Unmarshal([]byte(tc.body), &patch); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if (patch.Deadline != nil) != tc.wantDeadline || patch.ClearDeadline != tc.wantClear {
				t.Fatalf("unexpected patch %+v", patch)
			}
		})
	}

	var patch TaskPatch
	if err := sonic.Unmarshal([]byte(`{"color":"red"}`), &patch); err == nil {
		t.Fatal("unknown field must be rejected")
	}

	raw, err := sonic.Marshal(TaskPatch{ClearDeadline: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back TaskPatch
	if err := sonic.Unmarshal(raw, &back); err != nil || !back.ClearDeadline {
		t.Fatalf("clear lost on the wire: %s %v", raw, err)
	}
}

func TestResetAllUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, u := range []string{"a", "b", "c"} {
		f.seed(t, u, model.StatusToday)
	}

	report, err := f.svc.ResetAllUsers(ctx)
	if err != nil {
		t.Fatalf("fleet reset: %v", err)
	}
	if report.Checked != 3 || report.Reset != 0 {
		t.Fatalf("users reset on creation day must be skipped, got %+v", report)
	}

	f.clock.Advance(24 * time.Hour)
	if _, err := f.svc.PerformDailyReset(ctx, "b"); err != nil {
		t.Fatalf("reset b: %v", err)
	}
	report, err = f.svc.ResetAllUsers(ctx)
	if err != nil {
		t.Fatalf("fleet reset: %v", err)
	}
	if report.Checked != 3 || report.Reset != 2 || report.Failed != 0 || report.Err != nil {
		t.Fatalf("unexpected report %+v", report)
	}

	again, err := f.svc.ResetAllUsers(ctx)
	if err != nil {
		t.Fatalf("fleet reset again: %v", err)
	}
	if again.Reset != 0 {
		t.Fatalf("second fleet reset the same day must not reset anyone, got %+v", again)
	}
}

func TestEndSession(t *testing.T) {
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	s := &model.TimeSession{StartedAt: start}
	d, err := EndSession(s, start.Add(59999*time.Millisecond))
	if err != nil || d != 59 || s.EndedAt == nil || *s.Duration != 59 {
		t.Fatalf("expected floor to 59s, got %d %v", d, err)
	}
	if _, err := EndSession(s, start.Add(time.Hour)); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("ended session must not end twice, got %v", err)
	}
	if _, err := EndSession(nil, start); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found for nil session, got %v", err)
	}

	skewed := &model.TimeSession{StartedAt: start}
	if d, _ := EndSession(skewed, start.Add(-time.Minute)); d != 0 {
		t.Fatalf("clock skew must count as zero, got %d", d)
	}

	task := &model.Task{TotalTimeSpent: 10}
	Accumulate(task, -5)
	Accumulate(task, 5)
	if task.TotalTimeSpent != 15 {
		t.Fatalf("expected 15, got %d", task.TotalTimeSpent)
	}
}
