package client

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"daily-triage/internal/model"
	"daily-triage/internal/service"
)

// View names a list screen with its own loading state.
type View string

const (
	ViewInbox   View = "inbox"
	ViewToday   View = "today"
	ViewArchive View = "archive"
	ViewTrash   View = "trash"
)

const archivePageSize = 20

// ViewState is the loading cell of one view.
type ViewState struct {
	Loading bool
	Err     error
}

type viewCell struct {
	gen uint64
	ViewState
}

// Store is the client-side mirror of the user's tasks. Mutations are applied
// to the local copy first and rolled back when the remote call fails.
// Two overlapping mutations of the same task may lose a rollback.
type Store struct {
	remote Remote
	clock  service.Clock
	cal    service.Calendar
	log    logrus.FieldLogger

	mu       sync.Mutex
	tasks    map[string]*model.Task
	selected string
	views    map[View]*viewCell

	archiveCursor  string
	archiveHasNext bool
}

func NewStore(remote Remote, clock service.Clock, cal service.Calendar, log logrus.FieldLogger) *Store {
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &Store{
		remote: remote,
		clock:  clock,
		cal:    cal,
		log:    log.WithField("component", "client-store"),
		tasks:  make(map[string]*model.Task),
		views:  make(map[View]*viewCell),
	}
}

func (s *Store) LoadInbox(ctx context.Context) error {
	return s.load(ctx, ViewInbox, s.remote.Inbox, func(t *model.Task) bool {
		return t.Status == model.StatusInbox
	})
}

func (s *Store) LoadToday(ctx context.Context) error {
	return s.load(ctx, ViewToday, s.remote.Today, func(t *model.Task) bool {
		return t.Status.TodayRank() < 3
	})
}

func (s *Store) LoadTrash(ctx context.Context) error {
	return s.load(ctx, ViewTrash, s.remote.Trash, func(t *model.Task) bool {
		return t.Status == model.StatusTrash
	})
}

// LoadArchive fetches the next archive page, or the first one when reset is
// true. It reports whether more pages remain.
func (s *Store) LoadArchive(ctx context.Context, reset bool) (bool, error) {
	s.mu.Lock()
	cursor := s.archiveCursor
	if reset {
		cursor = ""
	}
	s.mu.Unlock()

	var hasNext bool
	err := s.load(ctx, ViewArchive, func(ctx context.Context) ([]model.Task, error) {
		page, err := s.remote.Archive(ctx, archivePageSize, cursor)
		if err != nil {
			return nil, err
		}
		hasNext = page.HasNext
		s.mu.Lock()
		s.archiveCursor = page.NextCursor
		s.archiveHasNext = page.HasNext
		s.mu.Unlock()
		return page.Tasks, nil
	}, nil)
	return hasNext, err
}

// load runs fetch for view. A newer load of the same view supersedes this
// one: its result is then dropped. When member is set, cached tasks that
// belong to the view but are missing from the result are evicted.
func (s *Store) load(ctx context.Context, view View, fetch func(context.Context) ([]model.Task, error), member func(*model.Task) bool) error {
	s.mu.Lock()
	cell := s.cell(view)
	cell.gen++
	gen := cell.gen
	cell.Loading = true
	cell.Err = nil
	s.mu.Unlock()

	tasks, err := fetch(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cell.gen != gen {
		return err
	}
	cell.Loading = false
	cell.Err = err
	if err != nil {
		s.log.WithError(err).WithField("view", view).Debug("load failed")
		return err
	}

	seen := make(map[string]bool, len(tasks))
	for i := range tasks {
		s.tasks[tasks[i].ID] = tasks[i].Clone()
		seen[tasks[i].ID] = true
	}
	if member != nil {
		for id, t := range s.tasks {
			if !seen[id] && member(t) {
				delete(s.tasks, id)
			}
		}
	}
	return nil
}

func (s *Store) cell(view View) *viewCell {
	c, ok := s.views[view]
	if !ok {
		c = &viewCell{}
		s.views[view] = c
	}
	return c
}

func (s *Store) ViewState(view View) ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.views[view]; ok {
		return c.ViewState
	}
	return ViewState{}
}

// InboxTasks lists cached inbox tasks visible at now.
func (s *Store) InboxTasks(now time.Time) []model.Task {
	return s.selectTasks(func(t *model.Task) bool {
		return t.Status == model.StatusInbox && !t.Postponed(now)
	}, model.InboxLess)
}

func (s *Store) TodayTasks() []model.Task {
	return s.selectTasks(func(t *model.Task) bool {
		return t.Status.TodayRank() < 3
	}, model.TodayLess)
}

func (s *Store) ArchiveTasks() []model.Task {
	return s.selectTasks(func(t *model.Task) bool {
		return t.Status == model.StatusCompleted
	}, model.ArchiveLess)
}

func (s *Store) TrashTasks() []model.Task {
	return s.selectTasks(func(t *model.Task) bool {
		return t.Status == model.StatusTrash
	}, model.TrashLess)
}

// ArchiveHasNext reports whether the last archive load left pages unread.
func (s *Store) ArchiveHasNext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archiveHasNext
}

// Task returns a copy of the cached task.
func (s *Store) Task(id string) (*model.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

func (s *Store) Select(id string) {
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
}

// Selected returns the selected task, or nil when nothing is selected or
// the selection is no longer cached.
func (s *Store) Selected() *model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[s.selected]; ok {
		return t.Clone()
	}
	return nil
}

func (s *Store) selectTasks(keep func(*model.Task) bool, less func(a, b *model.Task) bool) []model.Task {
	s.mu.Lock()
	picked := make([]*model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if keep(t) {
			picked = append(picked, t.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(picked, func(i, j int) bool { return less(picked[i], picked[j]) })
	out := make([]model.Task, len(picked))
	for i, t := range picked {
		out[i] = *t
	}
	return out
}

// optimistic is the one mutation path. apply edits the cached task in place
// and returns false to drop it from the cache. call performs the remote
// request; on failure the pre-apply snapshot is restored and the error
// returned, on success settle merges the server's answer. A task that is
// not cached makes the whole action a no-op.
func optimistic[T any](ctx context.Context, s *Store, id string, apply func(*model.Task) bool, call func(context.Context) (T, error), settle func(T)) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	snapshot := task.Clone()
	if !apply(task) {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	res, err := call(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.tasks[id] = snapshot
		s.log.WithError(err).WithField("task", id).Debug("rolled back")
		return err
	}
	if settle != nil {
		settle(res)
	}
	return nil
}

func (s *Store) Accept(ctx context.Context, id string) error {
	return s.Transition(ctx, id, model.EventAccept)
}

func (s *Store) Reject(ctx context.Context, id string) error {
	return s.Transition(ctx, id, model.EventReject)
}

func (s *Store) Postpone(ctx context.Context, id string) error {
	return s.Transition(ctx, id, model.EventPostpone)
}

func (s *Store) Start(ctx context.Context, id string) error {
	return s.Transition(ctx, id, model.EventStart)
}

func (s *Store) Pause(ctx context.Context, id string) error {
	return s.Transition(ctx, id, model.EventPause)
}

func (s *Store) Complete(ctx context.Context, id string) error {
	return s.Transition(ctx, id, model.EventComplete)
}

func (s *Store) Restore(ctx context.Context, id string) error {
	return s.Transition(ctx, id, model.EventRestore)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.Transition(ctx, id, model.EventDelete)
}

// Transition applies ev locally and sends it to the server. An event the
// cached status does not accept is still sent: the server decides.
func (s *Store) Transition(ctx context.Context, id string, ev model.Event) error {
	now := s.clock.Now()
	return optimistic(ctx, s, id,
		func(t *model.Task) bool { return s.applyEvent(t, ev, now) },
		func(ctx context.Context) (*model.Task, error) { return s.remote.Transition(ctx, id, ev) },
		func(t *model.Task) {
			if t != nil {
				s.tasks[t.ID] = t.Clone()
			}
		},
	)
}

// applyEvent mirrors the server's transition side effects closely enough
// for display. It returns false when the task is gone.
func (s *Store) applyEvent(t *model.Task, ev model.Event, now time.Time) bool {
	to, err := model.Next(t.Status, ev)
	if err != nil {
		return true
	}
	switch ev {
	case model.EventAccept:
		t.AcceptedAt = &now
	case model.EventReject:
		t.TrashedAt = &now
	case model.EventPostpone:
		until := s.cal.NextMidnight(now)
		t.PostponedUntil = &until
	case model.EventStart:
		t.LastStartedAt = &now
	case model.EventPause:
		t.LastStartedAt = nil
	case model.EventComplete:
		t.CompletedAt = &now
	case model.EventRestore:
		t.TrashedAt = nil
		t.CompletedAt = nil
		t.LastStartedAt = nil
		t.TotalTimeSpent = 0
		t.TimeSessions = nil
	case model.EventDelete:
		return false
	}
	t.Status = to
	return true
}

// Update patches the cached task and sends the patch.
func (s *Store) Update(ctx context.Context, id string, patch service.TaskPatch) error {
	return optimistic(ctx, s, id,
		func(t *model.Task) bool {
			if patch.Title != nil {
				t.Title = strings.TrimSpace(*patch.Title)
			}
			if patch.Description != nil {
				t.Description = *patch.Description
			}
			if patch.Priority != nil {
				t.Priority = *patch.Priority
			}
			if patch.Spiciness != nil {
				t.Spiciness = *patch.Spiciness
			}
			if patch.ClearDeadline {
				t.Deadline = nil
			} else if patch.Deadline != nil {
				d := *patch.Deadline
				t.Deadline = &d
			}
			return true
		},
		func(ctx context.Context) (*model.Task, error) { return s.remote.Update(ctx, id, patch) },
		func(t *model.Task) { s.tasks[t.ID] = t.Clone() },
	)
}

// ToggleSubtask flips a cached subtask. Unknown subtasks are a no-op.
func (s *Store) ToggleSubtask(ctx context.Context, taskID, subtaskID string) error {
	s.mu.Lock()
	known := false
	if t, ok := s.tasks[taskID]; ok {
		for _, sub := range t.Subtasks {
			if sub.ID == subtaskID {
				known = true
				break
			}
		}
	}
	s.mu.Unlock()
	if !known {
		return nil
	}

	return optimistic(ctx, s, taskID,
		func(t *model.Task) bool {
			for i := range t.Subtasks {
				if t.Subtasks[i].ID == subtaskID {
					t.Subtasks[i].Completed = !t.Subtasks[i].Completed
				}
			}
			return true
		},
		func(ctx context.Context) (*model.Subtask, error) {
			return s.remote.ToggleSubtask(ctx, taskID, subtaskID)
		},
		func(sub *model.Subtask) {
			t, ok := s.tasks[taskID]
			if !ok {
				return
			}
			for i := range t.Subtasks {
				if t.Subtasks[i].ID == sub.ID {
					t.Subtasks[i] = *sub
				}
			}
		},
	)
}

// Create has no id to key an optimistic entry on, so the task is cached
// once the server has accepted it.
func (s *Store) Create(ctx context.Context, input service.TaskInput) (*model.Task, error) {
	task, err := s.remote.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.tasks[task.ID] = task.Clone()
	s.mu.Unlock()
	return task, nil
}

// PerformDailyReset asks the server to reset and, when it did, reloads the
// lists the reset touched.
func (s *Store) PerformDailyReset(ctx context.Context) (service.ResetResult, error) {
	res, err := s.remote.PerformDailyReset(ctx)
	if err != nil || !res.Applied {
		return res, err
	}
	if err := s.LoadToday(ctx); err != nil {
		return res, err
	}
	return res, s.LoadInbox(ctx)
}
