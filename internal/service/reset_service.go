package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"daily-triage/internal/repository"
)

const defaultResetConcurrency = 8

// ResetResult describes what one user's daily reset changed.
type ResetResult struct {
	Applied         bool  `json:"applied"`
	ReturnedToInbox int64 `json:"returnedToInbox"`
	Resumed         int64 `json:"resumed"`
	Unpostponed     int64 `json:"unpostponed"`
}

// FleetReport summarizes a reset across all users. Err aggregates the
// per-user failures; one failing user never stops the others.
type FleetReport struct {
	Checked    int      `json:"checked"`
	Reset      int      `json:"reset"`
	Failed     int      `json:"failed"`
	ResetUsers []string `json:"-"`
	Err        error    `json:"-"`
}

// ResetService returns stale "today" plans to the inbox once per local day.
type ResetService struct {
	store       *repository.Store
	clock       Clock
	cal         Calendar
	log         logrus.FieldLogger
	concurrency int
}

func NewResetService(store *repository.Store, clock Clock, cal Calendar, log logrus.FieldLogger, concurrency int) *ResetService {
	if concurrency <= 0 {
		concurrency = defaultResetConcurrency
	}
	return &ResetService{store: store, clock: clock, cal: cal, log: log, concurrency: concurrency}
}

// NeedsReset is true when now falls on a different local day than the last reset.
func (s *ResetService) NeedsReset(last *time.Time, now time.Time) bool {
	return last == nil || !s.cal.SameDay(*last, now)
}

// EnsureCurrent applies the reset if the user has not been reset today.
func (s *ResetService) EnsureCurrent(ctx context.Context, userID string) (ResetResult, error) {
	now := s.clock.Now()
	var res ResetResult
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		res, err = s.resetIfDue(ctx, tx, userID, now)
		return err
	})
	if err != nil {
		return ResetResult{}, err
	}
	if res.Applied {
		s.log.WithFields(logrus.Fields{
			"user":     userID,
			"to_inbox": res.ReturnedToInbox,
			"resumed":  res.Resumed,
		}).Info("daily reset applied")
	}
	return res, nil
}

// resetIfDue re-reads lastResetDate inside tx, so two racing callers
// apply the reset at most once per day.
func (s *ResetService) resetIfDue(ctx context.Context, tx *repository.Store, userID string, now time.Time) (ResetResult, error) {
	user, err := tx.Users.Ensure(ctx, userID, now)
	if err != nil {
		return ResetResult{}, err
	}
	if !s.NeedsReset(user.LastResetDate, now) {
		return ResetResult{}, nil
	}
	return applyReset(ctx, tx, userID, now)
}

// applyReset moves TODAY to INBOX before PAUSED to TODAY, so a paused task
// lands on today's list instead of being swept into the inbox.
func applyReset(ctx context.Context, tx *repository.Store, userID string, now time.Time) (ResetResult, error) {
	res := ResetResult{Applied: true}
	var err error
	if res.ReturnedToInbox, err = tx.Tasks.ReturnTodayToInbox(ctx, userID, now); err != nil {
		return ResetResult{}, err
	}
	if res.Resumed, err = tx.Tasks.ResumePaused(ctx, userID, now); err != nil {
		return ResetResult{}, err
	}
	if res.Unpostponed, err = tx.Tasks.ClearExpiredPostpones(ctx, userID, now); err != nil {
		return ResetResult{}, err
	}
	if err := tx.Users.SetLastResetDate(ctx, userID, now); err != nil {
		return ResetResult{}, err
	}
	return res, nil
}

// ResetAllUsers resets every user concurrently. It is safe to call many
// times a day: each user is gated individually.
func (s *ResetService) ResetAllUsers(ctx context.Context) (FleetReport, error) {
	users, err := s.store.Users.ListAll(ctx)
	if err != nil {
		return FleetReport{}, fmt.Errorf("reset all users: %w", err)
	}

	var (
		mu     sync.Mutex
		report = FleetReport{Checked: len(users)}
		g      errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, u := range users {
		userID := u.ID
		g.Go(func() error {
			res, err := s.EnsureCurrent(ctx, userID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Err = multierr.Append(report.Err, fmt.Errorf("user %s: %w", userID, err))
				s.log.WithError(err).WithField("user", userID).Error("daily reset failed")
				return nil
			}
			if res.Applied {
				report.Reset++
				report.ResetUsers = append(report.ResetUsers, userID)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.log.WithFields(logrus.Fields{
		"checked": report.Checked,
		"reset":   report.Reset,
		"failed":  report.Failed,
	}).Info("fleet reset finished")
	return report, nil
}
