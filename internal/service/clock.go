package service

import (
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a manually driven clock for tests and replays.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FixedClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Calendar answers calendar-day questions in one location.
type Calendar struct {
	Loc *time.Location
}

func (c Calendar) loc() *time.Location {
	if c.Loc == nil {
		return time.Local
	}
	return c.Loc
}

// SameDay reports whether a and b fall on the same local date.
func (c Calendar) SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(c.loc()).Date()
	by, bm, bd := b.In(c.loc()).Date()
	return ay == by && am == bm && ad == bd
}

// NextMidnight returns local midnight of the day after t.
func (c Calendar) NextMidnight(t time.Time) time.Time {
	y, m, d := t.In(c.loc()).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, c.loc())
}

// DayKey formats the local date of t as yyyy-mm-dd.
func (c Calendar) DayKey(t time.Time) string {
	return t.In(c.loc()).Format("2006-01-02")
}
