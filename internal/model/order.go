package model

import "time"

// InboxLess orders inbox tasks: priority descending, deadline ascending with
// missing deadlines last, then creation time ascending.
func InboxLess(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if c := compareNullableAsc(a.Deadline, b.Deadline); c != 0 {
		return c < 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// TodayLess orders the today list by status rank, priority descending, then acceptance time.
func TodayLess(a, b *Task) bool {
	if ra, rb := a.Status.TodayRank(), b.Status.TodayRank(); ra != rb {
		return ra < rb
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if c := compareNullableAsc(a.AcceptedAt, b.AcceptedAt); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

// ArchiveLess orders completed tasks newest first.
func ArchiveLess(a, b *Task) bool {
	if c := compareNullableAsc(a.CompletedAt, b.CompletedAt); c != 0 {
		return c > 0
	}
	return a.ID > b.ID
}

// TrashLess orders trashed tasks newest first.
func TrashLess(a, b *Task) bool {
	if c := compareNullableAsc(a.TrashedAt, b.TrashedAt); c != 0 {
		return c > 0
	}
	return a.ID > b.ID
}

// compareNullableAsc compares two optional timestamps with nil sorting last.
func compareNullableAsc(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	default:
		return 0
	}
}
