package model

// Status is the lifecycle state of a task. A task holds exactly one status.
type Status string

const (
	StatusInbox      Status = "INBOX"
	StatusToday      Status = "TODAY"
	StatusInProgress Status = "IN_PROGRESS"
	StatusPaused     Status = "PAUSED"
	StatusCompleted  Status = "COMPLETED"
	StatusTrash      Status = "TRASH"
)

// Statuses lists every status in declaration order.
var Statuses = []Status{
	StatusInbox,
	StatusToday,
	StatusInProgress,
	StatusPaused,
	StatusCompleted,
	StatusTrash,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInbox, StatusToday, StatusInProgress, StatusPaused, StatusCompleted, StatusTrash:
		return true
	default:
		return false
	}
}

// TodayRank orders the today list: in-progress work first, then paused, then untouched.
func (s Status) TodayRank() int {
	switch s {
	case StatusInProgress:
		return 0
	case StatusPaused:
		return 1
	case StatusToday:
		return 2
	default:
		return 3
	}
}

// Event is a user action that moves a task through its lifecycle.
type Event string

const (
	EventAccept   Event = "accept"
	EventReject   Event = "reject"
	EventPostpone Event = "postpone"
	EventStart    Event = "start"
	EventPause    Event = "pause"
	EventComplete Event = "complete"
	EventRestore  Event = "restore"
	EventDelete   Event = "delete"
)

// Events lists every lifecycle event.
var Events = []Event{
	EventAccept,
	EventReject,
	EventPostpone,
	EventStart,
	EventPause,
	EventComplete,
	EventRestore,
	EventDelete,
}

// ParseEvent maps a raw event name onto a known Event.
func ParseEvent(raw string) (Event, bool) {
	for _, ev := range Events {
		if string(ev) == raw {
			return ev, true
		}
	}
	return "", false
}

type transition struct {
	from  Status
	event Event
}

// transitions is the complete lifecycle table. Any pair not listed here is rejected.
// Delete maps to the empty status: the record is removed rather than moved.
var transitions = map[transition]Status{
	{StatusInbox, EventAccept}:        StatusToday,
	{StatusInbox, EventReject}:        StatusTrash,
	{StatusInbox, EventPostpone}:      StatusInbox,
	{StatusToday, EventStart}:         StatusInProgress,
	{StatusPaused, EventStart}:        StatusInProgress,
	{StatusInProgress, EventPause}:    StatusPaused,
	{StatusInProgress, EventComplete}: StatusCompleted,
	{StatusPaused, EventComplete}:     StatusCompleted,
	{StatusTrash, EventRestore}:       StatusInbox,
	{StatusCompleted, EventRestore}:   StatusInbox,
	{StatusTrash, EventDelete}:        "",
}

// Next returns the status a task moves to when ev is applied in state from.
func Next(from Status, ev Event) (Status, error) {
	to, ok := transitions[transition{from: from, event: ev}]
	if !ok {
		return from, &InvalidTransitionError{From: from, Event: ev}
	}
	return to, nil
}

// Allowed returns the events accepted in state from, in Events order.
func Allowed(from Status) []Event {
	var out []Event
	for _, ev := range Events {
		if _, ok := transitions[transition{from: from, event: ev}]; ok {
			out = append(out, ev)
		}
	}
	return out
}
