package bot

import (
	"fmt"
	"html"
	"strings"
	"time"

	"daily-triage/internal/model"
)

func escape(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func formatTask(task model.Task, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s <b>%s</b> <code>%s</code>", statusIcon(task.Status), escape(task.Title), shortID(task.ID)))
	sb.WriteString(fmt.Sprintf(" <i>p%d 🌶%d</i>", task.Priority, task.Spiciness))

	if task.TotalTimeSpent > 0 {
		sb.WriteString(fmt.Sprintf("\n   ⏱ %s", model.FormatDuration(task.TotalTimeSpent)))
	}
	if n := len(task.Subtasks); n > 0 {
		sb.WriteString(fmt.Sprintf("\n   ☑️ %d/%d", task.CompletedSubtasks(), n))
	}
	if task.Deadline != nil {
		d := task.Deadline.In(now.Location()).Format("2006-01-02")
		if task.IsOverdue(now) {
			sb.WriteString(fmt.Sprintf("\n   ⚠️ overdue since %s", d))
		} else {
			sb.WriteString(fmt.Sprintf("\n   ⏳ due %s", d))
		}
	}
	sb.WriteByte('\n')
	return sb.String()
}

func statusIcon(status model.Status) string {
	switch status {
	case model.StatusToday:
		return "🔥"
	case model.StatusInProgress:
		return "▶️"
	case model.StatusPaused:
		return "⏸"
	case model.StatusCompleted:
		return "✅"
	case model.StatusTrash:
		return "🗑"
	default:
		return "📥"
	}
}

func statusName(status model.Status) string {
	return strings.ToLower(strings.ReplaceAll(string(status), "_", " "))
}

func eventLabel(ev model.Event) string {
	switch ev {
	case model.EventAccept:
		return "🔥 Today"
	case model.EventReject:
		return "🗑 Reject"
	case model.EventPostpone:
		return "💤 Tomorrow"
	case model.EventStart:
		return "▶️ Start"
	case model.EventPause:
		return "⏸ Pause"
	case model.EventComplete:
		return "✅ Done"
	case model.EventRestore:
		return "↩️ Restore"
	case model.EventDelete:
		return "❌ Delete"
	default:
		return string(ev)
	}
}

func eventDone(ev model.Event) string {
	switch ev {
	case model.EventAccept:
		return "🔥 On today's list."
	case model.EventReject:
		return "🗑 Moved to trash."
	case model.EventPostpone:
		return "💤 Hidden until tomorrow."
	case model.EventStart:
		return "▶️ Timer running."
	case model.EventPause:
		return "⏸ Paused."
	case model.EventComplete:
		return "✅ Done!"
	case model.EventRestore:
		return "↩️ Back in the inbox."
	default:
		return "OK."
	}
}

// commandFor returns the slash command that sends ev.
func commandFor(ev model.Event) string {
	switch ev {
	case model.EventStart:
		return "start_task"
	case model.EventComplete:
		return "done"
	default:
		return string(ev)
	}
}
