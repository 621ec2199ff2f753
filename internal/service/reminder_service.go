package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"daily-triage/internal/model"
)

// ReminderService builds human-readable summaries for daily notifications.
type ReminderService struct {
	planner Planner
	cal     Calendar
}

func NewReminderService(planner Planner, cal Calendar) *ReminderService {
	return &ReminderService{planner: planner, cal: cal}
}

// DailySummary renders the user's today list and inbox size as Telegram HTML.
func (s *ReminderService) DailySummary(ctx context.Context, userID string, now time.Time) (string, error) {
	today, err := s.planner.Today(ctx, userID)
	if err != nil {
		return "", err
	}
	inbox, err := s.planner.Inbox(ctx, userID)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Daily summary</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.In(s.cal.loc()).Format("Mon, 02 Jan 2006")))

	builder.WriteString("🔥 <b>Today</b>\n")
	if len(today) == 0 {
		builder.WriteString("— nothing planned\n")
	} else {
		total := 0
		for _, task := range today {
			builder.WriteString(formatTask(task, now))
			total += task.TotalTimeSpent
		}
		builder.WriteString(fmt.Sprintf("\n⏱ Time on today's list: %s\n", model.FormatDuration(total)))
	}

	builder.WriteString(fmt.Sprintf("\n📥 Inbox: %d waiting\n", len(inbox)))
	return strings.TrimSpace(builder.String()), nil
}

func statusIcon(status model.Status) string {
	switch status {
	case model.StatusInProgress:
		return "▶️"
	case model.StatusPaused:
		return "⏸"
	case model.StatusCompleted:
		return "✅"
	case model.StatusTrash:
		return "🗑"
	default:
		return "🟢"
	}
}

func formatTask(task model.Task, now time.Time) string {
	var sb strings.Builder

	title := html.EscapeString(strings.TrimSpace(task.Title))
	sb.WriteString(fmt.Sprintf("%s %s", statusIcon(task.Status), title))
	sb.WriteString(fmt.Sprintf(" <i>(p%d, 🌶%d)</i>", task.Priority, task.Spiciness))

	if task.TotalTimeSpent > 0 {
		sb.WriteString(fmt.Sprintf("\n   ⏱ %s", model.FormatDuration(task.TotalTimeSpent)))
	}
	if n := len(task.Subtasks); n > 0 {
		sb.WriteString(fmt.Sprintf("\n   ☑️ %d/%d subtasks", task.CompletedSubtasks(), n))
	}
	if task.Deadline != nil {
		d := task.Deadline.In(now.Location())
		if task.IsOverdue(now) {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s · <b>overdue</b>", d.Format("2006-01-02")))
		} else {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s", d.Format("2006-01-02")))
		}
	}

	sb.WriteByte('\n')
	return sb.String()
}
