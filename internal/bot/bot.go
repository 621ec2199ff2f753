package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"daily-triage/internal/model"
	"daily-triage/internal/repository"
	"daily-triage/internal/service"
)

const (
	cbEventPrefix   = "ev:"
	cbConfirmDelete = "del:"
	cbCancel        = "cancel"
	shortIDLen      = 8
)

const (
	menuLabelInbox = "📥 Inbox"
	menuLabelToday = "🔥 Today"
	menuLabelNew   = "➕ New task"
	menuLabelHelp  = "ℹ️ Help"
)

// Sender is the part of the Telegram API the bot writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// UserDirectory maps Telegram accounts onto planner users.
type UserDirectory interface {
	UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string, now time.Time) (*model.User, error)
	ListTelegram(ctx context.Context) ([]model.User, error)
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api       *tgbotapi.BotAPI
	sender    Sender
	users     UserDirectory
	planner   service.Planner
	reminders *service.ReminderService
	clock     service.Clock
	log       logrus.FieldLogger

	mu           sync.Mutex
	awaitingName map[int64]bool
}

func New(token string, users UserDirectory, planner service.Planner, reminders *service.ReminderService, clock service.Clock, log logrus.FieldLogger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.WithField("account", api.Self.UserName).Info("bot authorized")

	b := NewWithSender(api, users, planner, reminders, clock, log)
	b.api = api
	return b, nil
}

// NewWithSender builds a bot that only sends; Start needs a real API.
func NewWithSender(sender Sender, users UserDirectory, planner service.Planner, reminders *service.ReminderService, clock service.Clock, log logrus.FieldLogger) *Bot {
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &Bot{
		sender:       sender,
		users:        users,
		planner:      planner,
		reminders:    reminders,
		clock:        clock,
		log:          log.WithField("component", "bot"),
		awaitingName: make(map[int64]bool),
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.api == nil {
		return errors.New("bot has no telegram api")
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.HandleUpdate(ctx, update)
	}

	return nil
}

// HandleUpdate processes one update. Failures are logged, never returned.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
			b.log.WithError(err).Warn("handle callback")
		}
	case update.Message != nil:
		if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			return
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			b.log.WithError(err).Warn("handle message")
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if msg.IsCommand() {
		b.setAwaitingName(msg.From.ID, false)
		b.log.WithFields(logrus.Fields{"from": msg.From.ID, "command": msg.Command()}).Debug("command")
		return b.handleCommand(ctx, msg)
	}

	if handled, err := b.handleMenuAlias(ctx, msg); handled {
		return err
	}

	if b.isAwaitingName(msg.From.ID) {
		b.setAwaitingName(msg.From.ID, false)
		return b.createTask(ctx, msg, msg.Text)
	}

	return b.sendText(msg.Chat.ID, "I didn't get that. Send /new to add a task or /help for the command list.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		return b.handleHelp(ctx, msg)
	case "inbox":
		return b.sendInbox(ctx, msg.Chat.ID, msg.From)
	case "today":
		return b.sendToday(ctx, msg.Chat.ID, msg.From)
	case "trash":
		return b.sendTrash(ctx, msg.Chat.ID, msg.From)
	case "archive":
		return b.sendArchive(ctx, msg.Chat.ID, msg.From)
	case "new":
		if args == "" {
			b.setAwaitingName(msg.From.ID, true)
			return b.sendText(msg.Chat.ID, "🆕 What should the task be called? (/cancel to stop)")
		}
		return b.createTask(ctx, msg, args)
	case "accept":
		return b.handleEvent(ctx, msg, model.EventAccept, args)
	case "reject":
		return b.handleEvent(ctx, msg, model.EventReject, args)
	case "postpone":
		return b.handleEvent(ctx, msg, model.EventPostpone, args)
	case "start_task":
		return b.handleEvent(ctx, msg, model.EventStart, args)
	case "pause":
		return b.handleEvent(ctx, msg, model.EventPause, args)
	case "done":
		return b.handleEvent(ctx, msg, model.EventComplete, args)
	case "restore":
		return b.handleEvent(ctx, msg, model.EventRestore, args)
	case "delete":
		return b.handleEvent(ctx, msg, model.EventDelete, args)
	case "reset":
		return b.handleReset(ctx, msg)
	case "report":
		return b.handleReport(ctx, msg)
	case "cancel":
		return b.sendText(msg.Chat.ID, "⏪ Cancelled.")
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	switch strings.TrimSpace(msg.Text) {
	case menuLabelInbox:
		return true, b.sendInbox(ctx, msg.Chat.ID, msg.From)
	case menuLabelToday:
		return true, b.sendToday(ctx, msg.Chat.ID, msg.From)
	case menuLabelNew:
		b.setAwaitingName(msg.From.ID, true)
		return true, b.sendText(msg.Chat.ID, "🆕 What should the task be called? (/cancel to stop)")
	case menuLabelHelp:
		return true, b.handleHelp(ctx, msg)
	default:
		return false, nil
	}
}

func (b *Bot) handleHelp(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	text := "ℹ️ <b>Daily triage</b>\n" +
		"New tasks land in the inbox. Accept what you will do today, reject or postpone the rest.\n\n" +
		"• /new &lt;title&gt; [p1-p5] [s1-s5] — add a task\n" +
		"• /inbox · /today · /archive · /trash — lists\n" +
		"• /accept · /reject · /postpone &lt;id&gt; — triage the inbox\n" +
		"• /start_task · /pause · /done &lt;id&gt; — work on today's tasks\n" +
		"• /restore · /delete &lt;id&gt; — bring back or purge\n" +
		"• /reset — run today's reset now\n" +
		"• /report — today's summary\n" +
		"Ids may be shortened to their first characters."
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) createTask(ctx context.Context, msg *tgbotapi.Message, raw string) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	input := parseTaskInput(raw)
	task, err := b.planner.CreateTask(ctx, user.ID, input)
	if err != nil {
		return b.sendError(msg.Chat.ID, err)
	}
	b.log.WithFields(logrus.Fields{"user": user.ID, "task": task.ID}).Info("task created")
	return b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Added to inbox:\n%s", formatTask(*task, b.clock.Now())))
}

// parseTaskInput reads "<title> [pN] [sN]": trailing pN/sN tokens set
// priority and spiciness.
func parseTaskInput(raw string) service.TaskInput {
	fields := strings.Fields(raw)
	var input service.TaskInput
	for len(fields) > 1 {
		last := fields[len(fields)-1]
		if len(last) != 2 {
			break
		}
		n, err := strconv.Atoi(last[1:])
		if err != nil || n < 1 || n > 5 {
			break
		}
		if last[0] == 'p' && input.Priority == nil {
			input.Priority = &n
		} else if last[0] == 's' && input.Spiciness == nil {
			input.Spiciness = &n
		} else {
			break
		}
		fields = fields[:len(fields)-1]
	}
	input.Title = strings.Join(fields, " ")
	return input
}

func (b *Bot) handleEvent(ctx context.Context, msg *tgbotapi.Message, ev model.Event, ref string) error {
	if ref == "" {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Give me a task id: /%s &lt;id&gt;", commandFor(ev)))
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	id, err := b.resolveTask(ctx, user.ID, ref)
	if err != nil {
		return b.sendError(msg.Chat.ID, err)
	}
	return b.applyEvent(ctx, msg.Chat.ID, user.ID, id, ev)
}

func (b *Bot) applyEvent(ctx context.Context, chatID int64, userID, taskID string, ev model.Event) error {
	task, err := b.planner.Transition(ctx, userID, taskID, ev)
	if err != nil {
		return b.sendError(chatID, err)
	}
	b.log.WithFields(logrus.Fields{"user": userID, "task": taskID, "event": ev}).Info("transition")
	if task == nil {
		return b.sendText(chatID, "🗑 Deleted for good.")
	}
	return b.sendText(chatID, fmt.Sprintf("%s\n%s", eventDone(ev), formatTask(*task, b.clock.Now())))
}

func (b *Bot) handleReset(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	res, err := b.planner.PerformDailyReset(ctx, user.ID)
	if err != nil {
		return b.sendError(msg.Chat.ID, err)
	}
	if !res.Applied {
		return b.sendText(msg.Chat.ID, "Already reset today. Nothing to do.")
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf(
		"🌅 New day.\n• %d back to inbox\n• %d paused tasks kept for today\n• %d postponed tasks returned",
		res.ReturnedToInbox, res.Resumed, res.Unpostponed))
}

func (b *Bot) handleReport(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	text, err := b.reminders.DailySummary(ctx, user.ID, b.clock.Now())
	if err != nil {
		return b.sendError(msg.Chat.ID, err)
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) sendInbox(ctx context.Context, chatID int64, from *tgbotapi.User) error {
	return b.sendList(ctx, chatID, from, "📥 <b>Inbox</b>", "Inbox zero. Add something with /new.", b.planner.Inbox)
}

func (b *Bot) sendToday(ctx context.Context, chatID int64, from *tgbotapi.User) error {
	return b.sendList(ctx, chatID, from, "🔥 <b>Today</b>", "Nothing planned. Accept tasks from /inbox.", b.planner.Today)
}

func (b *Bot) sendTrash(ctx context.Context, chatID int64, from *tgbotapi.User) error {
	return b.sendList(ctx, chatID, from, "🗑 <b>Trash</b>", "Trash is empty.", b.planner.Trash)
}

func (b *Bot) sendArchive(ctx context.Context, chatID int64, from *tgbotapi.User) error {
	return b.sendList(ctx, chatID, from, "✅ <b>Archive</b>", "Nothing completed yet.", func(ctx context.Context, userID string) ([]model.Task, error) {
		page, err := b.planner.Archive(ctx, userID, 10, "")
		return page.Tasks, err
	})
}

func (b *Bot) sendList(ctx context.Context, chatID int64, from *tgbotapi.User, title, empty string, load func(context.Context, string) ([]model.Task, error)) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	tasks, err := load(ctx, user.ID)
	if err != nil {
		return b.sendError(chatID, err)
	}
	if len(tasks) == 0 {
		return b.sendText(chatID, empty)
	}

	now := b.clock.Now()
	var builder strings.Builder
	builder.WriteString(title)
	builder.WriteString("\n\n")
	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, task := range tasks {
		builder.WriteString(formatTask(task, now))
		if row := taskButtons(task); len(row) > 0 {
			buttons = append(buttons, row)
		}
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ParseMode = tgbotapi.ModeHTML
	if len(buttons) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	}
	_, err = b.sender.Send(msg)
	return err
}

// taskButtons offers one button per event the task's status accepts.
func taskButtons(task model.Task) []tgbotapi.InlineKeyboardButton {
	var row []tgbotapi.InlineKeyboardButton
	for _, ev := range model.Allowed(task.Status) {
		data := cbEventPrefix + string(ev) + ":" + task.ID
		if ev == model.EventDelete {
			data = cbConfirmDelete + task.ID
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%s %s", eventLabel(ev), shortID(task.ID)), data))
	}
	return row
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	if _, err := b.sender.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.WithError(err).Debug("callback ack")
	}

	chatID := cb.Message.Chat.ID
	data := cb.Data
	switch {
	case strings.HasPrefix(data, cbEventPrefix):
		raw, taskID, ok := strings.Cut(strings.TrimPrefix(data, cbEventPrefix), ":")
		ev, known := model.ParseEvent(raw)
		if !ok || !known || taskID == "" {
			return nil
		}
		user, err := b.ensureUser(ctx, cb.From)
		if err != nil {
			return err
		}
		return b.applyEvent(ctx, chatID, user.ID, taskID, ev)
	case strings.HasPrefix(data, cbConfirmDelete):
		taskID := strings.TrimPrefix(data, cbConfirmDelete)
		user, err := b.ensureUser(ctx, cb.From)
		if err != nil {
			return err
		}
		task, err := b.planner.GetTask(ctx, user.ID, taskID)
		if err != nil {
			return b.sendError(chatID, err)
		}
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Delete «%s» forever? This cannot be undone.", escape(task.Title)))
		msg.ParseMode = tgbotapi.ModeHTML
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", cbEventPrefix+string(model.EventDelete)+":"+task.ID),
			tgbotapi.NewInlineKeyboardButtonData("↩️ Keep", cbCancel),
		))
		_, err = b.sender.Send(msg)
		return err
	default:
		return nil
	}
}

// resolveTask accepts a full id or a unique prefix of one of the user's tasks.
func (b *Bot) resolveTask(ctx context.Context, userID, ref string) (string, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "#")
	if len(ref) == 36 {
		return ref, nil
	}

	var candidates []model.Task
	for _, load := range []func(context.Context, string) ([]model.Task, error){b.planner.Inbox, b.planner.Today, b.planner.Trash} {
		tasks, err := load(ctx, userID)
		if err != nil {
			return "", err
		}
		candidates = append(candidates, tasks...)
	}
	page, err := b.planner.Archive(ctx, userID, repository.MaxArchiveLimit, "")
	if err != nil {
		return "", err
	}
	candidates = append(candidates, page.Tasks...)

	var match string
	for _, t := range candidates {
		if !strings.HasPrefix(t.ID, ref) {
			continue
		}
		if match != "" && match != t.ID {
			return "", &model.ValidationError{Field: "id", Reason: "prefix " + ref + " matches several tasks"}
		}
		match = t.ID
	}
	if match == "" {
		return "", &model.NotFoundError{Entity: "task", ID: ref}
	}
	return match, nil
}

// SendDailyReports sends a summary to every Telegram user. One user's
// failure does not stop the others.
func (b *Bot) SendDailyReports(ctx context.Context) error {
	users, err := b.users.ListTelegram(ctx)
	if err != nil {
		return err
	}
	now := b.clock.Now()
	var errs error
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if user.TelegramID == nil {
			continue
		}
		text, err := b.reminders.DailySummary(ctx, user.ID, now)
		if err != nil {
			b.log.WithError(err).WithField("user", user.ID).Warn("build summary")
			errs = multierr.Append(errs, fmt.Errorf("summary for %s: %w", user.ID, err))
			continue
		}
		if err := b.sendText(*user.TelegramID, text); err != nil {
			b.log.WithError(err).WithField("user", user.ID).Warn("send summary")
			errs = multierr.Append(errs, fmt.Errorf("send to %s: %w", user.ID, err))
		}
	}
	return errs
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.users.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName, b.clock.Now())
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.sender.Send(msg)
	return err
}

// sendError shows domain errors to the user and hides everything else.
func (b *Bot) sendError(chatID int64, err error) error {
	var (
		invalid  *model.InvalidTransitionError
		notFound *model.NotFoundError
	)
	switch {
	case errors.As(err, &invalid):
		return b.sendText(chatID, fmt.Sprintf("⛔ Can't %s a task that is %s.", invalid.Event, statusName(invalid.From)))
	case errors.As(err, &notFound):
		return b.sendText(chatID, "Task not found.")
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrConflict):
		return b.sendText(chatID, "⚠️ "+escape(err.Error()))
	default:
		b.log.WithError(err).Error("request failed")
		return b.sendText(chatID, "Something went wrong. Try again later.")
	}
}

func (b *Bot) setAwaitingName(userID int64, v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v {
		b.awaitingName[userID] = true
	} else {
		delete(b.awaitingName, userID)
	}
}

func (b *Bot) isAwaitingName(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.awaitingName[userID]
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelInbox),
			tgbotapi.NewKeyboardButton(menuLabelToday),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNew),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}
