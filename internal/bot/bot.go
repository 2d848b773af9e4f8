// Package bot is the Telegram front-end: it turns chat commands and button
// presses into queue, schedule and generation requests.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf16"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-retry"

	"github.com/jdholdren/deepstudy/internal/deepstudy"
	dserrs "github.com/jdholdren/deepstudy/internal/errors"
	"github.com/jdholdren/deepstudy/internal/logger"
	"github.com/jdholdren/deepstudy/internal/processor"
	"github.com/jdholdren/deepstudy/internal/telegram"
)

type (
	Telegram interface {
		SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error
		GetUpdates(ctx context.Context, offset int64, timeout int) ([]telegram.Update, error)
		AnswerCallbackQuery(ctx context.Context, id string) error
		SetCommands(ctx context.Context, commands []telegram.BotCommand) error
	}

	Queue interface {
		Enqueue(ctx context.Context, userID int64, topic string) (deepstudy.QueueItem, deepstudy.ArchiveEntry, error)
		List(ctx context.Context, userID int64) ([]deepstudy.QueueItem, error)
		History(ctx context.Context, userID int64, limit int) ([]deepstudy.ArchiveEntry, error)
	}

	Schedules interface {
		Get(ctx context.Context, userID int64) (hour, minute int, err error)
		Set(ctx context.Context, userID int64, hour, minute int) error
	}

	Processor interface {
		ProcessOneTopic(ctx context.Context, userID int64, mode processor.Mode) processor.Outcome
	}
)

// What the next plain text message from a chat means.
type convState int

const (
	stateNone convState = iota
	stateAwaitingTopic
	stateAwaitingTime
)

const (
	cbAddTopic = "add_topic"
	cbGenNow   = "gen_now"
	cbChgTime  = "chg_time"
)

var Commands = []telegram.BotCommand{
	{Command: "start", Description: "Show the main menu"},
	{Command: "add", Description: "Queue a topic to study"},
	{Command: "list", Description: "Show queued topics"},
	{Command: "history", Description: "Show published articles"},
	{Command: "generate", Description: "Generate the next article now"},
	{Command: "time", Description: "Show or change the daily time"},
	{Command: "cancel", Description: "Cancel the current prompt"},
}

func mainKeyboard() *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{{Text: "➕ Add topic", CallbackData: cbAddTopic}},
		{{Text: "✨ Generate now", CallbackData: cbGenNow}},
		{{Text: "🕒 Change time", CallbackData: cbChgTime}},
	}}
}

type Config struct {
	// Shown next to times, e.g. "GMT+3".
	TimezoneLabel string
	// Long poll length in seconds.
	PollTimeout int
	// Chats with a pending prompt that are remembered.
	StateSize int
}

// Bot polls for updates and dispatches them. Generation requests run in the
// background so polling never waits on them.
type Bot struct {
	tg        Telegram
	queue     Queue
	schedules Schedules
	proc      Processor
	cfg       Config

	states *lru.Cache[int64, convState]
	runs   sync.WaitGroup
}

func New(tg Telegram, q Queue, s Schedules, p Processor, cfg Config) (*Bot, error) {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	if cfg.StateSize <= 0 {
		cfg.StateSize = 1024
	}

	states, err := lru.New[int64, convState](cfg.StateSize)
	if err != nil {
		return nil, fmt.Errorf("error creating state cache: %s", err)
	}

	return &Bot{
		tg:        tg,
		queue:     q,
		schedules: s,
		proc:      p,
		cfg:       cfg,
		states:    states,
	}, nil
}

// Run polls until ctx is done. Poll failures back off exponentially.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.tg.SetCommands(ctx, Commands); err != nil {
		slog.ErrorContext(ctx, "error setting bot commands", "error", err)
	}
	slog.InfoContext(ctx, "bot polling")

	var offset int64
	for {
		var updates []telegram.Update
		backoff := retry.WithCappedDuration(time.Minute, retry.NewExponential(time.Second))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			var err error
			updates, err = b.tg.GetUpdates(ctx, offset, b.cfg.PollTimeout)
			if err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "error polling updates", "error", err)
				return retry.RetryableError(err)
			}
			return err
		})
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "bot shutting down")
			return nil
		}
		if err != nil {
			return fmt.Errorf("error polling updates: %w", err)
		}

		for _, u := range updates {
			b.Handle(ctx, u)
			offset = u.UpdateID + 1
		}
	}
}

// Wait blocks until every background generation returned or ctx is done.
func (b *Bot) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle dispatches one update.
func (b *Bot) Handle(ctx context.Context, u telegram.Update) {
	ctx = logger.Ctx(ctx, slog.Int64("update_id", u.UpdateID))

	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.Text != "":
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if err := b.tg.AnswerCallbackQuery(ctx, cb.ID); err != nil {
		slog.ErrorContext(ctx, "error answering callback", "error", err)
	}

	var (
		userID = cb.From.ID
		chatID = userID
	)
	if cb.Message != nil {
		chatID = cb.Message.Chat.ID
	}

	switch cb.Data {
	case cbAddTopic:
		b.askTopic(ctx, userID, chatID)
	case cbGenNow:
		b.generate(ctx, userID, chatID)
	case cbChgTime:
		b.askTime(ctx, userID, chatID)
	default:
		slog.WarnContext(ctx, "unknown callback", "data", cb.Data)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	var (
		chatID = msg.Chat.ID
		userID = chatID
	)
	if msg.From != nil {
		userID = msg.From.ID
	}
	ctx = logger.Ctx(ctx, slog.Int64("user_id", userID))

	text := strings.TrimSpace(msg.Text)
	if cmd, arg, ok := parseCommand(text); ok {
		// Any command abandons a pending prompt.
		b.states.Remove(chatID)
		b.command(ctx, userID, chatID, cmd, arg)
		return
	}

	state, _ := b.states.Get(chatID)
	switch state {
	case stateAwaitingTopic:
		b.addTopic(ctx, userID, chatID, text)
	case stateAwaitingTime:
		b.setTime(ctx, userID, chatID, text)
	default:
		b.reply(ctx, chatID, msgHint, mainKeyboard())
	}
}

func (b *Bot) command(ctx context.Context, userID, chatID int64, cmd, arg string) {
	switch cmd {
	case "start":
		b.reply(ctx, chatID, msgWelcome, mainKeyboard())
	case "add":
		if arg == "" {
			b.askTopic(ctx, userID, chatID)
			return
		}
		b.addTopic(ctx, userID, chatID, arg)
	case "list":
		b.list(ctx, userID, chatID)
	case "history":
		b.history(ctx, userID, chatID)
	case "generate":
		b.generate(ctx, userID, chatID)
	case "time":
		if arg == "" {
			b.askTime(ctx, userID, chatID)
			return
		}
		b.setTime(ctx, userID, chatID, arg)
	case "cancel":
		b.reply(ctx, chatID, msgCancelled, mainKeyboard())
	default:
		b.reply(ctx, chatID, msgUnknownCommand, nil)
	}
}

func (b *Bot) askTopic(ctx context.Context, _, chatID int64) {
	b.states.Add(chatID, stateAwaitingTopic)
	b.reply(ctx, chatID, msgAskTopic, nil)
}

func (b *Bot) addTopic(ctx context.Context, userID, chatID int64, topic string) {
	item, _, err := b.queue.Enqueue(ctx, userID, topic)
	if dserrs.Is(err, dserrs.KindValidation) {
		// Keep the prompt open for another try.
		b.reply(ctx, chatID, fmt.Sprintf(msgInvalidTopic, html.EscapeString(reasonOf(err))), nil)
		return
	}
	b.states.Remove(chatID)
	if err != nil {
		slog.ErrorContext(ctx, "error adding topic", "error", err)
		b.reply(ctx, chatID, msgSomethingWrong, nil)
		return
	}

	slog.InfoContext(ctx, "topic queued", "item_id", item.ID)
	b.reply(ctx, chatID, msgTopicSaved, mainKeyboard())
}

func (b *Bot) askTime(ctx context.Context, userID, chatID int64) {
	hour, minute, err := b.schedules.Get(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "error reading schedule", "error", err)
		b.reply(ctx, chatID, msgSomethingWrong, nil)
		return
	}

	b.states.Add(chatID, stateAwaitingTime)
	b.reply(ctx, chatID, fmt.Sprintf(msgAskTime, hour, minute, b.cfg.TimezoneLabel), nil)
}

func (b *Bot) setTime(ctx context.Context, userID, chatID int64, text string) {
	hour, minute, err := deepstudy.ParseClock(text)
	if err == nil {
		err = b.schedules.Set(ctx, userID, hour, minute)
	}
	if dserrs.Is(err, dserrs.KindValidation) {
		b.states.Add(chatID, stateAwaitingTime)
		b.reply(ctx, chatID, msgInvalidTime, nil)
		return
	}
	b.states.Remove(chatID)
	if err != nil {
		slog.ErrorContext(ctx, "error saving schedule", "error", err)
		b.reply(ctx, chatID, msgSomethingWrong, nil)
		return
	}

	b.reply(ctx, chatID, fmt.Sprintf(msgTimeChanged, hour, minute, b.cfg.TimezoneLabel), mainKeyboard())
}

func (b *Bot) list(ctx context.Context, userID, chatID int64) {
	items, err := b.queue.List(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "error listing queue", "error", err)
		b.reply(ctx, chatID, msgSomethingWrong, nil)
		return
	}
	if len(items) == 0 {
		b.reply(ctx, chatID, msgQueueEmpty, nil)
		return
	}

	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, "• "+html.EscapeString(it.Topic))
	}
	b.replyLines(ctx, chatID, "In the queue:", lines)
}

func (b *Bot) history(ctx context.Context, userID, chatID int64) {
	entries, err := b.queue.History(ctx, userID, deepstudy.DefaultHistoryLimit)
	if err != nil {
		slog.ErrorContext(ctx, "error listing history", "error", err)
		b.reply(ctx, chatID, msgSomethingWrong, nil)
		return
	}
	if len(entries) == 0 {
		b.reply(ctx, chatID, msgNoHistory, nil)
		return
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		var url, day string
		if e.PublishedURL != nil {
			url = *e.PublishedURL
		}
		if e.CompletedAt != nil {
			day = e.CompletedAt.Format(time.DateOnly)
		}
		lines = append(lines, fmt.Sprintf("• <b>%s</b>: <a href=\"%s\">read</a> (%s)", html.EscapeString(e.Topic), html.EscapeString(url), day))
	}
	b.replyLines(ctx, chatID, "<b>History:</b>", lines)
}

// Runs in the background. The processor sends the result itself.
func (b *Bot) generate(ctx context.Context, userID, chatID int64) {
	work := context.WithoutCancel(ctx)

	b.runs.Add(1)
	go func() {
		defer b.runs.Done()

		out := b.proc.ProcessOneTopic(work, userID, processor.ModeImmediate)
		if out.Status == processor.StatusBusy {
			b.reply(work, chatID, msgBusy, nil)
		}
	}()
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) {
	if err := b.tg.SendMessage(ctx, chatID, text, markup); err != nil {
		slog.ErrorContext(ctx, "error sending reply", "chat_id", chatID, "error", err)
	}
}

// Telegram rejects longer messages. It counts UTF-16 code units.
const maxMessageLen = 4096

// replyLines sends the header and lines joined by newlines, split over as many
// messages as needed. Lines are never split.
func (b *Bot) replyLines(ctx context.Context, chatID int64, header string, lines []string) {
	for _, msg := range chunkLines(header, lines, maxMessageLen) {
		b.reply(ctx, chatID, msg, nil)
	}
}

func chunkLines(header string, lines []string, limit int) []string {
	var (
		chunks []string
		sb     strings.Builder
		size   int
	)
	sb.WriteString(header)
	size = utf16Len(header)

	for _, line := range lines {
		n := utf16Len(line)
		if sb.Len() > 0 && size+1+n > limit {
			chunks = append(chunks, sb.String())
			sb.Reset()
			size = 0
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
			size++
		}
		sb.WriteString(line)
		size += n
	}
	if sb.Len() > 0 {
		chunks = append(chunks, sb.String())
	}

	return chunks
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// parseCommand splits "/cmd@bot arg" into its parts.
func parseCommand(text string) (cmd, arg string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}

	cmd, arg = text[1:], ""
	if i := strings.IndexFunc(cmd, unicode.IsSpace); i >= 0 {
		cmd, arg = cmd[:i], cmd[i:]
	}
	cmd, _, _ = strings.Cut(cmd, "@")
	if cmd == "" {
		return "", "", false
	}
	return strings.ToLower(cmd), strings.TrimSpace(arg), true
}

func reasonOf(err error) string {
	var e *dserrs.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}
