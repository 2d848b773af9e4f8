package bot

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/deepstudy/internal/deepstudy"
	"github.com/jdholdren/deepstudy/internal/processor"
	"github.com/jdholdren/deepstudy/internal/sqlite/sqlitetest"
	"github.com/jdholdren/deepstudy/internal/telegram"
)

type sentMessage struct {
	chatID   int64
	text     string
	keyboard bool
}

type fakeTelegram struct {
	mu       sync.Mutex
	sent     []sentMessage
	answered []string
	commands []telegram.BotCommand

	// Called for every poll when set.
	poll func(ctx context.Context, offset int64) ([]telegram.Update, error)
}

func (f *fakeTelegram) SendMessage(_ context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, keyboard: markup != nil})
	return nil
}

func (f *fakeTelegram) GetUpdates(ctx context.Context, offset int64, _ int) ([]telegram.Update, error) {
	return f.poll(ctx, offset)
}

func (f *fakeTelegram) AnswerCallbackQuery(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id)
	return nil
}

func (f *fakeTelegram) SetCommands(_ context.Context, commands []telegram.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = commands
	return nil
}

func (f *fakeTelegram) last(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type fakeProcessor struct {
	mu     sync.Mutex
	calls  []processor.Mode
	status processor.Status
}

func (p *fakeProcessor) ProcessOneTopic(_ context.Context, _ int64, mode processor.Mode) processor.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, mode)
	return processor.Outcome{Status: p.status}
}

type fixture struct {
	tg        *fakeTelegram
	queue     *deepstudy.Queue
	schedules *deepstudy.Schedules
	proc      *fakeProcessor
	bot       *Bot
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	repo, _ := sqlitetest.New(t)
	f := fixture{
		tg:        &fakeTelegram{},
		queue:     deepstudy.NewQueue(repo),
		schedules: deepstudy.NewSchedules(repo),
		proc:      &fakeProcessor{status: processor.StatusSucceeded},
	}

	b, err := New(f.tg, f.queue, f.schedules, f.proc, Config{TimezoneLabel: "GMT+3"})
	require.NoError(t, err)
	f.bot = b

	return f
}

const user int64 = 42

func text(s string) telegram.Update {
	return telegram.Update{Message: &telegram.Message{
		From: &telegram.User{ID: user},
		Chat: telegram.Chat{ID: user},
		Text: s,
	}}
}

func button(data string) telegram.Update {
	return telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:      "cb-" + data,
		From:    telegram.User{ID: user},
		Message: &telegram.Message{Chat: telegram.Chat{ID: user}},
		Data:    data,
	}}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in       string
		cmd, arg string
		ok       bool
	}{
		{in: "/start", cmd: "start", ok: true},
		{in: "/add Go generics", cmd: "add", arg: "Go generics", ok: true},
		{in: "/add@deepstudy_bot  Raft ", cmd: "add", arg: "Raft", ok: true},
		{in: "/TIME 9:30", cmd: "time", arg: "9:30", ok: true},
		{in: "/add\nRaft", cmd: "add", arg: "Raft", ok: true},
		{in: "/add\tGossip protocols", cmd: "add", arg: "Gossip protocols", ok: true},
		{in: "hello", ok: false},
		{in: "/", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cmd, arg, ok := parseCommand(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.cmd, cmd)
			assert.Equal(t, tt.arg, arg)
		})
	}
}

func TestStart(t *testing.T) {
	f := newFixture(t)

	f.bot.Handle(context.Background(), text("/start"))

	last := f.tg.last(t)
	assert.Equal(t, msgWelcome, last.text)
	assert.True(t, last.keyboard)
}

func TestAddCommand(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
	)

	f.bot.Handle(ctx, text("/add   Consistent hashing "))
	assert.Equal(t, msgTopicSaved, f.tg.last(t).text)

	items, err := f.queue.List(ctx, user)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Consistent hashing", items[0].Topic)
}

func TestAddTopicPrompt(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
	)

	f.bot.Handle(ctx, button(cbAddTopic))
	assert.Equal(t, []string{"cb-add_topic"}, f.tg.answered)
	assert.Equal(t, msgAskTopic, f.tg.last(t).text)

	// Blank input keeps the prompt open.
	f.bot.Handle(ctx, text("   "))
	assert.Contains(t, f.tg.last(t).text, "Could not save the topic")

	f.bot.Handle(ctx, text("Bloom filters"))
	assert.Equal(t, msgTopicSaved, f.tg.last(t).text)

	// The prompt is over.
	f.bot.Handle(ctx, text("Skip lists"))
	assert.Equal(t, msgHint, f.tg.last(t).text)

	items, err := f.queue.List(ctx, user)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Bloom filters", items[0].Topic)
}

func TestCommandCancelsPrompt(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
	)

	f.bot.Handle(ctx, text("/add"))
	f.bot.Handle(ctx, text("/cancel"))
	f.bot.Handle(ctx, text("not a topic"))

	items, err := f.queue.List(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestList(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
	)

	f.bot.Handle(ctx, text("/list"))
	assert.Equal(t, msgQueueEmpty, f.tg.last(t).text)

	_, _, err := f.queue.Enqueue(ctx, user, "a < b")
	require.NoError(t, err)
	_, _, err = f.queue.Enqueue(ctx, user, "LSM trees")
	require.NoError(t, err)

	f.bot.Handle(ctx, text("/list"))
	assert.Equal(t, "In the queue:\n• a &lt; b\n• LSM trees", f.tg.last(t).text)
}

func TestHistory(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
	)

	f.bot.Handle(ctx, text("/history"))
	assert.Equal(t, msgNoHistory, f.tg.last(t).text)

	q := f.queue.WithClock(func() time.Time { return time.Date(2025, 5, 22, 12, 0, 0, 0, time.UTC) })
	item, _, err := q.Enqueue(ctx, user, "Raft")
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, item, "https://telegra.ph/Raft-05-22"))

	f.bot.Handle(ctx, text("/history"))
	assert.Equal(t, "<b>History:</b>\n• <b>Raft</b>: <a href=\"https://telegra.ph/Raft-05-22\">read</a> (2025-05-22)", f.tg.last(t).text)
}

func TestLongListsAreSplit(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
	)

	at := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	f.queue.WithClock(func() time.Time {
		at = at.Add(time.Minute)
		return at
	})

	var topics []string
	for i := range 30 {
		topic := fmt.Sprintf("%02d %s", i, strings.Repeat("é", 200))
		topics = append(topics, topic)

		item, _, err := f.queue.Enqueue(ctx, user, topic)
		require.NoError(t, err)
		require.NoError(t, f.queue.Complete(ctx, item, "https://telegra.ph/"+strconv.Itoa(i)))
	}
	for _, topic := range topics[:25] {
		_, _, err := f.queue.Enqueue(ctx, user, topic)
		require.NoError(t, err)
	}

	newestFirst := slices.Clone(topics)
	slices.Reverse(newestFirst)

	tests := []struct {
		cmd    string
		header string
		order  []string
	}{
		{cmd: "/history", header: "<b>History:</b>", order: newestFirst},
		{cmd: "/list", header: "In the queue:", order: topics[:25]},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			before := len(f.tg.sent)
			f.bot.Handle(ctx, text(tt.cmd))
			sent := f.tg.sent[before:]

			require.Greater(t, len(sent), 1)
			assert.True(t, strings.HasPrefix(sent[0].text, tt.header))

			var all []string
			for _, m := range sent {
				assert.LessOrEqual(t, utf16Len(m.text), maxMessageLen)
				all = append(all, m.text)
			}
			joined := strings.Join(all, "\n")
			assert.Equal(t, len(tt.order), strings.Count(joined, "• "))

			// In order, nothing lost.
			last := -1
			for _, topic := range tt.order {
				i := strings.Index(joined, topic)
				require.Greater(t, i, last, topic[:2])
				last = i
			}
		})
	}
}

func TestChunkLines(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  []string
	}{
		{name: "fits", lines: []string{"a", "b"}, want: []string{"H\na\nb"}},
		{name: "split", lines: []string{"aaaa", "bbbb", "cc"}, want: []string{"H\naaaa", "bbbb\ncc"}},
		{name: "surrogates count twice", lines: []string{"😀😀", "x"}, want: []string{"H\n😀😀", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunkLines("H", tt.lines, 7))
		})
	}
}

func TestTimeCommand(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
	)

	f.bot.Handle(ctx, text("/time 7:05"))
	assert.Equal(t, "✅ Time changed to 07:05 GMT+3", f.tg.last(t).text)

	hour, minute, err := f.schedules.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 7, hour)
	assert.Equal(t, 5, minute)
}

func TestChangeTimePrompt(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
	)

	f.bot.Handle(ctx, button(cbChgTime))
	assert.Equal(t, "Your daily time is 10:00 GMT+3.\nSend a new time as HH:MM:", f.tg.last(t).text)

	f.bot.Handle(ctx, text("25:00"))
	assert.Equal(t, msgInvalidTime, f.tg.last(t).text)

	f.bot.Handle(ctx, text("21:45"))
	assert.Equal(t, "✅ Time changed to 21:45 GMT+3", f.tg.last(t).text)

	all, err := f.schedules.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []deepstudy.ScheduleSetting{{UserID: user, Hour: 21, Minute: 45}}, all)
}

func TestGenerate(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
	)

	f.bot.Handle(ctx, text("/generate"))
	f.bot.Handle(ctx, button(cbGenNow))
	require.NoError(t, f.bot.Wait(ctx))

	assert.Equal(t, []processor.Mode{processor.ModeImmediate, processor.ModeImmediate}, f.proc.calls)
	// The processor reports results itself.
	assert.Empty(t, f.tg.sent)
}

func TestGenerateBusy(t *testing.T) {
	var (
		ctx = context.Background()
		f   = newFixture(t)
	)
	f.proc.status = processor.StatusBusy

	f.bot.Handle(ctx, text("/generate"))
	require.NoError(t, f.bot.Wait(ctx))

	assert.Equal(t, msgBusy, f.tg.last(t).text)
}

func TestRun(t *testing.T) {
	var (
		f           = newFixture(t)
		ctx, cancel = context.WithCancel(context.Background())
		offsets     []int64
	)
	defer cancel()

	f.tg.poll = func(ctx context.Context, offset int64) ([]telegram.Update, error) {
		offsets = append(offsets, offset)
		if len(offsets) == 1 {
			start, add := text("/start"), text("/add Tries")
			start.UpdateID, add.UpdateID = 5, 6
			return []telegram.Update{start, add}, nil
		}

		cancel()
		return nil, ctx.Err()
	}

	require.NoError(t, f.bot.Run(ctx))

	assert.Equal(t, []int64{0, 7}, offsets)
	assert.Equal(t, Commands, f.tg.commands)

	items, err := f.queue.List(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Tries", items[0].Topic)
}
