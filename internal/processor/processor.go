// Package processor turns the head of a user's queue into a published,
// archived and delivered article.
package processor

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdholdren/deepstudy/internal/deepstudy"
	dserrs "github.com/jdholdren/deepstudy/internal/errors"
	"github.com/jdholdren/deepstudy/internal/logger"
)

type (
	// Queue is the part of the queue manager the processor needs.
	Queue interface {
		PeekHead(ctx context.Context, userID int64) (deepstudy.QueueItem, bool, error)
		Complete(ctx context.Context, item deepstudy.QueueItem, url string) error
	}

	// Generator writes the long form article for a topic.
	Generator interface {
		Generate(ctx context.Context, topic string) (string, error)
	}

	// Publisher makes the article publicly readable and returns its url.
	Publisher interface {
		Publish(ctx context.Context, title, content string) (string, error)
	}

	// Notifier delivers a message to the user.
	Notifier interface {
		Notify(ctx context.Context, userID int64, message string) error
	}
)

// Mode is who asked for the processing.
type Mode int

const (
	ModeScheduled Mode = iota
	ModeImmediate
)

func (m Mode) String() string {
	if m == ModeImmediate {
		return "immediate"
	}
	return "scheduled"
}

type (
	Status string
	Stage  string
)

const (
	StatusEmpty     Status = "empty"
	StatusBusy      Status = "busy"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"

	StagePeek     Stage = "peek"
	StageGenerate Stage = "generate"
	StagePublish  Stage = "publish"
	StageStore    Stage = "store"
)

// Outcome is the result of one [Processor.ProcessOneTopic] call.
type Outcome struct {
	Status Status
	// Only set when Status is failed.
	Stage Stage
	Item  deepstudy.QueueItem
	URL   string
	Err   error
}

type Config struct {
	GenerateTimeout time.Duration
	PublishTimeout  time.Duration
	NotifyTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 5 * time.Minute
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = time.Minute
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 15 * time.Second
	}
	return c
}

const (
	msgEmptyQueue = "Queue is empty — nothing to generate."
	msgDone       = "📚 <b>%s</b>\nDone! 👉 %s"
	msgFailed     = "❌ Could not process «%s»:\n%s"
	msgQueueError = "❌ Could not read your queue:\n%s"
)

// Processor runs the single flight pipeline for one user at a time.
type Processor struct {
	queue     Queue
	generator Generator
	publisher Publisher
	notifier  Notifier
	cfg       Config

	locks lockTable
}

func New(q Queue, g Generator, p Publisher, n Notifier, cfg Config) *Processor {
	return &Processor{
		queue:     q,
		generator: g,
		publisher: p,
		notifier:  n,
		cfg:       cfg.withDefaults(),
		locks:     lockTable{held: make(map[int64]struct{})},
	}
}

// ProcessOneTopic generates, publishes and archives the head of the user's
// queue, then tells the user about it.
//
// At most one item is dequeued per call. While a call is in flight for a user,
// further calls for that user return [StatusBusy] and do nothing. On any
// failure the queue and archive are left as they were.
func (p *Processor) ProcessOneTopic(ctx context.Context, userID int64, mode Mode) Outcome {
	if !p.locks.tryLock(userID) {
		slog.InfoContext(ctx, "processing already in flight", "user_id", userID, "mode", mode.String())
		return Outcome{Status: StatusBusy}
	}
	defer p.locks.unlock(userID)

	ctx = logger.Ctx(ctx,
		slog.Int64("user_id", userID),
		slog.String("mode", mode.String()),
		slog.String("run_id", uuid.NewString()),
	)

	item, ok, err := p.queue.PeekHead(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "error reading queue head", "error", err)
		if mode == ModeImmediate {
			p.notify(ctx, userID, fmt.Sprintf(msgQueueError, html.EscapeString(reason(err))))
		}
		return Outcome{Status: StatusFailed, Stage: StagePeek, Err: err}
	}
	if !ok {
		if mode == ModeImmediate {
			p.notify(ctx, userID, msgEmptyQueue)
		}
		return Outcome{Status: StatusEmpty}
	}

	ctx = logger.Ctx(ctx, slog.Int64("item_id", item.ID))
	slog.InfoContext(ctx, "processing topic", "topic", item.Topic)

	article, err := p.generate(ctx, item.Topic)
	if err != nil {
		return p.fail(ctx, item, StageGenerate, err)
	}

	url, err := p.publish(ctx, item.Topic, article)
	if err != nil {
		return p.fail(ctx, item, StagePublish, err)
	}

	if err := p.queue.Complete(ctx, item, url); err != nil {
		return p.fail(ctx, item, StageStore, err)
	}

	slog.InfoContext(ctx, "topic published", "url", url)
	p.notify(ctx, userID, fmt.Sprintf(msgDone, html.EscapeString(item.Topic), url))

	return Outcome{Status: StatusSucceeded, Item: item, URL: url}
}

func (p *Processor) generate(ctx context.Context, topic string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()

	article, err := p.generator.Generate(ctx, topic)
	if errors.Is(err, context.DeadlineExceeded) {
		return "", dserrs.E(fmt.Errorf("generation timed out after %s", p.cfg.GenerateTimeout), dserrs.KindGeneration)
	}
	if err != nil {
		return "", dserrs.E(err, dserrs.KindGeneration)
	}

	return article, nil
}

func (p *Processor) publish(ctx context.Context, title, content string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	url, err := p.publisher.Publish(ctx, title, content)
	if errors.Is(err, context.DeadlineExceeded) {
		return "", dserrs.E(fmt.Errorf("publishing timed out after %s", p.cfg.PublishTimeout), dserrs.KindPublish)
	}
	if err != nil {
		return "", dserrs.E(err, dserrs.KindPublish)
	}

	return url, nil
}

// The item stays at the head of the queue so the next trigger retries it.
func (p *Processor) fail(ctx context.Context, item deepstudy.QueueItem, stage Stage, err error) Outcome {
	slog.ErrorContext(ctx, "error processing topic", "stage", string(stage), "kind", string(dserrs.KindOf(err)), "error", err)
	p.notify(ctx, item.UserID, fmt.Sprintf(msgFailed, html.EscapeString(item.Topic), html.EscapeString(reason(err))))

	return Outcome{Status: StatusFailed, Stage: stage, Item: item, Err: err}
}

// Notifications are best effort: failures are only logged.
func (p *Processor) notify(ctx context.Context, userID int64, msg string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.NotifyTimeout)
	defer cancel()

	if err := p.notifier.Notify(ctx, userID, msg); err != nil {
		slog.ErrorContext(ctx, "error notifying user", "error", err)
	}
}

// The message of the wrapped error, without the kind prefix.
func reason(err error) string {
	var e *dserrs.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}

// Set of users with a run in flight.
type lockTable struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func (l *lockTable) tryLock(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[userID]; ok {
		return false
	}
	l.held[userID] = struct{}{}
	return true
}

func (l *lockTable) unlock(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, userID)
}
