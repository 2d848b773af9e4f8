package deepstudy

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	dserrs "github.com/jdholdren/deepstudy/internal/errors"
)

const (
	// Telegraph rejects page titles longer than this, and the topic is the title.
	MaxTopicLength = 256

	DefaultHistoryLimit = 30
	maxHistoryLimit     = 100
)

// Queue is the FIFO-per-user topic queue and its archive.
type Queue struct {
	repo QueueRepo
	now  func() time.Time
}

func NewQueue(repo QueueRepo) *Queue {
	return &Queue{repo: repo, now: time.Now}
}

// WithClock swaps the clock used to stamp archive entries.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Enqueue validates the topic and stores it along with its pending archive entry.
func (q *Queue) Enqueue(ctx context.Context, userID int64, topic string) (QueueItem, ArchiveEntry, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return QueueItem{}, ArchiveEntry{}, dserrs.E(
			"topic is required",
			dserrs.KindValidation,
			dserrs.Detail{Field: "topic", Error: "must not be blank"},
		)
	}
	if utf8.RuneCountInString(topic) > MaxTopicLength {
		return QueueItem{}, ArchiveEntry{}, dserrs.E(
			"topic is too long",
			dserrs.KindValidation,
			dserrs.Detail{Field: "topic", Error: "must be at most 256 characters"},
		)
	}

	return q.repo.InsertTopic(ctx, userID, topic, q.now().UTC())
}

// PeekHead returns the oldest queued item for the user.
//
// ok is false when the queue is empty.
func (q *Queue) PeekHead(ctx context.Context, userID int64) (item QueueItem, ok bool, err error) {
	item, err = q.repo.HeadTopic(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return QueueItem{}, false, nil
	}
	if err != nil {
		return QueueItem{}, false, err
	}

	return item, true, nil
}

// RemoveByID deletes one item. Removing a missing item is not an error.
func (q *Queue) RemoveByID(ctx context.Context, id int64) error {
	return q.repo.DeleteTopic(ctx, id)
}

// List returns the user's queue, oldest first.
func (q *Queue) List(ctx context.Context, userID int64) ([]QueueItem, error) {
	return q.repo.UserTopics(ctx, userID)
}

// QueuedUsers returns every user with at least one queued item.
func (q *Queue) QueuedUsers(ctx context.Context) ([]int64, error) {
	return q.repo.QueuedUserIDs(ctx)
}

// Complete records the published url on the item's archive entry and removes
// the item from the queue, in one transaction.
func (q *Queue) Complete(ctx context.Context, item QueueItem, url string) error {
	return q.repo.CompleteTopic(ctx, item, url, q.now().UTC())
}

// History returns the user's published entries, newest first.
//
// A limit outside of (0, 100] falls back to the default of 30.
func (q *Queue) History(ctx context.Context, userID int64, limit int) ([]ArchiveEntry, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = DefaultHistoryLimit
	}

	return q.repo.History(ctx, userID, uint64(limit))
}
