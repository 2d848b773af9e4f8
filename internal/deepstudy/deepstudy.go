// Package deepstudy holds the topic lifecycle: the per-user queue of topics,
// the archive of everything ever asked for, and the daily send schedule.
package deepstudy

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("resource not found")

type (
	// QueueItem is one pending topic in a user's queue.
	QueueItem struct {
		ID     int64  `db:"id"`
		UserID int64  `db:"user_id"`
		Topic  string `db:"topic"`

		// The archive row created alongside this item.
		ArchiveID int64 `db:"archive_id"`
	}

	// ArchiveEntry is the permanent record of a submitted topic.
	//
	// PublishedURL and CompletedAt stay nil until the topic has been
	// generated and published.
	ArchiveEntry struct {
		ID           int64      `db:"id"`
		UserID       int64      `db:"user_id"`
		Topic        string     `db:"topic"`
		AddedAt      time.Time  `db:"added_at"`
		PublishedURL *string    `db:"published_url"`
		CompletedAt  *time.Time `db:"completed_at"`
	}

	// ScheduleSetting is a user's daily trigger time in the configured zone.
	ScheduleSetting struct {
		UserID int64 `db:"user_id"`
		Hour   int   `db:"hour"`
		Minute int   `db:"minute"`
	}
)

// Completed reports whether the entry has been published.
func (e ArchiveEntry) Completed() bool {
	return e.PublishedURL != nil
}

type (
	// QueueRepo is the storage surface behind [Queue].
	QueueRepo interface {
		// Atomically creates the queue row and its paired archive row.
		InsertTopic(ctx context.Context, userID int64, topic string, addedAt time.Time) (QueueItem, ArchiveEntry, error)
		// Gets the lowest id item for the user, or ErrNotFound.
		HeadTopic(ctx context.Context, userID int64) (QueueItem, error)
		DeleteTopic(ctx context.Context, id int64) error
		UserTopics(ctx context.Context, userID int64) ([]QueueItem, error)
		QueuedUserIDs(ctx context.Context) ([]int64, error)
		// Atomically marks the paired archive row published and removes the item.
		CompleteTopic(ctx context.Context, item QueueItem, url string, completedAt time.Time) error
		History(ctx context.Context, userID int64, limit uint64) ([]ArchiveEntry, error)
		ArchiveEntry(ctx context.Context, id int64) (ArchiveEntry, error)
	}

	// ScheduleRepo is the storage surface behind [Schedules].
	ScheduleRepo interface {
		// Gets the user's setting, or ErrNotFound.
		Setting(ctx context.Context, userID int64) (ScheduleSetting, error)
		UpsertSetting(ctx context.Context, s ScheduleSetting) error
		AllSettings(ctx context.Context) ([]ScheduleSetting, error)
	}
)
