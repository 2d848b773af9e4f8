package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/jdholdren/deepstudy/internal/deepstudy"
	dserrs "github.com/jdholdren/deepstudy/internal/errors"
)

func storageErr(format string, err error) error {
	return dserrs.E(fmt.Errorf(format, err), dserrs.KindStorage)
}

// InsertTopic writes the archive row first and then the queue row pointing at
// it, both in one transaction.
func (r Repo) InsertTopic(ctx context.Context, userID int64, topic string, addedAt time.Time) (deepstudy.QueueItem, deepstudy.ArchiveEntry, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return deepstudy.QueueItem{}, deepstudy.ArchiveEntry{}, storageErr("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const archiveQ = `INSERT INTO all_topics (user_id, topic, added_at) VALUES (?, ?, ?);`
	res, err := tx.ExecContext(ctx, archiveQ, userID, topic, addedAt)
	if err != nil {
		return deepstudy.QueueItem{}, deepstudy.ArchiveEntry{}, storageErr("error inserting archive entry: %w", err)
	}
	archiveID, err := res.LastInsertId()
	if err != nil {
		return deepstudy.QueueItem{}, deepstudy.ArchiveEntry{}, storageErr("error reading archive id: %w", err)
	}

	const queueQ = `INSERT INTO topics (user_id, topic, archive_id) VALUES (?, ?, ?);`
	res, err = tx.ExecContext(ctx, queueQ, userID, topic, archiveID)
	if err != nil {
		return deepstudy.QueueItem{}, deepstudy.ArchiveEntry{}, storageErr("error inserting queue item: %w", err)
	}
	itemID, err := res.LastInsertId()
	if err != nil {
		return deepstudy.QueueItem{}, deepstudy.ArchiveEntry{}, storageErr("error reading queue item id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return deepstudy.QueueItem{}, deepstudy.ArchiveEntry{}, storageErr("error committing transaction: %w", err)
	}

	return deepstudy.QueueItem{
			ID:        itemID,
			UserID:    userID,
			Topic:     topic,
			ArchiveID: archiveID,
		}, deepstudy.ArchiveEntry{
			ID:      archiveID,
			UserID:  userID,
			Topic:   topic,
			AddedAt: addedAt,
		}, nil
}

func (r Repo) HeadTopic(ctx context.Context, userID int64) (deepstudy.QueueItem, error) {
	const q = `SELECT id, user_id, topic, archive_id FROM topics WHERE user_id = ? ORDER BY id LIMIT 1;`

	var item deepstudy.QueueItem
	err := r.db.GetContext(ctx, &item, q, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return deepstudy.QueueItem{}, deepstudy.ErrNotFound
	}
	if err != nil {
		return deepstudy.QueueItem{}, storageErr("error fetching queue head: %w", err)
	}

	return item, nil
}

func (r Repo) DeleteTopic(ctx context.Context, id int64) error {
	const q = `DELETE FROM topics WHERE id = ?;`

	if _, err := r.db.ExecContext(ctx, q, id); err != nil {
		return storageErr("error deleting queue item: %w", err)
	}

	return nil
}

func (r Repo) UserTopics(ctx context.Context, userID int64) ([]deepstudy.QueueItem, error) {
	const q = `SELECT id, user_id, topic, archive_id FROM topics WHERE user_id = ? ORDER BY id;`

	items := []deepstudy.QueueItem{}
	if err := r.db.SelectContext(ctx, &items, q, userID); err != nil {
		return nil, storageErr("error selecting queue: %w", err)
	}

	return items, nil
}

// QueuedUserIDs returns the distinct users that have something queued.
func (r Repo) QueuedUserIDs(ctx context.Context) ([]int64, error) {
	const q = `SELECT DISTINCT user_id FROM topics ORDER BY user_id;`

	ids := []int64{}
	if err := r.db.SelectContext(ctx, &ids, q); err != nil {
		return nil, storageErr("error selecting queued users: %w", err)
	}

	return ids, nil
}

// CompleteTopic publishes the item's archive entry and dequeues the item in
// one transaction.
//
// An archive entry that is already published is left alone; the item is still
// removed so a redelivered head can't be processed twice.
func (r Repo) CompleteTopic(ctx context.Context, item deepstudy.QueueItem, url string, completedAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const archiveQ = `UPDATE all_topics
	SET published_url = ?, completed_at = ?
	WHERE id = ? AND published_url IS NULL;`
	if _, err := tx.ExecContext(ctx, archiveQ, url, completedAt, item.ArchiveID); err != nil {
		return storageErr("error completing archive entry: %w", err)
	}

	const queueQ = `DELETE FROM topics WHERE id = ?;`
	if _, err := tx.ExecContext(ctx, queueQ, item.ID); err != nil {
		return storageErr("error dequeuing item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("error committing transaction: %w", err)
	}

	return nil
}

// History lists the user's published entries, most recently completed first.
func (r Repo) History(ctx context.Context, userID int64, limit uint64) ([]deepstudy.ArchiveEntry, error) {
	query, args, err := sq.Select("id", "user_id", "topic", "added_at", "published_url", "completed_at").
		From("all_topics").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.NotEq{"published_url": nil}).
		OrderBy("completed_at DESC", "id DESC").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	entries := []deepstudy.ArchiveEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, storageErr("error selecting history: %w", err)
	}

	return entries, nil
}

func (r Repo) ArchiveEntry(ctx context.Context, id int64) (deepstudy.ArchiveEntry, error) {
	const q = `SELECT id, user_id, topic, added_at, published_url, completed_at FROM all_topics WHERE id = ?;`

	var entry deepstudy.ArchiveEntry
	err := r.db.GetContext(ctx, &entry, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return deepstudy.ArchiveEntry{}, deepstudy.ErrNotFound
	}
	if err != nil {
		return deepstudy.ArchiveEntry{}, storageErr("error fetching archive entry: %w", err)
	}

	return entry, nil
}
