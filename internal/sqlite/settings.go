package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jdholdren/deepstudy/internal/deepstudy"
)

func (r Repo) Setting(ctx context.Context, userID int64) (deepstudy.ScheduleSetting, error) {
	const q = `SELECT user_id, hour, minute FROM user_settings WHERE user_id = ?;`

	var s deepstudy.ScheduleSetting
	err := r.db.GetContext(ctx, &s, q, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return deepstudy.ScheduleSetting{}, deepstudy.ErrNotFound
	}
	if err != nil {
		return deepstudy.ScheduleSetting{}, storageErr("error fetching setting: %w", err)
	}

	return s, nil
}

// UpsertSetting replaces the whole row for the user.
func (r Repo) UpsertSetting(ctx context.Context, s deepstudy.ScheduleSetting) error {
	const q = `INSERT INTO user_settings (user_id, hour, minute)
	VALUES (:user_id, :hour, :minute)
	ON CONFLICT (user_id) DO UPDATE SET
		hour = excluded.hour,
		minute = excluded.minute,
		updated_at = CURRENT_TIMESTAMP;`

	if _, err := r.db.NamedExecContext(ctx, q, s); err != nil {
		return storageErr("error upserting setting: %w", err)
	}

	return nil
}

func (r Repo) AllSettings(ctx context.Context) ([]deepstudy.ScheduleSetting, error) {
	const q = `SELECT user_id, hour, minute FROM user_settings ORDER BY user_id;`

	settings := []deepstudy.ScheduleSetting{}
	if err := r.db.SelectContext(ctx, &settings, q); err != nil {
		return nil, storageErr("error selecting settings: %w", err)
	}

	return settings, nil
}
