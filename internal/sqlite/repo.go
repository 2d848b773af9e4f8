package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/deepstudy/internal/deepstudy"
	"github.com/jdholdren/deepstudy/internal/migrations"
)

// Ensure Repo implements the storage interfaces
var (
	_ deepstudy.QueueRepo    = (*Repo)(nil)
	_ deepstudy.ScheduleRepo = (*Repo)(nil)
)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}

// Open connects to the sqlite file at path and brings its schema up to date.
func Open(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite", path)
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := dbx.Ping(); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	// One connection: every transaction is serialized and writers never see "database is locked".
	dbx.SetMaxOpenConns(1)

	if err := migrations.Run(dbx); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("error running migrations: %w", err)
	}

	return dbx, nil
}
