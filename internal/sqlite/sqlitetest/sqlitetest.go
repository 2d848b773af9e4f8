package sqlitetest

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/deepstudy/internal/sqlite"
)

// New returns a repo over a fresh database file that is closed when the test ends.
func New(t testing.TB) (sqlite.Repo, *sqlx.DB) {
	t.Helper()

	dbx, err := sqlite.Open(filepath.Join(t.TempDir(), "topics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })

	return sqlite.New(dbx), dbx
}
