package telemetry

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "telemetry.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	require.NoError(t, err)
	require.NoError(t, InitSchema(db))

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(setupTestDB(t))
	require.NoError(t, err)
	return s
}

func TestSQLiteStore_KindCounts_Incremental(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveKindCounts("2026-03-01", map[QueryKind]int64{KindSearch: 10, KindBacklinks: 2}))
	require.NoError(t, s.SaveKindCounts("2026-03-01", map[QueryKind]int64{KindSearch: 5}))

	got, err := s.KindCounts("2026-03-01", "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, int64(15), got[KindSearch])
	assert.Equal(t, int64(2), got[KindBacklinks])
	assert.Zero(t, got[KindTraverse])
}

func TestSQLiteStore_DateRange(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveKindCounts("2026-03-01", map[QueryKind]int64{KindSearch: 1}))
	require.NoError(t, s.SaveKindCounts("2026-03-02", map[QueryKind]int64{KindSearch: 2}))
	require.NoError(t, s.SaveKindCounts("2026-03-05", map[QueryKind]int64{KindSearch: 4}))

	got, err := s.KindCounts("2026-03-01", "2026-03-03")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got[KindSearch])
}

func TestSQLiteStore_LatencyCounts(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveLatencyCounts("2026-03-01", map[LatencyBucket]int64{BucketP1: 3, BucketSlow: 1}))
	require.NoError(t, s.SaveLatencyCounts("2026-03-01", map[LatencyBucket]int64{BucketP1: 2}))

	got, err := s.LatencyCounts("2026-03-01", "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got[BucketP1])
	assert.Equal(t, int64(1), got[BucketSlow])
}

func TestSQLiteStore_TopTerms(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertTermCounts(map[string]int64{"graph": 3, "index": 3, "page": 1}))
	require.NoError(t, s.UpsertTermCounts(map[string]int64{"page": 1}))
	require.NoError(t, s.UpsertTermCounts(nil))

	top, err := s.TopTerms(2)
	require.NoError(t, err)
	assert.Equal(t, []TermCount{{Term: "graph", Count: 3}, {Term: "index", Count: 3}}, top)
}

func TestSQLiteStore_ZeroResultQueries_Bounded(t *testing.T) {
	s := newTestStore(t)

	// Given more zero-result queries than the buffer holds
	now := time.Now()
	for i := range MaxZeroResultQueries + 5 {
		require.NoError(t, s.AddZeroResultQuery(fmt.Sprintf("q%d", i), now))
	}

	// Then only the newest remain, newest first
	got, err := s.ZeroResultQueries(1000)
	require.NoError(t, err)
	require.Len(t, got, MaxZeroResultQueries)
	assert.Equal(t, fmt.Sprintf("q%d", MaxZeroResultQueries+4), got[0])
	assert.Equal(t, "q5", got[len(got)-1])
}

func TestNewSQLiteStore_NilDB(t *testing.T) {
	_, err := NewSQLiteStore(nil)
	assert.Error(t, err)
}

func TestOpenSQLiteStore_ReadableByOtherDriver(t *testing.T) {
	// Given a telemetry db written through the pure-Go driver
	path := filepath.Join(t.TempDir(), "telemetry.db")
	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertTermCounts(map[string]int64{"backlinks": 7}))
	require.NoError(t, s.Close())

	// When it is read back with the cgo driver
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	// Then the data is intact
	var n int64
	require.NoError(t, db.QueryRow(`SELECT count FROM query_terms WHERE term = ?`, "backlinks").Scan(&n))
	assert.Equal(t, int64(7), n)
}

func TestSQLiteStore_History(t *testing.T) {
	// Given persisted counts on two days and two zero-result queries
	s := newTestStore(t)
	day := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveKindCounts("2026-03-01", map[QueryKind]int64{KindSearch: 4}))
	require.NoError(t, s.SaveKindCounts("2026-03-02", map[QueryKind]int64{KindSearch: 1, KindTraverse: 2}))
	require.NoError(t, s.SaveLatencyCounts("2026-03-02", map[LatencyBucket]int64{BucketP1: 3}))
	require.NoError(t, s.UpsertTermCounts(map[string]int64{"graph": 2, "page": 1}))
	require.NoError(t, s.AddZeroResultQuery("nothing", day))
	require.NoError(t, s.AddZeroResultQuery("older", day.AddDate(0, 0, -10)))

	// When reading one day of history
	snap, err := s.History(day, day, 1)
	require.NoError(t, err)

	// Then only that day's counts are summed
	assert.Equal(t, int64(3), snap.Total)
	assert.Equal(t, int64(2), snap.Kinds[KindTraverse])
	assert.Equal(t, int64(3), snap.Latency[BucketP1])
	assert.Equal(t, []TermCount{{Term: "graph", Count: 2}}, snap.TopTerms)
	assert.Equal(t, int64(1), snap.ZeroResults)
	assert.Equal(t, []string{"older", "nothing"}, snap.ZeroResultQueries)
}
