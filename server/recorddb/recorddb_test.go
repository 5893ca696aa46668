package recorddb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/railalert/server/classify"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *RecordDB {
	t.Helper()
	db, err := NewRecordDB(logs.NewTestingLog(t), dbh.MakeSqliteConfig(filepath.Join(t.TempDir(), "records.sqlite")))
	require.NoError(t, err)
	return db
}

func record(image, location string, train bool, classification string, at time.Time) classify.Record {
	rec := classify.Aggregate(image, location, classify.Memo{Train: boolToInt(train)}, classification)
	rec.ProcessedAt = at
	return rec
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestSaveAndGet(t *testing.T) {
	db := setup(t)
	now := time.Now().Truncate(time.Millisecond)
	require.NoError(t, db.Save(record("a_b_0.jpg", "a_b", true, "", now)))

	rec, err := db.Get("a_b_0.jpg")
	require.NoError(t, err)
	require.True(t, rec.Train)
	require.True(t, rec.AccurateAlert)
	back := rec.ToClassify()
	require.Equal(t, "a_b", back.Location)
	require.WithinDuration(t, now, back.ProcessedAt, time.Millisecond)

	_, err = db.Get("nope.jpg")
	require.ErrorIs(t, err, ErrNotFound)

	// Re-classifying an image replaces its record
	require.NoError(t, db.Save(record("a_b_0.jpg", "a_b", false, "car:1", now.Add(time.Second))))
	rec, err = db.Get("a_b_0.jpg")
	require.NoError(t, err)
	require.False(t, rec.Train)
	require.Equal(t, "car:1", rec.Classification)
	all, err := db.List(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestListAndStats(t *testing.T) {
	db := setup(t)
	base := time.Now()
	require.NoError(t, db.SaveMany([]classify.Record{
		record("a_b_0.jpg", "a_b", true, "", base),
		record("a_b_1.jpg", "a_b", false, "", base.Add(time.Second)),
		record("c_d_0.jpg", "c_d", false, "person:1", base.Add(2*time.Second)),
	}))

	all, err := db.List(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c_d_0.jpg", all[0].Image)

	ab, err := db.List(Filter{Location: "a_b"})
	require.NoError(t, err)
	require.Len(t, ab, 2)

	yes := true
	alerts, err := db.List(Filter{AccurateAlert: &yes})
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	page, err := db.List(Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "a_b_1.jpg", page[0].Image)

	stats, err := db.Stats()
	require.NoError(t, err)
	require.Equal(t, []LocationStats{{"a_b", 2, 1}, {"c_d", 1, 1}}, stats)

	require.NoError(t, db.Delete("a_b_0.jpg"))
	all, err = db.List(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestIdColumnPerDriver(t *testing.T) {
	require.Equal(t, "id INTEGER PRIMARY KEY", idColumn(dbh.DriverSqlite))
	require.Equal(t, "id BIGSERIAL PRIMARY KEY", idColumn(dbh.DriverPostgres))
	require.Len(t, Migrations(logs.NewTestingLog(t), dbh.DriverPostgres), 2)
}
