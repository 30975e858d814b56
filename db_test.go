package reldb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type (
	Season struct {
		Order int `msgpack:"o"`
	}

	Month struct {
		Season string `msgpack:"s"`
		Days   int    `msgpack:"d"`
		Ordnum int64  `msgpack:"n"`
	}
)

var (
	seasonNames = []string{"Winter", "Spring", "Summer", "Autumn"}

	calendarMonths = []struct {
		name   string
		season string
		days   int
	}{
		{"January", "Winter", 31},
		{"February", "Winter", 28},
		{"March", "Spring", 31},
		{"April", "Spring", 30},
		{"May", "Spring", 31},
		{"June", "Summer", 30},
		{"July", "Summer", 31},
		{"August", "Summer", 31},
		{"September", "Autumn", 30},
		{"October", "Autumn", 31},
		{"November", "Autumn", 30},
		{"December", "Winter", 31},
	}
)

type calendar struct {
	db       *Database
	seasons  *Table
	months   *Table
	seq      *Sequence
	bySeason *Index
	byDays   *Index
	byOrdnum *Index
}

func setup(t testing.TB) *Database {
	t.Helper()
	db, err := Open(t.TempDir(), true, Options{IsTesting: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func reopen(t testing.TB, home string) *Database {
	t.Helper()
	db, err := Open(home, false, Options{IsTesting: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// openCalendar opens the season and month tables. A month without a season
// is left out of the season index, which is what the nullify policy relies on.
func openCalendar(t testing.TB, db *Database, create bool, policy ForeignPolicy) *calendar {
	t.Helper()
	c := &calendar{db: db}
	var err error
	c.seasons, err = db.AddTable("season", nil, create)
	require.NoError(t, err)
	c.months, err = db.AddTable("month", nil, create)
	require.NoError(t, err)
	c.seq, err = db.AddSequence("month", create)
	require.NoError(t, err)

	c.bySeason, err = c.months.AddIndex("season", ExtractData(func(m *Month) (string, bool) {
		return m.Season, m.Season != ""
	}), nil, false)
	require.NoError(t, err)
	switch policy {
	case ForeignNullify:
		err = c.bySeason.AddForeignNullify(c.seasons, NullifyData(func(m *Month) bool {
			m.Season = ""
			return true
		}))
	default:
		err = c.bySeason.AddForeign(c.seasons, policy == ForeignCascade)
	}
	require.NoError(t, err)

	c.byDays, err = c.months.AddIndex("days", ExtractData(func(m *Month) (int, bool) {
		return m.Days, true
	}), nil, false)
	require.NoError(t, err)
	c.byOrdnum, err = c.months.AddIndex("ordnum", ExtractData(func(m *Month) (int64, bool) {
		return m.Ordnum, true
	}), nil, true)
	require.NoError(t, err)
	return c
}

// populate inserts all seasons and months; ordnums come from the sequence,
// so January is 1 and December is 12.
func (c *calendar) populate(t testing.TB) {
	t.Helper()
	for i, name := range seasonNames {
		require.NoError(t, c.seasons.Insert(name, &Season{Order: i + 1}))
	}
	for _, m := range calendarMonths {
		id, err := c.seq.ID()
		require.NoError(t, err)
		require.NoError(t, c.months.Insert(m.name, &Month{Season: m.season, Days: m.days, Ordnum: id}))
	}
}

func (c *calendar) month(t testing.TB, name string) *Month {
	t.Helper()
	var m Month
	require.NoError(t, c.months.Select(name, &m))
	return &m
}

func TestOpen_missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), false, Options{IsTesting: true})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = Open(t.TempDir(), false, Options{IsTesting: true})
	require.Equal(t, NotFound, CodeOf(err))
}

func TestOpen_createTwice(t *testing.T) {
	home := t.TempDir()
	db, err := Open(home, true, Options{IsTesting: true})
	require.NoError(t, err)
	require.Equal(t, home, db.Home())
	require.NoError(t, db.Close())

	_, err = Open(home, true, Options{IsTesting: true})
	require.ErrorIs(t, err, ErrExists)

	db = reopen(t, home)
	require.Equal(t, 0, db.Depth())
}

func TestClose_idempotent(t *testing.T) {
	db := setup(t)
	tbl, err := db.AddTable("t", nil, true)
	require.NoError(t, err)
	require.NoError(t, db.BeginTransaction())

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	require.Equal(t, 0, db.Depth())

	err = tbl.Insert("k", "v")
	require.Equal(t, Unknown, CodeOf(err))
	_, err = db.AddTable("u", nil, true)
	require.Equal(t, Unknown, CodeOf(err))
}

func TestDatabase_persistsAcrossReopen(t *testing.T) {
	home := t.TempDir()
	db, err := Open(home, true, Options{IsTesting: true})
	require.NoError(t, err)
	c := openCalendar(t, db, true, ForeignAbort)
	c.populate(t)
	require.NoError(t, db.Close())

	db = reopen(t, home)
	c = openCalendar(t, db, false, ForeignAbort)
	require.Equal(t, &Month{Season: "Autumn", Days: 30, Ordnum: 9}, c.month(t, "September"))
	n, err := c.months.Count()
	require.NoError(t, err)
	require.Equal(t, 12, n)

	id, err := c.seq.ID()
	require.NoError(t, err)
	require.EqualValues(t, 13, id)
}

func TestDatabase_uncommittedTransactionsLostOnClose(t *testing.T) {
	home := t.TempDir()
	db, err := Open(home, true, Options{IsTesting: true})
	require.NoError(t, err)
	tbl, err := db.AddTable("t", nil, true)
	require.NoError(t, err)
	require.NoError(t, tbl.Insert("kept", "1"))

	require.NoError(t, db.BeginTransaction())
	require.NoError(t, tbl.Insert("lost", "2"))
	require.NoError(t, db.Close())

	db = reopen(t, home)
	tbl, err = db.AddTable("t", nil, false)
	require.NoError(t, err)
	found, err := tbl.Exists("kept")
	require.NoError(t, err)
	require.True(t, found)
	found, err = tbl.Exists("lost")
	require.NoError(t, err)
	require.False(t, found)
}

func TestCheckpoint(t *testing.T) {
	db := setup(t)
	c := openCalendar(t, db, true, ForeignAbort)
	c.populate(t)

	require.NoError(t, db.Checkpoint())
	require.Equal(t, &Month{Season: "Winter", Days: 28, Ordnum: 2}, c.month(t, "February"))

	require.NoError(t, db.BeginTransaction())
	require.Equal(t, Unknown, CodeOf(db.Checkpoint()))
	require.NoError(t, db.RollbackTransaction())

	rs, err := c.months.Scan()
	require.NoError(t, err)
	require.Equal(t, Unknown, CodeOf(db.Checkpoint()))
	require.NoError(t, rs.Close())
	require.NoError(t, db.Checkpoint())

	st, err := c.months.Stats()
	require.NoError(t, err)
	require.Equal(t, 12, st.Rows)
	require.Equal(t, 36, st.IndexRows)
	require.Positive(t, st.TotalSize())
	require.Positive(t, db.Size())
}

func TestBuckets(t *testing.T) {
	db := setup(t)
	openCalendar(t, db, true, ForeignAbort)

	names, err := db.Buckets()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"__seq", "season.db", "month.db", "month.season.ix", "month.days.ix", "month.ordnum.ix",
	}, names)

	_, err = db.BucketStats("nope.db")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDescribeTransactions(t *testing.T) {
	db := setup(t)
	require.Equal(t, "NO OPEN TRANSACTIONS", db.DescribeTransactions())

	require.NoError(t, db.BeginTransaction())
	require.NoError(t, db.BeginTransaction())
	s := db.DescribeTransactions()
	require.Contains(t, s, "2 OPEN TRANSACTIONS")
	require.Contains(t, s, "depth 1:")
	require.Contains(t, s, "depth 2:")
}
