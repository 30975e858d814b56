package reldb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTable_addTable(t *testing.T) {
	db := setup(t)

	_, err := db.AddTable("season", nil, false)
	require.ErrorIs(t, err, ErrNotFound)

	tbl, err := db.AddTable("season", nil, true)
	require.NoError(t, err)
	require.Equal(t, "season", tbl.Name())

	_, err = db.AddTable("season", nil, true)
	require.ErrorIs(t, err, ErrExists)

	_, err = db.AddTable("season", nil, false)
	require.NoError(t, err)
}

func TestTable_insertDuplicate(t *testing.T) {
	db := setup(t)
	c := openCalendar(t, db, true, ForeignAbort)
	c.populate(t)

	for _, m := range calendarMonths {
		err := c.months.Insert(m.name, &Month{Season: m.season, Days: m.days, Ordnum: 100})
		require.ErrorIs(t, err, ErrExists, m.name)
	}
	n, err := c.months.Count()
	require.NoError(t, err)
	require.Equal(t, 12, n)

	var e *Error
	err = c.seasons.Insert("Winter", &Season{})
	require.ErrorAs(t, err, &e)
	require.Equal(t, "insert", e.Op)
	require.Equal(t, "season", e.Table)
	require.Contains(t, err.Error(), "exists")
}

func TestTable_scenario(t *testing.T) {
	db := setup(t)
	c := openCalendar(t, db, true, ForeignAbort)

	// a month referencing a missing season
	err := c.months.Insert("September", &Month{Season: "Fall", Days: 30, Ordnum: 9})
	require.ErrorIs(t, err, ErrForeignKey)
	found, err := c.months.Exists("September")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.seasons.Insert("Fall", &Season{Order: 4}))
	require.NoError(t, c.months.Insert("September", &Month{Season: "Fall", Days: 30, Ordnum: 9}))
	require.Equal(t, &Month{Season: "Fall", Days: 30, Ordnum: 9}, c.month(t, "September"))

	require.NoError(t, c.seasons.Insert("Autumn", &Season{Order: 4}))
	require.NoError(t, c.months.Update("September", &Month{Season: "Autumn", Days: 31, Ordnum: 10}))
	require.Equal(t, &Month{Season: "Autumn", Days: 31, Ordnum: 10}, c.month(t, "September"))
	requireIndexed(t, c.byDays, 30, false)
	requireIndexed(t, c.byOrdnum, int64(9), false)
	requireIndexed(t, c.bySeason, "Fall", false)
	requireIndexed(t, c.byDays, 31, true)
	requireIndexed(t, c.byOrdnum, int64(10), true)
	requireIndexed(t, c.bySeason, "Autumn", true)

	err = c.months.Insert("October", &Month{Season: "Autumn", Days: 31, Ordnum: 10})
	require.ErrorIs(t, err, ErrExists)

	// uniqueness is checked before foreign keys
	require.NoError(t, c.seasons.Remove("Fall"))
	err = c.months.Insert("October", &Month{Season: "Fall", Days: 31, Ordnum: 10})
	require.ErrorIs(t, err, ErrExists)
	err = c.months.Insert("October", &Month{Season: "Fall", Days: 31, Ordnum: 11})
	require.ErrorIs(t, err, ErrForeignKey)
}

func TestTable_update(t *testing.T) {
	db := setup(t)
	c := openCalendar(t, db, true, ForeignAbort)
	c.populate(t)

	err := c.months.Update("Smarch", &Month{Season: "Winter", Days: 30, Ordnum: 13})
	require.ErrorIs(t, err, ErrNotFound)

	err = c.months.Update("May", &Month{Season: "Spring", Days: 31, Ordnum: 4})
	require.ErrorIs(t, err, ErrExists)
	err = c.months.Update("May", &Month{Season: "Monsoon", Days: 31, Ordnum: 5})
	require.ErrorIs(t, err, ErrForeignKey)
	require.Equal(t, &Month{Season: "Spring", Days: 31, Ordnum: 5}, c.month(t, "May"))

	// keeping the same unique key is not a collision
	require.NoError(t, c.months.Update("May", &Month{Season: "Summer", Days: 31, Ordnum: 5}))
	rs, err := c.bySeason.ScanKey("Summer")
	require.Equal(t, []string{"August", "July", "June", "May"}, scanNames(t, rs, err))
}

func TestTable_selectAndRemove(t *testing.T) {
	db := setup(t)
	c := openCalendar(t, db, true, ForeignAbort)
	c.populate(t)

	var m Month
	require.ErrorIs(t, c.months.Select("Smarch", &m), ErrNotFound)
	require.ErrorIs(t, c.months.Remove("Smarch"), ErrNotFound)

	require.NoError(t, c.months.Remove("February"))
	require.ErrorIs(t, c.months.Select("February", &m), ErrNotFound)
	requireIndexed(t, c.byDays, 28, false)
	requireIndexed(t, c.byOrdnum, int64(2), false)

	n, err := c.months.Count()
	require.NoError(t, err)
	require.Equal(t, 11, n)
	n, err = c.bySeason.Count()
	require.NoError(t, err)
	require.Equal(t, 11, n)
}

func TestTable_keyCodecs(t *testing.T) {
	db := setup(t)
	tbl, err := db.AddTable("raw", Raw, true, WithDataCodec(JSON))
	require.NoError(t, err)

	require.NoError(t, tbl.Insert([]byte{0xff, 0x01}, map[string]int{"x": 1}))
	require.NoError(t, tbl.Insert("a", map[string]int{"x": 2}))

	var out map[string]int
	require.NoError(t, tbl.Select([]byte{0xff, 0x01}, &out))
	require.Equal(t, map[string]int{"x": 1}, out)

	err = tbl.Insert("", 1)
	require.Equal(t, Unknown, CodeOf(err))
	err = tbl.Insert(42, 1)
	require.Equal(t, Unknown, CodeOf(err))

	rs, err := tbl.Scan()
	require.NoError(t, err)
	defer rs.Close()
	var key []byte
	found, err := rs.Fetch(&key, &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("a"), key)
	require.Equal(t, map[string]int{"x": 2}, out)
}

func TestTable_extractorPanics(t *testing.T) {
	db := setup(t)
	tbl, err := db.AddTable("t", nil, true)
	require.NoError(t, err)
	_, err = tbl.AddIndex("bad", ExtractFunc(func(rec Record) (any, bool, error) {
		panic("no index for you")
	}), nil, false)
	require.NoError(t, err)

	err = tbl.Insert("a", 1)
	require.Equal(t, Unknown, CodeOf(err))
	require.Contains(t, err.Error(), "no index for you")
	found, err := tbl.Exists("a")
	require.NoError(t, err)
	require.False(t, found)
}

func requireIndexed(t testing.TB, idx *Index, key any, want bool) {
	t.Helper()
	found, err := idx.Exists(key)
	require.NoError(t, err)
	require.Equal(t, want, found, "%s %v", idx.Name(), key)
}
