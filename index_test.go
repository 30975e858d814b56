package reldb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndex_populatesExistingRecords(t *testing.T) {
	db := setup(t)
	tbl, err := db.AddTable("word", nil, true)
	require.NoError(t, err)
	for _, w := range []string{"apple", "avocado", "banana", "blueberry", "cherry"} {
		require.NoError(t, tbl.Insert(w, w))
	}

	byInitial, err := tbl.AddIndex("initial", ExtractData(func(w *string) (string, bool) {
		return (*w)[:1], true
	}), nil, false)
	require.NoError(t, err)
	require.Equal(t, "initial", byInitial.Name())
	require.Same(t, tbl, byInitial.Table())
	require.False(t, byInitial.Unique())

	n, err := byInitial.Count()
	require.NoError(t, err)
	require.Equal(t, 5, n)
	rs, err := byInitial.ScanKey("b")
	require.Equal(t, []string{"banana", "blueberry"}, scanNames(t, rs, err))

	_, err = tbl.AddIndex("initial", ExtractData(func(w *string) (string, bool) {
		return *w, true
	}), nil, false)
	require.ErrorIs(t, err, ErrExists)
	require.Len(t, tbl.Indexes(), 1)
}

func TestIndex_uniqueViolationWhilePopulating(t *testing.T) {
	db := setup(t)
	tbl, err := db.AddTable("word", nil, true)
	require.NoError(t, err)
	for _, w := range []string{"apple", "avocado"} {
		require.NoError(t, tbl.Insert(w, w))
	}

	_, err = tbl.AddIndex("initial", ExtractData(func(w *string) (string, bool) {
		return (*w)[:1], true
	}), nil, true)
	require.ErrorIs(t, err, ErrExists)
	require.Empty(t, tbl.Indexes())

	names, err := db.Buckets()
	require.NoError(t, err)
	require.NotContains(t, names, "word.initial.ix")
}

func TestIndex_skipsUnindexedRecords(t *testing.T) {
	db := setup(t)
	tbl, err := db.AddTable("word", nil, true)
	require.NoError(t, err)
	long, err := tbl.AddIndex("long", ExtractData(func(w *string) (int, bool) {
		return len(*w), len(*w) > 5
	}), nil, false)
	require.NoError(t, err)

	for _, w := range []string{"fig", "banana", "kiwi", "cherry", "blueberry"} {
		require.NoError(t, tbl.Insert(w, w))
	}
	rs, err := long.Scan()
	require.Equal(t, []string{"banana", "cherry", "blueberry"}, scanNames(t, rs, err))

	require.NoError(t, tbl.Update("kiwi", "kiwifruit"))
	require.NoError(t, tbl.Update("banana", "nana"))
	rs, err = long.Scan()
	require.Equal(t, []string{"cherry", "blueberry", "kiwi"}, scanNames(t, rs, err))
	requireIndexed(t, long, 6, true)
	requireIndexed(t, long, 4, false)
}

func TestIndex_compositeKeys(t *testing.T) {
	type nameKey struct {
		Last  string
		First string
	}
	type person struct {
		First string `msgpack:"f"`
		Last  string `msgpack:"l"`
	}

	db := setup(t)
	tbl, err := db.AddTable("person", nil, true)
	require.NoError(t, err)
	byName, err := tbl.AddIndex("name", ExtractData(func(p *person) (nameKey, bool) {
		return nameKey{strings.ToLower(p.Last), strings.ToLower(p.First)}, true
	}), nil, true)
	require.NoError(t, err)

	require.NoError(t, tbl.Insert(1, &person{"Ada", "Lovelace"}))
	require.NoError(t, tbl.Insert(2, &person{"Alan", "Turing"}))
	require.NoError(t, tbl.Insert(3, &person{"Grace", "Hopper"}))
	require.ErrorIs(t, tbl.Insert(4, &person{"ADA", "LOVELACE"}), ErrExists)

	rs, err := byName.Scan()
	require.NoError(t, err)
	defer rs.Close()
	var ids []int
	for {
		var id int
		found, err := rs.Fetch(&id, nil)
		require.NoError(t, err)
		if !found {
			break
		}
		ids = append(ids, id)
	}
	require.Equal(t, []int{3, 1, 2}, ids)
}
