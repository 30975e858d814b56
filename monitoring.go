package reldb

import (
	"github.com/andreyvit/reldb/engine"
)

// TableStats describes the committed storage of a table and its indexes.
// Changes still pending in open transactions are not included.
type TableStats struct {
	Rows      int
	IndexRows int

	DataSize   int64
	DataAlloc  int64
	IndexSize  int64
	IndexAlloc int64
}

func (ts *TableStats) TotalSize() int64 {
	return ts.DataSize + ts.IndexSize
}

func (ts *TableStats) TotalAlloc() int64 {
	return ts.DataAlloc + ts.IndexAlloc
}

func (tbl *Table) Stats() (TableStats, error) {
	const op = "stats"
	db := tbl.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := tbl.checkLocked(op); err != nil {
		return TableStats{}, err
	}

	txn := db.top()
	bs, err := txn.Stats(tbl.bucket)
	if err != nil {
		return TableStats{}, tableErrf(Unknown, op, tbl, nil, nil, err, "")
	}
	result := TableStats{
		Rows:      bs.KeyN,
		DataSize:  bs.LeafInuse,
		DataAlloc: bs.TotalAlloc(),
	}

	for _, idx := range tbl.indexes {
		bs, err := txn.Stats(idx.bucket)
		if err != nil {
			return TableStats{}, tableErrf(Unknown, op, tbl, idx, nil, err, "")
		}
		result.IndexRows += bs.KeyN
		result.IndexSize += bs.LeafInuse
		result.IndexAlloc += bs.TotalAlloc()
	}
	return result, nil
}

// Size returns the size of the database file in bytes.
func (db *Database) Size() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0
	}
	return db.stack[0].Size()
}

// Buckets lists the storage buckets of the database: tables end in ".db",
// indexes in ".ix", and sequences live in "__seq".
func (db *Database) Buckets() ([]string, error) {
	const op = "buckets"
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpenLocked(op); err != nil {
		return nil, err
	}
	names, err := db.top().BucketNames()
	if err != nil {
		return nil, errf(Unknown, op, err, "")
	}
	return names, nil
}

// BucketStats returns the committed statistics of one bucket.
func (db *Database) BucketStats(name string) (engine.BucketStats, error) {
	const op = "bucket stats"
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpenLocked(op); err != nil {
		return engine.BucketStats{}, err
	}
	bs, err := db.top().Stats(name)
	if err != nil {
		return engine.BucketStats{}, errf(engineCode(err), op, err, "%s", name)
	}
	return bs, nil
}
