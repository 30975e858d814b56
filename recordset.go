package reldb

import (
	"github.com/andreyvit/reldb/engine"
)

type recordsetKind int

const (
	tableScan recordsetKind = iota + 1
	indexScan
	keyScan
	joinScan
)

func (k recordsetKind) String() string {
	switch k {
	case tableScan:
		return "table"
	case indexScan:
		return "index"
	case keyScan:
		return "key"
	case joinScan:
		return "join"
	default:
		return "invalid"
	}
}

// Recordset iterates records of a table: all of them in primary key order
// (Table.Scan), all of them in index order (Index.Scan), those with one index
// key (Index.ScanKey), or the intersection of several key scans (Table.Join).
//
// A recordset reads through the transaction that was current when it was
// opened; once that transaction ends, Fetch fails. Recordsets still open
// when the database closes are closed with it.
type Recordset struct {
	db     *Database
	kind   recordsetKind
	table  *Table
	index  *Index
	txn    *engine.Txn
	cursor *engine.Cursor
	prefix []byte // keyScan: entry prefix of the bound index key

	isset    bool
	consumed bool // a member of a join
	closed   bool

	members   []*Recordset
	current   [][]byte
	exhausted bool
}

// Scan opens a recordset over all records in primary key order.
func (tbl *Table) Scan() (*Recordset, error) {
	const op = "scan"
	db := tbl.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := tbl.checkLocked(op); err != nil {
		return nil, err
	}
	return db.openRecordsetLocked(op, tableScan, tbl, nil, tbl.bucket, nil)
}

// Scan opens a recordset over all indexed records in index key order;
// records sharing an index key come in primary key order.
func (idx *Index) Scan() (*Recordset, error) {
	const op = "scan index"
	db := idx.table.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := idx.checkLocked(op); err != nil {
		return nil, err
	}
	return db.openRecordsetLocked(op, indexScan, idx.table, idx, idx.bucket, nil)
}

// ScanKey opens a recordset over the records with the given index key, in
// primary key order.
func (idx *Index) ScanKey(key any) (*Recordset, error) {
	const op = "scan key"
	db := idx.table.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := idx.checkLocked(op); err != nil {
		return nil, err
	}
	ik, err := idx.keys.Encode(key)
	if err != nil {
		return nil, tableErrf(Unknown, op, idx.table, idx, nil, err, "encoding index key")
	}
	return db.openRecordsetLocked(op, keyScan, idx.table, idx, idx.bucket, idx.entryPrefix(ik))
}

func (db *Database) openRecordsetLocked(op string, kind recordsetKind, tbl *Table, idx *Index, bucket string, prefix []byte) (*Recordset, error) {
	txn := db.top()
	c, err := txn.Cursor(bucket, prefix)
	if err != nil {
		return nil, tableErrf(Unknown, op, tbl, idx, nil, err, "")
	}
	rs := &Recordset{
		db:     db,
		kind:   kind,
		table:  tbl,
		index:  idx,
		txn:    txn,
		cursor: c,
		prefix: prefix,
	}
	db.recordsets[rs] = struct{}{}
	return rs, nil
}

func (rs *Recordset) Table() *Table {
	return rs.table
}

func (rs *Recordset) checkLocked(op string) error {
	if err := rs.db.checkOpenLocked(op); err != nil {
		return err
	}
	switch {
	case rs.closed:
		return tableErrf(Unknown, op, rs.table, rs.index, nil, nil, "recordset is closed")
	case rs.consumed:
		return tableErrf(Unknown, op, rs.table, rs.index, nil, nil, "recordset is consumed by a join")
	case rs.txn.Done():
		return tableErrf(Unknown, op, rs.table, rs.index, nil, nil, "transaction of the recordset has ended")
	}
	return nil
}

// Fetch advances to the next record and decodes its primary key into key
// and its data into data; either may be nil to skip decoding. It returns
// false when there are no more records.
func (rs *Recordset) Fetch(key, data any) (found bool, err error) {
	const op = "fetch"
	db := rs.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := rs.checkLocked(op); err != nil {
		return false, err
	}

	var pk, vb []byte
	defer func() { db.trace(op, rs.table.name, pk, err) }()

	switch rs.kind {
	case tableScan:
		pk, vb, err = rs.advance()
		if err != nil {
			return false, tableErrf(Unknown, op, rs.table, nil, nil, err, "")
		}
	case indexScan, keyScan:
		var ek []byte
		ek, pk, err = rs.advance()
		if err != nil {
			return false, tableErrf(Unknown, op, rs.table, rs.index, nil, err, "")
		}
		if ek == nil {
			pk = nil
		}
	case joinScan:
		pk, err = rs.joinNextLocked()
		if err != nil {
			return false, err
		}
	}
	if pk == nil {
		return false, nil
	}

	if rs.kind != tableScan {
		vb, err = rs.txn.Get(rs.table.bucket, pk)
		if err != nil {
			return false, tableErrf(Unknown, op, rs.table, rs.index, pk, err, "index entry without record")
		}
	}
	if err := rs.table.decodeKey(op, pk, key); err != nil {
		return false, err
	}
	if err := rs.table.decodeData(op, pk, vb, data); err != nil {
		return false, err
	}
	return true, nil
}

func (rs *Recordset) advance() ([]byte, []byte, error) {
	var k, v []byte
	var err error
	if rs.isset {
		k, v, err = rs.cursor.Next()
	} else {
		k, v, err = rs.cursor.First()
	}
	if err != nil {
		return nil, nil, err
	}
	if k != nil {
		rs.isset = true
	}
	return k, v, nil
}

// Rewind moves back before the first record. Joins cannot be rewound.
func (rs *Recordset) Rewind() error {
	const op = "rewind"
	rs.db.mu.Lock()
	defer rs.db.mu.Unlock()
	if err := rs.checkLocked(op); err != nil {
		return err
	}
	if rs.kind == joinScan {
		return tableErrf(Unknown, op, rs.table, nil, nil, nil, "joins cannot be rewound")
	}
	rs.isset = false
	return nil
}

// Close releases the recordset. Closing a join releases its members;
// closing a member of a join does nothing.
func (rs *Recordset) Close() error {
	rs.db.mu.Lock()
	defer rs.db.mu.Unlock()
	if rs.consumed {
		return nil
	}
	rs.releaseLocked()
	return nil
}

func (rs *Recordset) releaseLocked() {
	if rs.closed {
		return
	}
	rs.closed = true
	if rs.cursor != nil {
		rs.cursor.Close()
	}
	for _, m := range rs.members {
		m.closed = true
		m.cursor.Close()
	}
	delete(rs.db.recordsets, rs)
}
