package reldb

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"github.com/andreyvit/reldb/engine"
)

// Table is a set of records with unique primary keys. Records are kept in
// the byte order of their encoded keys.
type Table struct {
	db     *Database
	name   string
	bucket string
	keys   Codec
	data   Codec

	indexes []*Index
	// dependents are foreign-key indexes of any table that reference this one.
	dependents []*Index

	// created is the transaction depth that created the bucket, 0 if it
	// predates every open transaction.
	created int
	closed  bool
}

type TableOption func(tbl *Table)

// WithDataCodec sets the codec of the table's records.
func WithDataCodec(c Codec) TableOption {
	return func(tbl *Table) {
		tbl.data = c
	}
}

func tableBucket(name string) string {
	return name + ".db"
}

// AddTable opens the named table, or creates it if create is set. keys
// orders and encodes primary keys; nil means Ordered. NotFound if the table
// is missing and create is unset, Exists if it is present and create is set.
//
// Indexes and foreign keys are not persisted: add them every time the table
// is opened. A table created inside a transaction that is rolled back is
// closed along with its indexes.
func (db *Database) AddTable(name string, keys Codec, create bool, opts ...TableOption) (*Table, error) {
	const op = "add table"
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpenLocked(op); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errf(Unknown, op, nil, "table name required")
	}

	tbl := &Table{
		db:     db,
		name:   name,
		bucket: tableBucket(name),
		keys:   keys,
		data:   db.dataCodec,
	}
	if tbl.keys == nil {
		tbl.keys = Ordered
	}
	for _, f := range opts {
		f(tbl)
	}

	txn := db.top()
	has, err := txn.HasBucket(tbl.bucket)
	if err != nil {
		return nil, tableErrf(Unknown, op, tbl, nil, nil, err, "")
	}
	switch {
	case create && has:
		return nil, tableErrf(Exists, op, tbl, nil, nil, nil, "")
	case !create && !has:
		return nil, tableErrf(NotFound, op, tbl, nil, nil, nil, "")
	case create:
		if err := txn.CreateBucket(tbl.bucket); err != nil {
			db.log.WithError(err).WithField("table", name).Warn("reldb: cannot create table")
			return nil, tableErrf(engineCode(err), op, tbl, nil, nil, err, "")
		}
		tbl.created = len(db.stack) - 1
	}

	db.tables = append(db.tables, tbl)
	db.log.WithFields(logrus.Fields{"table": name, "create": create}).Debug("reldb: table opened")
	return tbl, nil
}

func (tbl *Table) Name() string {
	return tbl.name
}

func (tbl *Table) Indexes() []*Index {
	return append([]*Index(nil), tbl.indexes...)
}

func (tbl *Table) checkLocked(op string) error {
	if err := tbl.db.checkOpenLocked(op); err != nil {
		return err
	}
	if tbl.closed {
		return tableErrf(Unknown, op, tbl, nil, nil, nil, "table is closed")
	}
	return nil
}

func (tbl *Table) encodeKey(op string, key any) ([]byte, error) {
	kb, err := tbl.keys.Encode(key)
	if err != nil {
		return nil, tableErrf(Unknown, op, tbl, nil, nil, err, "encoding key")
	}
	if len(kb) == 0 {
		return nil, tableErrf(Unknown, op, tbl, nil, nil, nil, "empty key")
	}
	return kb, nil
}

func (tbl *Table) encodeData(op string, key []byte, data any) ([]byte, error) {
	vb, err := tbl.data.Encode(data)
	if err != nil {
		return nil, tableErrf(Unknown, op, tbl, nil, key, err, "encoding data")
	}
	return vb, nil
}

// Insert adds a new record. Exists if the key is taken or a unique index
// would be duplicated; ForeignKey if a foreign-key index references a
// missing record.
func (tbl *Table) Insert(key, data any) (err error) {
	const op = "insert"
	db := tbl.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := tbl.checkLocked(op); err != nil {
		return err
	}
	kb, err := tbl.encodeKey(op, key)
	if err != nil {
		return err
	}
	defer func() { db.trace(op, tbl.name, kb, err) }()
	vb, err := tbl.encodeData(op, kb, data)
	if err != nil {
		return err
	}

	err = db.savepointLocked(func(txn *engine.Txn) error {
		return tbl.insertLocked(txn, kb, vb)
	})
	return asError(op, tbl, nil, kb, err)
}

func (tbl *Table) insertLocked(txn *engine.Txn, kb, vb []byte) error {
	const op = "insert"
	exists, err := txn.Exists(tbl.bucket, kb)
	if err != nil {
		return tableErrf(Unknown, op, tbl, nil, kb, err, "")
	}
	if exists {
		return tableErrf(Exists, op, tbl, nil, kb, nil, "")
	}

	rec := Record{Key: kb, Data: vb, table: tbl}
	var added []indexEntry
	for _, idx := range tbl.indexes {
		ik, ok, err := idx.derive(op, rec)
		if err != nil {
			return err
		}
		if ok {
			added = append(added, indexEntry{idx, ik})
		}
	}
	if err := addEntriesLocked(op, txn, added, kb); err != nil {
		return err
	}

	if err := txn.Put(tbl.bucket, kb, vb); err != nil {
		return tableErrf(Unknown, op, tbl, nil, kb, err, "")
	}
	return nil
}

// Update replaces the data of an existing record, rebuilding its index
// entries. NotFound if the record does not exist; Exists and ForeignKey as
// for Insert.
func (tbl *Table) Update(key, data any) (err error) {
	const op = "update"
	db := tbl.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := tbl.checkLocked(op); err != nil {
		return err
	}
	kb, err := tbl.encodeKey(op, key)
	if err != nil {
		return err
	}
	defer func() { db.trace(op, tbl.name, kb, err) }()
	vb, err := tbl.encodeData(op, kb, data)
	if err != nil {
		return err
	}

	err = db.savepointLocked(func(txn *engine.Txn) error {
		return tbl.updateLocked(txn, kb, vb)
	})
	return asError(op, tbl, nil, kb, err)
}

func (tbl *Table) updateLocked(txn *engine.Txn, kb, vb []byte) error {
	const op = "update"
	old, err := tbl.getLocked(op, txn, kb)
	if err != nil {
		return err
	}

	oldRec := Record{Key: kb, Data: old, table: tbl}
	newRec := Record{Key: kb, Data: vb, table: tbl}
	var added []indexEntry
	for _, idx := range tbl.indexes {
		oldIK, oldOK, err := idx.derive(op, oldRec)
		if err != nil {
			return err
		}
		newIK, newOK, err := idx.derive(op, newRec)
		if err != nil {
			return err
		}
		if oldOK == newOK && bytes.Equal(oldIK, newIK) {
			continue
		}
		if oldOK {
			if err := idx.deleteEntryLocked(op, txn, oldIK, kb); err != nil {
				return err
			}
		}
		if newOK {
			added = append(added, indexEntry{idx, newIK})
		}
	}
	if err := addEntriesLocked(op, txn, added, kb); err != nil {
		return err
	}

	if err := txn.Put(tbl.bucket, kb, vb); err != nil {
		return tableErrf(Unknown, op, tbl, nil, kb, err, "")
	}
	return nil
}

// Remove deletes a record and its index entries. Records of other tables
// that reference it through foreign keys are handled first according to
// their policy: abort fails with ForeignKey, cascade removes them, nullify
// rewrites them. NotFound if the record does not exist.
func (tbl *Table) Remove(key any) (err error) {
	const op = "remove"
	db := tbl.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := tbl.checkLocked(op); err != nil {
		return err
	}
	kb, err := tbl.encodeKey(op, key)
	if err != nil {
		return err
	}
	defer func() { db.trace(op, tbl.name, kb, err) }()

	err = db.savepointLocked(func(txn *engine.Txn) error {
		return tbl.removeLocked(txn, kb, make(removalSet))
	})
	return asError(op, tbl, nil, kb, err)
}

// removalSet holds the records being removed by one Remove call, so that
// cyclic cascades terminate.
type removalSet map[string]bool

func (rs removalSet) add(tbl *Table, kb []byte) bool {
	k := tbl.bucket + "\x00" + string(kb)
	if rs[k] {
		return false
	}
	rs[k] = true
	return true
}

func (rs removalSet) has(tbl *Table, kb []byte) bool {
	return rs[tbl.bucket+"\x00"+string(kb)]
}

func (tbl *Table) removeLocked(txn *engine.Txn, kb []byte, removing removalSet) error {
	const op = "remove"
	if _, err := tbl.getLocked(op, txn, kb); err != nil {
		return err
	}
	removing.add(tbl, kb)

	for _, dep := range tbl.dependents {
		if err := dep.enforceForeignLocked(txn, tbl, kb, removing); err != nil {
			return err
		}
	}

	// dependents may have rewritten this very record
	data, err := tbl.getLocked(op, txn, kb)
	if err != nil {
		return err
	}
	rec := Record{Key: kb, Data: data, table: tbl}
	for _, idx := range tbl.indexes {
		ik, ok, err := idx.derive(op, rec)
		if err != nil {
			return err
		}
		if ok {
			if err := idx.deleteEntryLocked(op, txn, ik, kb); err != nil {
				return err
			}
		}
	}

	if err := txn.Delete(tbl.bucket, kb); err != nil {
		return tableErrf(Unknown, op, tbl, nil, kb, err, "")
	}
	return nil
}

// Exists reports whether a record with the given key exists.
func (tbl *Table) Exists(key any) (found bool, err error) {
	const op = "exists"
	db := tbl.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := tbl.checkLocked(op); err != nil {
		return false, err
	}
	kb, err := tbl.encodeKey(op, key)
	if err != nil {
		return false, err
	}
	defer func() { db.trace(op, tbl.name, kb, err) }()

	found, err = db.top().Exists(tbl.bucket, kb)
	if err != nil {
		return false, tableErrf(Unknown, op, tbl, nil, kb, err, "")
	}
	return found, nil
}

// Select reads the record with the given key into out. NotFound if there is
// no such record.
func (tbl *Table) Select(key, out any) (err error) {
	const op = "select"
	db := tbl.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := tbl.checkLocked(op); err != nil {
		return err
	}
	kb, err := tbl.encodeKey(op, key)
	if err != nil {
		return err
	}
	defer func() { db.trace(op, tbl.name, kb, err) }()

	vb, err := tbl.getLocked(op, db.top(), kb)
	if err != nil {
		return err
	}
	return tbl.decodeData(op, kb, vb, out)
}

// Count returns the number of records.
func (tbl *Table) Count() (int, error) {
	const op = "count"
	db := tbl.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := tbl.checkLocked(op); err != nil {
		return 0, err
	}
	n, err := countBucket(db.top(), tbl.bucket, nil)
	if err != nil {
		return 0, tableErrf(Unknown, op, tbl, nil, nil, err, "")
	}
	return n, nil
}

func (tbl *Table) getLocked(op string, txn *engine.Txn, kb []byte) ([]byte, error) {
	vb, err := txn.Get(tbl.bucket, kb)
	if err != nil {
		return nil, tableErrf(engineCode(err), op, tbl, nil, kb, err, "")
	}
	return vb, nil
}

func (tbl *Table) decodeKey(op string, kb []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := tbl.keys.Decode(kb, out); err != nil {
		return tableErrf(Unknown, op, tbl, nil, kb, err, "decoding key")
	}
	return nil
}

func (tbl *Table) decodeData(op string, kb, vb []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := tbl.data.Decode(vb, out); err != nil {
		return tableErrf(Unknown, op, tbl, nil, kb, err, "decoding data")
	}
	return nil
}

func countBucket(txn *engine.Txn, bucket string, prefix []byte) (int, error) {
	c, err := txn.Cursor(bucket, prefix)
	if err != nil {
		return 0, err
	}
	defer c.Close()
	var n int
	for {
		k, _, err := c.Next()
		if err != nil {
			return 0, err
		}
		if k == nil {
			return n, nil
		}
		n++
	}
}
