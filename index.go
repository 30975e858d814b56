package reldb

import (
	"bytes"

	"github.com/jgraettinger/cockroach-encoding/encoding"
	"github.com/sirupsen/logrus"

	"github.com/andreyvit/reldb/engine"
)

// Index is a secondary index of a table. Its entries are derived from every
// record by an Extractor and maintained by every Insert, Update and Remove.
//
// Entry layout: the index key is framed with EncodeBytesAscending, which
// makes it self-delimiting, so all entries for one index key share an exact
// prefix. A unique index stores one entry per index key; a non-unique one
// appends the primary key, so duplicates are ordered by primary key. The
// entry value is always the primary key.
type Index struct {
	table   *Table
	name    string
	bucket  string
	extract Extractor
	keys    Codec
	unique  bool

	foreign *foreignKey
	created int
	dropped bool
}

func indexBucket(table, name string) string {
	return table + "." + name + ".ix"
}

// AddIndex opens the named index of the table, creating it if necessary.
// keys encodes the extracted index keys; nil means Ordered. A newly created
// index is populated from the records already in the table (Exists if they
// violate uniqueness). An index created inside a transaction that is rolled
// back is dropped from the table.
func (tbl *Table) AddIndex(name string, extract Extractor, keys Codec, unique bool) (*Index, error) {
	const op = "add index"
	db := tbl.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := tbl.checkLocked(op); err != nil {
		return nil, err
	}
	if name == "" || extract == nil {
		return nil, tableErrf(Unknown, op, tbl, nil, nil, nil, "index name and extractor required")
	}
	for _, other := range tbl.indexes {
		if other.name == name {
			return nil, tableErrf(Exists, op, tbl, other, nil, nil, "index already added")
		}
	}

	idx := &Index{
		table:   tbl,
		name:    name,
		bucket:  indexBucket(tbl.name, name),
		extract: extract,
		keys:    keys,
		unique:  unique,
	}
	if idx.keys == nil {
		idx.keys = Ordered
	}

	err := db.savepointLocked(func(txn *engine.Txn) error {
		has, err := txn.HasBucket(idx.bucket)
		if err != nil {
			return tableErrf(Unknown, op, tbl, idx, nil, err, "")
		}
		if has {
			return nil
		}
		if err := txn.CreateBucket(idx.bucket); err != nil {
			return tableErrf(Unknown, op, tbl, idx, nil, err, "")
		}
		idx.created = len(db.stack) - 1
		return idx.populateLocked(txn)
	})
	if err != nil {
		db.log.WithError(err).WithFields(logrus.Fields{"table": tbl.name, "index": name}).Warn("reldb: cannot add index")
		return nil, asError(op, tbl, idx, nil, err)
	}

	tbl.indexes = append(tbl.indexes, idx)
	db.log.WithFields(logrus.Fields{"table": tbl.name, "index": name, "unique": unique}).Debug("reldb: index opened")
	return idx, nil
}

// populateLocked adds entries for the records already in the table.
func (idx *Index) populateLocked(txn *engine.Txn) error {
	const op = "add index"
	c, err := txn.Cursor(idx.table.bucket, nil)
	if err != nil {
		return tableErrf(Unknown, op, idx.table, idx, nil, err, "")
	}
	defer c.Close()

	var n int
	for {
		kb, vb, err := c.Next()
		if err != nil {
			return tableErrf(Unknown, op, idx.table, idx, nil, err, "")
		}
		if kb == nil {
			break
		}
		ik, ok, err := idx.derive(op, Record{Key: kb, Data: vb, table: idx.table})
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := addEntriesLocked(op, txn, []indexEntry{{idx, ik}}, kb); err != nil {
			return err
		}
		n++
	}
	if n > 0 {
		idx.table.db.log.WithFields(logrus.Fields{"table": idx.table.name, "index": idx.name, "entries": n}).Info("reldb: index populated")
	}
	return nil
}

func (idx *Index) checkLocked(op string) error {
	if err := idx.table.checkLocked(op); err != nil {
		return err
	}
	if idx.dropped {
		return tableErrf(Unknown, op, idx.table, idx, nil, nil, "index was rolled back")
	}
	return nil
}

// dropLocked detaches the index from the foreign table it references.
func (idx *Index) dropLocked() {
	idx.dropped = true
	fk := idx.foreign
	if fk == nil {
		return
	}
	deps := fk.target.dependents[:0:0]
	for _, dep := range fk.target.dependents {
		if dep != idx {
			deps = append(deps, dep)
		}
	}
	fk.target.dependents = deps
}

func (idx *Index) Name() string {
	return idx.name
}

func (idx *Index) Table() *Table {
	return idx.table
}

func (idx *Index) Unique() bool {
	return idx.unique
}

// derive computes the encoded index key of a record. A panic or error in
// the extractor is reported as Unknown.
func (idx *Index) derive(op string, rec Record) ([]byte, bool, error) {
	v, ok, err := safelyCall(func() (any, bool, error) {
		return idx.extract.Extract(rec)
	})
	if err != nil {
		return nil, false, tableErrf(Unknown, op, idx.table, idx, rec.Key, err, "extracting index key")
	}
	if !ok {
		return nil, false, nil
	}
	ik, err := idx.keys.Encode(v)
	if err != nil {
		return nil, false, tableErrf(Unknown, op, idx.table, idx, rec.Key, err, "encoding index key")
	}
	return ik, true, nil
}

func (idx *Index) entryPrefix(ik []byte) []byte {
	return encoding.EncodeBytesAscending(nil, ik)
}

func (idx *Index) entryKey(ik, pk []byte) []byte {
	ek := idx.entryPrefix(ik)
	if !idx.unique {
		ek = append(ek, pk...)
	}
	return ek
}

// indexEntry is a derived index key of one record.
type indexEntry struct {
	idx *Index
	ik  []byte
}

// addEntriesLocked adds index entries pointing at pk. Uniqueness of all of
// them is checked before any foreign key, so a duplicate is reported as
// Exists even if the record also has a dangling reference.
func addEntriesLocked(op string, txn *engine.Txn, entries []indexEntry, pk []byte) error {
	for _, e := range entries {
		if err := e.idx.checkUniqueLocked(op, txn, e.ik, pk); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := e.idx.checkForeignLocked(op, txn, e.ik, pk); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := txn.Put(e.idx.bucket, e.idx.entryKey(e.ik, pk), pk); err != nil {
			return tableErrf(Unknown, op, e.idx.table, e.idx, pk, err, "")
		}
	}
	return nil
}

func (idx *Index) checkUniqueLocked(op string, txn *engine.Txn, ik, pk []byte) error {
	if !idx.unique {
		return nil
	}
	existing, err := txn.Get(idx.bucket, idx.entryKey(ik, pk))
	switch {
	case err == nil && !bytes.Equal(existing, pk):
		return tableErrf(Exists, op, idx.table, idx, pk, nil, "duplicate index key %s", hexstr(ik))
	case err != nil && engineCode(err) != NotFound:
		return tableErrf(Unknown, op, idx.table, idx, pk, err, "")
	}
	return nil
}

func (idx *Index) deleteEntryLocked(op string, txn *engine.Txn, ik, pk []byte) error {
	if err := txn.Delete(idx.bucket, idx.entryKey(ik, pk)); err != nil {
		return tableErrf(Unknown, op, idx.table, idx, pk, err, "")
	}
	return nil
}

// primaryKeysLocked returns the primary keys of all records with index key ik.
func (idx *Index) primaryKeysLocked(txn *engine.Txn, ik []byte) ([][]byte, error) {
	c, err := txn.Cursor(idx.bucket, idx.entryPrefix(ik))
	if err != nil {
		return nil, err
	}
	defer c.Close()
	var pks [][]byte
	for {
		k, pk, err := c.Next()
		if err != nil {
			return nil, err
		}
		if k == nil {
			return pks, nil
		}
		pks = append(pks, pk)
	}
}

// Exists reports whether at least one record has the given index key.
func (idx *Index) Exists(key any) (found bool, err error) {
	const op = "index exists"
	db := idx.table.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := idx.checkLocked(op); err != nil {
		return false, err
	}
	ik, err := idx.keys.Encode(key)
	if err != nil {
		return false, tableErrf(Unknown, op, idx.table, idx, nil, err, "encoding index key")
	}
	defer func() { db.trace(op, idx.table.name, ik, err) }()

	c, err := db.top().Cursor(idx.bucket, idx.entryPrefix(ik))
	if err != nil {
		return false, tableErrf(Unknown, op, idx.table, idx, nil, err, "")
	}
	defer c.Close()
	k, _, err := c.First()
	if err != nil {
		return false, tableErrf(Unknown, op, idx.table, idx, nil, err, "")
	}
	return k != nil, nil
}

// Count returns the number of index entries.
func (idx *Index) Count() (int, error) {
	const op = "index count"
	db := idx.table.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := idx.checkLocked(op); err != nil {
		return 0, err
	}
	n, err := countBucket(db.top(), idx.bucket, nil)
	if err != nil {
		return 0, tableErrf(Unknown, op, idx.table, idx, nil, err, "")
	}
	return n, nil
}
