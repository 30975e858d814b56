package reldb

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"github.com/andreyvit/reldb/engine"
)

// ForeignPolicy says what happens to referencing records when the
// referenced record is removed.
type ForeignPolicy int

const (
	// ForeignAbort refuses the removal with ForeignKey.
	ForeignAbort ForeignPolicy = iota
	// ForeignCascade removes the referencing records too.
	ForeignCascade
	// ForeignNullify rewrites the referencing records with a Nullifier.
	ForeignNullify
)

func (p ForeignPolicy) String() string {
	switch p {
	case ForeignAbort:
		return "abort"
	case ForeignCascade:
		return "cascade"
	case ForeignNullify:
		return "nullify"
	default:
		return "invalid"
	}
}

type foreignKey struct {
	target  *Table
	policy  ForeignPolicy
	nullify Nullifier
}

// AddForeign makes the index a foreign key: every index key must be the
// primary key of a record in foreign, encoded the same way. Removing a
// referenced record fails with ForeignKey, or with cascade set, removes the
// referencing records.
//
// Like indexes, foreign keys are not persisted.
func (idx *Index) AddForeign(foreign *Table, cascade bool) error {
	policy := ForeignAbort
	if cascade {
		policy = ForeignCascade
	}
	return idx.addForeign(foreign, policy, nil)
}

// AddForeignNullify makes the index a foreign key whose referencing records
// are rewritten by nullify when the referenced record is removed.
func (idx *Index) AddForeignNullify(foreign *Table, nullify Nullifier) error {
	if nullify == nil {
		return tableErrf(Unknown, "add foreign", idx.table, idx, nil, nil, "nullifier required")
	}
	return idx.addForeign(foreign, ForeignNullify, nullify)
}

func (idx *Index) addForeign(foreign *Table, policy ForeignPolicy, nullify Nullifier) error {
	const op = "add foreign"
	db := idx.table.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := idx.checkLocked(op); err != nil {
		return err
	}
	if foreign == nil || foreign.db != db || foreign.closed {
		return tableErrf(Unknown, op, idx.table, idx, nil, nil, "foreign table must be an open table of the same database")
	}
	if idx.foreign != nil {
		return tableErrf(Unknown, op, idx.table, idx, nil, nil, "already references %s", idx.foreign.target.name)
	}

	idx.foreign = &foreignKey{target: foreign, policy: policy, nullify: nullify}
	foreign.dependents = append(foreign.dependents, idx)
	db.log.WithFields(logrus.Fields{
		"table":   idx.table.name,
		"index":   idx.name,
		"foreign": foreign.name,
		"policy":  policy.String(),
	}).Debug("reldb: foreign key added")
	return nil
}

func (idx *Index) checkForeignLocked(op string, txn *engine.Txn, ik, pk []byte) error {
	fk := idx.foreign
	if fk == nil {
		return nil
	}
	found, err := txn.Exists(fk.target.bucket, ik)
	if err != nil {
		return tableErrf(Unknown, op, idx.table, idx, pk, err, "")
	}
	if !found {
		return tableErrf(ForeignKey, op, idx.table, idx, pk, nil, "no %s record %s", fk.target.name, hexstr(ik))
	}
	return nil
}

// enforceForeignLocked applies the index's policy to the records that
// reference fkey, which is about to be removed from target.
func (idx *Index) enforceForeignLocked(txn *engine.Txn, target *Table, fkey []byte, removing removalSet) error {
	const op = "remove"
	fk := idx.foreign
	tbl := idx.table

	pks, err := idx.primaryKeysLocked(txn, fkey)
	if err != nil {
		return tableErrf(Unknown, op, tbl, idx, fkey, err, "")
	}
	if len(pks) == 0 {
		return nil
	}

	switch fk.policy {
	case ForeignAbort:
		return tableErrf(ForeignKey, op, target, nil, fkey, nil, "referenced by %d %s records via %s", len(pks), tbl.name, idx.name)

	case ForeignCascade:
		for _, pk := range pks {
			if !removing.add(tbl, pk) {
				continue
			}
			found, err := txn.Exists(tbl.bucket, pk)
			if err != nil {
				return tableErrf(Unknown, op, tbl, nil, pk, err, "")
			}
			if !found {
				continue
			}
			if err := tbl.removeLocked(txn, pk, removing); err != nil {
				return err
			}
		}
		return nil

	case ForeignNullify:
		for _, pk := range pks {
			if removing.has(tbl, pk) {
				continue
			}
			if err := idx.nullifyLocked(txn, target, pk, fkey); err != nil {
				return err
			}
		}
		return nil
	}
	return tableErrf(Unknown, op, tbl, idx, fkey, nil, "invalid foreign key policy %d", fk.policy)
}

func (idx *Index) nullifyLocked(txn *engine.Txn, target *Table, pk, fkey []byte) error {
	const op = "remove"
	tbl := idx.table

	data, err := txn.Get(tbl.bucket, pk)
	if err != nil {
		if engineCode(err) == NotFound {
			return nil
		}
		return tableErrf(Unknown, op, tbl, nil, pk, err, "")
	}

	rec := Record{Key: pk, Data: data, table: tbl}
	newData, ok, err := safelyCall(func() (any, bool, error) {
		return idx.foreign.nullify.Nullify(rec, fkey)
	})
	if err != nil {
		return tableErrf(Unknown, op, tbl, idx, pk, err, "nullifying")
	}
	if !ok {
		return tableErrf(ForeignKey, op, target, nil, fkey, nil, "%s record %s cannot be nullified", tbl.name, hexstr(pk))
	}

	vb, err := tbl.encodeData(op, pk, newData)
	if err != nil {
		return err
	}
	ik, still, err := idx.derive(op, Record{Key: pk, Data: vb, table: tbl})
	if err != nil {
		return err
	}
	if still && bytes.Equal(ik, fkey) {
		return tableErrf(ForeignKey, op, target, nil, fkey, nil, "nullified %s record %s still references it", tbl.name, hexstr(pk))
	}
	return tbl.updateLocked(txn, pk, vb)
}
