package reldb

import (
	"time"

	"github.com/sirupsen/logrus"
)

// BeginTransaction starts a transaction nested in the current one. All
// subsequent operations run inside it until it is committed or rolled back.
func (db *Database) BeginTransaction() error {
	const op = "begin"
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpenLocked(op); err != nil {
		return err
	}

	txn, err := db.top().Begin()
	if err != nil {
		db.log.WithError(err).Warn("reldb: cannot begin transaction")
		return errf(Unknown, op, err, "depth %d", len(db.stack))
	}
	db.stack = append(db.stack, txn)
	db.started = append(db.started, time.Now())
	db.metrics.observeTx(txBegin, len(db.stack)-1)
	if db.verbose {
		db.log.WithField("depth", txn.Depth()).Debug("reldb: begin")
	}
	return nil
}

// CommitTransaction commits the innermost transaction into its parent.
// NotFound if no transaction is open.
func (db *Database) CommitTransaction() error {
	return db.finishTransaction("commit", true)
}

// RollbackTransaction discards the innermost transaction.
// NotFound if no transaction is open.
func (db *Database) RollbackTransaction() error {
	return db.finishTransaction("rollback", false)
}

func (db *Database) finishTransaction(op string, commit bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpenLocked(op); err != nil {
		return err
	}
	if len(db.stack) <= 1 {
		return errf(NotFound, op, nil, "no transaction is open")
	}

	txn := db.popLocked()
	var err error
	if commit {
		err = txn.Commit()
		db.metrics.observeTx(txCommit, len(db.stack)-1)
	} else {
		err = txn.Abort()
		db.metrics.observeTx(txRollback, len(db.stack)-1)
	}
	db.settleCreatedLocked(txn.Depth(), commit && err == nil)
	if err != nil {
		db.log.WithError(err).WithField("depth", txn.Depth()).Warn("reldb: " + op + " failed")
		return errf(Unknown, op, err, "depth %d", txn.Depth())
	}
	if db.verbose {
		db.log.WithField("depth", txn.Depth()).Debug("reldb: " + op)
	}
	return nil
}

// settleCreatedLocked hands the tables, indexes and sequences created at
// depth over to the parent transaction when it commits, and closes them when
// it does not, since their buckets are gone.
func (db *Database) settleCreatedLocked(depth int, committed bool) {
	if committed {
		for _, tbl := range db.tables {
			if tbl.created == depth {
				tbl.created--
			}
			for _, idx := range tbl.indexes {
				if idx.created == depth {
					idx.created--
				}
			}
		}
		for _, seq := range db.sequences {
			if seq.created == depth {
				seq.created--
			}
		}
		return
	}

	var tables []*Table
	for _, tbl := range db.tables {
		if tbl.created < depth {
			tables = append(tables, tbl)
			continue
		}
		tbl.closed = true
		for _, idx := range tbl.indexes {
			idx.dropLocked()
		}
		for _, dep := range tbl.dependents {
			dep.foreign = nil
		}
		db.log.WithFields(logrus.Fields{"table": tbl.name, "depth": depth}).Info("reldb: table rolled back")
	}
	db.tables = tables

	for _, tbl := range db.tables {
		var kept []*Index
		for _, idx := range tbl.indexes {
			if idx.created < depth {
				kept = append(kept, idx)
				continue
			}
			idx.dropLocked()
			db.log.WithFields(logrus.Fields{"table": tbl.name, "index": idx.name, "depth": depth}).Info("reldb: index rolled back")
		}
		tbl.indexes = kept
	}

	var sequences []*Sequence
	for _, seq := range db.sequences {
		if seq.created < depth {
			sequences = append(sequences, seq)
			continue
		}
		seq.closed = true
	}
	db.sequences = sequences
}

// Depth returns the number of open transactions.
func (db *Database) Depth() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0
	}
	return len(db.stack) - 1
}

// Checkpoint makes everything done so far durable without closing the
// database. It requires that no transactions and no recordsets are open.
func (db *Database) Checkpoint() error {
	const op = "checkpoint"
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpenLocked(op); err != nil {
		return err
	}
	if len(db.stack) > 1 {
		return errf(Unknown, op, nil, "%d transactions are open", len(db.stack)-1)
	}
	if n := len(db.recordsets); n > 0 {
		return errf(Unknown, op, nil, "%d recordsets are open", n)
	}
	if err := db.stack[0].Checkpoint(); err != nil {
		db.log.WithError(err).Error("reldb: checkpoint failed")
		return errf(Unknown, op, err, "")
	}
	db.metrics.observeTx(txCheckpoint, 0)
	return nil
}

// InTransaction runs fn in a new transaction, committing it if fn returns
// nil and rolling it back otherwise. Transactions fn leaves open are rolled
// back too. A panic in fn rolls back and is re-raised.
func (db *Database) InTransaction(fn func() error) error {
	if err := db.BeginTransaction(); err != nil {
		return err
	}
	depth := db.Depth()

	done := false
	defer func() {
		if done {
			return
		}
		for db.Depth() >= depth {
			if err := db.RollbackTransaction(); err != nil {
				db.log.WithError(err).Warn("reldb: rolling back")
				break
			}
		}
	}()

	if err := fn(); err != nil {
		return err
	}
	if d := db.Depth(); d != depth {
		return errf(Unknown, "commit", nil, "transaction depth %d, expected %d", d, depth)
	}
	done = true
	return db.CommitTransaction()
}
