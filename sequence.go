package reldb

import (
	"github.com/andreyvit/reldb/engine"
)

// Sequence hands out increasing int64 identifiers starting at 1. A value
// reserved inside a transaction that is rolled back is handed out again.
type Sequence struct {
	db      *Database
	seq     *engine.Sequence
	created int
	closed  bool
}

// AddSequence opens the named sequence, or creates it if create is set.
// NotFound if it is missing and create is unset, Exists if it is present and
// create is set.
func (db *Database) AddSequence(name string, create bool) (*Sequence, error) {
	const op = "add sequence"
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkOpenLocked(op); err != nil {
		return nil, err
	}

	es, err := engine.OpenSequence(db.top(), seqBucket, name, create)
	if err != nil {
		db.log.WithError(err).WithField("sequence", name).Warn("reldb: cannot open sequence")
		return nil, errf(engineCode(err), op, err, "%s", name)
	}

	seq := &Sequence{db: db, seq: es}
	if create {
		seq.created = len(db.stack) - 1
	}
	db.sequences = append(db.sequences, seq)
	db.log.WithField("sequence", name).Debug("reldb: sequence opened")
	return seq, nil
}

func (seq *Sequence) Name() string {
	return seq.seq.Name()
}

// ID reserves and returns the next identifier.
func (seq *Sequence) ID() (int64, error) {
	const op = "id"
	db := seq.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if seq.closed {
		return 0, errf(Unknown, op, nil, "sequence %s is closed", seq.Name())
	}
	if err := db.checkOpenLocked(op); err != nil {
		return 0, err
	}

	id, err := seq.seq.Next(db.top(), 1)
	if err != nil {
		err = errf(Unknown, op, err, "sequence %s", seq.Name())
	} else {
		db.metrics.sequenceIDs.Inc()
	}
	db.trace(op, seqBucket, []byte(seq.Name()), err)
	return id, err
}
