// Package engine is the ordered, transactional key-value storage engine that
// reldb builds its relational layer on.
//
// An Env wraps a single bbolt file (or an in-memory store for tests). Work
// happens in transactions: the root transaction is a bbolt write transaction,
// and any number of nested transactions can be stacked on top of it. A nested
// transaction keeps its writes in ordered in-memory write sets; committing
// folds them into the parent, aborting drops them. Nothing reaches the disk
// until the root transaction commits.
//
// Data lives in named buckets of byte keys ordered by bytes.Compare.
// All methods are safe for concurrent use; operations are serialized by an
// environment-wide mutex because bbolt write transactions are not.
package engine

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

// Options configure an environment.
type Options struct {
	// InMemory selects the transient in-memory backend; path is ignored.
	InMemory bool
	// NoSync skips fsync on root commits. Only for tests.
	NoSync bool
	// MmapSize is the initial mmap size of the bbolt file.
	MmapSize int
	// Timeout bounds waiting for the bbolt file lock.
	Timeout time.Duration
	Log     logrus.FieldLogger
}

type Env struct {
	mu     sync.Mutex
	store  storage
	path   string
	log    logrus.FieldLogger
	root   *Txn
	closed bool
}

// Open opens the environment stored at path. Unless create is set, the file
// must already exist (ErrNotFound otherwise).
func Open(path string, create bool, opt Options) (*Env, error) {
	log := opt.Log
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	env := &Env{path: path, log: log}
	if opt.InMemory {
		if !create {
			return nil, errors.Wrap(ErrNotFound, "in-memory environment cannot be reopened")
		}
		env.store = newMemStorage()
		return env, nil
	}

	if !create {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Wrapf(ErrNotFound, "%s", path)
			}
			return nil, errors.Wrapf(err, "stat %s", path)
		}
	}

	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	bopt.FreelistType = bbolt.FreelistMapType
	if opt.Timeout != 0 {
		bopt.Timeout = opt.Timeout
	}
	if opt.NoSync {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	env.store = newBoltStorage(bdb)

	log.WithFields(logrus.Fields{"path": path, "create": create}).Debug("engine: opened")
	return env, nil
}

// Begin starts a transaction. With a nil parent it starts the root
// transaction; only one root transaction can exist at a time.
func (env *Env) Begin(parent *Txn) (*Txn, error) {
	env.mu.Lock()
	defer env.mu.Unlock()

	if env.closed {
		return nil, ErrClosed
	}
	if parent == nil {
		if env.root != nil {
			return nil, errors.Wrap(ErrTxnBusy, "root transaction already active")
		}
		stx, err := env.store.BeginTx(true)
		if err != nil {
			return nil, errors.Wrap(err, "begin root transaction")
		}
		env.root = &Txn{env: env, store: stx}
		return env.root, nil
	}

	if err := parent.checkLocked(); err != nil {
		return nil, err
	}
	if parent.child != nil {
		return nil, ErrTxnBusy
	}
	txn := &Txn{
		env:    env,
		parent: parent,
		depth:  parent.depth + 1,
	}
	parent.child = txn
	return txn, nil
}

// Close aborts the root transaction if it is still active, then closes the
// underlying storage.
func (env *Env) Close() error {
	env.mu.Lock()
	defer env.mu.Unlock()

	if env.closed {
		return nil
	}
	if env.root != nil {
		env.log.WithField("path", env.path).Warn("engine: closing with an active root transaction, aborting it")
		env.root.abortLocked()
	}
	env.closed = true
	if err := env.store.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", env.path)
	}
	env.log.WithField("path", env.path).Debug("engine: closed")
	return nil
}
