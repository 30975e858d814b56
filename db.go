package reldb

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/andreyvit/reldb/engine"
)

const (
	dbFileName = "reldb.db"
	seqBucket  = "__seq"
)

type Database struct {
	mu sync.Mutex

	home      string
	env       *engine.Env
	log       logrus.FieldLogger
	verbose   bool
	dataCodec Codec
	metrics   *Metrics

	// stack[0] is the lifetime transaction, committed by Close.
	stack   []*engine.Txn
	started []time.Time

	sequences  []*Sequence
	tables     []*Table
	recordsets map[*Recordset]struct{}

	closed bool
}

type Options struct {
	// Log receives diagnostics. Defaults to a logger that discards everything.
	Log     logrus.FieldLogger
	Verbose bool
	// IsTesting trades durability for speed.
	IsTesting bool
	// InMemory keeps the database in memory; nothing is written under home.
	InMemory bool
	NoSync   bool
	MmapSize int
	// Timeout bounds waiting for another process to release the database file.
	Timeout time.Duration
	// DataCodec encodes records of tables that don't set their own.
	// Defaults to Msgpack.
	DataCodec Codec
	// Metrics to update. Defaults to a private set, see Database.Metrics.
	Metrics *Metrics
}

// Open opens the database in the home directory. With create set, the
// database is created (along with the directory), and Exists is returned if
// it is already there; otherwise a missing database is NotFound.
//
// The returned Database has a lifetime transaction open; everything done
// outside of explicit transactions becomes durable on Close or Checkpoint.
func Open(home string, create bool, opt Options) (*Database, error) {
	const op = "open"

	log := opt.Log
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	log = log.WithField("home", home)

	if !opt.InMemory {
		if create {
			if err := os.MkdirAll(home, 0777); err != nil {
				return nil, errf(Unknown, op, err, "%s", home)
			}
		} else if fi, err := os.Stat(home); err != nil || !fi.IsDir() {
			return nil, errf(NotFound, op, err, "%s", home)
		}
	}

	eopt := engine.Options{
		InMemory: opt.InMemory,
		NoSync:   opt.NoSync,
		MmapSize: opt.MmapSize,
		Timeout:  opt.Timeout,
		Log:      log,
	}
	if opt.IsTesting {
		eopt.NoSync = true
		if eopt.MmapSize == 0 {
			eopt.MmapSize = 1024 * 1024 * 5
		}
	}

	env, err := engine.Open(filepath.Join(home, dbFileName), create, eopt)
	if err != nil {
		log.WithError(err).Warn("reldb: cannot open environment")
		return nil, errf(engineCode(err), op, err, "%s", home)
	}

	root, err := env.Begin(nil)
	if err != nil {
		env.Close()
		return nil, errf(Unknown, op, err, "%s", home)
	}

	fail := func(code Code, err error, msg string) (*Database, error) {
		log.WithError(err).Warn("reldb: " + msg)
		root.Abort()
		env.Close()
		return nil, errf(code, op, err, "%s", msg)
	}

	has, err := root.HasBucket(seqBucket)
	if err != nil {
		return fail(Unknown, err, "checking sequences")
	}
	switch {
	case create && has:
		return fail(Exists, nil, "database already exists")
	case !create && !has:
		return fail(NotFound, nil, "database not initialized")
	case create:
		if err := root.CreateBucket(seqBucket); err != nil {
			return fail(Unknown, err, "creating sequences")
		}
	}

	db := &Database{
		home:       home,
		env:        env,
		log:        log,
		verbose:    opt.Verbose,
		dataCodec:  opt.DataCodec,
		metrics:    opt.Metrics,
		stack:      []*engine.Txn{root},
		started:    []time.Time{time.Now()},
		recordsets: make(map[*Recordset]struct{}),
	}
	if db.dataCodec == nil {
		db.dataCodec = Msgpack
	}
	if db.metrics == nil {
		db.metrics = NewMetrics()
	}

	log.WithField("create", create).Debug("reldb: opened")
	return db, nil
}

func (db *Database) Home() string {
	return db.home
}

func (db *Database) Metrics() *Metrics {
	return db.metrics
}

// Close rolls back every open user transaction, closes open recordsets,
// tables and sequences, durably commits the lifetime transaction and closes
// the storage. Failures are logged; the first one is returned. Closing twice
// is a no-op.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	var first error
	keep := func(err error, msg string) {
		if err == nil {
			return
		}
		db.log.WithError(err).Warn("reldb: " + msg)
		if first == nil {
			first = errf(Unknown, "close", err, "%s", msg)
		}
	}

	for len(db.stack) > 1 {
		txn := db.popLocked()
		db.log.WithField("depth", txn.Depth()).Warn("reldb: rolling back transaction left open at close")
		keep(txn.Abort(), "rolling back transaction")
	}

	for rs := range db.recordsets {
		rs.releaseLocked()
	}
	for i := len(db.sequences) - 1; i >= 0; i-- {
		db.sequences[i].closed = true
	}
	db.sequences = nil
	for i := len(db.tables) - 1; i >= 0; i-- {
		db.tables[i].closed = true
	}
	db.tables = nil

	keep(db.stack[0].Commit(), "committing")
	db.stack = nil
	db.started = nil
	keep(db.env.Close(), "closing environment")
	db.metrics.depth.Set(0)

	db.log.Debug("reldb: closed")
	return first
}

func (db *Database) checkOpenLocked(op string) error {
	if db.closed {
		return errf(Unknown, op, nil, "database is closed")
	}
	return nil
}

func (db *Database) top() *engine.Txn {
	return db.stack[len(db.stack)-1]
}

func (db *Database) popLocked() *engine.Txn {
	n := len(db.stack) - 1
	txn := db.stack[n]
	db.stack[n] = nil
	db.stack = db.stack[:n]
	db.started = db.started[:n]
	return txn
}

// savepointLocked runs fn in a child of the top transaction, so that a
// failed operation leaves nothing behind.
func (db *Database) savepointLocked(fn func(txn *engine.Txn) error) error {
	sp, err := db.top().Begin()
	if err != nil {
		return err
	}
	if err := fn(sp); err != nil {
		if aerr := sp.Abort(); aerr != nil {
			db.log.WithError(aerr).Warn("reldb: aborting savepoint")
		}
		return err
	}
	return sp.Commit()
}

func (db *Database) trace(op, name string, key []byte, err error) {
	db.metrics.observeOp(op, err)
	if err == nil && !db.verbose {
		return
	}
	fields := logrus.Fields{"op": op, "table": name, "result": CodeOf(err).String()}
	if key != nil {
		fields["key"] = hexstr(key)
	}
	if CodeOf(err) == Unknown {
		db.log.WithFields(fields).WithError(err).Warn("reldb: operation failed")
	} else if db.verbose {
		db.log.WithFields(fields).Debug("reldb: op")
	}
}

// DescribeTransactions returns a human-readable list of open user transactions.
func (db *Database) DescribeTransactions() string {
	db.mu.Lock()
	started := append([]time.Time(nil), db.started...)
	db.mu.Unlock()

	if len(started) <= 1 {
		return "NO OPEN TRANSACTIONS"
	}

	now := time.Now()
	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(started)-1)
	for depth := 1; depth < len(started); depth++ {
		fmt.Fprintf(&buf, "depth %d: open for %d ms\n", depth, now.Sub(started[depth]).Milliseconds())
	}
	return buf.String()
}
