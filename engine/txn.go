package engine

import (
	"sort"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// Every value stored in the backend is prefixed with a flags byte, so that
// zero-length values survive backends that can't tell them from missing keys.
const valueFlagsDefault byte = 0

// Txn is a transaction. The root transaction (depth 0) writes straight into
// a backend write transaction; nested transactions buffer their writes.
//
// A transaction with an active child rejects writes, and must not be
// committed until the child is finished.
type Txn struct {
	env    *Env
	parent *Txn
	child  *Txn
	depth  int
	done   bool

	store   storageTx // root only
	writes  map[string]*overlay
	created map[string]bool
}

func (t *Txn) Depth() int {
	return t.depth
}

// Done reports whether the transaction was committed or aborted.
func (t *Txn) Done() bool {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	return t.done
}

func (t *Txn) checkLocked() error {
	if t.env.closed {
		return ErrClosed
	}
	if t.done {
		return ErrTxnClosed
	}
	return nil
}

func (t *Txn) checkWritableLocked() error {
	if err := t.checkLocked(); err != nil {
		return err
	}
	if t.child != nil {
		return ErrTxnBusy
	}
	return nil
}

// Begin starts a child transaction.
func (t *Txn) Begin() (*Txn, error) {
	return t.env.Begin(t)
}

// HasBucket reports whether the named bucket is visible to this transaction.
func (t *Txn) HasBucket(name string) (bool, error) {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	if err := t.checkLocked(); err != nil {
		return false, err
	}
	return t.hasBucketLocked(name), nil
}

func (t *Txn) hasBucketLocked(name string) bool {
	for l := t; l != nil; l = l.parent {
		if l.store != nil {
			return l.store.Bucket(name) != nil
		}
		if l.created[name] {
			return true
		}
	}
	return false
}

// CreateBucket creates the named bucket; ErrExists if it is already visible.
func (t *Txn) CreateBucket(name string) error {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	if err := t.checkWritableLocked(); err != nil {
		return err
	}
	if name == "" {
		return errors.New("bucket name required")
	}
	if t.hasBucketLocked(name) {
		return errors.Wrapf(ErrExists, "bucket %q", name)
	}
	if t.store != nil {
		_, err := t.store.CreateBucket(name)
		return errors.Wrapf(err, "creating bucket %q", name)
	}
	if t.created == nil {
		t.created = make(map[string]bool)
	}
	t.created[name] = true
	return nil
}

// Get returns a copy of the value stored under key, or ErrNotFound.
func (t *Txn) Get(bucket string, key []byte) ([]byte, error) {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	if err := t.checkLocked(); err != nil {
		return nil, err
	}
	if !t.hasBucketLocked(bucket) {
		return nil, errors.Wrapf(ErrBucketNotFound, "%q", bucket)
	}
	v, ok := t.lookupLocked(bucket, key)
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// Exists reports whether key is present. Absence is not an error.
func (t *Txn) Exists(bucket string, key []byte) (bool, error) {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	if err := t.checkLocked(); err != nil {
		return false, err
	}
	if !t.hasBucketLocked(bucket) {
		return false, errors.Wrapf(ErrBucketNotFound, "%q", bucket)
	}
	_, ok := t.lookupLocked(bucket, key)
	return ok, nil
}

// Put stores value under key, overwriting any previous value.
func (t *Txn) Put(bucket string, key, value []byte) error {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	if err := t.prepareWriteLocked(bucket, key); err != nil {
		return err
	}
	return t.putLocked(bucket, key, value)
}

// Delete removes key. Deleting a missing key is not an error.
func (t *Txn) Delete(bucket string, key []byte) error {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	if err := t.prepareWriteLocked(bucket, key); err != nil {
		return err
	}
	if t.store != nil {
		return errors.Wrap(t.store.Bucket(bucket).Delete(key), "delete")
	}
	t.overlayFor(bucket).delete(key)
	return nil
}

// Update atomically replaces the value under key with the result of fn.
// found tells fn whether old holds a current value.
func (t *Txn) Update(bucket string, key []byte, fn func(old []byte, found bool) ([]byte, error)) error {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	if err := t.prepareWriteLocked(bucket, key); err != nil {
		return err
	}
	old, found := t.lookupLocked(bucket, key)
	value, err := fn(old, found)
	if err != nil {
		return err
	}
	return t.putLocked(bucket, key, value)
}

func (t *Txn) prepareWriteLocked(bucket string, key []byte) error {
	if err := t.checkWritableLocked(); err != nil {
		return err
	}
	if len(key) == 0 {
		return errors.New("key required")
	}
	if len(key) > bbolt.MaxKeySize {
		return errors.Errorf("key too large: %d bytes", len(key))
	}
	if !t.hasBucketLocked(bucket) {
		return errors.Wrapf(ErrBucketNotFound, "%q", bucket)
	}
	return nil
}

func (t *Txn) putLocked(bucket string, key, value []byte) error {
	if t.store != nil {
		return errors.Wrap(t.store.Bucket(bucket).Put(key, withFlags(value)), "put")
	}
	t.overlayFor(bucket).put(key, value)
	return nil
}

func (t *Txn) overlayFor(bucket string) *overlay {
	ov := t.writes[bucket]
	if ov == nil {
		if t.writes == nil {
			t.writes = make(map[string]*overlay)
		}
		ov = newOverlay()
		t.writes[bucket] = ov
	}
	return ov
}

// lookupLocked resolves key through this transaction's write set, then its
// ancestors', then the backend.
func (t *Txn) lookupLocked(bucket string, key []byte) ([]byte, bool) {
	for l := t; l != nil; l = l.parent {
		if l.store != nil {
			b := l.store.Bucket(bucket)
			if b == nil {
				return nil, false
			}
			v := b.Get(key)
			if v == nil {
				return nil, false
			}
			return clone(stripFlags(v)), true
		}
		if ov := l.writes[bucket]; ov != nil {
			if e, ok := ov.get(key); ok {
				if e.deleted {
					return nil, false
				}
				return clone(e.value), true
			}
		}
	}
	return nil, false
}

// Commit commits the transaction into its parent, or, for the root
// transaction, durably into the backend.
func (t *Txn) Commit() error {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	if err := t.checkWritableLocked(); err != nil {
		return err
	}

	if t.parent == nil {
		t.done = true
		t.env.root = nil
		if err := t.store.Commit(); err != nil {
			return errors.Wrap(err, "commit")
		}
		return nil
	}

	err := t.mergeIntoLocked(t.parent)
	t.finishLocked()
	return err
}

// Abort discards the transaction's writes, aborting any active children first.
func (t *Txn) Abort() error {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	if t.env.closed {
		return ErrClosed
	}
	if t.done {
		return ErrTxnClosed
	}
	return t.abortLocked()
}

func (t *Txn) abortLocked() error {
	if t.child != nil {
		t.child.abortLocked()
	}
	if t.parent == nil {
		t.done = true
		t.env.root = nil
		return errors.Wrap(t.store.Rollback(), "rollback")
	}
	t.finishLocked()
	return nil
}

func (t *Txn) finishLocked() {
	t.done = true
	t.writes = nil
	t.created = nil
	if t.parent != nil && t.parent.child == t {
		t.parent.child = nil
	}
}

func (t *Txn) mergeIntoLocked(p *Txn) error {
	names := make([]string, 0, len(t.created))
	for name := range t.created {
		names = append(names, name)
	}
	sort.Strings(names)

	if p.store != nil {
		for _, name := range names {
			if _, err := p.store.CreateBucket(name); err != nil {
				return errors.Wrapf(err, "creating bucket %q", name)
			}
		}
		for name, ov := range t.writes {
			b := p.store.Bucket(name)
			if b == nil {
				return errors.Wrapf(ErrBucketNotFound, "%q", name)
			}
			err := ov.each(func(e overlayEntry) error {
				if e.deleted {
					return b.Delete(e.key)
				}
				return b.Put(e.key, withFlags(e.value))
			})
			if err != nil {
				return errors.Wrapf(err, "merging into %q", name)
			}
		}
		return nil
	}

	for _, name := range names {
		if p.created == nil {
			p.created = make(map[string]bool)
		}
		p.created[name] = true
	}
	for name, ov := range t.writes {
		pov := p.overlayFor(name)
		ov.each(func(e overlayEntry) error {
			pov.tree.ReplaceOrInsert(e)
			return nil
		})
	}
	return nil
}

// Checkpoint durably commits the root transaction and continues in a fresh
// backend transaction, keeping this Txn usable.
func (t *Txn) Checkpoint() error {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	if err := t.checkWritableLocked(); err != nil {
		return err
	}
	if t.parent != nil {
		return errors.New("checkpoint requires the root transaction")
	}
	if err := t.store.Commit(); err != nil {
		t.done = true
		t.env.root = nil
		return errors.Wrap(err, "checkpoint commit")
	}
	stx, err := t.env.store.BeginTx(true)
	if err != nil {
		t.done = true
		t.env.root = nil
		return errors.Wrap(err, "checkpoint begin")
	}
	t.store = stx
	return nil
}

// BucketNames lists the buckets visible to this transaction.
func (t *Txn) BucketNames() ([]string, error) {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	if err := t.checkLocked(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	for l := t; l != nil; l = l.parent {
		if l.store != nil {
			for _, name := range l.store.BucketNames() {
				if !seen[name] {
					seen[name] = true
					names = append(names, name)
				}
			}
		}
		for name := range l.created {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Stats returns backend statistics of a bucket. Writes pending in nested
// transactions are not reflected.
func (t *Txn) Stats(bucket string) (BucketStats, error) {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	if err := t.checkLocked(); err != nil {
		return BucketStats{}, err
	}
	root := t
	for root.parent != nil {
		root = root.parent
	}
	b := root.store.Bucket(bucket)
	if b == nil {
		if t.hasBucketLocked(bucket) {
			return BucketStats{}, nil
		}
		return BucketStats{}, errors.Wrapf(ErrBucketNotFound, "%q", bucket)
	}
	return b.Stats(), nil
}

// Size returns the size of the backend file in bytes.
func (t *Txn) Size() int64 {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	root := t
	for root.parent != nil {
		root = root.parent
	}
	if root.done {
		return 0
	}
	return root.store.Size()
}

func withFlags(value []byte) []byte {
	buf := make([]byte, 1+len(value))
	buf[0] = valueFlagsDefault
	copy(buf[1:], value)
	return buf
}

func stripFlags(raw []byte) []byte {
	if len(raw) == 0 {
		return raw
	}
	return raw[1:]
}
