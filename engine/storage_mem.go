package engine

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/btree"
	"github.com/pkg/errors"
)

type memKV struct {
	key   []byte
	value []byte
}

func lessMemKV(a, b memKV) bool {
	return bytes.Compare(a.key, b.key) < 0
}

type memTree = btree.BTreeG[memKV]

// memStorage keeps every bucket in a B-tree. A transaction works on lazy
// copy-on-write clones of the trees and publishes them on commit, so readers
// and the single writer never see each other's uncommitted state.
type memStorage struct {
	mu      sync.Mutex
	buckets map[string]*memTree
	writer  bool
	closed  bool
}

// newMemStorage returns a transient in-memory storage intended for tests.
func newMemStorage() storage {
	return &memStorage{buckets: make(map[string]*memTree)}
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if writable {
		if s.writer {
			return nil, errors.Wrap(ErrTxnBusy, "another write transaction is active")
		}
		s.writer = true
	}
	snap := make(map[string]*memTree, len(s.buckets))
	for name, t := range s.buckets {
		snap[name] = t.Clone()
	}
	return &memTx{base: s, writable: writable, buckets: snap}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*memTree
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) Bucket(name string) storageBucket {
	t := tx.buckets[name]
	if tx.closed || t == nil {
		return nil
	}
	return memBucket{tx: tx, tree: t}
}

func (tx *memTx) CreateBucket(name string) (storageBucket, error) {
	if tx.closed || !tx.writable {
		return nil, errors.New("transaction is not writable")
	}
	t := tx.buckets[name]
	if t == nil {
		t = btree.NewG(overlayDegree, lessMemKV)
		tx.buckets[name] = t
	}
	return memBucket{tx: tx, tree: t}, nil
}

func (tx *memTx) BucketNames() []string {
	names := make([]string, 0, len(tx.buckets))
	for name := range tx.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (tx *memTx) Commit() error {
	if tx.closed || !tx.writable {
		return errors.New("transaction is not writable")
	}
	s := tx.base
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.closed = true
	s.writer = false
	if s.closed {
		return ErrClosed
	}
	s.buckets = tx.buckets
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.closed {
		return nil
	}
	s := tx.base
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.closed = true
	if tx.writable {
		s.writer = false
	}
	return nil
}

func (tx *memTx) Size() int64 { return 0 }

type memBucket struct {
	tx   *memTx
	tree *memTree
}

func (b memBucket) Get(key []byte) []byte {
	kv, ok := b.tree.Get(memKV{key: key})
	if !ok {
		return nil
	}
	return kv.value
}

func (b memBucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return errors.New("transaction is not writable")
	}
	b.tree.ReplaceOrInsert(memKV{key: clone(key), value: clone(value)})
	return nil
}

func (b memBucket) Delete(key []byte) error {
	if !b.tx.writable {
		return errors.New("transaction is not writable")
	}
	b.tree.Delete(memKV{key: key})
	return nil
}

func (b memBucket) Seek(seek []byte) (key, value []byte) {
	b.tree.AscendGreaterOrEqual(memKV{key: seek}, func(kv memKV) bool {
		key, value = kv.key, kv.value
		return false
	})
	return key, value
}

func (b memBucket) Stats() BucketStats {
	var inuse int64
	b.tree.Ascend(func(kv memKV) bool {
		inuse += int64(len(kv.key) + len(kv.value))
		return true
	})
	return BucketStats{
		KeyN:      b.tree.Len(),
		LeafInuse: inuse,
		LeafAlloc: inuse,
	}
}
