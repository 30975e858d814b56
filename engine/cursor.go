package engine

import (
	"bytes"

	"github.com/pkg/errors"
)

// Cursor iterates a bucket in key order, optionally restricted to keys with
// a given prefix. It sees the merged view of its transaction and all of its
// ancestors, and it stays valid across writes made through the same
// transaction: every step re-seeks past the last returned key.
type Cursor struct {
	txn    *Txn
	bucket string
	prefix []byte
	last   []byte
	closed bool
}

// Cursor opens a cursor over bucket. A nil prefix iterates the whole bucket.
func (t *Txn) Cursor(bucket string, prefix []byte) (*Cursor, error) {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	if err := t.checkLocked(); err != nil {
		return nil, err
	}
	if !t.hasBucketLocked(bucket) {
		return nil, errors.Wrapf(ErrBucketNotFound, "%q", bucket)
	}
	return &Cursor{txn: t, bucket: bucket, prefix: clone(prefix)}, nil
}

func (c *Cursor) Txn() *Txn {
	return c.txn
}

// First returns the first entry, or a nil key when there is none.
func (c *Cursor) First() (key, value []byte, err error) {
	return c.Seek(nil)
}

// Seek returns the first entry with key >= seek.
func (c *Cursor) Seek(seek []byte) (key, value []byte, err error) {
	if bytes.Compare(seek, c.prefix) < 0 {
		seek = c.prefix
	}
	return c.step(seek)
}

// Next returns the entry after the one last returned. Calling Next on a
// fresh cursor is the same as First.
func (c *Cursor) Next() (key, value []byte, err error) {
	if c.last == nil {
		return c.First()
	}
	return c.step(successor(c.last))
}

func (c *Cursor) step(from []byte) ([]byte, []byte, error) {
	env := c.txn.env
	env.mu.Lock()
	defer env.mu.Unlock()
	if c.closed {
		return nil, nil, errors.New("cursor is closed")
	}
	if err := c.txn.checkLocked(); err != nil {
		return nil, nil, err
	}

	k, v, ok := c.txn.seekLocked(c.bucket, from)
	if !ok || !bytes.HasPrefix(k, c.prefix) {
		return nil, nil, nil
	}
	c.last = k
	return k, v, nil
}

func (c *Cursor) Close() {
	c.closed = true
}

// seekLocked finds the first visible key >= from across all layers.
func (t *Txn) seekLocked(bucket string, from []byte) ([]byte, []byte, bool) {
	for {
		var cand []byte
		for l := t; l != nil; l = l.parent {
			var k []byte
			if l.store != nil {
				if b := l.store.Bucket(bucket); b != nil {
					k, _ = b.Seek(from)
				}
			} else if ov := l.writes[bucket]; ov != nil {
				if e, ok := ov.ceil(from); ok {
					k = e.key
				}
			}
			if k != nil && (cand == nil || bytes.Compare(k, cand) < 0) {
				cand = k
			}
		}
		if cand == nil {
			return nil, nil, false
		}
		cand = clone(cand)
		if v, ok := t.lookupLocked(bucket, cand); ok {
			return cand, v, true
		}
		from = successor(cand)
	}
}
