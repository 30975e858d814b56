package engine

import (
	"bytes"

	"github.com/google/btree"
)

const overlayDegree = 16

// overlayEntry is a pending write of a nested transaction. A deleted entry
// is a tombstone hiding the key in all enclosing layers.
type overlayEntry struct {
	key     []byte
	value   []byte
	deleted bool
}

func lessOverlayEntry(a, b overlayEntry) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// overlay is the ordered write set of one bucket in one nested transaction.
type overlay struct {
	tree *btree.BTreeG[overlayEntry]
}

func newOverlay() *overlay {
	return &overlay{tree: btree.NewG(overlayDegree, lessOverlayEntry)}
}

func (ov *overlay) get(key []byte) (overlayEntry, bool) {
	return ov.tree.Get(overlayEntry{key: key})
}

func (ov *overlay) put(key, value []byte) {
	ov.tree.ReplaceOrInsert(overlayEntry{key: clone(key), value: clone(value)})
}

func (ov *overlay) delete(key []byte) {
	ov.tree.ReplaceOrInsert(overlayEntry{key: clone(key), deleted: true})
}

// ceil returns the first entry (including tombstones) with key >= seek.
func (ov *overlay) ceil(seek []byte) (overlayEntry, bool) {
	var found overlayEntry
	var ok bool
	ov.tree.AscendGreaterOrEqual(overlayEntry{key: seek}, func(e overlayEntry) bool {
		found, ok = e, true
		return false
	})
	return found, ok
}

func (ov *overlay) each(f func(e overlayEntry) error) error {
	var err error
	ov.tree.Ascend(func(e overlayEntry) bool {
		err = f(e)
		return err == nil
	})
	return err
}
