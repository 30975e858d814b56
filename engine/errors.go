package engine

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned when a key, bucket, sequence or database file
	// does not exist where existence was required.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when creation was requested for an object that
	// is already present.
	ErrExists = errors.New("already exists")

	// ErrBucketNotFound is returned by bucket-level operations on a missing bucket.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrTxnClosed is returned by operations on a committed or aborted
	// transaction, and by cursors whose transaction has ended.
	ErrTxnClosed = errors.New("transaction closed")

	// ErrTxnBusy is returned when a transaction with an active child is
	// used for writes or committed.
	ErrTxnBusy = errors.New("transaction has an active child")

	// ErrClosed is returned by operations on a closed environment.
	ErrClosed = errors.New("environment closed")
)
