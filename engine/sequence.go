package engine

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// SequenceStart is the first value handed out by a new sequence.
const SequenceStart int64 = 1

// Sequence is a persistent counter stored as a single key of a bucket.
// Its state is updated transactionally, so values handed out inside an
// aborted transaction are handed out again.
type Sequence struct {
	bucket string
	key    []byte
}

// OpenSequence opens the sequence stored under name in bucket. With create
// set, a new sequence is initialized to SequenceStart (creating the bucket if
// needed), and ErrExists is returned if it is already there. Without create,
// a missing sequence is ErrNotFound.
func OpenSequence(txn *Txn, bucket, name string, create bool) (*Sequence, error) {
	if name == "" {
		return nil, errors.New("sequence name required")
	}
	seq := &Sequence{bucket: bucket, key: []byte(name)}

	has, err := txn.HasBucket(bucket)
	if err != nil {
		return nil, err
	}
	if !has {
		if !create {
			return nil, errors.Wrapf(ErrNotFound, "sequence %q", name)
		}
		if err := txn.CreateBucket(bucket); err != nil {
			return nil, err
		}
	}

	err = txn.Update(bucket, seq.key, func(old []byte, found bool) ([]byte, error) {
		if found {
			if create {
				return nil, errors.Wrapf(ErrExists, "sequence %q", name)
			}
			if len(old) != 8 {
				return nil, errors.Errorf("sequence %q: corrupted value of %d bytes", name, len(old))
			}
			return old, nil
		}
		if !create {
			return nil, errors.Wrapf(ErrNotFound, "sequence %q", name)
		}
		return encodeSeq(SequenceStart), nil
	})
	if err != nil {
		return nil, err
	}
	return seq, nil
}

func (seq *Sequence) Name() string {
	return string(seq.key)
}

// Next returns the current value and advances the sequence by delta.
func (seq *Sequence) Next(txn *Txn, delta int64) (int64, error) {
	if delta <= 0 {
		return 0, errors.Errorf("invalid sequence delta %d", delta)
	}
	var id int64
	err := txn.Update(seq.bucket, seq.key, func(old []byte, found bool) ([]byte, error) {
		if !found {
			return nil, errors.Wrapf(ErrNotFound, "sequence %q", seq.key)
		}
		if len(old) != 8 {
			return nil, errors.Errorf("sequence %q: corrupted value of %d bytes", seq.key, len(old))
		}
		id = int64(binary.BigEndian.Uint64(old))
		return encodeSeq(id + delta), nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func encodeSeq(v int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return buf[:]
}
