package repositories

import (
	"chat-relay/errors"
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

func sequenceKey(namespace string, id int64) []byte {
	return []byte(fmt.Sprintf("%s:%020d", namespace, id))
}

// nextSequence increments the big-endian counter stored under key and returns
// the new value. Counters start at 1. Two transactions incrementing the same
// counter conflict on commit, callers retry on badger.ErrConflict.
func nextSequence(txn *badger.Txn, key []byte) (int64, error) {
	var current uint64
	item, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return 0, err
	default:
		if err = item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupted sequence %q", key)
			}
			current = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return 0, err
		}
	}
	next := current + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err = txn.Set(key, buf); err != nil {
		return 0, err
	}
	return int64(next), nil
}
