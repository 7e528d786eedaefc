// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package ratelimit

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces limiter counters within the shared Badger store.
const keyPrefix = "ratelimit:"

// conflictRetries bounds optimistic transaction retries under concurrent
// increments of the same key.
const conflictRetries = 5

// BadgerCounter implements Counter on a BadgerDB store using TTL entries.
// The first increment in a window writes the entry with TTL equal to the
// window length; later increments rewrite the value with the remaining TTL
// so the window expiry is fixed, not sliding.
type BadgerCounter struct {
	db *badger.DB
}

// NewBadgerCounter creates a counter over an open Badger database.
func NewBadgerCounter(db *badger.DB) (*BadgerCounter, error) {
	if db == nil {
		return nil, errors.New("badger db required")
	}
	return &BadgerCounter{db: db}, nil
}

// Increment adds one to the window counter for key and returns the new count.
// Concurrent increments of the same key are serialized by Badger's SSI;
// conflicts are retried a bounded number of times.
func (c *BadgerCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	storeKey := []byte(keyPrefix + key)

	var count int64
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		err := c.db.Update(func(txn *badger.Txn) error {
			var current int64
			ttl := window

			item, err := txn.Get(storeKey)
			switch {
			case err == nil:
				if verr := item.Value(func(val []byte) error {
					if len(val) != 8 {
						return fmt.Errorf("corrupt counter value for %q", key)
					}
					current = int64(binary.BigEndian.Uint64(val))
					return nil
				}); verr != nil {
					return verr
				}
				// Preserve the fixed window: keep the original expiry.
				if exp := item.ExpiresAt(); exp > 0 {
					remaining := time.Until(time.Unix(int64(exp), 0))
					if remaining <= 0 {
						// Entry lapsed between read and write; start fresh.
						current = 0
					} else {
						ttl = remaining
					}
				}
			case errors.Is(err, badger.ErrKeyNotFound):
				current = 0
			default:
				return err
			}

			count = current + 1
			val := make([]byte, 8)
			binary.BigEndian.PutUint64(val, uint64(count))
			return txn.SetEntry(badger.NewEntry(storeKey, val).WithTTL(ttl))
		})

		if err == nil {
			return count, nil
		}
		if errors.Is(err, badger.ErrConflict) && attempt < conflictRetries {
			continue
		}
		return 0, fmt.Errorf("increment %q: %w", key, err)
	}
}
