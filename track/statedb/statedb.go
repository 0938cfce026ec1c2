// Copyright 2019 The zbdba Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package statedb persists the tracker's (seq, start_lsn, end_lsn) triple
// in a small embedded key/value store. The bitmap files on disk remain the
// source of truth: dynamic init always runs the directory scan, does not
// use this store to skip it, only logs whether the stored triple agrees,
// and overwrites the store once it has settled on a state.
package statedb

import (
	"encoding/binary"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

var bucketName = []byte("tracker_state")

const recordKey = "current"

// Store wraps a boltdb database file holding a single current-state
// record. It implements track/tracker.StateStore.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the boltdb file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open state database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create state bucket")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save records the tracker's current (seq, start_lsn, end_lsn) triple.
func (s *Store) Save(seq, startLSN, endLSN uint64) error {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], seq)
	binary.BigEndian.PutUint64(buf[8:16], startLSN)
	binary.BigEndian.PutUint64(buf[16:24], endLSN)

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(recordKey), buf)
	})
}

// Load returns the last saved triple, or ok=false if nothing was ever
// saved.
func (s *Store) Load() (seq, startLSN, endLSN uint64, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		buf := tx.Bucket(bucketName).Get([]byte(recordKey))
		if buf == nil {
			return nil
		}
		if len(buf) != 24 {
			return errors.Errorf("state record has unexpected length %d", len(buf))
		}
		seq = binary.BigEndian.Uint64(buf[0:8])
		startLSN = binary.BigEndian.Uint64(buf[8:16])
		endLSN = binary.BigEndian.Uint64(buf[16:24])
		ok = true
		return nil
	})
	return seq, startLSN, endLSN, ok, err
}
