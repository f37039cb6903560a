// archive.go - bbolt-backed node identity and log archive.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package archive keeps the pieces of l6sk's on-disk state that don't
// belong in the SQL DAO: a persistent node identifier, generated once and
// reloaded on every subsequent start, and a bbolt-backed secondary copy of
// ingested log records, kept as a durable write-behind archive alongside
// the primary sqlite store.
package archive

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/kouritron/l6sk/internal/uuidgen"
)

const (
	metadataBucket = "metadata"
	nodeIDKey      = "node_id"
	logsBucket     = "log_records"
)

// Store wraps one bbolt database file and provides both the node-identity
// and log-archive facilities. A single file is shared between the two
// concerns because both are small, low write-volume pieces of state that
// live for the lifetime of the data directory.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt database at path and ensures its
// buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(metadataBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(logsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: init buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NodeIdentity returns the node's persistent identifier, generating one
// with uuids and persisting it if this is the first time this data
// directory has been opened. Every subsequent call, including across
// process restarts, returns the same value.
func (s *Store) NodeIdentity(uuids *uuidgen.Generator) (string, error) {
	var id string

	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(metadataBucket))
		if v := bkt.Get([]byte(nodeIDKey)); v != nil {
			id = string(v)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("archive: read node id: %w", err)
	}
	if id != "" {
		return id, nil
	}

	newID, err := uuids.Next()
	if err != nil {
		return "", fmt.Errorf("archive: generate node id: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(metadataBucket))
		return bkt.Put([]byte(nodeIDKey), []byte(newID))
	})
	if err != nil {
		return "", fmt.Errorf("archive: persist node id: %w", err)
	}

	return newID, nil
}

// StoreLogRecord appends record to the durable bbolt-backed copy of
// logGroup's records, keyed by recordID. This is a best-effort secondary
// copy: callers treat the primary SQL store as authoritative and log, but
// do not fail the request, if this returns an error.
func (s *Store) StoreLogRecord(logGroup, recordID, record string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(logsBucket))
		groupBkt, err := bkt.CreateBucketIfNotExists([]byte(logGroup))
		if err != nil {
			return err
		}
		return groupBkt.Put([]byte(recordID), []byte(record))
	})
}

// GetLogRecord returns the archived copy of one log group's record, or
// ("", false) if no such group/record exists in the archive.
func (s *Store) GetLogRecord(logGroup, recordID string) (string, bool) {
	var out string
	var found bool

	s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(logsBucket))
		groupBkt := bkt.Bucket([]byte(logGroup))
		if groupBkt == nil {
			return nil
		}
		if v := groupBkt.Get([]byte(recordID)); v != nil {
			out = string(v)
			found = true
		}
		return nil
	})

	return out, found
}
