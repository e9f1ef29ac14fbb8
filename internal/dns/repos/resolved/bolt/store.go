// Package bolt provides the bbolt-backed resolved-address store.
package bolt

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	bbolt "go.etcd.io/bbolt"

	"dnsproxy/internal/dns/repos/resolved"
)

var bucketResolved = []byte("resolved")

// Entry values are encoded as an 8-byte big-endian observation timestamp
// followed by the comma-joined address list.
const timestampLen = 8

// boltStore implements resolved.Store using bbolt.
type boltStore struct {
	db *bbolt.DB
}

// New opens (or creates) a Bolt database at path and ensures the resolved
// bucket exists.
func New(path string) (resolved.Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResolved)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

// Put writes (or overwrites) the latest observation for e.Name.
func (s *boltStore) Put(e resolved.Entry) error {
	if e.Name == "" {
		return fmt.Errorf("entry name must not be empty")
	}
	val := encodeEntry(e)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketResolved).Put([]byte(e.Name), val)
	})
}

// Get returns the latest observation for name, if one exists.
func (s *boltStore) Get(name string) (resolved.Entry, bool, error) {
	var (
		entry resolved.Entry
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketResolved).Get([]byte(name))
		if v == nil {
			return nil
		}
		e, err := decodeEntry(name, v)
		if err != nil {
			return err
		}
		entry = e
		found = true
		return nil
	})
	return entry, found, err
}

// Count returns the number of names with a stored observation.
func (s *boltStore) Count() (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = uint64(tx.Bucket(bucketResolved).Stats().KeyN)
		return nil
	})
	return n, err
}

func encodeEntry(e resolved.Entry) []byte {
	addrs := strings.Join(e.Addresses, ",")
	val := make([]byte, timestampLen+len(addrs))
	binary.BigEndian.PutUint64(val, uint64(e.ObservedUnix))
	copy(val[timestampLen:], addrs)
	return val
}

func decodeEntry(name string, val []byte) (resolved.Entry, error) {
	if len(val) < timestampLen {
		return resolved.Entry{}, fmt.Errorf("corrupt entry for %q: %d bytes", name, len(val))
	}
	e := resolved.Entry{
		Name:         name,
		ObservedUnix: int64(binary.BigEndian.Uint64(val)),
	}
	if rest := val[timestampLen:]; len(rest) > 0 {
		e.Addresses = strings.Split(string(rest), ",")
	}
	return e, nil
}
