package lockstore

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketKeepalive = []byte("keepalive")

// BoltStore keeps entries in a single bbolt file. Expiry is checked on read,
// expired entries are purged when the file is opened.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &BoltStore{db: db, now: time.Now}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketKeepalive); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketKeepalive, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.purgeExpired(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) purgeExpired() error {
	now := s.now()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKeepalive)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			e, err := unmarshalEntry(v)
			if err != nil || e.expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) load(key string) (entry, bool, error) {
	var (
		e     entry
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketKeepalive).Get([]byte(key))
		if data == nil {
			return nil
		}
		decoded, err := unmarshalEntry(data)
		if err != nil {
			return fmt.Errorf("key %s: %w", key, err)
		}
		if decoded.expired(s.now()) {
			return nil
		}
		e, found = decoded, true
		return nil
	})
	return e, found, err
}

func (s *BoltStore) store(key string, e entry) error {
	data, err := marshalEntry(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeepalive).Put([]byte(key), data)
	})
}

func (s *BoltStore) Get(_ context.Context, key string) (string, bool, error) {
	e, ok, err := s.load(key)
	if err != nil || !ok {
		return "", ok, err
	}
	return e.Value, true, nil
}

func (s *BoltStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	return s.store(key, newEntry(value, nil, ttl, s.now()))
}

func (s *BoltStore) PutIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	written := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKeepalive)
		now := s.now()
		if data := b.Get([]byte(key)); data != nil {
			if e, err := unmarshalEntry(data); err == nil && !e.expired(now) {
				return nil
			}
		}
		data, err := marshalEntry(newEntry(value, nil, ttl, now))
		if err != nil {
			return err
		}
		written = true
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return false, err
	}
	return written, nil
}

func (s *BoltStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeepalive).Delete([]byte(key))
	})
}

func (s *BoltStore) GetList(_ context.Context, key string) ([]string, bool, error) {
	e, ok, err := s.load(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return e.List, true, nil
}

func (s *BoltStore) PutList(_ context.Context, key string, values []string, ttl time.Duration) error {
	return s.store(key, newEntry("", values, ttl, s.now()))
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
