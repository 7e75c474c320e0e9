package storage

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var defaultBucket = []byte("ledger")

// BoltDB is a persistent key-value store backed by a single bbolt bucket.
type BoltDB struct {
	db     *bolt.DB
	bucket []byte
}

// NewBoltDB creates or opens the bbolt file at path.
func NewBoltDB(path string, options *bolt.Options) (*BoltDB, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(defaultBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltDB{db: db, bucket: defaultBucket}, nil
}

func (b *BoltDB) Put(key []byte, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return b.mustBucket(tx).Put(key, value)
	})
}

func (b *BoltDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := b.mustBucket(tx).Get(key)
		if raw == nil {
			return ErrNotFound
		}
		// Values are only valid for the lifetime of the transaction.
		value = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (b *BoltDB) Has(key []byte) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		found = b.mustBucket(tx).Get(key) != nil
		return nil
	})
	return found, err
}

func (b *BoltDB) Delete(key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return b.mustBucket(tx).Delete(key)
	})
}

func (b *BoltDB) NewBatch() Batch {
	return &boltBatch{db: b}
}

// Close closes the database file.
func (b *BoltDB) Close() {
	b.db.Close()
}

func (b *BoltDB) mustBucket(tx *bolt.Tx) *bolt.Bucket {
	bucket := tx.Bucket(b.bucket)
	if bucket == nil {
		panic(fmt.Sprintf("storage: bucket %s missing", b.bucket))
	}
	return bucket
}

type boltBatch struct {
	db     *BoltDB
	writes []memWrite
}

func (bb *boltBatch) Put(key []byte, value []byte) {
	bb.writes = append(bb.writes, memWrite{key: string(key), value: append([]byte(nil), value...)})
}

func (bb *boltBatch) Delete(key []byte) {
	bb.writes = append(bb.writes, memWrite{key: string(key), delete: true})
}

func (bb *boltBatch) Len() int { return len(bb.writes) }

// Write applies the batch inside one read-write transaction.
func (bb *boltBatch) Write() error {
	return bb.db.db.Update(func(tx *bolt.Tx) error {
		bucket := bb.db.mustBucket(tx)
		for _, w := range bb.writes {
			var err error
			if w.delete {
				err = bucket.Delete([]byte(w.key))
			} else {
				err = bucket.Put([]byte(w.key), w.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (bb *boltBatch) Reset() { bb.writes = bb.writes[:0] }
