package progress

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
)

var bucketPartitions = []byte("partitions")

// BoltStore keeps one JSON-encoded entry per key in a bbolt bucket. bbolt
// serializes writers, so each Save is its own transaction.
type BoltStore struct {
	db *bolt.DB

	// Returns the current time. Defaults to time.Now().
	// Can be mocked for tests.
	Now func() time.Time
}

// OpenBoltStore opens (creating if needed) the database file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	db, err := bolt.Open(path, 0666, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.WrapCode(err, parcelsync.ErrInvalidConfig, "opening progress database "+path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPartitions)
		return errors.Wrapf(err, "creating bucket: %s", bucketPartitions)
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db, Now: time.Now}, nil
}

func (s *BoltStore) Load(ctx context.Context) (map[parcelsync.PartitionID]parcelsync.ProgressEntry, error) {
	out := make(map[parcelsync.PartitionID]parcelsync.ProgressEntry)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPartitions).ForEach(func(k, v []byte) error {
			var e parcelsync.ProgressEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return errors.WrapCode(err, parcelsync.ErrProgressCorrupt, "decoding entry "+string(k))
			}
			e.PartitionID = parcelsync.PartitionID(k)
			out[e.PartitionID] = e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Save(ctx context.Context, entry parcelsync.ProgressEntry) error {
	if err := validate(entry); err != nil {
		return err
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = s.Now()
	}
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	v, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "encoding entry")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return errors.Wrap(tx.Bucket(bucketPartitions).Put([]byte(entry.PartitionID), v), "putting entry")
	})
}

func (s *BoltStore) Reset(ctx context.Context, id parcelsync.PartitionID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return errors.Wrap(tx.Bucket(bucketPartitions).Delete([]byte(id)), "deleting entry")
	})
}

// Path returns the database file.
func (s *BoltStore) Path() string {
	return s.db.Path()
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
