package localstore

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"nimbusdb.io/nimbus/pkg/log"
)

var checkpointsBucket = []byte("cleanup_checkpoints")

// Checkpoint is how far the lost-transactions cleanup loop has scanned
// one bucket's ATR keyspace.
type Checkpoint struct {
	Bucket    string    `json:"bucket"`
	ATRIndex  int       `json:"atr_index"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Store is a small embedded BoltDB database recording cleanup checkpoints
// across client restarts, the same bucket-per-entity-type layout and
// db.Update/db.View + JSON marshal pattern the teacher uses for its own
// persisted entities.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens the BoltDB file at path, ensuring the checkpoints
// bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("localstore: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checkpointsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("localstore: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save records the cleanup loop's progress scanning bucket.
func (s *Store) Save(cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("localstore: marshal checkpoint: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(checkpointsBucket).Put([]byte(cp.Bucket), data)
	})
}

// Load returns the last saved checkpoint for bucket, or the zero value
// with ok=false if the cleanup loop has never scanned it.
func (s *Store) Load(bucket string) (cp Checkpoint, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(checkpointsBucket).Get([]byte(bucket))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &cp)
	})
	if err != nil {
		log.WithComponent("localstore").Error().Err(err).Str("bucket", bucket).Msg("failed to load cleanup checkpoint")
		return Checkpoint{}, false, err
	}
	return cp, ok, nil
}
