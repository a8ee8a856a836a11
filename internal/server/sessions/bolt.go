package sessions

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dmitrijs2005/asyncupload/internal/logging"
)

var ledgersBucket = []byte("ledgers")

// BoltStore keeps ledgers in a single bbolt file. bbolt serializes write
// transactions, so Update is atomic across sessions and goroutines of this
// process.
type BoltStore struct {
	db     *bolt.DB
	logger logging.Logger
}

func NewBoltStore(path string, logger logging.Logger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(ledgersBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt init: %w", err)
	}

	return &BoltStore{db: db, logger: logger.With("module", "sessions", "backend", "bolt")}, nil
}

func (s *BoltStore) Load(ctx context.Context, sid string) ([]string, error) {
	var paths []string

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		paths, err = decodePaths(tx.Bucket(ledgersBucket).Get([]byte(sid)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func (s *BoltStore) Update(ctx context.Context, sid string, fn func([]string) ([]string, error)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ledgersBucket)

		cur, err := decodePaths(b.Get([]byte(sid)))
		if err != nil {
			return err
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}

		if len(next) == 0 {
			return b.Delete([]byte(sid))
		}

		encoded, err := encodePaths(next)
		if err != nil {
			return err
		}
		return b.Put([]byte(sid), encoded)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
