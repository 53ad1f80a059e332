// Package localstate keeps the client's durable local state in a BoltDB
// file: the installation identity and the last working set that was
// successfully applied.
package localstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/okian/orbit/internal/domain/model"
)

var (
	bucketIdentity   = []byte("identity")
	bucketWorkingSet = []byte("working_set")
)

const (
	keyInstallationID = "installation_id"
	keySnapshot       = "snapshot"

	openTimeout = time.Second
)

// Sentinel kinds for local state.
var (
	ErrNoWorkingSet  = errors.New("no cached working set")
	ErrBucketMissing = errors.New("bucket not found")
)

// Snapshot is the cached working set.
type Snapshot struct {
	GeometryVersion string                     `json:"geometryVersion"`
	SavedAt         time.Time                  `json:"savedAt"`
	Records         []model.ContributionRecord `json:"records"`
}

// Storage is the BoltDB-backed local state.
type Storage struct {
	db  *bbolt.DB
	now func() time.Time
}

// New opens or creates the BoltDB file at dbPath.
func New(_ context.Context, dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{db: db, now: time.Now}
	if err := s.initBuckets(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketIdentity, bucketWorkingSet} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// InstallationID returns the id of this installation, generating and
// persisting a new one on first use.
func (s *Storage) InstallationID(_ context.Context) (string, error) {
	var id string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketIdentity)
		if bucket == nil {
			return fmt.Errorf("%w: %s", ErrBucketMissing, bucketIdentity)
		}
		if existing := bucket.Get([]byte(keyInstallationID)); existing != nil {
			id = string(existing)
			return nil
		}
		id = uuid.NewString()
		return bucket.Put([]byte(keyInstallationID), []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("failed to get installation id: %w", err)
	}
	return id, nil
}

// SaveWorkingSet replaces the cached working set.
func (s *Storage) SaveWorkingSet(_ context.Context, geometryVersion string, records []model.ContributionRecord) error {
	data, err := json.Marshal(Snapshot{
		GeometryVersion: geometryVersion,
		SavedAt:         s.now().UTC(),
		Records:         records,
	})
	if err != nil {
		return fmt.Errorf("failed to encode working set: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWorkingSet)
		if bucket == nil {
			return fmt.Errorf("%w: %s", ErrBucketMissing, bucketWorkingSet)
		}
		if err := bucket.Put([]byte(keySnapshot), data); err != nil {
			return fmt.Errorf("failed to save working set: %w", err)
		}
		return nil
	})
}

// LoadWorkingSet returns the cached working set or ErrNoWorkingSet.
func (s *Storage) LoadWorkingSet(_ context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWorkingSet)
		if bucket == nil {
			return fmt.Errorf("%w: %s", ErrBucketMissing, bucketWorkingSet)
		}
		data := bucket.Get([]byte(keySnapshot))
		if data == nil {
			return ErrNoWorkingSet
		}
		// data is only valid inside the transaction; Unmarshal copies.
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		if errors.Is(err, ErrNoWorkingSet) {
			return Snapshot{}, err
		}
		return Snapshot{}, fmt.Errorf("failed to load working set: %w", err)
	}
	return snap, nil
}

// ClearWorkingSet removes the cached working set.
func (s *Storage) ClearWorkingSet(_ context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWorkingSet)
		if bucket == nil {
			return fmt.Errorf("%w: %s", ErrBucketMissing, bucketWorkingSet)
		}
		return bucket.Delete([]byte(keySnapshot))
	})
}
