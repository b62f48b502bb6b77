// Package revstore keeps serialized Paks by revision id in a bbolt file,
// together with a pointer to the latest one.
package revstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

var (
	revisionsBucket = []byte("revisions")
	metaBucket      = []byte("meta")
	keyLatest       = []byte("latest")
)

// Entry describes one stored revision.
type Entry struct {
	ID     pak.RevisionID
	Size   int
	Latest bool
}

// Store is safe for concurrent use.
type Store struct {
	db     *bolt.DB
	logger logging.Logger
}

// Open opens or creates the store at filePath.
func Open(filePath string, logger logging.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeWriteFailed, "creating revision store directory", err)
	}

	db, err := bolt.Open(filePath, 0o600, nil)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeReadFailed, fmt.Sprintf("open %q", filePath), err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{revisionsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.NewIOError(errors.ErrCodeWriteFailed, "initializing revision store", err)
	}

	return &Store{db: db, logger: logger.WithComponent("revstore")}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores a serialized revision without moving the latest pointer.
func (s *Store) Put(ctx context.Context, id pak.RevisionID, data []byte) error {
	if id.IsEmpty() {
		return errors.NewValidationError(errors.ErrCodeInvalidInput, "empty revision id")
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(revisionsBucket).Put([]byte(id), data)
	})
	if err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "storing revision "+id.String(), err)
	}
	s.logger.Debug(ctx, "stored revision", "revision", id, "bytes", len(data))

	return nil
}

// Get returns the serialized revision id.
func (s *Store) Get(ctx context.Context, id pak.RevisionID) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(revisionsBucket).Get([]byte(id))
		if v == nil {
			return errors.NewNotFoundError(errors.ErrCodeRevisionNotFound, "revision not found").WithContext("revision", id.String())
		}
		// bbolt values are only valid inside the transaction.
		data = append([]byte(nil), v...)
		return nil
	})

	return data, err
}

// SetLatest moves the latest pointer to an already stored revision.
func (s *Store) SetLatest(ctx context.Context, id pak.RevisionID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(revisionsBucket).Get([]byte(id)) == nil {
			return errors.NewNotFoundError(errors.ErrCodeRevisionNotFound, "revision not found").WithContext("revision", id.String())
		}
		return tx.Bucket(metaBucket).Put(keyLatest, []byte(id))
	})
}

// Latest returns the id of the latest revision.
func (s *Store) Latest(ctx context.Context) (pak.RevisionID, error) {
	var id pak.RevisionID
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(keyLatest)
		if v == nil {
			return errors.NewNotFoundError(errors.ErrCodeRevisionNotFound, "no revision has been stored yet")
		}
		id = pak.RevisionID(v)
		return nil
	})

	return id, err
}

// SavePak serializes p, stores it and makes it the latest revision in one
// transaction.
func (s *Store) SavePak(ctx context.Context, p *pak.Pak) error {
	data, err := pak.Marshal(p)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(revisionsBucket).Put([]byte(p.ID), data); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put(keyLatest, []byte(p.ID))
	})
	if err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "saving revision "+p.ID.String(), err)
	}
	s.logger.Info(ctx, "saved revision", "revision", p.ID, "bytes", len(data))

	return nil
}

// LoadPak returns the revision id decoded.
func (s *Store) LoadPak(ctx context.Context, id pak.RevisionID) (*pak.Pak, error) {
	data, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return pak.Unmarshal(data)
}

// LoadLatest decodes the latest revision.
func (s *Store) LoadLatest(ctx context.Context) (*pak.Pak, error) {
	id, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}

	return s.LoadPak(ctx, id)
}

// List returns every stored revision in key order.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		latest := string(tx.Bucket(metaBucket).Get(keyLatest))
		return tx.Bucket(revisionsBucket).ForEach(func(k, v []byte) error {
			entries = append(entries, Entry{
				ID:     pak.RevisionID(k),
				Size:   len(v),
				Latest: string(k) == latest,
			})
			return nil
		})
	})
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeReadFailed, "listing revisions", err)
	}

	return entries, nil
}
