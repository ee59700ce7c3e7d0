package storage

import (
	"errors"

	"github.com/cockroachdb/pebble"
	"github.com/segmentio/ksuid"
)

// ErrNotFound is returned when no value is stored under an id.
var ErrNotFound = errors.New("not found")

// DefaultStorage is a Pebble database of opaque values keyed by KSUID, so that
// iteration order is creation order.
type DefaultStorage struct {
	db *pebble.DB
}

func NewDefaultStorage(path string) (*DefaultStorage, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &DefaultStorage{db: db}, nil
}

func (s *DefaultStorage) Create(data []byte) (*ksuid.KSUID, error) {
	id := ksuid.New()
	if err := s.db.Set(id.Bytes(), data, pebble.Sync); err != nil {
		return nil, err
	}

	return &id, nil
}

func (s *DefaultStorage) Read(id *ksuid.KSUID) ([]byte, error) {
	data, closer, err := s.db.Get(id.Bytes())
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return append([]byte(nil), data...), nil
}

func (s *DefaultStorage) Update(id *ksuid.KSUID, data []byte) error {
	return s.db.Set(id.Bytes(), data, pebble.Sync)
}

func (s *DefaultStorage) Delete(id *ksuid.KSUID) error {
	return s.db.Delete(id.Bytes(), pebble.Sync)
}

// Scan calls fn for every stored value in id order. The data slice is only
// valid during the call.
func (s *DefaultStorage) Scan(fn func(id ksuid.KSUID, data []byte) error) error {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return err
	}

	for iter.First(); iter.Valid(); iter.Next() {
		id, err := ksuid.FromBytes(iter.Key())
		if err != nil {
			iter.Close()
			return err
		}
		if err := fn(id, iter.Value()); err != nil {
			iter.Close()
			return err
		}
	}
	return iter.Close()
}

func (s *DefaultStorage) Close() error {
	return s.db.Close()
}
