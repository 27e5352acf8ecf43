// Package memory keeps the latest rate snapshot in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/kylycht/currencycalc/model"
	"github.com/kylycht/currencycalc/storage"
)

type Store struct {
	lock     sync.RWMutex        // guards snapshot
	snapshot *model.RateSnapshot // latest saved snapshot
}

func New() *Store {
	return &Store{}
}

var _ storage.RateStore = (*Store)(nil)

// Save implements storage.RateStore.
func (s *Store) Save(ctx context.Context, snapshot model.RateSnapshot) error {
	c := snapshot.Clone()

	s.lock.Lock()
	s.snapshot = &c
	s.lock.Unlock()

	return nil
}

// LoadLatest implements storage.RateStore.
func (s *Store) LoadLatest(ctx context.Context) (*model.RateSnapshot, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.snapshot == nil {
		return nil, nil
	}

	c := s.snapshot.Clone()
	return &c, nil
}
