package store

import (
	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/ledger"
)

// SettingsStore holds the escrow configuration record.
type SettingsStore struct {
	cell *ledger.Cell[domain.Settings]
}

// NewSettingsStore creates an uninitialized SettingsStore.
func NewSettingsStore() *SettingsStore {
	return &SettingsStore{cell: ledger.NewCell[domain.Settings]()}
}

// Get returns the settings, or domain.ErrNotInitialized before initialize.
func (s *SettingsStore) Get(tx *ledger.Tx) (domain.Settings, error) {
	v, ok := s.cell.Get(tx)
	if !ok {
		return domain.Settings{}, domain.ErrNotInitialized
	}
	return v, nil
}

// Initialized reports whether settings have been written.
func (s *SettingsStore) Initialized(tx *ledger.Tx) bool {
	_, ok := s.cell.Get(tx)
	return ok
}

// Put writes the settings.
func (s *SettingsStore) Put(tx *ledger.Tx, v domain.Settings) {
	s.cell.Set(tx, v)
}
