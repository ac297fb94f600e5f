package terminal

import (
	"sync"
	"time"
)

// Record is the persisted view of a session, kept so environments
// orphaned by a crash can be removed on the next startup.
type Record struct {
	ID             string
	Language       string
	EnvironmentID  string
	State          State
	LastActivityAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store persists session records.
type Store interface {
	Save(rec *Record) error
	ListActive() ([]*Record, error)
	Delete(id string) error
}

// MemoryStore is an in-memory Store for tests and for running without a
// database file.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) ListActive() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []*Record
	for _, rec := range s.records {
		if rec.State == StateActive || rec.State == StateClosing {
			cp := *rec
			active = append(active, &cp)
		}
	}
	return active, nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}
