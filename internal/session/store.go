package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/prwatch/internal/filex"
)

// Remembered is what survives a daemon restart inside the remember window.
type Remembered struct {
	Password  string    `json:"password"`
	Remember  bool      `json:"remember"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the record may still be used at now.
func (r *Remembered) Valid(now time.Time) bool {
	return r != nil && r.Remember && r.Password != "" && now.Before(r.ExpiresAt)
}

// VolatileStore persists the remember record somewhere that survives a
// daemon restart but not a reboot. Load returns (nil, nil) when nothing is
// stored.
type VolatileStore interface {
	Load() (*Remembered, error)
	Save(r Remembered) error
	Clear() error
}

// FileStore keeps the record in a 0600 JSON file, normally under
// $XDG_RUNTIME_DIR.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (*Remembered, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var r Remembered
	if err := json.Unmarshal(data, &r); err != nil {
		// A torn or foreign file is treated as no session.
		_ = filex.RemoveIfExists(s.path)
		return nil, nil
	}
	return &r, nil
}

func (s *FileStore) Save(r Remembered) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := filex.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filex.RemoveIfExists(s.path)
}

// MemoryStore is a VolatileStore for tests and for running without a
// runtime directory.
type MemoryStore struct {
	mu sync.Mutex
	r  *Remembered
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load() (*Remembered, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.r == nil {
		return nil, nil
	}
	cp := *s.r
	return &cp, nil
}

func (s *MemoryStore) Save(r Remembered) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r = &r
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r = nil
	return nil
}
