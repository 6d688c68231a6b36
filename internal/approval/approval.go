package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown or already consumed tokens.
var ErrNotFound = errors.New("approval token not found")

// Pending is a set of proposed improvements waiting for a manager's approval.
type Pending struct {
	Token        string    `json:"token"`
	Improvements []string  `json:"improvements"`
	ReportPath   string    `json:"report_path"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewPending builds a pending entry under a fresh token.
func NewPending(improvements []string, reportPath string) Pending {
	return Pending{
		Token:        uuid.New().String(),
		Improvements: improvements,
		ReportPath:   reportPath,
		CreatedAt:    time.Now().UTC(),
	}
}

// Store persists pending approvals keyed by token.
type Store interface {
	Save(ctx context.Context, p Pending) error
	Get(ctx context.Context, token string) (*Pending, error)
	Delete(ctx context.Context, token string) error
}

// FileStore keeps every pending approval in one JSON document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(_ context.Context, p Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	all[p.Token] = p
	return s.save(all)
}

func (s *FileStore) Get(_ context.Context, token string) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}
	p, ok := all[token]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *FileStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := all[token]; !ok {
		return ErrNotFound
	}
	delete(all, token)
	return s.save(all)
}

func (s *FileStore) load() (map[string]Pending, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]Pending), nil
		}
		return nil, fmt.Errorf("read pending approvals: %w", err)
	}

	all := make(map[string]Pending)
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parse pending approvals: %w", err)
	}
	return all, nil
}

func (s *FileStore) save(all map[string]Pending) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pending approvals: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write pending approvals: %w", err)
	}
	return os.Rename(tmp, s.path)
}
