// Package entries stores configuration entries: one per configured device,
// keyed by an opaque ID and deduplicated by a per-domain unique ID.
package entries

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Source string

const (
	SourceUser   Source = "user"
	SourceImport Source = "import"
)

var (
	ErrEntryNotFound     = errors.New("config entry not found")
	ErrAlreadyConfigured = errors.New("already configured")
)

// Data is what the setup wizard collects for a device
type Data struct {
	Host string `yaml:"host"`
	Name string `yaml:"name"`
}

type Entry struct {
	ID        string    `yaml:"id"`
	Domain    string    `yaml:"domain"`
	Title     string    `yaml:"title"`
	UniqueID  string    `yaml:"unique_id,omitempty"`
	Source    Source    `yaml:"source"`
	Data      Data      `yaml:"data"`
	CreatedAt time.Time `yaml:"created_at"`
}

type file struct {
	Entries []Entry `yaml:"entries"`
}

// Store holds entries in memory and persists them to a YAML file.
// All methods are safe for concurrent use.
type Store struct {
	path string

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewStore returns an empty store backed by path. An empty path keeps
// the store in memory only.
func NewStore(path string) *Store {
	return &Store{
		path:    path,
		entries: make(map[string]Entry),
	}
}

// Load replaces the in-memory entries with the file contents. A missing file
// loads as an empty store.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "reading entries")
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return errors.Wrapf(err, "parsing %s", s.path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]Entry, len(f.Entries))
	for _, e := range f.Entries {
		s.entries[e.ID] = e
	}
	return nil
}

func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}

	f := file{Entries: s.List("")}
	raw, err := yaml.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "encoding entries")
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "creating entries directory")
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return errors.Wrap(err, "writing entries")
	}
	return errors.Wrap(os.Rename(tmp, s.path), "replacing entries")
}

// Add assigns an ID to e and stores it. Entries sharing a domain and a
// non-empty unique ID are rejected with ErrAlreadyConfigured.
func (s *Store) Add(e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.UniqueID != "" && s.hasUniqueID(e.Domain, e.UniqueID) {
		return Entry{}, errors.Wrapf(ErrAlreadyConfigured, "%s %s", e.Domain, e.UniqueID)
	}

	e.ID = uuid.NewString()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.entries[e.ID] = e
	return e, nil
}

func (s *Store) Get(id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, errors.Wrap(ErrEntryNotFound, id)
	}
	return e, nil
}

func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return errors.Wrap(ErrEntryNotFound, id)
	}
	delete(s.entries, id)
	return nil
}

// List returns entries for domain, or every entry when domain is empty,
// oldest first.
func (s *Store) List(domain string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if domain == "" || e.Domain == domain {
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) HasUniqueID(domain, uniqueID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasUniqueID(domain, uniqueID)
}

func (s *Store) hasUniqueID(domain, uniqueID string) bool {
	for _, e := range s.entries {
		if e.Domain == domain && e.UniqueID == uniqueID {
			return true
		}
	}
	return false
}
