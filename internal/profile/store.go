package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store persists profiles as one JSON file per profile name.
//
// A profile name maps to a single file under the store directory; there is
// no locking across processes, so concurrent saves to the same name are
// last-writer-wins.
type Store struct {
	dir string
}

// DefaultDir returns the default profile directory (~/.ankabot/profiles).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".ankabot", "profiles")
	}
	return filepath.Join(home, ".ankabot", "profiles")
}

// NewStore creates a store rooted at dir (DefaultDir when empty).
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Store{dir: dir}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads the persisted profile for name, or returns a fresh empty one
// if none exists. A missing profile is never an error.
func (s *Store) Load(name string) (*Profile, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(name)) //#nosec G304 -- path is derived from a validated profile name
	if errors.Is(err, os.ErrNotExist) {
		return New(name), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile %q: %w", name, err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	p.Name = name
	return &p, nil
}

// Exists reports whether a profile has been saved under name. Load always
// succeeds for valid names, so callers that must distinguish "never saved"
// from "empty" check here first.
func (s *Store) Exists(name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}

	_, err := os.Stat(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat profile %q: %w", name, err)
	}
	return true, nil
}

// Save persists the profile, creating the store directory if needed.
func (s *Store) Save(p *Profile) error {
	if err := validateName(p.Name); err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile %q: %w", p.Name, err)
	}

	if err := os.WriteFile(s.path(p.Name), data, 0o600); err != nil {
		return fmt.Errorf("write profile %q: %w", p.Name, err)
	}

	return nil
}

// List returns the names of all persisted profiles, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// validateName rejects names that would escape the store directory.
func validateName(name string) error {
	if name == "" {
		return errors.New("profile name must not be empty")
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return fmt.Errorf("invalid profile name %q", name)
	}
	return nil
}
