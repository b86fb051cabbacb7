// Package keyring holds the set of access keys packets are classified
// against: channel secrets and participant identifiers, normalized to
// trimmed lower-case tokens.
package keyring

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type persistedConfig struct {
	ChannelKeys []string `json:"channelKeys"`
}

// Registry is the mutable access-key set, persisted on every mutation.
type Registry struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	keys   map[string]struct{}
}

// Open loads the registry at path, merges in the environment-seeded keys, and
// persists the merged set immediately so later restarts are driven by the
// file plus the then-current environment. A missing or malformed file
// contributes nothing; only an unusable parent directory is fatal.
func Open(path string, envKeys []string, logger *slog.Logger) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	r := &Registry{path: path, logger: logger, keys: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if err == nil {
		var cfg persistedConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			logger.Warn("config file malformed, using environment keys only", "path", path, "error", err)
		} else {
			for _, key := range cfg.ChannelKeys {
				r.addLocked(key)
			}
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("config file unreadable, using environment keys only", "path", path, "error", err)
	}

	for _, key := range envKeys {
		r.addLocked(key)
	}

	if err := r.persistLocked(); err != nil {
		logger.Warn("could not persist merged key set", "error", err)
	}

	return r, nil
}

// Add normalizes and inserts the key, then persists. Empty keys and
// duplicates are no-ops; a persist failure is returned with the in-memory
// state intact.
func (r *Registry) Add(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.addLocked(key) {
		return nil
	}
	return r.persistLocked()
}

// Remove normalizes and deletes the key, then persists. Removing an absent
// key is a no-op.
func (r *Registry) Remove(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	normalized := Normalize(key)
	if normalized == "" {
		return nil
	}
	if _, ok := r.keys[normalized]; !ok {
		return nil
	}

	delete(r.keys, normalized)
	return r.persistLocked()
}

// Contains reports whether the normalized key is present.
func (r *Registry) Contains(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.keys[Normalize(key)]
	return ok
}

// Snapshot returns the keys sorted ascending.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.keys))
	for key := range r.keys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

func (r *Registry) addLocked(key string) bool {
	normalized := Normalize(key)
	if normalized == "" {
		return false
	}
	if _, ok := r.keys[normalized]; ok {
		return false
	}
	r.keys[normalized] = struct{}{}
	return true
}

func (r *Registry) persistLocked() error {
	keys := make([]string, 0, len(r.keys))
	for key := range r.keys {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	data, err := json.MarshalIndent(persistedConfig{ChannelKeys: keys}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Normalize trims and lower-cases a key token.
func Normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
