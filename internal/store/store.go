package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"kryptometer/logger"
)

// Keys persisted by the store. Each key maps to one JSON file in the
// store directory.
const (
	KeyWatchlist = "watchlist"
	KeyAlerts    = "price_alerts"
	KeyPortfolio = "portfolio_holdings"
	KeyPrefs     = "ui_preferences"
)

// ErrNotFound is returned by Load when the key has never been saved.
var ErrNotFound = errors.New("store: key not found")

// Store persists application state as one JSON file per key. Writes go
// through a temp file and rename so a crash mid-write never leaves a
// corrupt file behind.
type Store struct {
	dir string
	log *logger.Entry
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}
	return &Store{
		dir: dir,
		log: logger.GetLogger().WithComponent("store"),
	}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Save marshals v and atomically replaces the file for key.
func (s *Store) Save(key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(s.dir, key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", key, err)
	}

	s.log.WithFields(logger.Fields{"key": key, "bytes": len(data)}).Debug("saved state")
	return nil
}

// Load unmarshals the file for key into v. Returns ErrNotFound when the
// key has never been saved so callers can fall back to defaults.
func (s *Store) Load(key string, v interface{}) error {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// Delete removes the file for key. Missing files are not an error.
func (s *Store) Delete(key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
