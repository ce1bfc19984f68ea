// Package credstore persists the session credentials (token, user id,
// username) across client restarts.
package credstore

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const fileName = "credentials.json"

// Credentials are the three values kept between runs. Key names match
// the backend's auth response fields.
type Credentials struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Complete reports whether all three values are present. Partial state
// (e.g. a crash mid-save) is treated the same as no stored session.
func (c *Credentials) Complete() bool {
	return c != nil && c.Token != "" && c.UserID != "" && c.Username != ""
}

// Store reads and writes credentials under a state directory.
type Store struct {
	path string
}

func New(stateDir string) *Store {
	return &Store{path: filepath.Join(stateDir, fileName)}
}

func (s *Store) Save(creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Load returns the stored credentials, or (nil, nil) when none exist.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
