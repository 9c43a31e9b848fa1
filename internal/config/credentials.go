package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// CredentialStore keeps the username and application token in a JSON file.
//
// The file is readable by its owner only. It never holds a password.
// Members other than username and token are preserved on save.
type CredentialStore struct {
	Path string
}

// NewCredentialStore returns a store at path, or at DefaultCredentialPath
// when path is empty.
func NewCredentialStore(path string) *CredentialStore {
	if path == "" {
		path = DefaultCredentialPath()
	}
	return &CredentialStore{Path: path}
}

// DefaultCredentialPath is <user config dir>/m2m-api/config.json.
func DefaultCredentialPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "m2m-api", "config.json")
}

// Load returns the stored username and token. A missing file is not an error.
func (c *CredentialStore) Load() (username, token string, err error) {
	record, err := c.read()
	if err != nil {
		return "", "", err
	}
	username, _ = record["username"].(string)
	token, _ = record["token"].(string)
	return username, token, nil
}

// Save stores username and token.
func (c *CredentialStore) Save(username, token string) error {
	record, err := c.read()
	if err != nil {
		record = map[string]any{}
	}
	record["username"] = username
	record["token"] = token
	return c.write(record)
}

// Clear removes the stored token and keeps the username.
func (c *CredentialStore) Clear() error {
	record, err := c.read()
	if err != nil {
		return err
	}
	if _, ok := record["token"]; !ok {
		return nil
	}
	delete(record, "token")
	return c.write(record)
}

func (c *CredentialStore) read() (map[string]any, error) {
	data, err := os.ReadFile(c.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	record := map[string]any{}
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return record, nil
}

func (c *CredentialStore) write(record map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(record, "", "    ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.Path, data, 0600); err != nil {
		return err
	}
	return os.Chmod(c.Path, 0600)
}
