package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// tabState is the tab the CLI keeps using between invocations.
type tabState struct {
	APIURL    string    `json:"apiUrl"`
	TabID     string    `json:"tabId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

var errNoTab = errors.New("no open tab; run `inventory tab open` first")

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".pfp-inventory-tab.json"
	}
	return filepath.Join(dir, "pfp-inventory", "tab.json")
}

func loadState(path string) (*tabState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNoTab
	}
	if err != nil {
		return nil, err
	}
	var s tabState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if s.Token == "" || time.Now().After(s.ExpiresAt) {
		return nil, errNoTab
	}
	return &s, nil
}

func saveState(path string, s *tabState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func clearState(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
