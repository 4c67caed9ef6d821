package distributor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// FilePrefs persists view preferences as one JSON file.
// Params: file path.
// Returns: Preferences implementation surviving process restarts.
type FilePrefs struct {
	path string
}

// NewFilePrefs creates a file-backed preferences store.
// Params: JSON file path.
// Returns: initialized store; the file is created on first Save.
func NewFilePrefs(path string) *FilePrefs {
	return &FilePrefs{path: path}
}

// Load reads the stored preferences.
// Params: none.
// Returns: zero prefs when the file does not exist yet.
func (p *FilePrefs) Load() (Prefs, error) {
	body, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Prefs{}, nil
		}
		return Prefs{}, fmt.Errorf("read preferences %q: %w", p.path, err)
	}
	var prefs Prefs
	if err := json.Unmarshal(body, &prefs); err != nil {
		return Prefs{}, fmt.Errorf("parse preferences %q: %w", p.path, err)
	}
	return prefs, nil
}

// Save writes the preferences atomically.
// Params: prefs snapshot.
// Returns: write error.
func (p *FilePrefs) Save(prefs Prefs) error {
	body, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write preferences %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("commit preferences %q: %w", p.path, err)
	}
	return nil
}
