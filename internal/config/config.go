// Package config manages the application's JSON configuration document.
// Defaults are compiled into the binary; a user file under the data
// directory is deep-merged on top, with user values winning.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"dario.cat/mergo"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// EnvDataDir overrides the default data directory when set.
const EnvDataDir = "WEBPILOT_DATA_DIR"

const configFileName = "config.json"

// DataDir returns the directory webpilot keeps its state in:
// $WEBPILOT_DATA_DIR if set, otherwise ~/.webpilot.
func DataDir() string {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".webpilot"
	}
	return filepath.Join(home, ".webpilot")
}

// Store holds the merged configuration document. All reads and writes
// go through dotted key paths ("chrome.debug_port"). A Store is safe
// for concurrent use.
type Store struct {
	mu       sync.RWMutex
	path     string
	dataDir  string
	defaults []byte
	doc      []byte
}

// Load reads the user config from the data directory, merging it over
// the embedded defaults. A missing user file is created from defaults;
// a corrupt one is logged and ignored.
func Load(defaults []byte) (*Store, error) {
	return LoadFrom(defaults, filepath.Join(DataDir(), configFileName))
}

// LoadFrom is Load with an explicit file path. The directory holding
// the file becomes the store's data directory.
func LoadFrom(defaults []byte, path string) (*Store, error) {
	if !gjson.ValidBytes(defaults) {
		return nil, fmt.Errorf("config: embedded defaults are not valid JSON")
	}

	s := &Store{
		path:     path,
		dataDir:  filepath.Dir(path),
		defaults: defaults,
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// reload re-reads the user file and rebuilds the merged document.
func (s *Store) reload() error {
	user, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.doc = pretty(s.defaults)
		s.mu.Unlock()
		// Seed the data dir so users have a file to edit.
		if werr := s.writeFile(s.defaults); werr != nil {
			return fmt.Errorf("config: write default config: %w", werr)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", s.path, err)
	}

	merged, err := merge(s.defaults, user)
	if err != nil {
		// A corrupt user file must not take the app down.
		slog.Warn("config file is invalid, falling back to defaults",
			"path", s.path, "error", err)
		merged = pretty(s.defaults)
	}

	s.mu.Lock()
	s.doc = merged
	s.mu.Unlock()
	return nil
}

// merge deep-merges the user document over the defaults. Nested
// objects are merged key by key; scalars and arrays from the user
// document replace the default value wholesale.
func merge(defaults, user []byte) ([]byte, error) {
	var base, overlay map[string]any
	if err := json.Unmarshal(defaults, &base); err != nil {
		return nil, fmt.Errorf("parse defaults: %w", err)
	}
	if err := json.Unmarshal(user, &overlay); err != nil {
		return nil, fmt.Errorf("parse user config: %w", err)
	}
	if err := mergo.Merge(&base, overlay, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	return json.MarshalIndent(base, "", "  ")
}

// Get returns the value at a dotted key path, or def when the path is
// absent.
func (s *Store) Get(path string, def any) any {
	s.mu.RLock()
	res := gjson.GetBytes(s.doc, path)
	s.mu.RUnlock()
	if !res.Exists() {
		return def
	}
	return res.Value()
}

// GetString returns the string at path, or def when absent or not a
// string.
func (s *Store) GetString(path, def string) string {
	s.mu.RLock()
	res := gjson.GetBytes(s.doc, path)
	s.mu.RUnlock()
	if res.Type != gjson.String {
		return def
	}
	return res.String()
}

// GetInt returns the integer at path, or def when absent.
func (s *Store) GetInt(path string, def int) int {
	s.mu.RLock()
	res := gjson.GetBytes(s.doc, path)
	s.mu.RUnlock()
	if res.Type != gjson.Number {
		return def
	}
	return int(res.Int())
}

// GetBool returns the boolean at path, or def when absent.
func (s *Store) GetBool(path string, def bool) bool {
	s.mu.RLock()
	res := gjson.GetBytes(s.doc, path)
	s.mu.RUnlock()
	if !res.IsBool() {
		return def
	}
	return res.Bool()
}

// Set writes a value at a dotted key path, creating intermediate
// objects as needed, and persists the document to disk.
func (s *Store) Set(path string, value any) error {
	s.mu.Lock()
	doc, err := sjson.SetBytes(s.doc, path, value)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("config: set %q: %w", path, err)
	}
	s.doc = pretty(doc)
	out := s.doc
	s.mu.Unlock()
	return s.writeFile(out)
}

// Save persists the current document to the config file.
func (s *Store) Save() error {
	s.mu.RLock()
	out := s.doc
	s.mu.RUnlock()
	return s.writeFile(out)
}

func (s *Store) writeFile(doc []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, pretty(doc), 0o644)
}

// Document returns a copy of the merged JSON document.
func (s *Store) Document() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, len(s.doc))
	copy(out, s.doc)
	return out
}

// FilePath returns the path of the user config file.
func (s *Store) FilePath() string {
	return s.path
}

// Path resolves a named application directory ("logs", "screenshots",
// "reports", "downloads") from the paths section, creating it on
// demand. Relative entries are anchored at the data directory.
func (s *Store) Path(name string) (string, error) {
	dir := s.GetString("paths."+name, name)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(s.dataDir, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("config: create %s dir: %w", name, err)
	}
	return dir, nil
}

func pretty(doc []byte) []byte {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return doc
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return doc
	}
	return out
}
