//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

func defaultDataDir() string {
	return xdgPath("XDG_DATA_HOME", filepath.Join(".local", "share"), "chronicle")
}

func configFilePath() string {
	return xdgPath("XDG_CONFIG_HOME", ".config", "chronicle", "config.json")
}

// fileBackend keeps config as one flat JSON object. Hand-edited files may
// hold numbers or booleans; they are read back as their string form.
type fileBackend struct {
	path string
	data map[string]string
}

func newPlatformBackend() ConfigBackend {
	b := &fileBackend{path: configFilePath(), data: map[string]string{}}
	if err := b.load(); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] %v. Using default values.\n", err)
	}
	return b
}

func (b *fileBackend) load() error {
	raw, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not read config file %s: %w", b.path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("could not parse config file %s: %w", b.path, err)
	}
	for k, v := range doc {
		switch val := v.(type) {
		case string:
			b.data[k] = val
		case float64:
			b.data[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			b.data[k] = strconv.FormatBool(val)
		default:
			fmt.Fprintf(os.Stderr, "[WARN] ignoring config key %s in %s: unsupported value %v\n", k, b.path, v)
		}
	}
	return nil
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	out, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, out, 0o600)
}

func (b *fileBackend) Lookup(key string) (string, bool, error) {
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *fileBackend) Store(key, val string) error {
	b.data[key] = val
	return b.save()
}

func (b *fileBackend) Unset(key string) error {
	if _, ok := b.data[key]; !ok {
		return nil
	}
	delete(b.data, key)
	return b.save()
}
