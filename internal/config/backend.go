package config

import (
	"os"
	"path/filepath"
)

// ConfigBackend is the platform store for persisted settings. Values are
// kept as strings; keys.go owns parsing them into typed fields.
type ConfigBackend interface {
	Lookup(key string) (val string, ok bool, err error)
	Store(key, val string) error
	Unset(key string) error
}

// xdgPath joins elems under the XDG base directory named by env, falling
// back to fallback (relative to $HOME) and finally to the working directory.
func xdgPath(env, fallback string, elems ...string) string {
	dir := os.Getenv(env)
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, fallback)
		} else {
			dir = "."
		}
	}
	return filepath.Join(append([]string{dir}, elems...)...)
}
