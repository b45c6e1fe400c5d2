package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Local persists values as JSON files in a directory, one file per key.
type Local struct {
	dir string
}

// NewLocal creates a file backend rooted at dir, defaulting to an "aika"
// folder in the user config directory.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("history: couldn't resolve user config dir: %w", err)
		}
		dir = filepath.Join(base, "aika")
	}
	return &Local{
		dir: dir,
	}, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.dir, key+".json")
}

func (l *Local) Read(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := os.ReadFile(l.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("history: couldn't read %s: %w", l.path(key), err)
	}
	return b, true, nil
}

func (l *Local) Write(ctx context.Context, key string, value []byte) error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("history: couldn't create %s: %w", l.dir, err)
	}
	// Write via temp file and rename so readers never see a partial list.
	tmp := l.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0644); err != nil {
		return fmt.Errorf("history: couldn't write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, l.path(key)); err != nil {
		return fmt.Errorf("history: couldn't rename %s: %w", tmp, err)
	}
	return nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	if err := os.Remove(l.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("history: couldn't remove %s: %w", l.path(key), err)
	}
	return nil
}
