package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps one JSON file per target in a state directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the state directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the cursor file of target.
func (s *FileStore) Path(target string) string {
	return filepath.Join(s.dir, target+".cursor.json")
}

// Load reads the cursor file of target.
func (s *FileStore) Load(_ context.Context, target string) (*State, error) {
	if err := ValidateTarget(target); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path(target))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read cursor file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode cursor file %s: %w", s.Path(target), err)
	}
	if state.Target == "" {
		state.Target = target
	}
	return &state, nil
}

// Save writes the cursor through a temp file and rename so a crash never
// leaves a truncated cursor behind.
func (s *FileStore) Save(_ context.Context, state State) error {
	if err := ValidateTarget(state.Target); err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, state.Target+".cursor.*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cursor file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp cursor file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp cursor file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cursor file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.Path(state.Target)); err != nil {
		return fmt.Errorf("replace cursor file: %w", err)
	}
	return nil
}

// Reset deletes the cursor so the next run starts from the beginning.
func (s *FileStore) Reset(_ context.Context, target string) error {
	if err := ValidateTarget(target); err != nil {
		return err
	}
	if err := os.Remove(s.Path(target)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cursor file: %w", err)
	}
	return nil
}
