package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sternrassler/dota-collector/pkg/model"
)

// runStampLayout names JSONL files by run start.
const runStampLayout = "20060102T150405Z"

// JSONL appends one envelope per line to <dir>/<target>_<runstart>.jsonl.
// Files are opened lazily, one per target.
type JSONL struct {
	dir      string
	runStart time.Time

	mu    sync.Mutex
	files map[string]*os.File
}

// NewJSONL creates a JSONL sink for a run started at runStart.
func NewJSONL(dir string, runStart time.Time) (*JSONL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &JSONL{
		dir:      dir,
		runStart: runStart.UTC(),
		files:    make(map[string]*os.File),
	}, nil
}

// Path returns the JSONL file of target.
func (s *JSONL) Path(target string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.jsonl", target, s.runStart.Format(runStampLayout)))
}

// Write implements Sink. The page is encoded fully before a single write so
// a failed encode never leaves a partial page in the file.
func (s *JSONL) Write(_ context.Context, page model.Page) error {
	var buf []byte
	for _, env := range page.Envelopes() {
		line, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("encode record %d: %w", env.RecordID, err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if len(buf) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.file(page.Target)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("append %s: %w", f.Name(), err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", f.Name(), err)
	}
	return nil
}

func (s *JSONL) file(target string) (*os.File, error) {
	if f, ok := s.files[target]; ok {
		return f, nil
	}
	f, err := os.OpenFile(s.Path(target), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl file: %w", err)
	}
	s.files[target] = f
	return f, nil
}

// Close implements Sink.
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for target, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.files, target)
	}
	return errors.Join(errs...)
}
