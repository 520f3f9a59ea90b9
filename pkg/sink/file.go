package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/dota-collector/pkg/model"
)

// pageFile is the on-disk form of a page.
type pageFile struct {
	Target     string           `json:"target"`
	RunID      string           `json:"run_id"`
	Endpoint   string           `json:"endpoint"`
	Page       int              `json:"page"`
	Cursor     int64            `json:"cursor"`
	NextCursor int64            `json:"next_cursor"`
	FetchedAt  time.Time        `json:"fetched_at"`
	Records    []model.Envelope `json:"records"`
}

// PageFiles writes one JSON file per page under <dir>/<target>/. The file
// name depends only on target and cursors, so a replayed page overwrites
// its earlier copy.
type PageFiles struct {
	dir string
}

// NewPageFiles creates the output directory if needed.
func NewPageFiles(dir string) (*PageFiles, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &PageFiles{dir: dir}, nil
}

// Path returns the file a page is written to.
func (s *PageFiles) Path(page model.Page) string {
	name := fmt.Sprintf("%s_%d_%d.json", page.Target, page.Cursor, page.NextCursor)
	return filepath.Join(s.dir, page.Target, name)
}

// Write implements Sink.
func (s *PageFiles) Write(_ context.Context, page model.Page) error {
	data, err := json.MarshalIndent(pageFile{
		Target:     page.Target,
		RunID:      page.RunID,
		Endpoint:   page.Endpoint,
		Page:       page.Number,
		Cursor:     page.Cursor,
		NextCursor: page.NextCursor,
		FetchedAt:  page.FetchedAt,
		Records:    page.Envelopes(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode page: %w", err)
	}

	path := s.Path(page)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}
	return writeFileAtomic(path, data)
}

// Close implements Sink.
func (s *PageFiles) Close() error {
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
