// Package sink persists collected pages.
//
// Every sink tolerates replay of the same page: file sinks overwrite or
// append, database sinks ignore records already stored for the target.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/dota-collector/pkg/model"
)

// Sink stores one page at a time. Write must be durable when it returns nil:
// the collector advances the cursor right after.
type Sink interface {
	Write(ctx context.Context, page model.Page) error
	Close() error
}

// Multi fans a page out to several sinks in order. The first failure aborts
// the write.
type Multi []Sink

// Write implements Sink.
func (m Multi) Write(ctx context.Context, page model.Page) error {
	for i, s := range m {
		if err := s.Write(ctx, page); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
