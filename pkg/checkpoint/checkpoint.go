// Package checkpoint persists the resumable cursor of each collection target.
//
// A cursor is only ever saved after the page it follows has been written to
// the sink, so a crash between the two replays at most one page.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrNotFound is returned by Load when no cursor is stored for a target.
var ErrNotFound = errors.New("checkpoint not found")

// State is the persisted cursor of one target.
type State struct {
	Target string `json:"target"`

	// LastID is the adapter-interpreted cursor (match ID, page number, offset).
	LastID int64 `json:"last_id"`

	UpdatedAt time.Time `json:"updated_at"`

	// Records is the running total of records persisted for the target.
	Records int64 `json:"records"`
}

// Store loads and saves cursors.
type Store interface {
	// Load returns ErrNotFound when the target has no cursor.
	Load(ctx context.Context, target string) (*State, error)
	Save(ctx context.Context, state State) error
	Reset(ctx context.Context, target string) error
}

var targetPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidateTarget rejects target names that are unsafe as file names or keys.
func ValidateTarget(target string) error {
	if !targetPattern.MatchString(target) {
		return fmt.Errorf("invalid target name %q", target)
	}
	return nil
}
