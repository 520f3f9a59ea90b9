// Package model defines the records, pages and cursor semantics shared by
// provider adapters, sinks and the collector.
package model

import (
	"encoding/json"
	"time"
)

// CursorKind describes how an adapter interprets the int64 cursor.
type CursorKind string

const (
	// CursorKeyset is an entity ID (e.g. less_than_match_id).
	CursorKeyset CursorKind = "keyset"

	// CursorPage is a 1-based page number.
	CursorPage CursorKind = "page"

	// CursorOffset is the number of records already consumed.
	CursorOffset CursorKind = "offset"
)

// Direction is the order in which a cursor must move.
type Direction int

const (
	// Ascending cursors grow with every page (page numbers, offsets).
	Ascending Direction = iota

	// Descending cursors shrink with every page (newest-first match IDs).
	Descending
)

// Advances reports whether next moves strictly past prev in direction d.
// A zero prev means "no cursor yet" and any non-zero next advances it.
func (d Direction) Advances(prev, next int64) bool {
	if prev == 0 {
		return next != 0
	}
	if d == Descending {
		return next < prev
	}
	return next > prev
}

// Dominates reports whether cursor a is at or past cursor b.
func (d Direction) Dominates(a, b int64) bool {
	if b == 0 {
		return true
	}
	if a == 0 {
		return false
	}
	if d == Descending {
		return a <= b
	}
	return a >= b
}

// Record is one domain entity (match, team, hero) exactly as the API returned it.
type Record struct {
	// ID is the identifying field used for cursor extraction.
	ID int64

	// StartTime is the entity's start time when the provider exposes one.
	// Zero when unknown.
	StartTime time.Time

	// Raw is the verbatim JSON object.
	Raw json.RawMessage
}

// Batch is the decoded body of one page response.
type Batch struct {
	Records []Record

	// Exhausted is set when the provider signals there is nothing after this page.
	Exhausted bool
}

// Page is a batch of records persisted together with its request metadata.
type Page struct {
	Target     string
	RunID      string
	Endpoint   string
	Number     int
	Cursor     int64
	NextCursor int64
	FetchedAt  time.Time
	Records    []Record
}

// Envelope is the on-disk form of a record.
type Envelope struct {
	Target    string          `json:"target"`
	RunID     string          `json:"run_id"`
	Endpoint  string          `json:"endpoint"`
	FetchedAt time.Time       `json:"fetched_at"`
	RecordID  int64           `json:"record_id"`
	Record    json.RawMessage `json:"record"`
}

// Envelopes wraps every record of the page with its request metadata.
func (p Page) Envelopes() []Envelope {
	out := make([]Envelope, 0, len(p.Records))
	for _, r := range p.Records {
		out = append(out, Envelope{
			Target:    p.Target,
			RunID:     p.RunID,
			Endpoint:  p.Endpoint,
			FetchedAt: p.FetchedAt,
			RecordID:  r.ID,
			Record:    r.Raw,
		})
	}
	return out
}
