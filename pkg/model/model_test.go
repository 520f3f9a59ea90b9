package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDirection_Advances(t *testing.T) {
	tests := []struct {
		name      string
		direction Direction
		prev      int64
		next      int64
		want      bool
	}{
		{"descending first cursor", Descending, 0, 500, true},
		{"descending moves down", Descending, 500, 400, true},
		{"descending stalls", Descending, 500, 500, false},
		{"descending moves up", Descending, 500, 600, false},
		{"ascending first page", Ascending, 0, 1, true},
		{"ascending moves up", Ascending, 1, 2, true},
		{"ascending stalls", Ascending, 2, 2, false},
		{"zero next never advances", Ascending, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.direction.Advances(tt.prev, tt.next); got != tt.want {
				t.Errorf("Advances(%d, %d) = %v, want %v", tt.prev, tt.next, got, tt.want)
			}
		})
	}
}

func TestDirection_Dominates(t *testing.T) {
	if !Descending.Dominates(100, 200) {
		t.Error("100 should dominate 200 for a descending cursor")
	}
	if Descending.Dominates(300, 200) {
		t.Error("300 should not dominate 200 for a descending cursor")
	}
	if !Ascending.Dominates(5, 0) {
		t.Error("any cursor dominates the empty cursor")
	}
	if Ascending.Dominates(0, 5) {
		t.Error("the empty cursor does not dominate a real one")
	}
}

func TestPage_Envelopes(t *testing.T) {
	fetched := time.Date(2025, 8, 5, 12, 0, 0, 0, time.UTC)
	page := Page{
		Target:    "pro-matches",
		RunID:     "run-1",
		Endpoint:  "/proMatches",
		FetchedAt: fetched,
		Records: []Record{
			{ID: 2, Raw: json.RawMessage(`{"match_id":2}`)},
			{ID: 1, Raw: json.RawMessage(`{"match_id":1}`)},
		},
	}

	envs := page.Envelopes()
	if len(envs) != 2 {
		t.Fatalf("len = %d, want 2", len(envs))
	}
	if envs[0].RecordID != 2 || envs[1].RecordID != 1 {
		t.Errorf("envelopes reordered: %d, %d", envs[0].RecordID, envs[1].RecordID)
	}
	if envs[0].Endpoint != "/proMatches" || !envs[0].FetchedAt.Equal(fetched) {
		t.Errorf("metadata not carried: %+v", envs[0])
	}
	if string(envs[1].Record) != `{"match_id":1}` {
		t.Errorf("record not verbatim: %s", envs[1].Record)
	}
}
