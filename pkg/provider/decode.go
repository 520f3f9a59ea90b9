package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/dota-collector/pkg/model"
)

// timeFormat is how a provider encodes record start times.
type timeFormat int

const (
	timeUnixSeconds timeFormat = iota
	timeRFC3339
)

// recordShape names the fields pulled out of each record object.
type recordShape struct {
	idField    string
	timeField  string
	timeFormat timeFormat
}

// decodeRecords parses a JSON array of objects, keeping each object verbatim.
// Only a literal empty array is an empty page: a blank or null body is a
// truncated response and reported as ErrMalformed.
func decodeRecords(data []byte, shape recordShape) ([]model.Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	if bytes.Equal(data, []byte("null")) {
		return nil, fmt.Errorf("%w: null body", ErrMalformed)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	records := make([]model.Record, 0, len(items))
	for i, item := range items {
		rec, err := decodeRecord(item, shape)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRecord(item json.RawMessage, shape recordShape) (model.Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return model.Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	id, err := parseInt(fields[shape.idField])
	if err != nil {
		return model.Record{}, fmt.Errorf("%w: field %s: %v", ErrMalformed, shape.idField, err)
	}

	rec := model.Record{ID: id, Raw: item}
	if shape.timeField != "" {
		start, err := parseTime(fields[shape.timeField], shape.timeFormat)
		if err != nil {
			return model.Record{}, fmt.Errorf("%w: field %s: %v", ErrMalformed, shape.timeField, err)
		}
		rec.StartTime = start
	}
	return rec, nil
}

func parseInt(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("missing")
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		// Some APIs quote large IDs
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		n = json.Number(s)
	}
	return strconv.ParseInt(n.String(), 10, 64)
}

// parseTime returns the zero time for missing or null values.
func parseTime(raw json.RawMessage, format timeFormat) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	switch format {
	case timeRFC3339:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		return time.Parse(time.RFC3339, s)
	default:
		secs, err := parseInt(raw)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(secs, 0).UTC(), nil
	}
}

// DecodeReference parses a reference document (heroes, items) into records.
// Arrays are taken element by element and objects value by value, each
// identified by its "id" field; ordering of object values follows the key
// order of the document.
func DecodeReference(body []byte) ([]model.Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		return decodeRecords(body, recordShape{idField: "id"})
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: expected array or object", ErrMalformed)
	}

	var records []model.Record
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		var item json.RawMessage
		if err := dec.Decode(&item); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		rec, err := decodeRecord(item, recordShape{idField: "id"})
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return records, nil
}
