package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Map of scan source to the time that source's result was recorded. Stored as a JSON text column.
type ScanCompletion map[string]time.Time

func (sc ScanCompletion) Value() (driver.Value, error) {
	if sc == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]time.Time(sc))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (sc *ScanCompletion) Scan(value interface{}) error {
	out := ScanCompletion{}
	if err := scanJSON(value, (*map[string]time.Time)(&out)); err != nil {
		return fmt.Errorf("scan completion column: %w", err)
	}
	if out == nil {
		out = ScanCompletion{}
	}
	*sc = out
	return nil
}

// Returns a copy with src recorded at t. A repeated report moves that source's timestamp; other keys are never changed or removed.
func (sc ScanCompletion) With(src string, t time.Time) ScanCompletion {
	out := make(ScanCompletion, len(sc)+1)
	maps.Copy(out, sc)
	out[src] = t
	return out
}

// JSON array of integer IDs, stored as text.
type Int64List []int64

func (l Int64List) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]int64(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *Int64List) Scan(value interface{}) error {
	var out []int64
	if err := scanJSON(value, &out); err != nil {
		return fmt.Errorf("id list column: %w", err)
	}
	*l = out
	return nil
}

func scanJSON(value interface{}, dest any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unexpected column type %T", value)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
