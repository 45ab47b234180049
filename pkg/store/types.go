package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ID is the canonical textual form of an entity identifier. The API may send
// ids as JSON numbers or strings; 7 and "7" name the same entity.
type ID string

// IDFromInt returns the ID for an integer identifier.
func IDFromInt(i int) ID {
	return ID(strconv.Itoa(i))
}

// ParseID reads an identifier given as text, such as a command-line
// argument. Numeric text is canonicalised the way JSON numbers are, so "07"
// and "7.0" both address entity 7; anything else is used as-is.
func ParseID(s string) ID {
	s = strings.TrimSpace(s)
	if canonical, ok := canonicalNumber(s); ok {
		return ID(canonical)
	}
	return ID(s)
}

// canonicalNumber formats integral numeric text as a base-10 integer.
func canonicalNumber(s string) (string, bool) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(i, 10), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return "", false
	}
	return strconv.FormatInt(int64(f), 10), true
}

func (id ID) String() string {
	return string(id)
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decoding string id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decoding numeric id %s: %w", b, err)
	}
	if canonical, ok := canonicalNumber(n.String()); ok {
		*id = ID(canonical)
		return nil
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes integral ids as numbers and everything else as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Record is an opaque server-defined entity. Only its id is interpreted;
// the raw bytes are kept so the record round-trips exactly.
type Record struct {
	ID  ID
	Raw json.RawMessage
}

// UnmarshalJSON keeps a copy of b and extracts the "id" field.
func (r *Record) UnmarshalJSON(b []byte) error {
	var head struct {
		ID ID `json:"id"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	r.ID = head.ID
	r.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON returns the server bytes unchanged.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.Raw) == 0 {
		return []byte("null"), nil
	}
	return r.Raw, nil
}

// Decode unmarshals the raw record into v.
func (r Record) Decode(v any) error {
	if len(r.Raw) == 0 {
		return fmt.Errorf("record %q has no content", r.ID)
	}
	return json.Unmarshal(r.Raw, v)
}

// Meta is the pagination metadata served alongside a page of records.
// Fields the server omitted are nil.
type Meta struct {
	Page    *int
	PerPage *int
	Total   *int

	Raw json.RawMessage
}

// NewMeta builds metadata with all three counters set.
func NewMeta(page, perPage, total int) Meta {
	return Meta{Page: &page, PerPage: &perPage, Total: &total}
}

func (m *Meta) UnmarshalJSON(b []byte) error {
	var fields struct {
		Page    *int `json:"page"`
		PerPage *int `json:"per_page"`
		Total   *int `json:"total"`
	}
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("decoding meta: %w", err)
	}
	m.Page, m.PerPage, m.Total = fields.Page, fields.PerPage, fields.Total
	m.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON prefers the server bytes when the metadata was decoded from them.
func (m Meta) MarshalJSON() ([]byte, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	return json.Marshal(struct {
		Page    *int `json:"page,omitempty"`
		PerPage *int `json:"per_page,omitempty"`
		Total   *int `json:"total,omitempty"`
	}{m.Page, m.PerPage, m.Total})
}
