package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID is the canonical string form of an event or item id.
//
// Ids arrive either as JSON strings or JSON numbers (clients that minted ids
// from a millisecond clock). Both decode to the same ID, so lookups never need
// to probe more than one representation.
type ID string

// NewID returns the canonical form of s.
func NewID(s string) ID {
	return ID(strings.TrimSpace(s))
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to decode id: %w", err)
		}
		*id = NewID(s)
		return nil
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("failed to decode numeric id: %w", err)
	}
	canonical, err := canonicalNumber(n)
	if err != nil {
		return err
	}
	*id = canonical
	return nil
}

// canonicalNumber renders integral numbers without exponent or fraction so
// that 1700000000000 and 1.7e12 name the same event.
func canonicalNumber(n json.Number) (ID, error) {
	if i, err := n.Int64(); err == nil {
		return ID(strconv.FormatInt(i, 10)), nil
	}
	f, err := n.Float64()
	if err != nil {
		return "", fmt.Errorf("invalid numeric id %q: %w", n.String(), err)
	}
	if f == float64(int64(f)) {
		return ID(strconv.FormatInt(int64(f), 10)), nil
	}
	return ID(strconv.FormatFloat(f, 'f', -1, 64)), nil
}
