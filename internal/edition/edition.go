// Package edition handles parsing and validation of edition numbers as
// they arrive from checkout requests and provider metadata.
package edition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMissing     = errors.New("edition: missing")
	ErrNotInteger  = errors.New("edition: not an integer")
	ErrNotPositive = errors.New("edition: must be positive")
	ErrOutOfRange  = errors.New("edition: beyond the last edition")
)

// Parse coerces a raw JSON value into an edition number. Numbers and
// numeric strings are accepted ("12", 12, 12.0); anything else is rejected.
func Parse(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, ErrMissing
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %s", ErrNotInteger, raw)
		}
		return ParseString(s)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrNotInteger, raw)
	}
	return ParseString(n.String())
}

// ParseString parses an edition from text, e.g. provider metadata values.
func ParseString(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMissing
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		// Accept integral floats such as "12.0" which JS clients produce.
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, fmt.Errorf("%w: %q", ErrNotInteger, s)
		}
		n = int(f)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrNotPositive, n)
	}
	return n, nil
}

// Validate checks an already parsed edition against the configured size of
// the run. A max of 0 means the run is open-ended.
func Validate(n, max int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrNotPositive, n)
	}
	if max > 0 && n > max {
		return fmt.Errorf("%w: %d > %d", ErrOutOfRange, n, max)
	}
	return nil
}

// Label is the product name shown by the payment provider for an edition.
// The first %d in name is replaced by the number; any other % is literal.
// Without a %d the number is appended as "#n".
func Label(name string, n int) string {
	if strings.Contains(name, "%d") {
		return strings.Replace(name, "%d", strconv.Itoa(n), 1)
	}
	return name + " #" + strconv.Itoa(n)
}
