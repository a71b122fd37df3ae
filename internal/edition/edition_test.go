package edition

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := map[string]int{
		`12`:    12,
		`"12"`:  12,
		`" 7 "`: 7,
		`12.0`:  12,
		`"3.0"`: 3,
		`1`:     1,
		` 250 `: 250,
	}
	for raw, want := range tests {
		got, err := Parse(json.RawMessage(raw))
		if err != nil {
			t.Errorf("Parse(%s): unexpected error: %v", raw, err)
			continue
		}
		if got != want {
			t.Errorf("Parse(%s) = %d, want %d", raw, got, want)
		}
	}
}

func TestParse_Missing(t *testing.T) {
	for _, raw := range []string{``, `null`, `""`, `"   "`} {
		_, err := Parse(json.RawMessage(raw))
		if !errors.Is(err, ErrMissing) {
			t.Errorf("Parse(%q): expected ErrMissing, got %v", raw, err)
		}
	}
}

func TestParse_NotInteger(t *testing.T) {
	for _, raw := range []string{`"abc"`, `12.5`, `"7a"`, `true`, `{}`, `[1]`} {
		_, err := Parse(json.RawMessage(raw))
		if !errors.Is(err, ErrNotInteger) {
			t.Errorf("Parse(%s): expected ErrNotInteger, got %v", raw, err)
		}
	}
}

func TestParse_NotPositive(t *testing.T) {
	for _, raw := range []string{`0`, `-4`, `"-1"`} {
		_, err := Parse(json.RawMessage(raw))
		if !errors.Is(err, ErrNotPositive) {
			t.Errorf("Parse(%s): expected ErrNotPositive, got %v", raw, err)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(100, 100); err != nil {
		t.Errorf("last edition should be valid, got %v", err)
	}
	if err := Validate(101, 100); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	// Open-ended run.
	if err := Validate(100000, 0); err != nil {
		t.Errorf("max=0 should not bound editions, got %v", err)
	}
	if err := Validate(0, 0); !errors.Is(err, ErrNotPositive) {
		t.Errorf("expected ErrNotPositive, got %v", err)
	}
}

func TestLabel(t *testing.T) {
	if got := Label("Carnet édition", 12); got != "Carnet édition #12" {
		t.Errorf("unexpected label %q", got)
	}
	if got := Label("Edition %d of 100", 5); got != "Edition 5 of 100" {
		t.Errorf("unexpected label %q", got)
	}
	if got := Label("Carnet 100% coton #%d", 3); got != "Carnet 100% coton #3" {
		t.Errorf("literal percent mangled: %q", got)
	}
	if got := Label("50% off", 2); got != "50% off #2" {
		t.Errorf("unexpected label %q", got)
	}
}
