/*
Package fixedwidth encodes and decodes fixed-width text records.

PURPOSE:
  Payer accumulator files are byte-exact column layouts. A Layout is the
  ordered list of fields for one record type; each field owns a column
  range and knows how to pad its value.

COLUMNS:
  Positions are 1-based with an exclusive end, as payer specs write them:

    Field{Name: "record_type", Start: 1, End: 3}   -> line[0:2]
    Field{Name: "sender_id",   Start: 3, End: 33}  -> line[2:32]

  Columns not covered by any field are filled with spaces.

ROUND TRIP:
  Decode(Encode(values))[name] == the padded value written for name.
  Values longer than their field fail with ErrFieldOverflow unless the
  field is marked Truncate.

ENCODING:
  Records are US-ASCII. Accented letters are folded to their base letter
  (Zoë -> Zoe) and any other non-ASCII rune is dropped before the value
  is measured, so widths are both bytes and characters.
*/
package fixedwidth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrFieldOverflow = errors.New("value overflows field")
	ErrShortLine     = errors.New("line shorter than layout")
	ErrBadLayout     = errors.New("invalid layout")
)

type FieldOverflowError struct {
	Field string
	Value string
	Width int
}

func (e *FieldOverflowError) Error() string {
	return fmt.Sprintf("field %s: value %q longer than %d", e.Field, e.Value, e.Width)
}

func (e *FieldOverflowError) Unwrap() error { return ErrFieldOverflow }

// =============================================================================
// FIELD
// =============================================================================

type Justify int

const (
	Left Justify = iota
	Right
)

type Field struct {
	Name    string
	Start   int
	End     int
	Justify Justify
	// Pad defaults to a space.
	Pad byte
	// Truncate cuts long values instead of failing.
	Truncate bool
	// Default is written when no value is supplied.
	Default string
}

func (f Field) Width() int { return f.End - f.Start }

func (f Field) format(v string) (string, error) {
	v = ASCII(v)
	w := f.Width()
	if len(v) > w {
		if !f.Truncate {
			return "", &FieldOverflowError{Field: f.Name, Value: v, Width: w}
		}
		v = v[:w]
	}
	pad := f.Pad
	if pad == 0 {
		pad = ' '
	}
	fill := strings.Repeat(string(pad), w-len(v))
	if f.Justify == Right {
		return fill + v, nil
	}
	return v + fill, nil
}

// ASCII folds s to printable US-ASCII.
func ASCII(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	return strings.Map(func(r rune) rune {
		if r < ' ' || r > '~' {
			return -1
		}
		return r
	}, folded)
}

// =============================================================================
// LAYOUT
// =============================================================================

type Layout struct {
	fields []Field
	width  int
}

// NewLayout checks that fields are ordered and don't overlap.
func NewLayout(fields ...Field) (Layout, error) {
	prevEnd := 1
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Start < 1 || f.End <= f.Start {
			return Layout{}, fmt.Errorf("%w: field %s has range [%d,%d)", ErrBadLayout, f.Name, f.Start, f.End)
		}
		if f.Start < prevEnd {
			return Layout{}, fmt.Errorf("%w: field %s overlaps the previous field", ErrBadLayout, f.Name)
		}
		if seen[f.Name] {
			return Layout{}, fmt.Errorf("%w: duplicate field %s", ErrBadLayout, f.Name)
		}
		seen[f.Name] = true
		prevEnd = f.End
	}
	return Layout{fields: fields, width: prevEnd - 1}, nil
}

// MustLayout is NewLayout for package-level layouts.
func MustLayout(fields ...Field) Layout {
	l, err := NewLayout(fields...)
	if err != nil {
		panic(err)
	}
	return l
}

// Width is the record length in bytes.
func (l Layout) Width() int { return l.width }

func (l Layout) Fields() []Field { return l.fields }

// Field looks up a field by name.
func (l Layout) Field(name string) (Field, bool) {
	for _, f := range l.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Encode renders values into one record. Unknown names are ignored.
func (l Layout) Encode(values map[string]string) (string, error) {
	buf := []byte(strings.Repeat(" ", l.width))
	for _, f := range l.fields {
		v, ok := values[f.Name]
		if !ok {
			v = f.Default
		}
		s, err := f.format(v)
		if err != nil {
			return "", err
		}
		copy(buf[f.Start-1:f.End-1], s)
	}
	return string(buf), nil
}

// Decode slices a record into its raw, still padded, field values.
func (l Layout) Decode(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < l.width {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrShortLine, len(line), l.width)
	}
	rec := make(Record, len(l.fields))
	for _, f := range l.fields {
		rec[f.Name] = line[f.Start-1 : f.End-1]
	}
	return rec, nil
}

// =============================================================================
// RECORD
// =============================================================================

// Record is a decoded line, field name to raw value.
type Record map[string]string

// Get returns the value with padding spaces trimmed.
func (r Record) Get(name string) string {
	return strings.TrimSpace(r[name])
}
