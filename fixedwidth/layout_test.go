package fixedwidth_test

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/benefits-engine/fixedwidth"
)

func testLayout() fixedwidth.Layout {
	return fixedwidth.MustLayout(
		fixedwidth.Field{Name: "type", Start: 1, End: 3},
		fixedwidth.Field{Name: "name", Start: 3, End: 13, Truncate: true},
		fixedwidth.Field{Name: "amount", Start: 13, End: 22, Justify: fixedwidth.Right, Pad: '0'},
		fixedwidth.Field{Name: "sign", Start: 22, End: 23, Default: "+"},
		// column 23-24 is filler
		fixedwidth.Field{Name: "code", Start: 25, End: 28},
	)
}

func TestLayout_EncodeDecodeRoundTrip(t *testing.T) {
	layout := testLayout()

	line, err := layout.Encode(map[string]string{
		"type":   "DT",
		"name":   "SMITH",
		"amount": "12345",
		"code":   "A1",
	})
	require.NoError(t, err)

	assert.Len(t, line, 27)
	assert.Equal(t, 27, layout.Width())
	assert.Equal(t, "DTSMITH     000012345+  A1 ", line)

	rec, err := layout.Decode(line)
	require.NoError(t, err)
	assert.Equal(t, "DT", rec["type"])
	assert.Equal(t, "SMITH     ", rec["name"])
	assert.Equal(t, "000012345", rec["amount"])
	assert.Equal(t, "+", rec["sign"])
	assert.Equal(t, "A1", rec.Get("code"))
}

func TestLayout_Overflow(t *testing.T) {
	layout := testLayout()

	_, err := layout.Encode(map[string]string{"amount": "1234567890"})

	assert.ErrorIs(t, err, fixedwidth.ErrFieldOverflow)
	var overflow *fixedwidth.FieldOverflowError
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, "amount", overflow.Field)
	assert.Equal(t, 9, overflow.Width)
}

func TestLayout_Truncate(t *testing.T) {
	line, err := testLayout().Encode(map[string]string{"name": "BARTHOLOMEW-JONES"})
	require.NoError(t, err)
	assert.Equal(t, "BARTHOLOME", line[2:12])
}

func TestLayout_NonASCIIValues(t *testing.T) {
	// GIVEN: A name with accented letters longer than its field
	// WHEN: Encoding the record
	// THEN: The name is folded to ASCII before it is cut, so the line keeps its width
	line, err := testLayout().Encode(map[string]string{"type": "DT", "name": "ÅNGSTRÖM-ZOË", "code": "A1"})
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(line))
	assert.Len(t, line, 27)
	assert.Equal(t, "ANGSTROM-Z", line[2:12])
	assert.Equal(t, "A1", line[24:26])
}

func TestASCII(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ZOË", "ZOE"},
		{"Núñez", "Nunez"},
		{"O'BRIEN", "O'BRIEN"},
		{"李 LI", " LI"},
		{"TAB\tHERE", "TABHERE"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, fixedwidth.ASCII(tt.in))
		})
	}
}

func TestLayout_DecodeShortLine(t *testing.T) {
	_, err := testLayout().Decode("DT")
	assert.ErrorIs(t, err, fixedwidth.ErrShortLine)
}

func TestNewLayout_Invalid(t *testing.T) {
	_, err := fixedwidth.NewLayout(
		fixedwidth.Field{Name: "a", Start: 1, End: 5},
		fixedwidth.Field{Name: "b", Start: 4, End: 6},
	)
	assert.ErrorIs(t, err, fixedwidth.ErrBadLayout)

	_, err = fixedwidth.NewLayout(fixedwidth.Field{Name: "a", Start: 0, End: 5})
	assert.ErrorIs(t, err, fixedwidth.ErrBadLayout)
}
