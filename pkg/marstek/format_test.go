package marstek

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHexDump(t *testing.T) {
	a := assert.New(t)

	a.Equal("", HexDump(nil))

	dump := HexDump([]byte("0123456789abcdef\x00\x01Hi"))
	lines := strings.Split(dump, "\n")
	a.Len(lines, 2)
	a.Equal("00000000  30 31 32 33 34 35 36 37 38 39 61 62 63 64 65 66  |0123456789abcdef|", lines[0])
	a.Equal("00000010  00 01 48 69"+strings.Repeat(" ", 37)+" |..Hi|", lines[1])
}

func TestFormatPrettySortsKeys(t *testing.T) {
	a := assert.New(t)

	out := Formatter{Pretty: true}.Format([]byte(`{"b":1,"a":2}`))
	a.Equal("{\n  \"a\": 2,\n  \"b\": 1\n}", out)
	a.Less(strings.Index(out, `"a"`), strings.Index(out, `"b"`))
}

func TestFormatPrettyKeepsNumbersAndText(t *testing.T) {
	a := assert.New(t)

	out := Formatter{Pretty: true}.Format([]byte(`{"id":12345678901234567890,"src":"VenusE-Größe","html":"<&>"}`))
	a.Contains(out, `"id": 12345678901234567890`)
	a.Contains(out, `"src": "VenusE-Größe"`)
	a.Contains(out, `"html": "<&>"`)
}

func TestFormatCompact(t *testing.T) {
	a := assert.New(t)

	out := Formatter{}.Format([]byte("{ \"b\" : 1,\n  \"a\": [1, 2] }"))
	a.Equal(`{"b":1,"a":[1,2]}`, out)
}

func TestFormatRaw(t *testing.T) {
	a := assert.New(t)

	out := Formatter{Raw: true, Pretty: true}.Format([]byte(`{"a":1}`))
	a.Equal(HexDump([]byte(`{"a":1}`)), out)
}

func TestFormatFallsBackForInvalidJSON(t *testing.T) {
	a := assert.New(t)

	out := Formatter{Pretty: true}.Format([]byte("not json\xff"))
	a.True(strings.HasPrefix(out, "00000000  6e 6f 74"))
	a.True(strings.HasSuffix(out, "\n\n(Text)\nnot json�"))

	out = Formatter{Pretty: true}.Format([]byte{})
	a.Equal("\n\n(Text)\n", out)
}
