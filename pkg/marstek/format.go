package marstek

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
)

const hexDumpWidth = 16

// Formatter renders reply packets for display.
type Formatter struct {
	// Raw prints every packet as a hex dump without attempting to decode it.
	Raw bool
	// Pretty indents JSON replies and sorts object keys.
	Pretty bool
}

// Format renders a single packet. Packets that are not valid JSON fall back
// to a hex dump followed by a best-effort text rendering.
func (f Formatter) Format(packet []byte) string {
	if f.Raw {
		return HexDump(packet)
	}

	out, err := f.formatJSON(packet)
	if err != nil {
		return HexDump(packet) + "\n\n(Text)\n" + decodeText(packet)
	}
	return out
}

func (f Formatter) formatJSON(packet []byte) (string, error) {
	if !utf8.Valid(packet) || !json.Valid(packet) {
		return "", errors.New("invalid JSON")
	}

	if !f.Pretty {
		buf := new(bytes.Buffer)
		if err := json.Compact(buf, packet); err != nil {
			return "", err
		}
		return buf.String(), nil
	}

	// Decoding into interface values turns objects into maps, which the
	// encoder writes with sorted keys.
	dec := json.NewDecoder(bytes.NewReader(packet))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// HexDump renders data as rows of 16 bytes: offset, hex bytes, printable ASCII.
func HexDump(data []byte) string {
	rows := make([]string, 0, (len(data)+hexDumpWidth-1)/hexDumpWidth)

	for offset := 0; offset < len(data); offset += hexDumpWidth {
		chunk := data[offset:min(offset+hexDumpWidth, len(data))]

		hexPart := make([]string, len(chunk))
		ascii := make([]byte, len(chunk))
		for i, b := range chunk {
			hexPart[i] = fmt.Sprintf("%02x", b)
			if b >= 32 && b <= 126 {
				ascii[i] = b
			} else {
				ascii[i] = '.'
			}
		}

		rows = append(rows, fmt.Sprintf("%08x  %-48s |%s|", offset, strings.Join(hexPart, " "), ascii))
	}

	return strings.Join(rows, "\n")
}

// decodeText replaces invalid UTF-8 bytes with U+FFFD.
func decodeText(data []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(out)
}
