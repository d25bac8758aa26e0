package cbi

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Encoding names reported in Report.Encoding.
const (
	EncodingUTF8        = "utf-8"
	EncodingLatin1      = "iso-8859-1"
	EncodingWindows1252 = "windows-1252"
	EncodingLossy       = "lossy"
)

type candidate struct {
	name   string
	enc    encoding.Encoding
	accept func(raw []byte, decoded string) bool
}

var fallbackChain = []candidate{
	{name: EncodingLatin1, enc: charmap.ISO8859_1, accept: noC1Controls},
	{name: EncodingWindows1252, enc: charmap.Windows1252, accept: noReplacement},
}

// Decode converts raw statement bytes to text. UTF-8 is tried first, then
// ISO-8859-1 and Windows-1252. When every decoder is rejected the bytes are
// read as ISO-8859-1 regardless of control codes; Decode never fails.
func Decode(raw []byte) (string, string) {
	if utf8.Valid(raw) {
		return string(raw), EncodingUTF8
	}
	for _, c := range fallbackChain {
		text, err := c.enc.NewDecoder().Bytes(raw)
		if err != nil {
			continue
		}
		if c.accept(raw, string(text)) {
			return string(text), c.name
		}
	}
	text, _ := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	return string(text), EncodingLossy
}

// noC1Controls rejects Latin-1 when the input holds bytes in 0x80-0x9F, which
// are printable characters in Windows-1252 but control codes in ISO-8859-1.
func noC1Controls(raw []byte, _ string) bool {
	for _, b := range raw {
		if b >= 0x80 && b <= 0x9F {
			return false
		}
	}
	return true
}

func noReplacement(_ []byte, decoded string) bool {
	return !strings.ContainsRune(decoded, utf8.RuneError)
}
