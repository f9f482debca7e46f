package pdf

import (
	"bytes"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	utf16beBOM = []byte{0xFE, 0xFF}
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
)

// DecodeTextString converts the bytes of a PDF text string to UTF-8.
// The encoding is announced by a BOM: UTF-16BE or UTF-8. Without one
// the bytes are PDFDocEncoding, decoded here as Latin-1 (the printable
// ranges agree; the few PDFDoc-specific punctuation codes are rare
// enough that exactness is not worth a custom table).
func DecodeTextString(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, utf16beBOM):
		payload := data[len(utf16beBOM):]
		if len(payload)%2 != 0 {
			return "", &CharacterEncodingError{
				Position: int64(len(data)),
				Message:  "odd byte count in UTF-16BE string",
			}
		}
		dec := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
		out, err := dec.Bytes(payload)
		if err != nil {
			return "", &CharacterEncodingError{Message: err.Error()}
		}
		return string(out), nil

	case bytes.HasPrefix(data, utf8BOM):
		return string(data[len(utf8BOM):]), nil

	default:
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return "", &CharacterEncodingError{Message: err.Error()}
		}
		return string(out), nil
	}
}
