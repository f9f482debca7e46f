package pdf

import (
	"bytes"
	"compress/zlib"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func streamWithFilter(filter Object, raw []byte) Stream {
	dict := NewDictionary()
	dict.Set("Filter", filter)
	dict.Set("Length", Integer(len(raw)))
	return Stream{Dict: dict, Raw: raw}
}

func TestFilterFromName(t *testing.T) {
	cases := map[string]Filter{
		"FlateDecode":     FilterFlate,
		"Fl":              FilterFlate,
		"LZWDecode":       FilterLZW,
		"LZW":             FilterLZW,
		"ASCIIHexDecode":  FilterASCIIHex,
		"AHx":             FilterASCIIHex,
		"ASCII85Decode":   FilterASCII85,
		"A85":             FilterASCII85,
		"RunLengthDecode": FilterRunLength,
		"RL":              FilterRunLength,
		"CCITTFaxDecode":  FilterCCITTFax,
		"CCF":             FilterCCITTFax,
		"DCTDecode":       FilterDCT,
		"DCT":             FilterDCT,
		"JPXDecode":       FilterJPX,
		"JBIG2Decode":     FilterJBIG2,
	}
	for name, want := range cases {
		got, ok := FilterFromName(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := FilterFromName("Crypt")
	assert.False(t, ok)
}

func TestDecodeNoFilter(t *testing.T) {
	dict := NewDictionary()
	dict.Set("Length", Integer(4))
	data, err := Decode(Stream{Dict: dict, Raw: []byte("data")})
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
}

func TestDecodeUnknownFilterIsError(t *testing.T) {
	_, err := Decode(streamWithFilter(Name("NoSuchFilter"), []byte("x")))
	require.Error(t, err)
	var decodeErr *StreamDecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "NoSuchFilter", decodeErr.Filter)
}

func TestDecodeNonNameFilterEntry(t *testing.T) {
	_, err := Decode(streamWithFilter(Array{Integer(1)}, []byte("x")))
	require.Error(t, err)
	var decodeErr *StreamDecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestFlateDecode(t *testing.T) {
	plain := []byte("stream content that compresses: aaaaaaaaaaaaaaaaaaaaaaaa")
	data, err := Decode(streamWithFilter(Name("FlateDecode"), zlibCompress(t, plain)))
	require.NoError(t, err)
	assert.Equal(t, plain, data)
}

func TestFlateDecodeCorruptData(t *testing.T) {
	_, err := Decode(streamWithFilter(Name("FlateDecode"), []byte("not zlib at all")))
	require.Error(t, err)
	var decodeErr *StreamDecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "FlateDecode", decodeErr.Filter)
}

func TestDecodeFilterChain(t *testing.T) {
	// Hex applied first, then flate: raw bytes are hex of zlib data.
	plain := []byte("chained")
	raw := []byte(strings.ToUpper(hex.EncodeToString(zlibCompress(t, plain))) + ">")

	data, err := Decode(streamWithFilter(Array{Name("ASCIIHexDecode"), Name("FlateDecode")}, raw))
	require.NoError(t, err)
	assert.Equal(t, plain, data)
}

func TestASCIIHexDecode(t *testing.T) {
	data, err := asciiHexDecode([]byte("48 65 6C 6C 6F>"))
	require.NoError(t, err)
	assert.Equal(t, []byte("Hello"), data)

	// Odd trailing digit padded with zero
	data, err = asciiHexDecode([]byte("7>"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x70}, data)

	_, err = asciiHexDecode([]byte("4Z>"))
	require.Error(t, err)
	var encErr *CharacterEncodingError
	assert.ErrorAs(t, err, &encErr)
}

func TestASCII85Decode(t *testing.T) {
	// "Man " encodes to 9jqo^ in ascii85
	data, err := ascii85Decode([]byte("<~9jqo^~>"))
	require.NoError(t, err)
	assert.Equal(t, []byte("Man "), data)

	// Without the frame markers
	data, err = ascii85Decode([]byte("9jqo^"))
	require.NoError(t, err)
	assert.Equal(t, []byte("Man "), data)
}

func TestRunLengthDecode(t *testing.T) {
	// literal run of 3 bytes, repeat 'x' 4 times, EOD
	data, err := runLengthDecode([]byte{2, 'a', 'b', 'c', 253, 'x', 128})
	require.NoError(t, err)
	assert.Equal(t, []byte("abcxxxx"), data)

	_, err = runLengthDecode([]byte{5, 'a'})
	assert.Error(t, err, "literal run longer than remaining data")

	_, err = runLengthDecode([]byte{200})
	assert.Error(t, err, "repeat run with no byte to repeat")
}

func TestLZWDecode(t *testing.T) {
	// Codes 256 (clear), 65, 258, 65, 257 (EOD) in 9-bit MSB packing
	// decode to AAAA: code 258 hits the not-yet-defined-entry case.
	encoded := []byte{0x80, 0x10, 0x60, 0x44, 0x18, 0x08}
	data, err := Decode(streamWithFilter(Name("LZWDecode"), encoded))
	require.NoError(t, err)
	assert.Equal(t, []byte("AAAA"), data)
}

func TestLZWDecodeInvalidCode(t *testing.T) {
	// Code 300 right after clear references an undefined entry
	var buf bytes.Buffer
	bits := "100000000" + "100101100" // 256, 300
	var cur byte
	n := 0
	for _, c := range bits {
		cur <<= 1
		if c == '1' {
			cur |= 1
		}
		n++
		if n == 8 {
			buf.WriteByte(cur)
			cur, n = 0, 0
		}
	}
	if n > 0 {
		buf.WriteByte(cur << (8 - n))
	}

	_, err := lzwDecompress(buf.Bytes(), true)
	require.Error(t, err)
}

func TestLZWDecodeEmpty(t *testing.T) {
	data, err := lzwDecompress(nil, true)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestFlatePNGPredictor(t *testing.T) {
	// Two rows of 4 bytes. Row 1 uses Sub, row 2 uses Up.
	encoded := []byte{
		1, 1, 1, 1, 1,
		2, 1, 1, 1, 1,
	}

	dict := NewDictionary()
	dict.Set("Filter", Name("FlateDecode"))
	parms := NewDictionary()
	parms.Set("Predictor", Integer(15))
	parms.Set("Columns", Integer(4))
	dict.Set("DecodeParms", parms)

	data, err := Decode(Stream{Dict: dict, Raw: zlibCompress(t, encoded)})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 2, 3, 4, 5}, data)
}

func TestPNGPredictorPaeth(t *testing.T) {
	encoded := []byte{
		0, 10, 20, 30, 40, // first row plain
		4, 1, 1, 1, 1, // Paeth row
	}
	data, err := applyPNGPredictor(encoded, 4, 1)
	require.NoError(t, err)
	require.Len(t, data, 8)
	assert.Equal(t, []byte{10, 20, 30, 40}, data[:4])
	// Paeth with left/up/up-left resolves per byte; first byte has no
	// left so it takes the up value.
	assert.Equal(t, byte(11), data[4])
}

func TestPNGPredictorBadRowSize(t *testing.T) {
	_, err := applyPNGPredictor([]byte{0, 1, 2}, 4, 1)
	assert.Error(t, err)
}

func TestTIFFPredictor(t *testing.T) {
	data := applyTIFFPredictor([]byte{10, 1, 1, 1}, 4, 1, 8)
	assert.Equal(t, []byte{10, 11, 12, 13}, data)

	// Non 8-bit depths pass through untouched
	data = applyTIFFPredictor([]byte{10, 1}, 2, 1, 4)
	assert.Equal(t, []byte{10, 1}, data)
}

func TestCCITTFaxMissingRows(t *testing.T) {
	dict := NewDictionary()
	dict.Set("Filter", Name("CCITTFaxDecode"))
	parms := NewDictionary()
	parms.Set("K", Integer(-1))
	parms.Set("Columns", Integer(8))
	dict.Set("DecodeParms", parms)

	_, err := Decode(Stream{Dict: dict, Raw: []byte{0x00}})
	require.Error(t, err)
	var decodeErr *StreamDecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "CCITTFaxDecode", decodeErr.Filter)
}

func TestDCTPassthrough(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}
	data, err := Decode(streamWithFilter(Name("DCTDecode"), jpeg))
	require.NoError(t, err)
	assert.Equal(t, jpeg, data, "DCT data is handed to the image layer as-is")

	data, err = Decode(streamWithFilter(Name("JPXDecode"), jpeg))
	require.NoError(t, err)
	assert.Equal(t, jpeg, data)
}

func TestPaethPredictor(t *testing.T) {
	assert.Equal(t, byte(10), paethPredictor(10, 20, 30))
	assert.Equal(t, byte(20), paethPredictor(10, 20, 5))
	assert.Equal(t, byte(15), paethPredictor(20, 10, 15))
}
