package pdf

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"fmt"
	"io"

	"golang.org/x/image/ccitt"
)

// Filter enumerates the stream filters this package knows about. The
// set is closed: name resolution either yields one of these or fails,
// so "which filters exist" is statically matchable.
type Filter int

const (
	FilterFlate Filter = iota
	FilterLZW
	FilterASCIIHex
	FilterASCII85
	FilterRunLength
	FilterCCITTFax
	FilterDCT
	FilterJPX
	FilterJBIG2
)

var filterNames = map[Filter]string{
	FilterFlate:     "FlateDecode",
	FilterLZW:       "LZWDecode",
	FilterASCIIHex:  "ASCIIHexDecode",
	FilterASCII85:   "ASCII85Decode",
	FilterRunLength: "RunLengthDecode",
	FilterCCITTFax:  "CCITTFaxDecode",
	FilterDCT:       "DCTDecode",
	FilterJPX:       "JPXDecode",
	FilterJBIG2:     "JBIG2Decode",
}

func (f Filter) String() string {
	if name, ok := filterNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Filter(%d)", int(f))
}

// FilterFromName resolves a filter name, including the short aliases
// defined for inline images.
func FilterFromName(name string) (Filter, bool) {
	switch name {
	case "FlateDecode", "Fl":
		return FilterFlate, true
	case "LZWDecode", "LZW":
		return FilterLZW, true
	case "ASCIIHexDecode", "AHx":
		return FilterASCIIHex, true
	case "ASCII85Decode", "A85":
		return FilterASCII85, true
	case "RunLengthDecode", "RL":
		return FilterRunLength, true
	case "CCITTFaxDecode", "CCF":
		return FilterCCITTFax, true
	case "DCTDecode", "DCT":
		return FilterDCT, true
	case "JPXDecode":
		return FilterJPX, true
	case "JBIG2Decode":
		return FilterJBIG2, true
	}
	return 0, false
}

// Decode runs a stream's raw bytes through its declared filter chain.
// Filter may be a single name or an array applied left-to-right;
// DecodeParms pairs each filter with its parameter dictionary at the
// same index. An unknown filter name is a hard error: the remaining
// data cannot be trusted to be safely skippable.
//
// References inside Filter/DecodeParms are not resolved here; use
// Document.DecodeStream when the dictionary may contain them.
func Decode(s Stream) ([]byte, error) {
	filterObj := s.Dict.Get("Filter")
	if filterObj == nil {
		return s.Raw, nil
	}

	var names []Name
	switch f := filterObj.(type) {
	case Name:
		names = []Name{f}
	case Array:
		for _, item := range f {
			n, ok := item.(Name)
			if !ok {
				return nil, &StreamDecodeError{Message: fmt.Sprintf("non-name entry %s in Filter array", item)}
			}
			names = append(names, n)
		}
	default:
		return nil, &StreamDecodeError{Message: fmt.Sprintf("invalid Filter type %T", filterObj)}
	}

	parms := decodeParmsFor(s.Dict, len(names))

	data := s.Raw
	for i, name := range names {
		filter, ok := FilterFromName(string(name))
		if !ok {
			return nil, &StreamDecodeError{Filter: string(name), Message: "unsupported filter"}
		}
		var err error
		data, err = applyFilter(data, filter, parms[i])
		if err != nil {
			return nil, err
		}
	}

	return data, nil
}

// decodeParmsFor aligns DecodeParms with the filter chain: a single
// dictionary applies to a single filter, an array pairs by index, and
// missing or null slots mean no parameters.
func decodeParmsFor(dict *Dictionary, n int) []*Dictionary {
	parms := make([]*Dictionary, n)
	switch p := dict.Get("DecodeParms").(type) {
	case *Dictionary:
		if n > 0 {
			parms[0] = p
		}
	case Array:
		for i := 0; i < n && i < len(p); i++ {
			if d, ok := p[i].(*Dictionary); ok {
				parms[i] = d
			}
		}
	}
	return parms
}

// applyFilter decodes data with a single filter.
func applyFilter(data []byte, filter Filter, parms *Dictionary) ([]byte, error) {
	switch filter {
	case FilterFlate:
		return flateDecode(data, parms)
	case FilterLZW:
		return lzwDecode(data, parms)
	case FilterASCIIHex:
		return asciiHexDecode(data)
	case FilterASCII85:
		return ascii85Decode(data)
	case FilterRunLength:
		return runLengthDecode(data)
	case FilterCCITTFax:
		return ccittFaxDecode(data, parms)
	case FilterDCT, FilterJPX:
		// Already-compressed image formats; consumers hand them to an
		// image decoder as-is.
		return data, nil
	case FilterJBIG2:
		return jbig2Decode(data, parms)
	default:
		return nil, &StreamDecodeError{Filter: filter.String(), Message: "unsupported filter"}
	}
}

// flateDecode decompresses zlib/deflate data
func flateDecode(data []byte, parms *Dictionary) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &StreamDecodeError{Filter: "FlateDecode", Message: err.Error()}
	}
	defer r.Close()

	decoded, err := io.ReadAll(r)
	if err != nil {
		return nil, &StreamDecodeError{Filter: "FlateDecode", Message: err.Error()}
	}

	return applyPredictor(decoded, parms)
}

// lzwDecode decodes LZW compressed data
func lzwDecode(data []byte, parms *Dictionary) ([]byte, error) {
	earlyChange := int64(1)
	if ec, ok := parms.GetInt("EarlyChange"); ok {
		earlyChange = ec
	}

	decoded, err := lzwDecompress(data, earlyChange == 1)
	if err != nil {
		return nil, err
	}
	return applyPredictor(decoded, parms)
}

// lzwDecompress performs LZW decompression with the PDF bit packing
// (MSB-first, 9-12 bit variable codes). The standard library reader is
// not used because it cannot honor EarlyChange.
func lzwDecompress(data []byte, earlyChange bool) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	const (
		clearCode = 256
		eodCode   = 257
	)

	dict := make([][]byte, 4096)
	for i := 0; i < 256; i++ {
		dict[i] = []byte{byte(i)}
	}

	nextCode := 258
	codeSize := 9

	var result []byte
	var prevEntry []byte

	bitPos := 0

	readCode := func() int {
		if bitPos+codeSize > len(data)*8 {
			return eodCode
		}
		code := 0
		for i := 0; i < codeSize; i++ {
			byteIdx := (bitPos + i) / 8
			bitIdx := 7 - (bitPos+i)%8
			if data[byteIdx]&(1<<bitIdx) != 0 {
				code |= 1 << (codeSize - 1 - i)
			}
		}
		bitPos += codeSize
		return code
	}

	for {
		code := readCode()

		if code == eodCode {
			break
		}
		if code == clearCode {
			nextCode = 258
			codeSize = 9
			prevEntry = nil
			continue
		}

		var entry []byte
		if code < nextCode && dict[code] != nil {
			entry = dict[code]
		} else if code == nextCode && prevEntry != nil {
			entry = append(append([]byte{}, prevEntry...), prevEntry[0])
		} else {
			return nil, &StreamDecodeError{Filter: "LZWDecode", Message: fmt.Sprintf("invalid code %d", code)}
		}

		result = append(result, entry...)

		if prevEntry != nil && nextCode < 4096 {
			dict[nextCode] = append(append([]byte{}, prevEntry...), entry[0])
			nextCode++

			threshold := 1 << codeSize
			if earlyChange {
				threshold--
			}
			if nextCode > threshold && codeSize < 12 {
				codeSize++
			}
		}

		prevEntry = entry
	}

	return result, nil
}

// asciiHexDecode decodes ASCII hex encoded data
func asciiHexDecode(data []byte) ([]byte, error) {
	var result []byte
	var nibble byte
	var hasNibble bool

	for i, b := range data {
		if b == '>' {
			break
		}
		if isWhitespace(b) {
			continue
		}

		var val byte
		switch {
		case b >= '0' && b <= '9':
			val = b - '0'
		case b >= 'A' && b <= 'F':
			val = b - 'A' + 10
		case b >= 'a' && b <= 'f':
			val = b - 'a' + 10
		default:
			return nil, &CharacterEncodingError{
				Position: int64(i),
				Message:  fmt.Sprintf("invalid hex character %q", b),
			}
		}

		if hasNibble {
			result = append(result, nibble<<4|val)
			hasNibble = false
		} else {
			nibble = val
			hasNibble = true
		}
	}

	// An odd final digit acts as if followed by 0
	if hasNibble {
		result = append(result, nibble<<4)
	}

	return result, nil
}

// ascii85Decode decodes ASCII85 encoded data
func ascii85Decode(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	data = bytes.TrimPrefix(data, []byte("<~"))
	if idx := bytes.Index(data, []byte("~>")); idx >= 0 {
		data = data[:idx]
	} else {
		data = bytes.TrimSuffix(data, []byte("~"))
	}

	decoded, err := io.ReadAll(ascii85.NewDecoder(bytes.NewReader(data)))
	if err != nil {
		return nil, &StreamDecodeError{Filter: "ASCII85Decode", Message: err.Error()}
	}
	return decoded, nil
}

// runLengthDecode decodes run-length encoded data
func runLengthDecode(data []byte) ([]byte, error) {
	var result []byte

	for i := 0; i < len(data); {
		length := int(data[i])
		i++

		if length == 128 {
			break // EOD
		}

		if length < 128 {
			n := length + 1
			if i+n > len(data) {
				return nil, &StreamDecodeError{Filter: "RunLengthDecode", Message: "unexpected end of data"}
			}
			result = append(result, data[i:i+n]...)
			i += n
		} else {
			if i >= len(data) {
				return nil, &StreamDecodeError{Filter: "RunLengthDecode", Message: "unexpected end of data"}
			}
			result = append(result, bytes.Repeat(data[i:i+1], 257-length)...)
			i++
		}
	}

	return result, nil
}

// ccittFaxDecode decodes CCITT Group 3/4 fax data.
func ccittFaxDecode(data []byte, parms *Dictionary) ([]byte, error) {
	k := int64(0)
	if v, ok := parms.GetInt("K"); ok {
		k = v
	}
	columns := int64(1728)
	if v, ok := parms.GetInt("Columns"); ok && v > 0 {
		columns = v
	}
	rows, ok := parms.GetInt("Rows")
	if !ok || rows <= 0 {
		return nil, &StreamDecodeError{Filter: "CCITTFaxDecode", Message: "missing or invalid Rows"}
	}
	blackIs1, _ := parms.GetBool("BlackIs1")
	byteAlign, _ := parms.GetBool("EncodedByteAlign")

	subFormat := ccitt.Group3
	if k < 0 {
		subFormat = ccitt.Group4
	}

	opts := &ccitt.Options{Invert: !blackIs1, Align: byteAlign}
	r := ccitt.NewReader(bytes.NewReader(data), ccitt.MSB, subFormat, int(columns), int(rows), opts)
	decoded, err := io.ReadAll(r)
	if err != nil && !errorsIsUnexpectedEOF(err) {
		return nil, &StreamDecodeError{Filter: "CCITTFaxDecode", Message: err.Error()}
	}
	return decoded, nil
}

func errorsIsUnexpectedEOF(err error) bool {
	return err == io.ErrUnexpectedEOF || err == io.EOF
}

// jbig2Decode decodes embedded JBIG2 data. The globals stream, when
// present in the parameters, must already be decoded (the Document
// resolves and decodes it before calling the pipeline).
func jbig2Decode(data []byte, parms *Dictionary) ([]byte, error) {
	var globals []byte
	if g, ok := parms.Get("JBIG2Globals").(Stream); ok {
		decoded, err := Decode(g)
		if err != nil {
			return nil, err
		}
		globals = decoded
	}

	decoder := NewJBIG2Decoder(data, globals)
	decoded, err := decoder.Decode()
	if err != nil {
		return nil, &StreamDecodeError{Filter: "JBIG2Decode", Message: err.Error()}
	}
	return decoded, nil
}

// applyPredictor reverses the PNG (10-15) or TIFF (2) predictor that
// was applied before compression.
func applyPredictor(data []byte, parms *Dictionary) ([]byte, error) {
	predictor, ok := parms.GetInt("Predictor")
	if !ok || predictor <= 1 {
		return data, nil
	}

	columns := int64(1)
	if v, ok := parms.GetInt("Columns"); ok && v > 0 {
		columns = v
	}
	colors := int64(1)
	if v, ok := parms.GetInt("Colors"); ok && v > 0 {
		colors = v
	}
	bpc := int64(8)
	if v, ok := parms.GetInt("BitsPerComponent"); ok && v > 0 {
		bpc = v
	}

	bytesPerPixel := int((colors*bpc + 7) / 8)
	rowBytes := int((columns*colors*bpc + 7) / 8)

	if predictor == 2 {
		return applyTIFFPredictor(data, rowBytes, bytesPerPixel, int(bpc)), nil
	}
	if predictor < 10 {
		return nil, &StreamDecodeError{Message: fmt.Sprintf("unsupported predictor %d", predictor)}
	}
	return applyPNGPredictor(data, rowBytes, bytesPerPixel)
}

// applyPNGPredictor undoes per-row PNG filtering; each row is prefixed
// with its filter type byte.
func applyPNGPredictor(data []byte, rowBytes, bytesPerPixel int) ([]byte, error) {
	rowBytesWithFilter := rowBytes + 1
	if len(data)%rowBytesWithFilter != 0 {
		return nil, &StreamDecodeError{Message: "predictor row size does not divide data length"}
	}

	rows := len(data) / rowBytesWithFilter
	result := make([]byte, rows*rowBytes)
	prevRow := make([]byte, rowBytes)

	for row := 0; row < rows; row++ {
		srcOffset := row * rowBytesWithFilter
		dstOffset := row * rowBytes
		filterType := data[srcOffset]
		rowData := data[srcOffset+1 : srcOffset+rowBytesWithFilter]

		switch filterType {
		case 0: // None
			copy(result[dstOffset:], rowData)
		case 1: // Sub
			for i := 0; i < rowBytes; i++ {
				left := byte(0)
				if i >= bytesPerPixel {
					left = result[dstOffset+i-bytesPerPixel]
				}
				result[dstOffset+i] = rowData[i] + left
			}
		case 2: // Up
			for i := 0; i < rowBytes; i++ {
				result[dstOffset+i] = rowData[i] + prevRow[i]
			}
		case 3: // Average
			for i := 0; i < rowBytes; i++ {
				left := byte(0)
				if i >= bytesPerPixel {
					left = result[dstOffset+i-bytesPerPixel]
				}
				result[dstOffset+i] = rowData[i] + byte((int(left)+int(prevRow[i]))/2)
			}
		case 4: // Paeth
			for i := 0; i < rowBytes; i++ {
				left := byte(0)
				upLeft := byte(0)
				if i >= bytesPerPixel {
					left = result[dstOffset+i-bytesPerPixel]
					upLeft = prevRow[i-bytesPerPixel]
				}
				result[dstOffset+i] = rowData[i] + paethPredictor(left, prevRow[i], upLeft)
			}
		default:
			return nil, &StreamDecodeError{Message: fmt.Sprintf("invalid PNG filter type %d", filterType)}
		}

		copy(prevRow, result[dstOffset:dstOffset+rowBytes])
	}

	return result, nil
}

// applyTIFFPredictor undoes horizontal differencing. Only the 8-bit
// component case is differenced byte-wise; other depths pass through.
func applyTIFFPredictor(data []byte, rowBytes, bytesPerPixel, bpc int) []byte {
	if bpc != 8 {
		return data
	}
	for rowStart := 0; rowStart+rowBytes <= len(data); rowStart += rowBytes {
		for i := bytesPerPixel; i < rowBytes; i++ {
			data[rowStart+i] += data[rowStart+i-bytesPerPixel]
		}
	}
	return data
}

// paethPredictor implements the Paeth predictor algorithm
func paethPredictor(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa := abs(p - int(a))
	pb := abs(p - int(b))
	pc := abs(p - int(c))
	if pa <= pb && pa <= pc {
		return a
	} else if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
