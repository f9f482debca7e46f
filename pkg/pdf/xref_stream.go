package pdf

import (
	"bytes"
	"compress/zlib"
	"sort"
)

// XRefStream is a parsed cross-reference stream (PDF 1.5+). The
// stream's own dictionary carries the record schema: W holds the three
// field byte-widths, Index the (first, count) object ranges.
type XRefStream struct {
	Dict   *Dictionary
	Data   []byte
	Widths [3]int
	Index  [][2]uint32
}

// NumberedEntry pairs an object number with its entry.
type NumberedEntry struct {
	Number uint32
	Entry  XRefEntry
}

// ParseXRefStream validates the schema of a cross-reference stream and
// decodes its body through the filter pipeline.
func ParseXRefStream(stream Stream) (*XRefStream, error) {
	dict := stream.Dict

	wArray, ok := dict.GetArray("W")
	if !ok {
		return nil, &MissingKeyError{Key: "W"}
	}
	if len(wArray) != 3 {
		return nil, syntaxErrorf(0, "W array must have 3 elements, found %d", len(wArray))
	}

	var widths [3]int
	for i, obj := range wArray {
		n, ok := obj.(Integer)
		if !ok || n < 0 || n > 8 {
			return nil, syntaxErrorf(0, "invalid width %s in W array", obj)
		}
		widths[i] = int(n)
	}

	var index [][2]uint32
	if indexArray, ok := dict.GetArray("Index"); ok {
		if len(indexArray)%2 != 0 {
			return nil, syntaxErrorf(0, "Index array has odd length %d", len(indexArray))
		}
		for i := 0; i+1 < len(indexArray); i += 2 {
			first, ok1 := indexArray[i].(Integer)
			count, ok2 := indexArray[i+1].(Integer)
			if !ok1 || !ok2 || first < 0 || count < 0 {
				return nil, syntaxErrorf(0, "invalid Index pair at %d", i)
			}
			index = append(index, [2]uint32{uint32(first), uint32(count)})
		}
	} else {
		size, ok := dict.GetInt("Size")
		if !ok {
			return nil, &MissingKeyError{Key: "Size"}
		}
		index = [][2]uint32{{0, uint32(size)}}
	}

	data, err := Decode(stream)
	if err != nil {
		return nil, err
	}

	return &XRefStream{Dict: dict, Data: data, Widths: widths, Index: index}, nil
}

// Entries decodes the packed records into numbered entries, walking the
// Index ranges in order.
func (x *XRefStream) Entries() ([]NumberedEntry, error) {
	entrySize := x.Widths[0] + x.Widths[1] + x.Widths[2]
	if entrySize == 0 {
		return nil, syntaxErrorf(0, "xref stream entry size is 0")
	}

	var entries []NumberedEntry
	pos := 0

	for _, rng := range x.Index {
		first, count := rng[0], rng[1]
		for i := uint32(0); i < count; i++ {
			if pos+entrySize > len(x.Data) {
				return nil, syntaxErrorf(int64(pos), "xref stream data truncated")
			}

			record := x.Data[pos : pos+entrySize]
			pos += entrySize

			f1 := readField(record[:x.Widths[0]])
			f2 := readField(record[x.Widths[0] : x.Widths[0]+x.Widths[1]])
			f3 := readField(record[x.Widths[0]+x.Widths[1]:])

			// A zero-width type field defaults to type 1
			entryType := f1
			if x.Widths[0] == 0 {
				entryType = 1
			}

			var entry XRefEntry
			switch entryType {
			case 0:
				entry = FreeEntry(uint32(f2), uint16(f3))
			case 1:
				entry = InUseEntry(int64(f2), uint16(f3))
			case 2:
				entry = CompressedEntry(uint32(f2), int(f3))
			default:
				// Only types 0-2 are defined. Coercing an unknown type
				// to Free can mask data loss, so fail loudly.
				return nil, syntaxErrorf(int64(pos-entrySize), "invalid xref entry type %d", entryType)
			}

			entries = append(entries, NumberedEntry{Number: first + i, Entry: entry})
		}
	}

	return entries, nil
}

// readField reads a big-endian packed field. A zero-width field always
// reads as 0.
func readField(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// writeField appends value as width big-endian bytes.
func writeField(dst []byte, value uint64, width int) []byte {
	for i := width - 1; i >= 0; i-- {
		dst = append(dst, byte(value>>(uint(i)*8)))
	}
	return dst
}

// bytesNeeded returns the minimal byte width that can hold value,
// never less than 1.
func bytesNeeded(value uint64) int {
	n := 1
	for value > 0xFF {
		value >>= 8
		n++
	}
	return n
}

// XRefStreamBuilder assembles a cross-reference stream from entries
// added in any order.
type XRefStreamBuilder struct {
	entries []NumberedEntry
	trailer *Dictionary
}

// NewXRefStreamBuilder creates an empty builder.
func NewXRefStreamBuilder() *XRefStreamBuilder {
	return &XRefStreamBuilder{trailer: NewDictionary()}
}

// Add records an entry for an object number.
func (b *XRefStreamBuilder) Add(num uint32, entry XRefEntry) {
	b.entries = append(b.entries, NumberedEntry{Number: num, Entry: entry})
}

// SetTrailerEntry adds a key the final dictionary should carry, such as
// Root or Prev. Schema keys (Type, W, Size, Index, Filter, Length) are
// computed by Build and overwrite anything set here.
func (b *XRefStreamBuilder) SetTrailerEntry(key Name, value Object) {
	b.trailer.Set(key, value)
}

// Build sorts the entries, packs them with minimal field widths and
// returns the stream dictionary plus the compressed body.
func (b *XRefStreamBuilder) Build() (*Dictionary, []byte, error) {
	sort.Slice(b.entries, func(i, j int) bool {
		return b.entries[i].Number < b.entries[j].Number
	})

	var maxField2, maxField3 uint64
	var maxNum uint32
	for _, e := range b.entries {
		if e.Number > maxNum {
			maxNum = e.Number
		}
		var f2, f3 uint64
		switch e.Entry.Kind {
		case XRefFree:
			f2, f3 = uint64(e.Entry.NextFree), uint64(e.Entry.Generation)
		case XRefInUse:
			f2, f3 = uint64(e.Entry.Offset), uint64(e.Entry.Generation)
		case XRefCompressed:
			f2, f3 = uint64(e.Entry.StreamObjectNumber), uint64(e.Entry.IndexWithinStream)
		}
		if f2 > maxField2 {
			maxField2 = f2
		}
		if f3 > maxField3 {
			maxField3 = f3
		}
	}

	w1 := 1 // type field is always 0, 1 or 2
	w2 := bytesNeeded(maxField2)
	w3 := bytesNeeded(maxField3)

	payload := make([]byte, 0, len(b.entries)*(w1+w2+w3))
	for _, e := range b.entries {
		switch e.Entry.Kind {
		case XRefFree:
			payload = writeField(payload, 0, w1)
			payload = writeField(payload, uint64(e.Entry.NextFree), w2)
			payload = writeField(payload, uint64(e.Entry.Generation), w3)
		case XRefInUse:
			payload = writeField(payload, 1, w1)
			payload = writeField(payload, uint64(e.Entry.Offset), w2)
			payload = writeField(payload, uint64(e.Entry.Generation), w3)
		case XRefCompressed:
			payload = writeField(payload, 2, w1)
			payload = writeField(payload, uint64(e.Entry.StreamObjectNumber), w2)
			payload = writeField(payload, uint64(e.Entry.IndexWithinStream), w3)
		}
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(payload); err != nil {
		return nil, nil, &StreamDecodeError{Filter: "FlateDecode", Message: err.Error()}
	}
	if err := zw.Close(); err != nil {
		return nil, nil, &StreamDecodeError{Filter: "FlateDecode", Message: err.Error()}
	}

	dict := b.trailer
	dict.Set("Type", Name("XRef"))
	dict.Set("W", Array{Integer(w1), Integer(w2), Integer(w3)})
	if len(b.entries) > 0 {
		dict.Set("Size", Integer(int64(maxNum)+1))
		// The default Index [0 Size] only describes a single contiguous
		// run starting at object 0; anything else must be spelled out.
		runs := contiguousRuns(b.entries)
		if len(runs) > 1 || runs[0][0] != 0 {
			var index Array
			for _, r := range runs {
				index = append(index, Integer(r[0]), Integer(r[1]))
			}
			dict.Set("Index", index)
		}
	} else {
		dict.Set("Size", Integer(0))
	}
	dict.Set("Filter", Name("FlateDecode"))
	dict.Set("Length", Integer(compressed.Len()))

	return dict, compressed.Bytes(), nil
}

// contiguousRuns groups sorted entries into (first, count) ranges.
func contiguousRuns(entries []NumberedEntry) [][2]uint32 {
	var runs [][2]uint32
	for _, e := range entries {
		if n := len(runs); n > 0 && runs[n-1][0]+runs[n-1][1] == e.Number {
			runs[n-1][1]++
			continue
		}
		runs = append(runs, [2]uint32{e.Number, 1})
	}
	return runs
}
