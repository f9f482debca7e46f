package pdf

import "fmt"

// ObjectStream holds a decoded /ObjStm: N objects packed into one
// stream body, located by the (number, offset) pair table that fills
// the first First bytes.
type ObjectStream struct {
	numbers []uint32
	offsets []int64
	first   int64
	data    []byte
}

// ParseObjectStream decodes the stream body and reads the pair table.
// Objects inside an object stream are always generation 0 and may not
// themselves be streams, so the table plus the body fully describe the
// contents.
func ParseObjectStream(stream Stream) (*ObjectStream, error) {
	n, ok := stream.Dict.GetInt("N")
	if !ok {
		return nil, &MissingKeyError{Key: "N"}
	}
	first, ok := stream.Dict.GetInt("First")
	if !ok {
		return nil, &MissingKeyError{Key: "First"}
	}
	if n < 0 || first < 0 {
		return nil, syntaxErrorf(0, "object stream N=%d First=%d out of range", n, first)
	}

	data, err := Decode(stream)
	if err != nil {
		return nil, err
	}
	if first > int64(len(data)) {
		return nil, syntaxErrorf(0, "object stream First=%d beyond decoded length %d", first, len(data))
	}

	os := &ObjectStream{
		numbers: make([]uint32, 0, n),
		offsets: make([]int64, 0, n),
		first:   first,
		data:    data,
	}

	parser := NewParserFromBytes(data[:first])
	for i := int64(0); i < n; i++ {
		numObj, err := parser.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("object stream pair table: %w", err)
		}
		offObj, err := parser.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("object stream pair table: %w", err)
		}
		num, ok1 := numObj.(Integer)
		off, ok2 := offObj.(Integer)
		if !ok1 || !ok2 || num < 0 || off < 0 {
			return nil, syntaxErrorf(0, "invalid object stream pair (%s, %s)", numObj, offObj)
		}
		os.numbers = append(os.numbers, uint32(num))
		os.offsets = append(os.offsets, int64(off))
	}

	return os, nil
}

// Len returns the number of packed objects.
func (os *ObjectStream) Len() int {
	return len(os.numbers)
}

// Extract parses the object at the given table index and returns its
// number and value.
func (os *ObjectStream) Extract(index int) (uint32, Object, error) {
	if index < 0 || index >= len(os.numbers) {
		return 0, nil, fmt.Errorf("object stream index %d out of range [0, %d)", index, len(os.numbers))
	}

	start := os.first + os.offsets[index]
	if start > int64(len(os.data)) {
		return 0, nil, syntaxErrorf(start, "object stream offset beyond decoded data")
	}

	parser := NewParserFromBytes(os.data[start:])
	obj, err := parser.ParseObject()
	if err != nil {
		return 0, nil, fmt.Errorf("object stream entry %d: %w", index, err)
	}
	return os.numbers[index], obj, nil
}
