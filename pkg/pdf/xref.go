package pdf

import (
	"bytes"
	"fmt"
	"strconv"
)

// XRefEntryType tags the three storage classes of a cross-reference
// entry.
type XRefEntryType int

const (
	// XRefFree marks an unused object number.
	XRefFree XRefEntryType = iota
	// XRefInUse locates an object at a byte offset in the file.
	XRefInUse
	// XRefCompressed locates an object inside an object stream.
	XRefCompressed
)

// XRefEntry is one cross-reference record. The meaning of the fields
// depends on Kind: Free uses NextFree/Generation, InUse uses
// Offset/Generation, Compressed uses StreamObjectNumber/IndexWithinStream.
type XRefEntry struct {
	Kind               XRefEntryType
	Offset             int64
	Generation         uint16
	NextFree           uint32
	StreamObjectNumber uint32
	IndexWithinStream  int
}

// FreeEntry builds a free-list entry.
func FreeEntry(nextFree uint32, generation uint16) XRefEntry {
	return XRefEntry{Kind: XRefFree, NextFree: nextFree, Generation: generation}
}

// InUseEntry builds an entry locating an object at a byte offset.
func InUseEntry(offset int64, generation uint16) XRefEntry {
	return XRefEntry{Kind: XRefInUse, Offset: offset, Generation: generation}
}

// CompressedEntry builds an entry locating an object inside an object
// stream. Compressed entries never carry a direct byte offset.
func CompressedEntry(streamObjectNumber uint32, indexWithinStream int) XRefEntry {
	return XRefEntry{
		Kind:               XRefCompressed,
		StreamObjectNumber: streamObjectNumber,
		IndexWithinStream:  indexWithinStream,
	}
}

// XRefTable maps object numbers to storage locations. Sections are
// merged newest-first while walking the Prev chain, so the first entry
// seen for an object number wins.
type XRefTable struct {
	entries   map[uint32]XRefEntry
	trailer   *Dictionary
	hasStream bool
}

// NewXRefTable creates an empty table.
func NewXRefTable() *XRefTable {
	return &XRefTable{entries: make(map[uint32]XRefEntry)}
}

// add records an entry unless a newer section already claimed the
// object number.
func (t *XRefTable) add(num uint32, entry XRefEntry) {
	if _, exists := t.entries[num]; !exists {
		t.entries[num] = entry
	}
}

// Set unconditionally stores an entry. Recovery uses this when
// rebuilding from a scan.
func (t *XRefTable) Set(num uint32, entry XRefEntry) {
	t.entries[num] = entry
}

// Lookup returns the entry for an object number.
func (t *XRefTable) Lookup(num uint32) (XRefEntry, bool) {
	e, ok := t.entries[num]
	return e, ok
}

// Len returns the number of known object numbers.
func (t *XRefTable) Len() int {
	return len(t.entries)
}

// ObjectNumbers returns all known object numbers, unordered.
func (t *XRefTable) ObjectNumbers() []uint32 {
	nums := make([]uint32, 0, len(t.entries))
	for n := range t.entries {
		nums = append(nums, n)
	}
	return nums
}

// Trailer returns the merged trailer dictionary, or nil when the table
// was rebuilt without one.
func (t *XRefTable) Trailer() *Dictionary {
	return t.trailer
}

// SetTrailer replaces the trailer dictionary.
func (t *XRefTable) SetTrailer(trailer *Dictionary) {
	t.trailer = trailer
}

// HasStreamSection reports whether any section in the chain was a
// cross-reference stream.
func (t *XRefTable) HasStreamSection() bool {
	return t.hasStream
}

// mergeTrailer keeps the newest value for every key.
func (t *XRefTable) mergeTrailer(trailer *Dictionary) {
	if t.trailer == nil {
		t.trailer = trailer
		return
	}
	for _, k := range trailer.Keys() {
		if !t.trailer.Has(string(k)) {
			t.trailer.Set(k, trailer.Get(string(k)))
		}
	}
}

// startXRefWindow is how far from the end of the file the startxref
// keyword is searched for.
const startXRefWindow = 1024

// maxXRefSections bounds the Prev chain walk. Crafted files can chain
// sections into a loop; visiting an offset twice is also an error.
const maxXRefSections = 1000

// FindStartXRef locates the offset announced by the final startxref
// line within the tail of the file.
func FindStartXRef(data []byte) (int64, error) {
	searchLen := startXRefWindow
	if len(data) < searchLen {
		searchLen = len(data)
	}

	tail := data[len(data)-searchLen:]
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return 0, fmt.Errorf("%w: startxref not found", ErrInvalidXRef)
	}

	start := idx + len("startxref")
	for start < len(tail) && isWhitespace(tail[start]) {
		start++
	}
	end := start
	for end < len(tail) && tail[end] >= '0' && tail[end] <= '9' {
		end++
	}
	if end == start {
		return 0, fmt.Errorf("%w: startxref offset missing", ErrInvalidXRef)
	}

	offset, err := strconv.ParseInt(string(tail[start:end]), 10, 64)
	if err != nil || offset < 0 || offset >= int64(len(data)) {
		return 0, fmt.Errorf("%w: startxref offset out of range", ErrInvalidXRef)
	}
	return offset, nil
}

// LoadXRef locates and parses the complete cross-reference chain:
// the section announced by startxref plus every Prev section and any
// hybrid XRefStm companion, merged with first-seen-wins precedence.
func LoadXRef(data []byte) (*XRefTable, error) {
	offset, err := FindStartXRef(data)
	if err != nil {
		return nil, err
	}

	table := NewXRefTable()
	visited := make(map[int64]bool)

	for sections := 0; ; sections++ {
		if sections >= maxXRefSections {
			return nil, fmt.Errorf("%w: xref chain too long", ErrInvalidXRef)
		}
		if visited[offset] {
			return nil, fmt.Errorf("%w: xref chain loops at offset %d", ErrInvalidXRef, offset)
		}
		visited[offset] = true

		prev, err := parseXRefSection(data, offset, table)
		if err != nil {
			return nil, err
		}
		if prev < 0 {
			break
		}
		offset = prev
	}

	return table, nil
}

// parseXRefSection parses one section (table or stream form) at offset
// and returns the Prev offset, or -1 when the chain ends.
func parseXRefSection(data []byte, offset int64, table *XRefTable) (int64, error) {
	pos := offset
	for pos < int64(len(data)) && isWhitespace(data[pos]) {
		pos++
	}
	if pos >= int64(len(data)) {
		return 0, fmt.Errorf("%w: xref offset %d beyond end of file", ErrInvalidXRef, offset)
	}

	if bytes.HasPrefix(data[pos:], []byte("xref")) {
		return parseXRefTableSection(data, pos, table)
	}
	return parseXRefStreamSection(data, pos, table)
}

// parseXRefTableSection parses a classic table: the xref keyword,
// subsections of fixed-width 20-byte entries, then the trailer
// dictionary.
func parseXRefTableSection(data []byte, offset int64, table *XRefTable) (int64, error) {
	lexer := NewLexerFromBytes(data[offset:])
	lexer.ReadLine() // xref keyword line

	for {
		line, err := lexer.ReadLine()
		if err != nil {
			return 0, fmt.Errorf("%w: unterminated xref table", ErrInvalidXRef)
		}

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		if bytes.Equal(trimmed, []byte("trailer")) {
			break
		}

		// Subsection header must be exactly two integers
		parts := bytes.Fields(trimmed)
		if len(parts) != 2 {
			return 0, syntaxErrorf(offset+lexer.Position(), "malformed xref subsection header %q", trimmed)
		}
		first, err1 := strconv.ParseUint(string(parts[0]), 10, 32)
		count, err2 := strconv.ParseUint(string(parts[1]), 10, 32)
		if err1 != nil || err2 != nil {
			return 0, syntaxErrorf(offset+lexer.Position(), "malformed xref subsection header %q", trimmed)
		}

		for i := uint64(0); i < count; i++ {
			entryLine, err := lexer.ReadLine()
			if err != nil {
				return 0, fmt.Errorf("%w: truncated xref subsection", ErrInvalidXRef)
			}
			entry, err := parseXRefTableEntry(entryLine)
			if err != nil {
				return 0, err
			}
			table.add(uint32(first+i), entry)
		}
	}

	parser := NewParser(lexer)
	trailerObj, err := parser.ParseObject()
	if err != nil {
		return 0, fmt.Errorf("parsing trailer: %w", err)
	}
	trailer, ok := trailerObj.(*Dictionary)
	if !ok {
		return 0, syntaxErrorf(offset, "trailer is not a dictionary")
	}
	table.mergeTrailer(trailer)

	// Hybrid files carry a companion xref stream whose entries fill the
	// gaps the table leaves; the table entries already added win.
	if stm, ok := trailer.GetInt("XRefStm"); ok && stm >= 0 && stm < int64(len(data)) {
		if _, err := parseXRefStreamSection(data, stm, table); err != nil {
			return 0, fmt.Errorf("hybrid xref stream: %w", err)
		}
	}

	if prev, ok := trailer.GetInt("Prev"); ok {
		return prev, nil
	}
	return -1, nil
}

// parseXRefTableEntry parses one fixed-width entry line:
// "%010d %05d n" or "%010d %05d f".
func parseXRefTableEntry(line []byte) (XRefEntry, error) {
	// 10-digit field, space, 5-digit field, space, type char. The
	// trailing 2-byte EOL was consumed by ReadLine.
	if len(line) < 18 {
		return XRefEntry{}, syntaxErrorf(0, "xref entry too short: %q", line)
	}

	offset, err1 := strconv.ParseInt(string(line[0:10]), 10, 64)
	gen, err2 := strconv.ParseUint(string(line[11:16]), 10, 32)
	flag := line[17]
	if err1 != nil || err2 != nil || line[10] != ' ' || line[16] != ' ' {
		return XRefEntry{}, syntaxErrorf(0, "malformed xref entry %q", line)
	}
	if gen > 65535 {
		return XRefEntry{}, syntaxErrorf(0, "xref entry generation %d out of range", gen)
	}

	switch flag {
	case 'n':
		return InUseEntry(offset, uint16(gen)), nil
	case 'f':
		return FreeEntry(uint32(offset), uint16(gen)), nil
	default:
		return XRefEntry{}, syntaxErrorf(0, "invalid xref entry flag %q", flag)
	}
}

// parseXRefStreamSection parses a cross-reference stream object at
// offset and merges its entries.
func parseXRefStreamSection(data []byte, offset int64, table *XRefTable) (int64, error) {
	parser := NewParserFromBytes(data[offset:])
	_, obj, err := parser.ParseIndirectObject()
	if err != nil {
		return 0, fmt.Errorf("%w: no xref stream at offset %d: %v", ErrInvalidXRef, offset, err)
	}

	stream, ok := obj.(Stream)
	if !ok {
		return 0, fmt.Errorf("%w: object at offset %d is not a stream", ErrInvalidXRef, offset)
	}

	xs, err := ParseXRefStream(stream)
	if err != nil {
		return 0, err
	}

	entries, err := xs.Entries()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		table.add(e.Number, e.Entry)
	}
	table.hasStream = true
	table.mergeTrailer(xs.Dict)

	if prev, ok := xs.Dict.GetInt("Prev"); ok {
		return prev, nil
	}
	return -1, nil
}
