package pdf

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindStartXRef(t *testing.T) {
	data := buildMinimalPDF()
	offset, err := FindStartXRef(data)
	require.NoError(t, err)
	assert.Greater(t, offset, int64(0))
	assert.Equal(t, byte('x'), data[offset]) // points at the xref keyword
}

func TestFindStartXRefMissing(t *testing.T) {
	_, err := FindStartXRef([]byte("%PDF-1.7\nno cross reference here\n%%EOF"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidXRef)
}

func TestFindStartXRefOffsetOutOfRange(t *testing.T) {
	_, err := FindStartXRef([]byte("startxref\n999999\n%%EOF"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidXRef)
}

func TestLoadXRefClassicTable(t *testing.T) {
	data := buildMinimalPDF()
	table, err := LoadXRef(data)
	require.NoError(t, err)

	assert.Equal(t, 5, table.Len())
	assert.False(t, table.HasStreamSection())

	entry, ok := table.Lookup(0)
	require.True(t, ok)
	assert.Equal(t, XRefFree, entry.Kind)
	assert.Equal(t, uint16(65535), entry.Generation)

	entry, ok = table.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, XRefInUse, entry.Kind)

	root, ok := table.Trailer().GetReference("Root")
	require.True(t, ok)
	assert.Equal(t, uint32(1), root.ID.Number)
}

func TestLoadXRefEntriesPointAtObjects(t *testing.T) {
	data := buildMinimalPDF()
	table, err := LoadXRef(data)
	require.NoError(t, err)

	for num := uint32(1); num <= 4; num++ {
		entry, ok := table.Lookup(num)
		require.True(t, ok, "object %d", num)
		prefix := fmt.Sprintf("%d 0 obj", num)
		assert.Equal(t, prefix, string(data[entry.Offset:entry.Offset+int64(len(prefix))]))
	}
}

func TestLoadXRefStream(t *testing.T) {
	data := buildXRefStreamPDF()
	table, err := LoadXRef(data)
	require.NoError(t, err)

	assert.True(t, table.HasStreamSection())
	entry, ok := table.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, XRefInUse, entry.Kind)

	root, ok := table.Trailer().GetReference("Root")
	require.True(t, ok)
	assert.Equal(t, uint32(1), root.ID.Number)
}

// Incremental updates chain sections with Prev; the newest section's
// entry for an object must win.
func TestLoadXRefPrevChainFirstSeenWins(t *testing.T) {
	b := newFileBuilder()
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, "<< /Type /Pages /Kids [] /Count 0 >>")

	oldXRef := b.buf.Len()
	fmt.Fprintf(&b.buf, "xref\n0 3\n")
	b.raw("0000000000 65535 f\r\n")
	b.raw(fmt.Sprintf("%010d %05d n\r\n", b.offsets[1], 0))
	b.raw(fmt.Sprintf("%010d %05d n\r\n", b.offsets[2], 0))
	b.raw("trailer\n<< /Size 3 /Root 1 0 R >>\n")

	// Updated object 2 appended after the first xref
	updated := int64(b.buf.Len())
	b.raw("2 0 obj\n<< /Type /Pages /Kids [] /Count 99 >>\nendobj\n")

	newXRef := b.buf.Len()
	fmt.Fprintf(&b.buf, "xref\n2 1\n")
	b.raw(fmt.Sprintf("%010d %05d n\r\n", updated, 0))
	fmt.Fprintf(&b.buf, "trailer\n<< /Size 3 /Root 1 0 R /Prev %d >>\n", oldXRef)
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", newXRef)

	table, err := LoadXRef(b.bytes())
	require.NoError(t, err)

	entry, ok := table.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, updated, entry.Offset, "newest section must win")

	// Object 1 only exists in the older section
	_, ok = table.Lookup(1)
	assert.True(t, ok)
}

func TestLoadXRefPrevLoop(t *testing.T) {
	b := newFileBuilder()
	b.object(1, "null")

	offset := b.buf.Len()
	fmt.Fprintf(&b.buf, "xref\n0 1\n")
	b.raw("0000000000 65535 f\r\n")
	fmt.Fprintf(&b.buf, "trailer\n<< /Size 1 /Prev %d >>\n", offset)
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", offset)

	_, err := LoadXRef(b.bytes())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidXRef)
}

func TestParseXRefTableMalformedSubsectionHeader(t *testing.T) {
	b := newFileBuilder()
	offset := b.buf.Len()
	b.raw("xref\n0 2 extra\n")
	b.raw("0000000000 65535 f\r\n")
	b.raw("trailer\n<< /Size 2 >>\n")
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", offset)

	_, err := LoadXRef(b.bytes())
	require.Error(t, err)
	var syntaxErr *SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}

func TestParseXRefTableEntryFormats(t *testing.T) {
	entry, err := parseXRefTableEntry([]byte("0000000017 00000 n"))
	require.NoError(t, err)
	assert.Equal(t, XRefInUse, entry.Kind)
	assert.Equal(t, int64(17), entry.Offset)

	entry, err = parseXRefTableEntry([]byte("0000000042 65535 f"))
	require.NoError(t, err)
	assert.Equal(t, XRefFree, entry.Kind)
	assert.Equal(t, uint32(42), entry.NextFree)
	assert.Equal(t, uint16(65535), entry.Generation)

	_, err = parseXRefTableEntry([]byte("0000000017 00000 x"))
	assert.Error(t, err, "unknown entry flag")

	_, err = parseXRefTableEntry([]byte("too short"))
	assert.Error(t, err)

	_, err = parseXRefTableEntry([]byte("000000001700000  n"))
	assert.Error(t, err, "missing field separator")

	_, err = parseXRefTableEntry([]byte("0000000017 99999 n"))
	require.Error(t, err, "generation above 65535")
	var syntaxErr *SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}

// Hybrid files keep a classic table for old readers plus an XRefStm
// stream with the full picture; the table's own entries take priority.
func TestLoadXRefHybrid(t *testing.T) {
	b := newFileBuilder()
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.object(3, "null")

	// Companion stream knows objects 1-3; table covers only 1.
	builder := NewXRefStreamBuilder()
	builder.Add(1, InUseEntry(999, 0)) // table should shadow this
	builder.Add(2, InUseEntry(b.offsets[2], 0))
	builder.Add(3, InUseEntry(b.offsets[3], 0))

	stmOffset := int64(b.buf.Len())
	dict, data, err := builder.Build()
	require.NoError(t, err)
	fmt.Fprintf(&b.buf, "6 0 obj\n%s\nstream\n", dict.String())
	b.buf.Write(data)
	b.raw("\nendstream\nendobj\n")

	tableOffset := b.buf.Len()
	b.raw("xref\n1 1\n")
	b.raw(fmt.Sprintf("%010d %05d n\r\n", b.offsets[1], 0))
	fmt.Fprintf(&b.buf, "trailer\n<< /Size 7 /Root 1 0 R /XRefStm %d >>\n", stmOffset)
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", tableOffset)

	table, err := LoadXRef(b.bytes())
	require.NoError(t, err)

	entry, ok := table.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, b.offsets[1], entry.Offset, "table entry wins over XRefStm")

	entry, ok = table.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, b.offsets[2], entry.Offset, "stream fills the gaps")
	assert.True(t, table.HasStreamSection())
}

func TestXRefTableSetOverridesAdd(t *testing.T) {
	table := NewXRefTable()
	table.Set(5, InUseEntry(100, 0))
	table.Set(5, InUseEntry(200, 0))

	entry, ok := table.Lookup(5)
	require.True(t, ok)
	assert.Equal(t, int64(200), entry.Offset, "Set is unconditional")
}
