package pdf

import (
	"bytes"
	"fmt"
	"sort"
)

// fileBuilder assembles a syntactically valid PDF in memory, tracking
// object offsets so cross-reference sections can be generated exactly.
type fileBuilder struct {
	buf     bytes.Buffer
	offsets map[uint32]int64
}

func newFileBuilder() *fileBuilder {
	b := &fileBuilder{offsets: make(map[uint32]int64)}
	b.buf.WriteString("%PDF-1.7\n")
	return b
}

func (b *fileBuilder) raw(s string) {
	b.buf.WriteString(s)
}

// object writes an indirect object and records its offset.
func (b *fileBuilder) object(num uint32, body string) {
	b.offsets[num] = int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
}

// streamObject writes an indirect stream object with Length filled in.
func (b *fileBuilder) streamObject(num uint32, dictBody string, data []byte) {
	b.offsets[num] = int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< %s /Length %d >>\nstream\n", num, dictBody, len(data))
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
}

// xrefTable writes a classic table covering object 0 plus every object
// written so far, followed by the trailer and startxref.
func (b *fileBuilder) xrefTable(trailerBody string) {
	xrefOffset := b.buf.Len()

	nums := make([]uint32, 0, len(b.offsets))
	maxNum := uint32(0)
	for n := range b.offsets {
		nums = append(nums, n)
		if n > maxNum {
			maxNum = n
		}
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	fmt.Fprintf(&b.buf, "xref\n0 %d\n", maxNum+1)
	b.buf.WriteString("0000000000 65535 f\r\n")
	for n := uint32(1); n <= maxNum; n++ {
		if off, ok := b.offsets[n]; ok {
			fmt.Fprintf(&b.buf, "%010d %05d n\r\n", off, 0)
		} else {
			b.buf.WriteString("0000000000 00000 f\r\n")
		}
	}

	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d %s >>\n", maxNum+1, trailerBody)
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
}

func (b *fileBuilder) bytes() []byte {
	return b.buf.Bytes()
}

// buildMinimalPDF returns a well-formed one-page document with a
// classic cross-reference table.
func buildMinimalPDF() []byte {
	b := newFileBuilder()
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.object(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >>")
	b.streamObject(4, "", []byte("BT /F1 12 Tf ET"))
	b.xrefTable("/Root 1 0 R")
	return b.bytes()
}

// buildXRefStreamPDF returns a one-page document whose cross-reference
// data lives in a compressed stream.
func buildXRefStreamPDF() []byte {
	b := newFileBuilder()
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.object(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")

	builder := NewXRefStreamBuilder()
	builder.Add(0, FreeEntry(0, 65535))
	for n := uint32(1); n <= 3; n++ {
		builder.Add(n, InUseEntry(b.offsets[n], 0))
	}

	xrefOffset := int64(b.buf.Len())
	builder.Add(5, InUseEntry(xrefOffset, 0))
	builder.SetTrailerEntry("Root", NewReference(1, 0))

	dict, data, err := builder.Build()
	if err != nil {
		panic(err)
	}

	fmt.Fprintf(&b.buf, "5 0 obj\n%s\nstream\n", dict.String())
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&b.buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return b.bytes()
}
