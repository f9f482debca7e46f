package recovery

import (
	"bytes"
	"fmt"
	"sort"
)

// pdfBuilder assembles small synthetic PDFs with exact object offsets,
// so tests can damage specific regions deliberately.
type pdfBuilder struct {
	buf     bytes.Buffer
	offsets map[uint32]int64
}

func newPDFBuilder() *pdfBuilder {
	b := &pdfBuilder{offsets: make(map[uint32]int64)}
	b.buf.WriteString("%PDF-1.7\n")
	return b
}

func (b *pdfBuilder) object(num uint32, body string) {
	b.offsets[num] = int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
}

func (b *pdfBuilder) streamObject(num uint32, dictBody string, data []byte) {
	b.offsets[num] = int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< %s /Length %d >>\nstream\n", num, dictBody, len(data))
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
}

// finish writes a classic xref table, trailer and startxref.
func (b *pdfBuilder) finish(trailerBody string) []byte {
	xrefOffset := b.buf.Len()

	var maxNum uint32
	nums := make([]uint32, 0, len(b.offsets))
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
	return b.buf.Bytes()
}

// buildValidPDF returns a well-formed one-page document.
func buildValidPDF() []byte {
	b := newPDFBuilder()
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.object(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >>")
	b.streamObject(4, "", []byte("BT /F1 12 Tf ET"))
	return b.finish("/Root 1 0 R")
}

// withoutHeader strips the %PDF- line.
func withoutHeader(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte("%PDF-1.7\n"))
}

// withBrokenStartXRef points startxref outside the file.
func withBrokenStartXRef(data []byte) []byte {
	idx := bytes.LastIndex(data, []byte("startxref\n"))
	out := append([]byte{}, data[:idx]...)
	out = append(out, []byte(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", len(data)*10))...)
	return out
}
