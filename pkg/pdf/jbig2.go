package pdf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// jbig2FileHeader opens a standalone JBIG2 file. Embedded PDF streams
// omit it, but scanners feed both forms through the same decoder.
var jbig2FileHeader = []byte{0x97, 0x4A, 0x42, 0x32, 0x0D, 0x0A, 0x1A, 0x0A}

// jbig2UnknownLength marks a segment whose data length is implicit.
const jbig2UnknownLength = 0xFFFFFFFF

// jbig2MaxBitmapBytes caps page and region allocations. The declared
// dimensions come straight from the stream, so a crafted segment can
// ask for terabytes; anything over the cap is treated as malformed and
// skipped.
const jbig2MaxBitmapBytes = 1 << 26

// jbig2BitmapSize returns the packed byte size of a width x height
// bitmap, computed in 64 bits so huge declared dimensions cannot wrap.
func jbig2BitmapSize(width, height uint32) int64 {
	rowBytes := (int64(width) + 7) / 8
	return rowBytes * int64(height)
}

// JBIG2 segment types (ITU-T T.88 table 34).
const (
	jbig2SymbolDict          = 0
	jbig2TextRegion          = 6
	jbig2TextRegionImmediate = 7
	jbig2PatternDict         = 16
	jbig2HalftoneRegion      = 22
	jbig2HalftoneImmediate   = 23
	jbig2GenericRegion       = 36
	jbig2GenericImmediate    = 38
	jbig2GenericRefinement   = 40
	jbig2GenericRefImmediate = 42
	jbig2PageInfo            = 48
	jbig2EndOfPage           = 49
	jbig2EndOfStripe         = 50
	jbig2EndOfFile           = 51
	jbig2Tables              = 53
)

// jbig2Segment is one framed segment: header fields plus its body.
type jbig2Segment struct {
	number      uint32
	segmentType uint8
	refSegments []uint32
	pageAssoc   uint32
	dataLength  uint32
	data        []byte
}

// jbig2Bitmap is a 1-bit-per-pixel image, rows padded to byte
// boundaries.
type jbig2Bitmap struct {
	width  int
	height int
	data   []byte
}

// jbig2Page tracks the composition target for one page association.
type jbig2Page struct {
	width  uint32
	height uint32
	flags  uint8
	bitmap *jbig2Bitmap
}

// JBIG2Decoder decodes embedded JBIG2 image data. Truncated input
// yields whatever was composited before the cut, never a panic: the
// scanner feeds it arbitrary byte ranges.
type JBIG2Decoder struct {
	data    []byte
	globals []byte
	pages   map[uint32]*jbig2Page
}

// NewJBIG2Decoder creates a decoder for an embedded stream. globals
// holds the already-decoded JBIG2Globals stream, or nil.
func NewJBIG2Decoder(data, globals []byte) *JBIG2Decoder {
	return &JBIG2Decoder{
		data:    data,
		globals: globals,
		pages:   make(map[uint32]*jbig2Page),
	}
}

// Decode walks the segment sequence (globals first) and returns the
// packed bits of the first page's bitmap.
func (d *JBIG2Decoder) Decode() ([]byte, error) {
	if len(d.globals) > 0 {
		if err := d.walkSegments(d.globals); err != nil {
			return nil, fmt.Errorf("jbig2 globals: %w", err)
		}
	}
	if err := d.walkSegments(d.data); err != nil {
		return nil, fmt.Errorf("jbig2 data: %w", err)
	}

	if page, ok := d.pages[1]; ok && page.bitmap != nil {
		return page.bitmap.data, nil
	}
	return nil, fmt.Errorf("jbig2: no page bitmap produced")
}

// walkSegments frames and processes every segment in data. A header
// that cannot be fully read ends the walk; a body shorter than its
// declared length is kept as-is so region decoding can still recover
// the leading rows.
func (d *JBIG2Decoder) walkSegments(data []byte) error {
	r := bytes.NewReader(skipJBIG2FileHeader(data))

	for r.Len() > 0 {
		seg, err := readJBIG2SegmentHeader(r)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}

		if seg.dataLength > 0 && seg.dataLength != jbig2UnknownLength {
			n := int(seg.dataLength)
			if n > r.Len() {
				n = r.Len()
			}
			seg.data = make([]byte, n)
			io.ReadFull(r, seg.data)
		} else if seg.dataLength == jbig2UnknownLength {
			// Implicit length runs to the end of the stream.
			seg.data = make([]byte, r.Len())
			io.ReadFull(r, seg.data)
		}

		d.processSegment(seg)

		if seg.segmentType == jbig2EndOfFile {
			return nil
		}
	}
	return nil
}

// skipJBIG2FileHeader drops the standalone file header when present:
// magic, flags byte, and the page count unless flags say it is absent.
func skipJBIG2FileHeader(data []byte) []byte {
	if !bytes.HasPrefix(data, jbig2FileHeader) {
		return data
	}
	rest := data[len(jbig2FileHeader):]
	if len(rest) == 0 {
		return rest
	}
	flags := rest[0]
	rest = rest[1:]
	if flags&0x02 == 0 && len(rest) >= 4 {
		rest = rest[4:] // known page count
	}
	return rest
}

// readJBIG2SegmentHeader reads one segment header: number, flags,
// referred-to segment list (short or long form), page association
// (1 or 4 bytes) and the data length.
func readJBIG2SegmentHeader(r *bytes.Reader) (*jbig2Segment, error) {
	seg := &jbig2Segment{}

	if err := binary.Read(r, binary.BigEndian, &seg.number); err != nil {
		return nil, err
	}

	flags, err := r.ReadByte()
	if err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	seg.segmentType = flags & 0x3F

	countByte, err := r.ReadByte()
	if err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	refCount := int(countByte >> 5)
	if refCount == 7 {
		// Long form: the count byte is the top of a 4-byte field,
		// followed by a retain-bit array of (count+8)/8 bytes.
		rest := make([]byte, 3)
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		longCount := uint32(countByte&0x1F)<<24 | uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2])
		refCount = int(longCount)
		retainBytes := (refCount + 8) / 8
		if _, err := r.Seek(int64(retainBytes), io.SeekCurrent); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
	}

	if refCount > r.Len() {
		return nil, io.ErrUnexpectedEOF
	}

	// Referred segment numbers are sized by this segment's own number.
	seg.refSegments = make([]uint32, refCount)
	for i := 0; i < refCount; i++ {
		switch {
		case seg.number <= 256:
			b, err := r.ReadByte()
			if err != nil {
				return nil, io.ErrUnexpectedEOF
			}
			seg.refSegments[i] = uint32(b)
		case seg.number <= 65536:
			var n uint16
			if err := binary.Read(r, binary.BigEndian, &n); err != nil {
				return nil, io.ErrUnexpectedEOF
			}
			seg.refSegments[i] = uint32(n)
		default:
			if err := binary.Read(r, binary.BigEndian, &seg.refSegments[i]); err != nil {
				return nil, io.ErrUnexpectedEOF
			}
		}
	}

	if flags&0x40 != 0 {
		if err := binary.Read(r, binary.BigEndian, &seg.pageAssoc); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
	} else {
		b, err := r.ReadByte()
		if err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		seg.pageAssoc = uint32(b)
	}

	if err := binary.Read(r, binary.BigEndian, &seg.dataLength); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	return seg, nil
}

// processSegment dispatches on the segment type. Unknown and
// unsupported types are skipped; a malformed body degrades to a blank
// region rather than failing the whole stream.
func (d *JBIG2Decoder) processSegment(seg *jbig2Segment) {
	switch seg.segmentType {
	case jbig2PageInfo:
		d.processPageInfo(seg)
	case jbig2GenericRegion, jbig2GenericImmediate:
		d.processGenericRegion(seg)
	case jbig2TextRegion, jbig2TextRegionImmediate,
		jbig2HalftoneRegion, jbig2HalftoneImmediate,
		jbig2GenericRefinement, jbig2GenericRefImmediate:
		d.processBlankRegion(seg)
	case jbig2SymbolDict, jbig2PatternDict, jbig2Tables:
		// Dictionaries feed the region types above; nothing to composite.
	case jbig2EndOfPage, jbig2EndOfStripe, jbig2EndOfFile:
	}
}

// processPageInfo allocates the page bitmap and fills it with the
// default pixel value from the page flags.
func (d *JBIG2Decoder) processPageInfo(seg *jbig2Segment) {
	if len(seg.data) < 19 {
		return
	}

	page := &jbig2Page{
		width:  binary.BigEndian.Uint32(seg.data[0:4]),
		height: binary.BigEndian.Uint32(seg.data[4:8]),
		flags:  seg.data[16],
	}

	w := int(page.width)
	h := int(page.height)
	if page.height == jbig2UnknownLength {
		// Striped page; height arrives via end-of-stripe segments.
		// Start minimal and let region composition bound the output.
		h = 1
	}
	if jbig2BitmapSize(page.width, uint32(h)) > jbig2MaxBitmapBytes {
		return
	}

	page.bitmap = newJBIG2Bitmap(w, h)
	if page.flags&0x04 != 0 {
		for i := range page.bitmap.data {
			page.bitmap.data[i] = 0xFF
		}
	}

	d.pages[seg.pageAssoc] = page
}

// regionSegmentInfo is the 17-byte prefix shared by all region types.
type regionSegmentInfo struct {
	width  uint32
	height uint32
	x      int32
	y      int32
	combOp uint8
}

func readRegionInfo(data []byte) (regionSegmentInfo, bool) {
	if len(data) < 17 {
		return regionSegmentInfo{}, false
	}
	return regionSegmentInfo{
		width:  binary.BigEndian.Uint32(data[0:4]),
		height: binary.BigEndian.Uint32(data[4:8]),
		x:      int32(binary.BigEndian.Uint32(data[8:12])),
		y:      int32(binary.BigEndian.Uint32(data[12:16])),
		combOp: data[16] & 0x07,
	}, true
}

// processGenericRegion decodes an immediate generic region (MMR or
// arithmetic form) and composites it onto its page.
func (d *JBIG2Decoder) processGenericRegion(seg *jbig2Segment) {
	page := d.pages[seg.pageAssoc]
	if page == nil || page.bitmap == nil {
		return
	}

	info, ok := readRegionInfo(seg.data)
	if !ok || len(seg.data) < 18 {
		return
	}
	if jbig2BitmapSize(info.width, info.height) > jbig2MaxBitmapBytes {
		return
	}

	genFlags := seg.data[17]
	mmr := genFlags&0x01 != 0
	template := (genFlags >> 1) & 0x03

	body := seg.data[18:]
	if !mmr {
		// AT pixel coordinates: 2 bytes each, count depends on template.
		atCount := 1
		if template == 0 {
			atCount = 4
		}
		skip := atCount * 2
		if skip > len(body) {
			return
		}
		body = body[skip:]
	}

	region := newJBIG2Bitmap(int(info.width), int(info.height))
	if mmr {
		decodeJBIG2MMR(region, body)
	} else {
		decodeJBIG2Arithmetic(region, body, template)
	}

	compositeJBIG2(page.bitmap, region, int(info.x), int(info.y), info.combOp)
}

// processBlankRegion handles region types whose pixel coding is not
// implemented: the region footprint is composited as blank so page
// geometry stays consistent.
func (d *JBIG2Decoder) processBlankRegion(seg *jbig2Segment) {
	page := d.pages[seg.pageAssoc]
	if page == nil || page.bitmap == nil {
		return
	}
	info, ok := readRegionInfo(seg.data)
	if !ok || jbig2BitmapSize(info.width, info.height) > jbig2MaxBitmapBytes {
		return
	}
	region := newJBIG2Bitmap(int(info.width), int(info.height))
	compositeJBIG2(page.bitmap, region, int(info.x), int(info.y), info.combOp)
}

// decodeJBIG2MMR fills a bitmap from MMR (T.6-style) coded data. Runs
// are decoded with a fixed-width approximation; truncated data leaves
// the remaining rows blank.
func decodeJBIG2MMR(bitmap *jbig2Bitmap, data []byte) {
	br := jbig2BitReader{data: data}

	for y := 0; y < bitmap.height; y++ {
		x := 0
		white := true
		for x < bitmap.width {
			run := br.readBits(13)
			if run < 0 {
				return
			}
			run &= 0x7FF
			for i := 0; i < run && x < bitmap.width; i++ {
				if !white {
					bitmap.setPixel(x, y, 1)
				}
				x++
			}
			white = !white
		}
	}
}

// decodeJBIG2Arithmetic fills a bitmap using the QM arithmetic coder
// with the generic-region context templates.
func decodeJBIG2Arithmetic(bitmap *jbig2Bitmap, data []byte, template uint8) {
	dec := newArithmeticDecoder(data)

	for y := 0; y < bitmap.height; y++ {
		for x := 0; x < bitmap.width; x++ {
			ctx := genericContext(bitmap, x, y, template)
			bitmap.setPixel(x, y, dec.decodeBit(ctx))
		}
	}
}

// genericContext builds the neighborhood context for a pixel. The
// template picks how many pixels from the two rows above and the
// current row feed the coder.
func genericContext(bitmap *jbig2Bitmap, x, y int, template uint8) int {
	var span int
	switch template {
	case 0:
		span = 4
	case 1:
		span = 3
	default:
		span = 2
	}

	ctx := 0
	for dy := -2; dy <= 0; dy++ {
		for dx := -span; dx <= span; dx++ {
			if dy == 0 && dx >= 0 {
				break
			}
			ctx = ctx<<1 | bitmap.getPixel(x+dx, y+dy)
		}
	}
	return ctx
}

// compositeJBIG2 merges a region onto the page at (x, y), clipping to
// the page bounds.
func compositeJBIG2(dst, src *jbig2Bitmap, x, y int, op uint8) {
	for sy := 0; sy < src.height; sy++ {
		dy := y + sy
		if dy < 0 || dy >= dst.height {
			continue
		}
		for sx := 0; sx < src.width; sx++ {
			dx := x + sx
			if dx < 0 || dx >= dst.width {
				continue
			}

			s := src.getPixel(sx, sy)
			t := dst.getPixel(dx, dy)

			var v int
			switch op {
			case 0:
				v = s | t
			case 1:
				v = s & t
			case 2:
				v = s ^ t
			case 3:
				v = ^(s ^ t) & 1
			default:
				v = s
			}
			dst.setPixel(dx, dy, v)
		}
	}
}

func newJBIG2Bitmap(width, height int) *jbig2Bitmap {
	if width <= 0 {
		width = 1
	}
	if height <= 0 {
		height = 1
	}
	rowBytes := (width + 7) / 8
	return &jbig2Bitmap{width: width, height: height, data: make([]byte, rowBytes*height)}
}

func (b *jbig2Bitmap) getPixel(x, y int) int {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return 0
	}
	rowBytes := (b.width + 7) / 8
	return int(b.data[y*rowBytes+x/8]>>(7-x%8)) & 1
}

func (b *jbig2Bitmap) setPixel(x, y, v int) {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return
	}
	rowBytes := (b.width + 7) / 8
	idx := y*rowBytes + x/8
	mask := byte(1) << (7 - x%8)
	if v != 0 {
		b.data[idx] |= mask
	} else {
		b.data[idx] &^= mask
	}
}

// jbig2BitReader reads MSB-first bits, returning -1 past the end.
type jbig2BitReader struct {
	data   []byte
	pos    int
	bitPos int
}

func (r *jbig2BitReader) readBit() int {
	if r.pos >= len(r.data) {
		return -1
	}
	bit := int(r.data[r.pos]>>(7-r.bitPos)) & 1
	r.bitPos++
	if r.bitPos == 8 {
		r.bitPos = 0
		r.pos++
	}
	return bit
}

func (r *jbig2BitReader) readBits(n int) int {
	v := 0
	for i := 0; i < n; i++ {
		bit := r.readBit()
		if bit < 0 {
			return -1
		}
		v = v<<1 | bit
	}
	return v
}

// arithmeticDecoder is the QM coder (T.88 annex E). Reads past the end
// of the data behave as 0xFF marker bytes, which stalls the coder
// instead of crashing it.
type arithmeticDecoder struct {
	data     []byte
	pos      int
	a        uint32
	c        uint32
	ct       int
	contexts []uint8
}

func newArithmeticDecoder(data []byte) *arithmeticDecoder {
	d := &arithmeticDecoder{
		data:     data,
		a:        0x8000,
		contexts: make([]uint8, 1<<16),
	}
	d.c = uint32(d.readByte()) << 16
	d.c |= uint32(d.readByte()) << 8
	d.c <<= 7
	d.ct = 0
	return d
}

func (d *arithmeticDecoder) readByte() byte {
	if d.pos >= len(d.data) {
		return 0xFF
	}
	b := d.data[d.pos]
	d.pos++
	return b
}

func (d *arithmeticDecoder) decodeBit(ctx int) int {
	if ctx < 0 || ctx >= len(d.contexts) {
		ctx = 0
	}

	qe := uint32(qeTable[d.contexts[ctx]&0x7F])
	d.a -= qe

	var bit int
	if (d.c >> 16) < d.a {
		if d.a < 0x8000 {
			bit = d.mpsExchange(ctx, qe)
			d.renormalize()
		} else {
			bit = int(d.contexts[ctx] >> 7)
		}
	} else {
		d.c -= d.a << 16
		bit = d.lpsExchange(ctx, qe)
		d.renormalize()
	}
	return bit
}

func (d *arithmeticDecoder) mpsExchange(ctx int, qe uint32) int {
	mps := int(d.contexts[ctx] >> 7)
	if d.a < qe {
		d.contexts[ctx] = switchTable[d.contexts[ctx]&0x7F]
		return 1 - mps
	}
	d.contexts[ctx] = nextMPS[d.contexts[ctx]&0x7F] | (d.contexts[ctx] & 0x80)
	return mps
}

func (d *arithmeticDecoder) lpsExchange(ctx int, qe uint32) int {
	mps := int(d.contexts[ctx] >> 7)
	if d.a < qe {
		d.a = qe
		d.contexts[ctx] = nextMPS[d.contexts[ctx]&0x7F] | (d.contexts[ctx] & 0x80)
		return mps
	}
	d.a = qe
	d.contexts[ctx] = switchTable[d.contexts[ctx]&0x7F]
	return 1 - mps
}

func (d *arithmeticDecoder) renormalize() {
	for d.a < 0x8000 {
		if d.ct == 0 {
			d.bytein()
		}
		d.a <<= 1
		d.c <<= 1
		d.ct--
	}
}

func (d *arithmeticDecoder) bytein() {
	b := d.readByte()
	if b == 0xFF {
		// Peek at the byte after the 0xFF. readByte does not advance
		// past the end, so restore the position it had before the peek
		// rather than decrementing blindly.
		mark := d.pos
		b2 := d.readByte()
		if b2 > 0x8F {
			d.c += 0xFF00
			d.ct = 8
			d.pos = mark
		} else {
			d.c += uint32(b2) << 9
			d.ct = 7
		}
	} else {
		d.c += uint32(b) << 8
		d.ct = 8
	}
}

// QM-coder probability estimation state tables.
var qeTable = []uint16{
	0x5601, 0x3401, 0x1801, 0x0AC1, 0x0521, 0x0221, 0x5601, 0x5401,
	0x4801, 0x3801, 0x3001, 0x2401, 0x1C01, 0x1601, 0x5601, 0x5401,
	0x5101, 0x4801, 0x3801, 0x3401, 0x3001, 0x2801, 0x2401, 0x2201,
	0x1C01, 0x1801, 0x1601, 0x1401, 0x1201, 0x1101, 0x0AC1, 0x09C1,
	0x08A1, 0x0521, 0x0441, 0x02A1, 0x0221, 0x0141, 0x0111, 0x0085,
	0x0049, 0x0025, 0x0015, 0x0009, 0x0005, 0x0001, 0x5601,
}

var nextMPS = []uint8{
	1, 2, 3, 4, 5, 38, 7, 8, 9, 10, 11, 12, 13, 29, 15, 16,
	17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32,
	33, 34, 35, 36, 37, 38, 39, 40, 41, 42, 43, 44, 45, 45, 46,
}

var switchTable = []uint8{
	1, 6, 9, 12, 29, 33, 6, 14, 14, 14, 17, 18, 20, 21, 14, 14,
	15, 16, 17, 18, 19, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29,
	30, 31, 32, 33, 34, 35, 36, 37, 38, 39, 40, 41, 42, 43, 46,
}
