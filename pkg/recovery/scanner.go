package recovery

import (
	"bytes"
	"io"
	"os"
	"sort"
	"time"

	"github.com/novvoo/go-pdfcore/pkg/logger"
	"github.com/novvoo/go-pdfcore/pkg/pdf"
)

// scanChunkSize is how much of the file is examined per read.
const scanChunkSize = 1 << 20

// scanOverlap keeps the tail of the previous chunk so an object header
// split across a chunk boundary is still matched.
const scanOverlap = 64

// ObjectKind is the sniffed type of a scanned object.
type ObjectKind int

const (
	KindUnknown ObjectKind = iota
	KindCatalog
	KindPages
	KindPage
	KindFont
	KindImage
	KindStream
	KindDictionary
)

var kindNames = map[ObjectKind]string{
	KindUnknown:    "Unknown",
	KindCatalog:    "Catalog",
	KindPages:      "Pages",
	KindPage:       "Page",
	KindFont:       "Font",
	KindImage:      "Image",
	KindStream:     "Stream",
	KindDictionary: "Dictionary",
}

func (k ObjectKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// ScannedObject is one `N G obj` match: its id, byte offset and what
// the bytes after the header suggest it is.
type ScannedObject struct {
	Number     uint32
	Generation uint16
	Offset     int64
	Kind       ObjectKind
	Valid      bool
}

// ScanStats accumulates over one scan.
type ScanStats struct {
	BytesScanned int64
	ObjectsFound int
	ValidObjects int
	PagesFound   int
	Duration     time.Duration
}

// ScanResult is the outcome of a brute-force scan.
type ScanResult struct {
	Objects        []ScannedObject
	TotalObjects   int
	ValidObjects   int
	EstimatedPages int
	Stats          ScanStats
}

// ObjectScanner finds indirect objects by linear byte scanning,
// ignoring the declared cross-reference structure entirely. Garbage
// between objects is skipped; a later duplicate of an object number
// replaces the earlier hit, matching incremental-update precedence.
type ObjectScanner struct {
	objects map[uint32]ScannedObject
	stats   ScanStats

	// scanned is the absolute offset already covered; matches whose
	// keyword lies below it were found in a previous chunk's overlap.
	scanned int64
}

// NewObjectScanner creates an empty scanner.
func NewObjectScanner() *ObjectScanner {
	return &ObjectScanner{objects: make(map[uint32]ScannedObject)}
}

// ScanFile scans a file on disk in chunks.
func (s *ObjectScanner) ScanFile(filename string) (*ScanResult, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.scan(f)
}

// ScanBytes scans an in-memory buffer.
func (s *ObjectScanner) ScanBytes(data []byte) (*ScanResult, error) {
	return s.scan(bytes.NewReader(data))
}

func (s *ObjectScanner) scan(r io.Reader) (*ScanResult, error) {
	start := time.Now()

	buf := make([]byte, scanChunkSize)
	var carry []byte
	var offset int64

	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			base := offset - int64(len(carry))
			s.scanChunk(chunk, base)

			if len(chunk) >= scanOverlap {
				carry = append(carry[:0], chunk[len(chunk)-scanOverlap:]...)
			} else {
				carry = append(carry[:0], chunk...)
			}
			offset += int64(n)
			s.scanned = offset
			s.stats.BytesScanned += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	s.stats.Duration = time.Since(start)
	return s.result(), nil
}

// scanChunk finds every `N G obj` header in the chunk. The overlap
// region of the previous call is re-scanned, so matches are keyed by
// absolute offset and deduplicated through the object map.
func (s *ObjectScanner) scanChunk(chunk []byte, base int64) {
	pos := 0
	for {
		idx := bytes.Index(chunk[pos:], []byte("obj"))
		if idx < 0 {
			return
		}
		abs := pos + idx

		if base+int64(abs)+3 <= s.scanned {
			pos = abs + 3
			continue
		}

		if num, gen, headStart, ok := parseObjectHeader(chunk, abs); ok {
			headOffset := base + int64(headStart)
			if headOffset >= 0 {
				obj := ScannedObject{
					Number:     num,
					Generation: gen,
					Offset:     headOffset,
					Kind:       sniffKind(chunk[abs+3:]),
					Valid:      true,
				}
				s.objects[num] = obj
				s.stats.ObjectsFound++
			}
		}

		pos = abs + 3
	}
}

// parseObjectHeader walks backwards from an `obj` keyword match and
// validates the `N G obj` shape. Returns the id and the offset of the
// first digit of N within the chunk.
func parseObjectHeader(chunk []byte, objPos int) (uint32, uint16, int, bool) {
	// obj must be a standalone keyword
	if objPos+3 < len(chunk) && !isDelimiterOrSpace(chunk[objPos+3]) {
		return 0, 0, 0, false
	}

	i := objPos - 1
	if i < 0 || chunk[i] != ' ' {
		return 0, 0, 0, false
	}
	i--

	genEnd := i
	for i >= 0 && chunk[i] >= '0' && chunk[i] <= '9' {
		i--
	}
	if i == genEnd {
		return 0, 0, 0, false
	}
	gen, ok := parseUint(chunk[i+1 : genEnd+1])
	if !ok || gen > 65535 {
		return 0, 0, 0, false
	}

	if i < 0 || chunk[i] != ' ' {
		return 0, 0, 0, false
	}
	i--

	numEnd := i
	for i >= 0 && chunk[i] >= '0' && chunk[i] <= '9' {
		i--
	}
	if i == numEnd {
		return 0, 0, 0, false
	}
	num, ok := parseUint(chunk[i+1 : numEnd+1])
	if !ok {
		return 0, 0, 0, false
	}

	// The digit run must not continue a longer number or word
	if i >= 0 && !isDelimiterOrSpace(chunk[i]) && chunk[i] != '\n' && chunk[i] != '\r' {
		return 0, 0, 0, false
	}

	return uint32(num), uint16(gen), i + 1, true
}

func parseUint(b []byte) (uint64, bool) {
	if len(b) == 0 || len(b) > 10 {
		return 0, false
	}
	var v uint64
	for _, c := range b {
		v = v*10 + uint64(c-'0')
	}
	if v > 0xFFFFFFFF {
		return 0, false
	}
	return v, true
}

func isDelimiterOrSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', '\f', 0, '<', '>', '[', ']', '(', ')', '/', '%':
		return true
	}
	return false
}

// sniffKind classifies an object from the bytes right after its
// header, without parsing.
func sniffKind(body []byte) ObjectKind {
	window := body
	if len(window) > 256 {
		window = window[:256]
	}

	switch {
	case containsName(window, "Catalog"):
		return KindCatalog
	case containsName(window, "Pages"):
		return KindPages
	case containsName(window, "Page"):
		return KindPage
	case containsName(window, "Font"):
		return KindFont
	case containsName(window, "XObject") || containsName(window, "Image"):
		return KindImage
	case bytes.Contains(window, []byte("stream")):
		return KindStream
	case bytes.Contains(window, []byte("<<")):
		return KindDictionary
	default:
		return KindUnknown
	}
}

func containsName(window []byte, name string) bool {
	return bytes.Contains(window, []byte("/Type /"+name)) ||
		bytes.Contains(window, []byte("/Type/"+name))
}

func (s *ObjectScanner) result() *ScanResult {
	objects := make([]ScannedObject, 0, len(s.objects))
	pages := 0
	valid := 0
	for _, obj := range s.objects {
		objects = append(objects, obj)
		if obj.Kind == KindPage {
			pages++
		}
		if obj.Valid {
			valid++
		}
	}
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Number < objects[j].Number
	})

	s.stats.ValidObjects = valid
	s.stats.PagesFound = pages

	logger.Debug("object scan complete",
		"objects", len(objects), "pages", pages, "bytes", s.stats.BytesScanned)

	return &ScanResult{
		Objects:        objects,
		TotalObjects:   len(objects),
		ValidObjects:   valid,
		EstimatedPages: pages,
		Stats:          s.stats,
	}
}

// BuildXRefTable converts scan hits into a fresh cross-reference
// table, discarding whatever the file declared.
func (r *ScanResult) BuildXRefTable() *pdf.XRefTable {
	table := pdf.NewXRefTable()
	for _, obj := range r.Objects {
		table.Set(obj.Number, pdf.InUseEntry(obj.Offset, obj.Generation))
	}
	return table
}
