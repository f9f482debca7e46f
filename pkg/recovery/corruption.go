// Package recovery detects, classifies and repairs structural damage
// in PDF files. Detection works on raw bytes so it can run against
// files that fail to parse at all; repair reuses the parser through
// rebuilt cross-reference tables.
package recovery

import (
	"bytes"
	"fmt"
	"os"

	"github.com/novvoo/go-pdfcore/pkg/pdf"
)

// CorruptionType classifies a structural defect.
type CorruptionType int

const (
	InvalidHeader CorruptionType = iota
	MissingEOF
	CorruptXRef
	InvalidObject
	TruncatedFile
	CircularReference
	MissingPages
	InvalidStream
)

var corruptionNames = map[CorruptionType]string{
	InvalidHeader:     "InvalidHeader",
	MissingEOF:        "MissingEOF",
	CorruptXRef:       "CorruptXRef",
	InvalidObject:     "InvalidObject",
	TruncatedFile:     "TruncatedFile",
	CircularReference: "CircularReference",
	MissingPages:      "MissingPages",
	InvalidStream:     "InvalidStream",
}

func (t CorruptionType) String() string {
	if name, ok := corruptionNames[t]; ok {
		return name
	}
	return fmt.Sprintf("CorruptionType(%d)", int(t))
}

// CorruptionError is one classified defect with its detail.
type CorruptionError struct {
	Type   CorruptionType
	Detail string
}

func (e CorruptionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Detail)
}

// FileStats summarizes what the detection pass saw in the raw bytes.
type FileStats struct {
	FileSize         int64
	EstimatedObjects int
	FoundPages       int
	XRefSections     int
}

// CorruptionReport is the outcome of one detection pass. Severity
// counts defects: 0 means clean. The report is never mutated after it
// is returned.
type CorruptionReport struct {
	Severity  uint32
	Errors    []CorruptionError
	FileStats FileStats
}

// IsValid reports whether no defects were found.
func (r *CorruptionReport) IsValid() bool {
	return r.Severity == 0
}

// Primary returns the first classified defect, which detection orders
// by structural significance.
func (r *CorruptionReport) Primary() (CorruptionType, bool) {
	if len(r.Errors) == 0 {
		return 0, false
	}
	return r.Errors[0].Type, true
}

func (r *CorruptionReport) record(t CorruptionType, format string, args ...interface{}) {
	r.Severity++
	r.Errors = append(r.Errors, CorruptionError{Type: t, Detail: fmt.Sprintf(format, args...)})
}

// DetectCorruption analyzes a file on disk.
func DetectCorruption(filename string) (*CorruptionReport, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return DetectCorruptionBytes(data), nil
}

// DetectCorruptionBytes runs the byte-level heuristics. It never
// mutates data and completes on arbitrary input: no step depends on a
// successful parse.
func DetectCorruptionBytes(data []byte) *CorruptionReport {
	report := &CorruptionReport{
		FileStats: FileStats{FileSize: int64(len(data))},
	}

	checkHeader(data, report)
	checkEOF(data, report)
	checkXRef(data, report)
	analyzeObjects(data, report)

	return report
}

// checkHeader looks for %PDF- near the start of the file.
func checkHeader(data []byte, report *CorruptionReport) {
	window := data
	if len(window) > 1024 {
		window = window[:1024]
	}
	if !bytes.Contains(window, []byte("%PDF-")) {
		report.record(InvalidHeader, "%%PDF- marker not found in first 1024 bytes")
	}
}

// checkEOF looks for the %%EOF marker near the end. Its absence
// usually means the file was cut short mid-write.
func checkEOF(data []byte, report *CorruptionReport) {
	tail := data
	if len(tail) > 1024 {
		tail = tail[len(tail)-1024:]
	}
	if !bytes.Contains(tail, []byte("%%EOF")) {
		report.record(MissingEOF, "%%%%EOF marker not found in last 1024 bytes")
		if !bytes.Contains(tail, []byte("startxref")) {
			report.record(TruncatedFile, "neither %%%%EOF nor startxref present near end of file")
		}
	}
}

// checkXRef verifies a cross-reference section is reachable: either a
// classic xref keyword somewhere in the file or a startxref pointing
// at something that looks like a section.
func checkXRef(data []byte, report *CorruptionReport) {
	count := 0
	for pos := 0; ; {
		idx := bytes.Index(data[pos:], []byte("xref"))
		if idx < 0 {
			break
		}
		// startxref contains the substring; count only section keywords.
		abs := pos + idx
		if abs < 5 || !bytes.Equal(data[abs-5:abs+4], []byte("startxref")) {
			count++
		}
		pos = abs + 4
	}
	report.FileStats.XRefSections = count

	if count == 0 && !bytes.Contains(data, []byte("/Type /XRef")) && !bytes.Contains(data, []byte("/Type/XRef")) {
		report.record(CorruptXRef, "no cross-reference section found")
		return
	}

	if offset, err := pdf.FindStartXRef(data); err != nil {
		report.record(CorruptXRef, "startxref: %v", err)
	} else if offset >= int64(len(data)) {
		report.record(CorruptXRef, "startxref offset %d beyond file size %d", offset, len(data))
	}
}

// analyzeObjects counts object headers and page markers with pure
// byte scanning.
func analyzeObjects(data []byte, report *CorruptionReport) {
	objects := 0
	pages := 0

	for pos := 0; ; {
		idx := bytes.Index(data[pos:], []byte(" obj"))
		if idx < 0 {
			break
		}
		abs := pos + idx
		objects++

		end := abs + 200
		if end > len(data) {
			end = len(data)
		}
		window := data[abs:end]
		if bytes.Contains(window, []byte("/Type /Page")) || bytes.Contains(window, []byte("/Type/Page")) {
			if !bytes.Contains(window, []byte("/Type /Pages")) && !bytes.Contains(window, []byte("/Type/Pages")) {
				pages++
			}
		}
		pos = abs + 4
	}

	report.FileStats.EstimatedObjects = objects
	report.FileStats.FoundPages = pages

	if objects == 0 {
		report.record(InvalidObject, "no indirect objects found")
	} else if pages == 0 && !bytes.Contains(data, []byte("/Pages")) {
		report.record(MissingPages, "no page objects found")
	}
}

// IsCorrupted is a quick check: any defect, or an unreadable file,
// counts as corrupted.
func IsCorrupted(filename string) bool {
	report, err := DetectCorruption(filename)
	if err != nil {
		return true
	}
	return !report.IsValid()
}
