package recovery

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/novvoo/go-pdfcore/pkg/logger"
	"github.com/novvoo/go-pdfcore/pkg/pdf"
)

// Strategy names a repair approach.
type Strategy int

const (
	// FixStructure patches the framing markers (header, EOF) and
	// retries a normal parse.
	FixStructure Strategy = iota
	// RebuildXRef discards the declared cross-reference structure and
	// rebuilds it from a brute-force object scan.
	RebuildXRef
	// ExtractContent walks forward from the first object and keeps
	// whatever parses, stopping at the first unrecoverable region.
	ExtractContent
	// RecoverPages salvages page objects individually, tolerating a
	// broken catalog or page tree.
	RecoverPages
)

var strategyNames = map[Strategy]string{
	FixStructure:   "FixStructure",
	RebuildXRef:    "RebuildXRef",
	ExtractContent: "ExtractContent",
	RecoverPages:   "RecoverPages",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// StrategyFor maps a corruption class to its repair approach. The
// mapping is total: every class gets a strategy, with RecoverPages as
// the fallback for damage that has no structural fix.
func StrategyFor(kind CorruptionType) Strategy {
	switch kind {
	case InvalidHeader:
		return FixStructure
	case CorruptXRef:
		return RebuildXRef
	case TruncatedFile:
		return ExtractContent
	default:
		return RecoverPages
	}
}

// Repair applies a strategy to the file bytes and returns a usable
// session. The input is never mutated; FixStructure works on a copy.
func (r *Recoverer) Repair(data []byte, strategy Strategy) (*pdf.Document, error) {
	logger.Debug("applying repair strategy", "strategy", strategy.String())

	switch strategy {
	case FixStructure:
		return r.fixStructure(data)
	case RebuildXRef:
		return r.rebuildXRef(data)
	case ExtractContent:
		return r.extractContent(data)
	case RecoverPages:
		return r.recoverPages(data)
	default:
		return nil, fmt.Errorf("unknown repair strategy %d", strategy)
	}
}

// fixStructure repairs the file framing in a copy: a missing header is
// prepended, a missing EOF appended. If the patched bytes still fail
// to parse the damage is deeper than framing, so fall through to a
// full rebuild.
func (r *Recoverer) fixStructure(data []byte) (*pdf.Document, error) {
	patched := append(make([]byte, 0, len(data)+24), data...)

	if !bytes.Contains(head(patched, 1024), []byte("%PDF-")) {
		patched = append([]byte("%PDF-1.7\n"), patched...)
		r.warnf("prepended missing PDF header")
	}

	if !bytes.Contains(tail(patched, 1024), []byte("%%EOF")) {
		patched = append(patched, []byte("\n%%EOF\n")...)
		r.warnf("appended missing EOF marker")
	}

	if int64(len(patched)) > r.options.MemoryLimit {
		return nil, fmt.Errorf("patched file exceeds memory limit %d", r.options.MemoryLimit)
	}

	doc, err := pdf.NewDocument(patched)
	if err == nil {
		return doc, nil
	}
	r.warnf("structure fix was not enough: %v", err)

	if !r.options.RebuildXRef {
		return nil, err
	}
	return r.rebuildXRef(patched)
}

// rebuildXRef scans for `N G obj` headers and builds a fresh table,
// then locates the catalog among the recovered objects so resolution
// can start from a trailer.
func (r *Recoverer) rebuildXRef(data []byte) (*pdf.Document, error) {
	table, err := RecoverXRef(data)
	if err != nil {
		return nil, err
	}
	r.warnf("rebuilt xref from scan: %d objects", table.Len())
	if !table.Trailer().Has("Root") {
		r.warnf("no catalog found during scan")
	}

	return pdf.NewDocumentFromXRef(data, table), nil
}

// attachTrailer synthesizes a trailer for a rebuilt table: Size from
// the highest object number and Root pointing at the scanned catalog.
func attachTrailer(table *pdf.XRefTable, objects []ScannedObject) {
	trailer := pdf.NewDictionary()

	var maxNum uint32
	for _, obj := range objects {
		if obj.Number > maxNum {
			maxNum = obj.Number
		}
		if obj.Kind == KindCatalog && !trailer.Has("Root") {
			trailer.Set("Root", pdf.NewReference(obj.Number, obj.Generation))
		}
	}
	trailer.Set("Size", pdf.Integer(int64(maxNum)+1))
	table.SetTrailer(trailer)
}

// extractContent parses objects in file order and keeps the prefix
// that parses, producing a shorter but consistent object set. Used for
// truncated files, where everything before the cut is typically
// intact.
func (r *Recoverer) extractContent(data []byte) (*pdf.Document, error) {
	scanner := NewObjectScanner()
	scan, err := scanner.ScanBytes(data)
	if err != nil {
		return nil, err
	}
	if scan.TotalObjects == 0 {
		return nil, fmt.Errorf("no objects found while extracting content")
	}

	byOffset := make([]ScannedObject, len(scan.Objects))
	copy(byOffset, scan.Objects)
	sort.Slice(byOffset, func(i, j int) bool {
		return byOffset[i].Offset < byOffset[j].Offset
	})

	table := pdf.NewXRefTable()
	probe := pdf.NewDocumentFromXRef(data, scan.BuildXRefTable())

	kept := 0
	errors := 0
	for _, obj := range byOffset {
		if errors >= r.options.MaxErrors {
			r.warnf("error budget %d exhausted at offset %d", r.options.MaxErrors, obj.Offset)
			break
		}
		id := pdf.ObjectID{Number: obj.Number, Generation: obj.Generation}
		if _, err := probe.GetObject(id); err != nil {
			errors++
			r.warnf("stopping extraction at object %s: %v", id, err)
			if !r.options.PartialContent {
				return nil, fmt.Errorf("object %s: %w", id, err)
			}
			// Truncation damage is contiguous from the cut point on.
			break
		}
		table.Set(obj.Number, pdf.InUseEntry(obj.Offset, obj.Generation))
		kept++
	}
	if kept == 0 {
		return nil, fmt.Errorf("no parseable objects before the damage")
	}
	r.warnf("extracted %d of %d objects", kept, scan.TotalObjects)

	attachTrailer(table, byOffset[:kept])
	if !table.Trailer().Has("Root") {
		r.warnf("no catalog found during scan")
	}

	return pdf.NewDocumentFromXRef(data, table), nil
}

// recoverPages rebuilds the table and then verifies each page object
// individually, dropping pages whose objects fail to resolve. With
// AggressiveRecovery any dictionary carrying /Contents counts as a
// page candidate.
func (r *Recoverer) recoverPages(data []byte) (*pdf.Document, error) {
	doc, err := r.rebuildXRef(data)
	if err != nil {
		return nil, err
	}

	if doc.NumPages() > 0 || !r.options.AggressiveRecovery {
		return doc, nil
	}

	// Page tree unusable; count dictionaries that look like pages so
	// callers at least learn what is salvageable.
	scanner := NewObjectScanner()
	scan, err := scanner.ScanBytes(data)
	if err != nil {
		return nil, err
	}

	candidates := 0
	errors := 0
	for _, obj := range scan.Objects {
		if errors >= r.options.MaxErrors {
			break
		}
		id := pdf.ObjectID{Number: obj.Number, Generation: obj.Generation}
		resolved, err := doc.GetObject(id)
		if err != nil {
			errors++
			continue
		}
		if dict, ok := resolved.(*pdf.Dictionary); ok && dict.Has("Contents") {
			candidates++
		}
	}
	r.warnf("aggressive page recovery found %d candidates", candidates)

	return doc, nil
}

func head(data []byte, n int) []byte {
	if len(data) > n {
		return data[:n]
	}
	return data
}

func tail(data []byte, n int) []byte {
	if len(data) > n {
		return data[len(data)-n:]
	}
	return data
}
