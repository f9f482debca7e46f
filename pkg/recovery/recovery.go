package recovery

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/novvoo/go-pdfcore/pkg/logger"
	"github.com/novvoo/go-pdfcore/pkg/pdf"
)

// Options bounds recovery work. Both limits exist because recovery
// runs on untrusted, possibly crafted input: MaxErrors stops an
// endless stream of per-object failures, MemoryLimit bounds how much
// is buffered while salvaging.
type Options struct {
	// AggressiveRecovery enables heuristics that may misinterpret
	// intact data, such as treating any dictionary with /Contents as a
	// page.
	AggressiveRecovery bool

	// PartialContent allows returning incomplete results instead of
	// failing when some objects cannot be salvaged.
	PartialContent bool

	// MaxErrors aborts recovery after this many per-object failures.
	MaxErrors int `validate:"gt=0"`

	// RebuildXRef permits discarding the declared cross-reference
	// structure in favor of a scan.
	RebuildXRef bool

	// MemoryLimit caps the bytes buffered during recovery.
	MemoryLimit int64 `validate:"gt=0"`
}

// DefaultOptions returns the bounds used when the caller has no
// opinion: up to 100 object failures and 500MB of buffered data.
func DefaultOptions() Options {
	return Options{
		PartialContent: true,
		MaxErrors:      100,
		RebuildXRef:    true,
		MemoryLimit:    500 * 1024 * 1024,
	}
}

var optionsValidator = validator.New()

// Validate checks the limits are usable.
func (o Options) Validate() error {
	return optionsValidator.Struct(o)
}

// PartialRecovery reports what could be salvaged from a file that
// failed strict parsing. It is produced even when nothing parses.
type PartialRecovery struct {
	TotalObjects     int
	RecoveredObjects int
	RecoveredPages   int
	Warnings         []string
}

// Recoverer drives detection and repair for one file at a time. It is
// single-threaded; run one Recoverer per goroutine.
type Recoverer struct {
	options  Options
	warnings []string
}

// NewRecoverer creates a recovery engine with the given bounds.
func NewRecoverer(options Options) (*Recoverer, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("recovery options: %w", err)
	}
	return &Recoverer{options: options}, nil
}

// Warnings returns the notes accumulated by the last recovery run.
func (r *Recoverer) Warnings() []string {
	return r.warnings
}

func (r *Recoverer) warnf(format string, args ...interface{}) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

// RecoverDocument tries strict parsing first, then classifies the
// damage and applies the matching repair strategy.
func (r *Recoverer) RecoverDocument(filename string) (*pdf.Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return r.RecoverDocumentBytes(data)
}

// RecoverDocumentBytes is RecoverDocument over an in-memory file.
func (r *Recoverer) RecoverDocumentBytes(data []byte) (*pdf.Document, error) {
	r.warnings = nil

	if int64(len(data)) > r.options.MemoryLimit {
		return nil, fmt.Errorf("file size %d exceeds memory limit %d", len(data), r.options.MemoryLimit)
	}

	doc, err := pdf.NewDocument(data)
	if err == nil {
		return doc, nil
	}
	r.warnf("strict parsing failed: %v", err)
	logger.Debug("strict parse failed, entering recovery", "error", err.Error())

	report := DetectCorruptionBytes(data)
	kind, ok := report.Primary()
	if !ok {
		// Heuristics saw nothing wrong but parsing still failed, which
		// points at the reference structure.
		kind = CorruptXRef
	}
	r.warnf("detected corruption: %s (severity %d)", kind, report.Severity)

	strategy := StrategyFor(kind)
	doc, err = r.Repair(data, strategy)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// RecoverPartial salvages what it can and reports counts rather than
// failing: a corrupted object mid-file yields a shorter object set
// plus warnings instead of discarding everything already recovered.
func (r *Recoverer) RecoverPartial(data []byte) (*PartialRecovery, error) {
	r.warnings = nil

	if int64(len(data)) > r.options.MemoryLimit {
		return nil, fmt.Errorf("file size %d exceeds memory limit %d", len(data), r.options.MemoryLimit)
	}

	scanner := NewObjectScanner()
	scan, err := scanner.ScanBytes(data)
	if err != nil {
		return nil, err
	}

	partial := &PartialRecovery{TotalObjects: scan.TotalObjects}

	table := scan.BuildXRefTable()
	doc := pdf.NewDocumentFromXRef(data, table)

	errors := 0
	for _, obj := range scan.Objects {
		if errors >= r.options.MaxErrors {
			r.warnf("error budget %d exhausted, stopping", r.options.MaxErrors)
			break
		}
		id := pdf.ObjectID{Number: obj.Number, Generation: obj.Generation}
		if _, err := doc.GetObject(id); err != nil {
			errors++
			r.warnf("object %s: %v", id, err)
			continue
		}
		partial.RecoveredObjects++
		if obj.Kind == KindPage {
			partial.RecoveredPages++
		}
	}

	if pages := doc.NumPages(); pages > partial.RecoveredPages {
		partial.RecoveredPages = pages
	}

	partial.Warnings = append(partial.Warnings, r.warnings...)
	return partial, nil
}
