package recovery

import (
	"errors"
	"fmt"
	"os"

	"github.com/novvoo/go-pdfcore/pkg/pdf"
)

// ValidationError is one defect found during validation.
type ValidationError struct {
	Kind   CorruptionType
	Detail string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// ValidationStats counts what was checked.
type ValidationStats struct {
	ObjectsChecked   int
	ValidObjects     int
	PagesValidated   int
	StreamsValidated int
}

// ValidationResult is the outcome of a validation pass.
type ValidationResult struct {
	IsValid  bool
	Errors   []ValidationError
	Warnings []string
	Stats    ValidationStats
}

func (r *ValidationResult) fail(kind CorruptionType, format string, args ...interface{}) {
	r.IsValid = false
	r.Errors = append(r.Errors, ValidationError{Kind: kind, Detail: fmt.Sprintf(format, args...)})
}

// ValidatePDF validates a file on disk.
func ValidatePDF(filename string) (*ValidationResult, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ValidateBytes(data), nil
}

// ValidateBytes checks a file end to end: byte-level heuristics first,
// then a full parse with every referenced object resolved and every
// stream body decoded. Parse failures become classified errors rather
// than returned errors, so a result is produced for any input.
func ValidateBytes(data []byte) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	report := DetectCorruptionBytes(data)
	for _, e := range report.Errors {
		result.fail(e.Type, "%s", e.Detail)
	}

	doc, err := pdf.NewDocument(data)
	if err != nil {
		result.fail(classifyParseError(err), "%v", err)
		return result
	}

	validateObjects(doc, result)
	validatePages(doc, result)
	return result
}

// classifyParseError maps parser error kinds onto corruption classes.
func classifyParseError(err error) CorruptionType {
	switch {
	case errors.Is(err, pdf.ErrInvalidHeader):
		return InvalidHeader
	case errors.Is(err, pdf.ErrInvalidXRef):
		return CorruptXRef
	case errors.Is(err, pdf.ErrCircularReference):
		return CircularReference
	default:
		return InvalidObject
	}
}

// validateObjects resolves every object the table claims to know and
// decodes every stream body.
func validateObjects(doc *pdf.Document, result *ValidationResult) {
	for _, num := range doc.XRef().ObjectNumbers() {
		entry, ok := doc.XRef().Lookup(num)
		if !ok || entry.Kind == pdf.XRefFree {
			continue
		}
		result.Stats.ObjectsChecked++

		id := pdf.ObjectID{Number: num, Generation: entry.Generation}
		if entry.Kind == pdf.XRefCompressed {
			id.Generation = 0
		}

		obj, err := doc.GetObject(id)
		if err != nil {
			result.fail(InvalidObject, "object %s: %v", id, err)
			continue
		}
		result.Stats.ValidObjects++

		if stream, ok := obj.(pdf.Stream); ok {
			result.Stats.StreamsValidated++
			if _, err := doc.DecodeStream(stream); err != nil {
				result.fail(InvalidStream, "object %s: %v", id, err)
			}
		}
	}
}

// validatePages checks the page tree produced a usable page list with
// decodable content.
func validatePages(doc *pdf.Document, result *ValidationResult) {
	if doc.NumPages() == 0 {
		result.fail(MissingPages, "document has no pages")
		return
	}

	for n := 1; n <= doc.NumPages(); n++ {
		page, err := doc.GetPage(n)
		if err != nil {
			result.fail(MissingPages, "page %d: %v", n, err)
			continue
		}
		if _, err := page.Contents(); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("page %d content: %v", n, err))
			continue
		}
		result.Stats.PagesValidated++
	}
}
