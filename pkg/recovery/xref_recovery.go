package recovery

import (
	"fmt"

	"github.com/novvoo/go-pdfcore/pkg/pdf"
)

// NeedsXRefRecovery reports whether the declared cross-reference
// structure is unusable and a rebuild is warranted.
func NeedsXRefRecovery(data []byte) bool {
	table, err := pdf.LoadXRef(data)
	if err != nil {
		return true
	}
	trailer := table.Trailer()
	return trailer == nil || !trailer.Has("Root") || table.Len() == 0
}

// RecoverXRef rebuilds a cross-reference table from a brute-force
// object scan, with a synthesized trailer pointing at the scanned
// catalog.
func RecoverXRef(data []byte) (*pdf.XRefTable, error) {
	scanner := NewObjectScanner()
	scan, err := scanner.ScanBytes(data)
	if err != nil {
		return nil, err
	}
	if scan.TotalObjects == 0 {
		return nil, fmt.Errorf("no objects found, cannot rebuild xref")
	}

	table := scan.BuildXRefTable()
	attachTrailer(table, scan.Objects)

	return table, nil
}
