package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novvoo/go-pdfcore/pkg/pdf"
)

func TestNeedsXRefRecovery(t *testing.T) {
	assert.False(t, NeedsXRefRecovery(buildValidPDF()))
	assert.True(t, NeedsXRefRecovery(withBrokenStartXRef(buildValidPDF())))
	assert.True(t, NeedsXRefRecovery([]byte("no xref at all")))
}

func TestNeedsXRefRecoveryMissingRoot(t *testing.T) {
	b := newPDFBuilder()
	b.object(1, "null")
	data := b.finish("")

	assert.True(t, NeedsXRefRecovery(data))
}

func TestRecoverXRef(t *testing.T) {
	table, err := RecoverXRef(buildValidPDF())
	require.NoError(t, err)

	assert.Equal(t, 4, table.Len())

	trailer := table.Trailer()
	require.NotNil(t, trailer)
	size, _ := trailer.GetInt("Size")
	assert.Equal(t, int64(5), size)
	root, ok := trailer.GetReference("Root")
	require.True(t, ok)
	assert.Equal(t, uint32(1), root.ID.Number)

	// The recovered table is immediately usable as a session
	doc := pdf.NewDocumentFromXRef(buildValidPDF(), table)
	assert.Equal(t, 1, doc.NumPages())
}

func TestRecoverXRefNoObjects(t *testing.T) {
	_, err := RecoverXRef([]byte("empty"))
	assert.Error(t, err)
}
