package recovery

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novvoo/go-pdfcore/pkg/pdf"
)

func TestValidateCleanFile(t *testing.T) {
	result := ValidateBytes(buildValidPDF())

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 4, result.Stats.ObjectsChecked)
	assert.Equal(t, 4, result.Stats.ValidObjects)
	assert.Equal(t, 1, result.Stats.PagesValidated)
	assert.Equal(t, 1, result.Stats.StreamsValidated)
}

func TestValidateMissingHeader(t *testing.T) {
	result := ValidateBytes(withoutHeader(buildValidPDF()))

	assert.False(t, result.IsValid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, InvalidHeader, result.Errors[0].Kind)
}

func TestValidateBrokenXRef(t *testing.T) {
	result := ValidateBytes(withBrokenStartXRef(buildValidPDF()))

	assert.False(t, result.IsValid)
	kinds := make(map[CorruptionType]bool)
	for _, e := range result.Errors {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds[CorruptXRef])
}

func TestValidateNoPages(t *testing.T) {
	b := newPDFBuilder()
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, "<< /Type /Pages /Kids [] /Count 0 >>")
	result := ValidateBytes(b.finish("/Root 1 0 R"))

	assert.False(t, result.IsValid)
	kinds := make(map[CorruptionType]bool)
	for _, e := range result.Errors {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds[MissingPages])
}

func TestValidateBrokenStream(t *testing.T) {
	b := newPDFBuilder()
	b.object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.object(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.object(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	b.streamObject(4, "/Filter /FlateDecode", []byte("this is not zlib"))
	result := ValidateBytes(b.finish("/Root 1 0 R"))

	assert.False(t, result.IsValid)
	kinds := make(map[CorruptionType]bool)
	for _, e := range result.Errors {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds[InvalidStream])
	assert.Equal(t, 1, result.Stats.StreamsValidated)
}

func TestValidateGarbageStillProducesResult(t *testing.T) {
	result := ValidateBytes([]byte("garbage input"))
	require.NotNil(t, result)
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.Errors)
}

func TestClassifyParseError(t *testing.T) {
	cases := []struct {
		err  error
		want CorruptionType
	}{
		{pdf.ErrInvalidHeader, InvalidHeader},
		{pdf.ErrInvalidXRef, CorruptXRef},
		{pdf.ErrCircularReference, CircularReference},
		{pdf.ErrEncrypted, InvalidObject},
		{errors.New("anything else"), InvalidObject},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, classifyParseError(c.err), "error %v", c.err)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := ValidationError{Kind: MissingPages, Detail: "no pages"}
	assert.Equal(t, "MissingPages: no pages", err.Error())
}

func TestValidatePDFFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(path, buildValidPDF(), 0o644))

	result, err := ValidatePDF(path)
	require.NoError(t, err)
	assert.True(t, result.IsValid)

	_, err = ValidatePDF(filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)
}
