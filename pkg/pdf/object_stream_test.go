package pdf

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildObjectStream packs the given bodies as objects 10, 11, ... with
// an uncompressed body so offsets stay obvious.
func buildObjectStream(bodies ...string) Stream {
	var table, payload string
	for i, body := range bodies {
		table += fmt.Sprintf("%d %d ", 10+i, len(payload))
		payload += body + " "
	}

	data := table + payload
	dict := NewDictionary()
	dict.Set("Type", Name("ObjStm"))
	dict.Set("N", Integer(len(bodies)))
	dict.Set("First", Integer(len(table)))
	dict.Set("Length", Integer(len(data)))
	return Stream{Dict: dict, Raw: []byte(data)}
}

func TestParseObjectStream(t *testing.T) {
	os, err := ParseObjectStream(buildObjectStream("<< /Type /Page >>", "42", "(hi)"))
	require.NoError(t, err)
	assert.Equal(t, 3, os.Len())

	num, obj, err := os.Extract(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), num)
	dict, ok := obj.(*Dictionary)
	require.True(t, ok)
	name, _ := dict.GetName("Type")
	assert.Equal(t, Name("Page"), name)

	num, obj, err = os.Extract(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(11), num)
	assert.Equal(t, Integer(42), obj)

	num, obj, err = os.Extract(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(12), num)
	assert.Equal(t, String{Value: []byte("hi")}, obj)
}

func TestParseObjectStreamMissingKeys(t *testing.T) {
	dict := NewDictionary()
	dict.Set("First", Integer(0))
	_, err := ParseObjectStream(Stream{Dict: dict})
	var missingKey *MissingKeyError
	require.ErrorAs(t, err, &missingKey)
	assert.Equal(t, "N", missingKey.Key)

	dict = NewDictionary()
	dict.Set("N", Integer(1))
	_, err = ParseObjectStream(Stream{Dict: dict})
	require.ErrorAs(t, err, &missingKey)
	assert.Equal(t, "First", missingKey.Key)
}

func TestParseObjectStreamFirstBeyondData(t *testing.T) {
	dict := NewDictionary()
	dict.Set("N", Integer(0))
	dict.Set("First", Integer(100))
	_, err := ParseObjectStream(Stream{Dict: dict, Raw: []byte("short")})
	require.Error(t, err)
}

func TestParseObjectStreamBadPairTable(t *testing.T) {
	dict := NewDictionary()
	dict.Set("N", Integer(1))
	dict.Set("First", Integer(8))
	_, err := ParseObjectStream(Stream{Dict: dict, Raw: []byte("10 /bad null")})
	require.Error(t, err)
}

func TestObjectStreamExtractOutOfRange(t *testing.T) {
	os, err := ParseObjectStream(buildObjectStream("null"))
	require.NoError(t, err)

	_, _, err = os.Extract(-1)
	assert.Error(t, err)
	_, _, err = os.Extract(1)
	assert.Error(t, err)
}

func TestObjectStreamOffsetBeyondData(t *testing.T) {
	// Pair table points past the decoded body
	dict := NewDictionary()
	dict.Set("N", Integer(1))
	dict.Set("First", Integer(7))
	os, err := ParseObjectStream(Stream{Dict: dict, Raw: []byte("10 500 null")})
	require.NoError(t, err)
	_, _, err = os.Extract(0)
	assert.Error(t, err)
}
