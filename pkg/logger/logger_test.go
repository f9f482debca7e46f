package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstalledLoggerReceivesMessages(t *testing.T) {
	type entry struct {
		level   LogLevel
		msg     string
		keyvals []interface{}
	}
	var got []entry

	SetLogger(func(level LogLevel, msg string, keyvals ...interface{}) {
		got = append(got, entry{level, msg, keyvals})
	})
	defer SetLogger(func(LogLevel, string, ...interface{}) {})

	Debug("scanning", "objects", 4)
	Warn("slow path")
	Error("failed", "err", "boom")

	require.Len(t, got, 3)
	assert.Equal(t, DebugLevel, got[0].level)
	assert.Equal(t, "scanning", got[0].msg)
	assert.Equal(t, []interface{}{"objects", 4}, got[0].keyvals)
	assert.Equal(t, WarnLevel, got[1].level)
	assert.Equal(t, ErrorLevel, got[2].level)
}

func TestSetLoggerIgnoresNil(t *testing.T) {
	calls := 0
	SetLogger(func(LogLevel, string, ...interface{}) { calls++ })
	defer SetLogger(func(LogLevel, string, ...interface{}) {})

	SetLogger(nil)
	Debug("still routed")
	assert.Equal(t, 1, calls)
}
