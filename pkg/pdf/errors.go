package pdf

import (
	"errors"
	"fmt"
)

// Sentinel errors for whole-file failure classes. Callers match them
// with errors.Is.
var (
	// ErrInvalidHeader indicates the file does not start with a
	// recognizable %PDF-M.N header.
	ErrInvalidHeader = errors.New("pdf: invalid or missing header")

	// ErrInvalidXRef indicates the cross-reference data could not be
	// located or parsed.
	ErrInvalidXRef = errors.New("pdf: invalid cross-reference data")

	// ErrCircularReference indicates object resolution required itself,
	// directly or transitively.
	ErrCircularReference = errors.New("pdf: circular object reference")

	// ErrEncrypted indicates the trailer carries an Encrypt dictionary.
	// This package consumes already-decrypted bytes and cannot proceed.
	ErrEncrypted = errors.New("pdf: document is encrypted")
)

// MissingKeyError reports a required dictionary key that was absent.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("pdf: missing required key /%s", e.Key)
}

// SyntaxError reports malformed PDF syntax at a byte position.
type SyntaxError struct {
	Position int64
	Message  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("pdf: syntax error at offset %d: %s", e.Position, e.Message)
}

// StreamDecodeError reports a failure while applying a stream filter.
type StreamDecodeError struct {
	Filter  string
	Message string
}

func (e *StreamDecodeError) Error() string {
	if e.Filter == "" {
		return fmt.Sprintf("pdf: stream decode error: %s", e.Message)
	}
	return fmt.Sprintf("pdf: stream decode error in %s: %s", e.Filter, e.Message)
}

// CharacterEncodingError reports undecodable character data, such as an
// invalid hex digit or a broken UTF-16 sequence.
type CharacterEncodingError struct {
	Position int64
	Message  string
}

func (e *CharacterEncodingError) Error() string {
	return fmt.Sprintf("pdf: character encoding error at offset %d: %s", e.Position, e.Message)
}

func syntaxErrorf(pos int64, format string, args ...interface{}) error {
	return &SyntaxError{Position: pos, Message: fmt.Sprintf(format, args...)}
}
