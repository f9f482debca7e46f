// Package pdf implements the PDF object model, cross-reference
// resolution and stream decoding that make up the parsing core.
package pdf

import (
	"fmt"
	"strconv"
	"strings"
)

// ObjectID identifies an indirect object. Two ids with the same number
// but different generations refer to different historical versions of
// the object.
type ObjectID struct {
	Number     uint32
	Generation uint16
}

func (id ObjectID) String() string {
	return fmt.Sprintf("%d %d R", id.Number, id.Generation)
}

// ObjectType represents the type of a PDF object
type ObjectType int

const (
	ObjNull ObjectType = iota
	ObjBoolean
	ObjInteger
	ObjReal
	ObjString
	ObjName
	ObjArray
	ObjDictionary
	ObjStream
	ObjReference
)

// Object represents a PDF object
type Object interface {
	Type() ObjectType
	String() string
}

// Null represents a PDF null object
type Null struct{}

func (n Null) Type() ObjectType { return ObjNull }
func (n Null) String() string   { return "null" }

// Boolean represents a PDF boolean object
type Boolean bool

func (b Boolean) Type() ObjectType { return ObjBoolean }
func (b Boolean) String() string {
	if b {
		return "true"
	}
	return "false"
}

// Integer represents a PDF integer object
type Integer int64

func (i Integer) Type() ObjectType { return ObjInteger }
func (i Integer) String() string   { return strconv.FormatInt(int64(i), 10) }

// Real represents a PDF real number object
type Real float64

func (r Real) Type() ObjectType { return ObjReal }
func (r Real) String() string   { return strconv.FormatFloat(float64(r), 'f', -1, 64) }

// String represents a PDF string object
type String struct {
	Value []byte
	IsHex bool
}

func (s String) Type() ObjectType { return ObjString }
func (s String) String() string {
	if s.IsHex {
		return fmt.Sprintf("<%X>", s.Value)
	}
	return fmt.Sprintf("(%s)", string(s.Value))
}

// Text returns the string decoded as document text (UTF-16BE, UTF-8 or
// PDFDocEncoding depending on the leading byte-order mark).
func (s String) Text() string {
	text, err := DecodeTextString(s.Value)
	if err != nil {
		return string(s.Value)
	}
	return text
}

// Name represents a PDF name object
type Name string

func (n Name) Type() ObjectType { return ObjName }
func (n Name) String() string   { return "/" + string(n) }

// Array represents a PDF array object
type Array []Object

func (a Array) Type() ObjectType { return ObjArray }
func (a Array) String() string {
	var parts []string
	for _, obj := range a {
		parts = append(parts, obj.String())
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Dictionary represents a PDF dictionary object. Insertion order is
// preserved so re-serialization is deterministic; writing an existing
// key replaces the value in place (last write wins).
type Dictionary struct {
	keys   []Name
	values map[Name]Object
}

// NewDictionary creates an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{values: make(map[Name]Object)}
}

func (d *Dictionary) Type() ObjectType { return ObjDictionary }
func (d *Dictionary) String() string {
	var parts []string
	for _, k := range d.keys {
		parts = append(parts, k.String()+" "+d.values[k].String())
	}
	return "<<" + strings.Join(parts, " ") + ">>"
}

// Set stores a value under key. A duplicate key keeps the order slot of
// its first occurrence.
func (d *Dictionary) Set(key Name, value Object) {
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Get returns the raw value for a key, or nil when absent. References
// are not resolved here; use Document.Resolve for that.
func (d *Dictionary) Get(key string) Object {
	if d == nil {
		return nil
	}
	return d.values[Name(key)]
}

// Has reports whether the key is present.
func (d *Dictionary) Has(key string) bool {
	if d == nil {
		return false
	}
	_, ok := d.values[Name(key)]
	return ok
}

// Delete removes a key, preserving the order of the remaining keys.
func (d *Dictionary) Delete(key string) {
	name := Name(key)
	if _, ok := d.values[name]; !ok {
		return
	}
	delete(d.values, name)
	for i, k := range d.keys {
		if k == name {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (d *Dictionary) Keys() []Name {
	if d == nil {
		return nil
	}
	out := make([]Name, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// The typed accessors below report a wrong-typed value the same way as
// a missing one. Callers treat both as "not there" rather than failing.

// GetName returns the name value for a key
func (d *Dictionary) GetName(key string) (Name, bool) {
	if n, ok := d.Get(key).(Name); ok {
		return n, true
	}
	return "", false
}

// GetInt returns the integer value for a key
func (d *Dictionary) GetInt(key string) (int64, bool) {
	switch v := d.Get(key).(type) {
	case Integer:
		return int64(v), true
	case Real:
		return int64(v), true
	}
	return 0, false
}

// GetReal returns the numeric value for a key as float64
func (d *Dictionary) GetReal(key string) (float64, bool) {
	switch v := d.Get(key).(type) {
	case Integer:
		return float64(v), true
	case Real:
		return float64(v), true
	}
	return 0, false
}

// GetBool returns the boolean value for a key
func (d *Dictionary) GetBool(key string) (bool, bool) {
	if b, ok := d.Get(key).(Boolean); ok {
		return bool(b), true
	}
	return false, false
}

// GetString returns the string value for a key
func (d *Dictionary) GetString(key string) (String, bool) {
	if s, ok := d.Get(key).(String); ok {
		return s, true
	}
	return String{}, false
}

// GetArray returns the array value for a key
func (d *Dictionary) GetArray(key string) (Array, bool) {
	if a, ok := d.Get(key).(Array); ok {
		return a, true
	}
	return nil, false
}

// GetDict returns the dictionary value for a key
func (d *Dictionary) GetDict(key string) (*Dictionary, bool) {
	if dict, ok := d.Get(key).(*Dictionary); ok {
		return dict, true
	}
	return nil, false
}

// GetReference returns the reference value for a key
func (d *Dictionary) GetReference(key string) (Reference, bool) {
	if ref, ok := d.Get(key).(Reference); ok {
		return ref, true
	}
	return Reference{}, false
}

// Stream represents a PDF stream object: a dictionary plus the raw,
// still-encoded body bytes.
type Stream struct {
	Dict *Dictionary
	Raw  []byte
}

func (s Stream) Type() ObjectType { return ObjStream }
func (s Stream) String() string {
	return s.Dict.String() + " stream...endstream"
}

// Reference represents a PDF indirect object reference
type Reference struct {
	ID ObjectID
}

func (r Reference) Type() ObjectType { return ObjReference }
func (r Reference) String() string   { return r.ID.String() }

// NewReference builds a reference from an object and generation number.
func NewReference(number uint32, generation uint16) Reference {
	return Reference{ID: ObjectID{Number: number, Generation: generation}}
}
