package pdf

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
)

// headerWindow is how far into the file the %PDF- marker may sit;
// some producers prepend junk bytes before the header.
const headerWindow = 1024

// Document is an open PDF file: its bytes, the merged cross-reference
// table and a cache of resolved objects. A Document is a
// single-threaded session; callers that want parallelism open one
// Document per goroutine over the same data.
type Document struct {
	data    []byte
	Version string

	xref    *XRefTable
	objects map[ObjectID]Object

	// resolving guards against reference cycles during resolution.
	resolving map[ObjectID]bool

	root  *Dictionary
	pages []*Page
}

// Page is one resolved page with its inheritable attributes filled in
// from the page tree.
type Page struct {
	doc       *Document
	Dict      *Dictionary
	Number    int
	MediaBox  Rectangle
	CropBox   Rectangle
	Rotate    int64
	Resources *Dictionary
}

// Rectangle is a PDF rectangle in default user space.
type Rectangle struct {
	LLX, LLY, URX, URY float64
}

// Open reads and parses a PDF file.
func Open(filename string) (*Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return NewDocument(data)
}

// NewDocument parses PDF data: header, cross-reference chain, catalog
// and page tree. Encrypted files are rejected with ErrEncrypted.
func NewDocument(data []byte) (*Document, error) {
	doc := &Document{
		data:      data,
		objects:   make(map[ObjectID]Object),
		resolving: make(map[ObjectID]bool),
	}

	version, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	doc.Version = version

	table, err := LoadXRef(data)
	if err != nil {
		return nil, err
	}
	doc.xref = table

	trailer := table.Trailer()
	if trailer == nil {
		return nil, fmt.Errorf("%w: no trailer", ErrInvalidXRef)
	}
	if trailer.Has("Encrypt") {
		return nil, ErrEncrypted
	}

	if err := doc.loadCatalog(); err != nil {
		return nil, err
	}
	return doc, nil
}

// NewDocumentFromXRef builds a session over an externally constructed
// table, typically one rebuilt by scanning. Header and trailer checks
// are skipped; catalog loading is best-effort.
func NewDocumentFromXRef(data []byte, table *XRefTable) *Document {
	doc := &Document{
		data:      data,
		xref:      table,
		objects:   make(map[ObjectID]Object),
		resolving: make(map[ObjectID]bool),
	}
	if version, err := parseHeader(data); err == nil {
		doc.Version = version
	}
	doc.loadCatalog()
	return doc
}

// parseHeader locates %PDF-M.N near the start of the file and checks
// the version is in the range this parser understands.
func parseHeader(data []byte) (string, error) {
	window := data
	if len(window) > headerWindow {
		window = window[:headerWindow]
	}

	idx := bytes.Index(window, []byte("%PDF-"))
	if idx < 0 {
		return "", fmt.Errorf("%w: %%PDF- marker not found", ErrInvalidHeader)
	}

	rest := data[idx+5:]
	end := 0
	for end < len(rest) && end < 8 && (rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	version := string(rest[:end])

	v, err := strconv.ParseFloat(version, 64)
	if err != nil || v < 1.0 || v > 2.0 {
		return "", fmt.Errorf("%w: unsupported version %q", ErrInvalidHeader, version)
	}
	return version, nil
}

// XRef exposes the merged cross-reference table.
func (d *Document) XRef() *XRefTable {
	return d.xref
}

// Trailer returns the merged trailer dictionary.
func (d *Document) Trailer() *Dictionary {
	if d.xref == nil {
		return nil
	}
	return d.xref.Trailer()
}

// Catalog returns the document catalog, or nil when it could not be
// resolved.
func (d *Document) Catalog() *Dictionary {
	return d.root
}

// Info returns the resolved document information dictionary, or nil.
func (d *Document) Info() *Dictionary {
	trailer := d.Trailer()
	if trailer == nil {
		return nil
	}
	obj, err := d.Resolve(trailer.Get("Info"))
	if err != nil {
		return nil
	}
	dict, _ := obj.(*Dictionary)
	return dict
}

// Resolve follows obj until it is no longer a reference. Chains whose
// targets are themselves references are legal; a chain that revisits
// an id is a cycle.
func (d *Document) Resolve(obj Object) (Object, error) {
	var seen map[ObjectID]bool
	for {
		ref, ok := obj.(Reference)
		if !ok {
			return obj, nil
		}
		if seen[ref.ID] {
			return nil, fmt.Errorf("%w: reference chain revisits %s", ErrCircularReference, ref.ID)
		}
		if seen == nil {
			seen = make(map[ObjectID]bool)
		}
		seen[ref.ID] = true

		resolved, err := d.GetObject(ref.ID)
		if err != nil {
			return nil, err
		}
		obj = resolved
	}
}

// GetObject loads the object with the given id, via the cache when it
// was already resolved. Free and unknown object numbers resolve to
// null, matching how consumers treat dangling references.
func (d *Document) GetObject(id ObjectID) (Object, error) {
	if obj, ok := d.objects[id]; ok {
		return obj, nil
	}
	if d.resolving[id] {
		return nil, fmt.Errorf("%w: object %s", ErrCircularReference, id)
	}

	entry, ok := d.xref.Lookup(id.Number)
	if !ok || entry.Kind == XRefFree {
		return Null{}, nil
	}

	d.resolving[id] = true
	defer delete(d.resolving, id)

	var obj Object
	var err error
	switch entry.Kind {
	case XRefInUse:
		obj, err = d.loadAt(entry.Offset, id.Number)
	case XRefCompressed:
		obj, err = d.loadCompressed(entry)
	}
	if err != nil {
		return nil, err
	}

	d.objects[id] = obj
	return obj, nil
}

// loadAt parses the indirect object at a byte offset and checks it
// carries the expected number.
func (d *Document) loadAt(offset int64, wantNum uint32) (Object, error) {
	if offset < 0 || offset >= int64(len(d.data)) {
		return nil, fmt.Errorf("%w: offset %d out of range", ErrInvalidXRef, offset)
	}

	parser := NewParserFromBytes(d.data[offset:])
	parser.SetLengthResolver(d.resolveStreamLength)

	id, obj, err := parser.ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("object %d at offset %d: %w", wantNum, offset, err)
	}
	if id.Number != wantNum {
		return nil, syntaxErrorf(offset, "expected object %d, found %s", wantNum, id)
	}
	return obj, nil
}

// loadCompressed extracts an object from its container object stream.
func (d *Document) loadCompressed(entry XRefEntry) (Object, error) {
	containerID := ObjectID{Number: entry.StreamObjectNumber}
	container, err := d.GetObject(containerID)
	if err != nil {
		return nil, err
	}
	stream, ok := container.(Stream)
	if !ok {
		return nil, fmt.Errorf("object stream %d is not a stream", entry.StreamObjectNumber)
	}

	resolved, err := d.resolveStreamDict(stream)
	if err != nil {
		return nil, err
	}
	os, err := ParseObjectStream(resolved)
	if err != nil {
		return nil, err
	}
	_, obj, err := os.Extract(entry.IndexWithinStream)
	return obj, err
}

// resolveStreamLength backs the parser's indirect /Length lookups.
func (d *Document) resolveStreamLength(ref Reference) (int64, bool) {
	obj, err := d.GetObject(ref.ID)
	if err != nil {
		return 0, false
	}
	n, ok := obj.(Integer)
	return int64(n), ok
}

// DecodeStream resolves any indirect values in the stream's decode
// keys and runs the body through the filter pipeline.
func (d *Document) DecodeStream(s Stream) ([]byte, error) {
	resolved, err := d.resolveStreamDict(s)
	if err != nil {
		return nil, err
	}
	return Decode(resolved)
}

// resolveStreamDict rewrites a stream dictionary so the filter
// pipeline never sees a reference: Filter, DecodeParms and any nested
// JBIG2Globals become direct values.
func (d *Document) resolveStreamDict(s Stream) (Stream, error) {
	dict := NewDictionary()
	for _, key := range s.Dict.Keys() {
		value := s.Dict.Get(string(key))
		switch key {
		case "Filter", "DecodeParms":
			resolved, err := d.resolveDeep(value)
			if err != nil {
				return Stream{}, err
			}
			value = resolved
		}
		dict.Set(key, value)
	}
	return Stream{Dict: dict, Raw: s.Raw}, nil
}

// resolveDeep resolves a value and, one level down, the members of
// arrays and dictionaries. Nested streams keep their own resolved
// dictionaries so chained globals decode correctly.
func (d *Document) resolveDeep(obj Object) (Object, error) {
	obj, err := d.Resolve(obj)
	if err != nil {
		return nil, err
	}

	switch v := obj.(type) {
	case Array:
		out := make(Array, len(v))
		for i, item := range v {
			resolved, err := d.resolveDeep(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case *Dictionary:
		out := NewDictionary()
		for _, key := range v.Keys() {
			resolved, err := d.resolveDeep(v.Get(string(key)))
			if err != nil {
				return nil, err
			}
			out.Set(key, resolved)
		}
		return out, nil
	case Stream:
		resolved, err := d.resolveStreamDict(v)
		if err != nil {
			return nil, err
		}
		return resolved, nil
	default:
		return obj, nil
	}
}

// loadCatalog resolves the catalog and walks the page tree.
func (d *Document) loadCatalog() error {
	trailer := d.Trailer()
	if trailer == nil {
		return fmt.Errorf("%w: no trailer", ErrInvalidXRef)
	}

	rootObj := trailer.Get("Root")
	if rootObj == nil {
		return &MissingKeyError{Key: "Root"}
	}
	resolved, err := d.Resolve(rootObj)
	if err != nil {
		return err
	}
	root, ok := resolved.(*Dictionary)
	if !ok {
		return syntaxErrorf(0, "catalog is not a dictionary")
	}
	d.root = root

	pagesObj, err := d.Resolve(root.Get("Pages"))
	if err != nil {
		return err
	}
	pagesRoot, ok := pagesObj.(*Dictionary)
	if !ok {
		return &MissingKeyError{Key: "Pages"}
	}

	visited := make(map[ObjectID]bool)
	return d.walkPageTree(pagesRoot, inheritedAttrs{}, visited)
}

// inheritedAttrs carries the attributes a Pages node passes down.
type inheritedAttrs struct {
	resources *Dictionary
	mediaBox  *Rectangle
	cropBox   *Rectangle
	rotate    int64
}

func (a inheritedAttrs) merge(node *Dictionary, d *Document) inheritedAttrs {
	if obj, err := d.Resolve(node.Get("Resources")); err == nil {
		if res, ok := obj.(*Dictionary); ok {
			a.resources = res
		}
	}
	if r, ok := d.rectangleAt(node, "MediaBox"); ok {
		a.mediaBox = &r
	}
	if r, ok := d.rectangleAt(node, "CropBox"); ok {
		a.cropBox = &r
	}
	if obj, err := d.Resolve(node.Get("Rotate")); err == nil {
		if n, ok := obj.(Integer); ok {
			a.rotate = int64(n)
		}
	}
	return a
}

// walkPageTree descends Kids depth-first, accumulating inherited
// attributes. Node references are tracked so malformed trees that link
// back to an ancestor terminate.
func (d *Document) walkPageTree(node *Dictionary, inherited inheritedAttrs, visited map[ObjectID]bool) error {
	inherited = inherited.merge(node, d)

	nodeType, _ := node.GetName("Type")
	if nodeType == "Page" {
		d.appendPage(node, inherited)
		return nil
	}

	kidsObj, err := d.Resolve(node.Get("Kids"))
	if err != nil {
		return err
	}
	kids, ok := kidsObj.(Array)
	if !ok {
		// A leaf without a Type still counts as a page when it has no
		// Kids; some producers omit /Type.
		d.appendPage(node, inherited)
		return nil
	}

	for _, kid := range kids {
		if ref, ok := kid.(Reference); ok {
			if visited[ref.ID] {
				return fmt.Errorf("%w: page tree node %s", ErrCircularReference, ref.ID)
			}
			visited[ref.ID] = true
		}
		kidObj, err := d.Resolve(kid)
		if err != nil {
			return err
		}
		kidDict, ok := kidObj.(*Dictionary)
		if !ok {
			continue
		}
		if err := d.walkPageTree(kidDict, inherited, visited); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) appendPage(node *Dictionary, inherited inheritedAttrs) {
	page := &Page{
		doc:       d,
		Dict:      node,
		Number:    len(d.pages) + 1,
		Rotate:    inherited.rotate,
		Resources: inherited.resources,
	}
	if inherited.mediaBox != nil {
		page.MediaBox = *inherited.mediaBox
	} else {
		// US Letter, the conventional fallback when no ancestor
		// declares a MediaBox.
		page.MediaBox = Rectangle{0, 0, 612, 792}
	}
	if inherited.cropBox != nil {
		page.CropBox = *inherited.cropBox
	} else {
		page.CropBox = page.MediaBox
	}
	d.pages = append(d.pages, page)
}

// rectangleAt resolves a four-number array at key into a Rectangle.
func (d *Document) rectangleAt(dict *Dictionary, key string) (Rectangle, bool) {
	obj, err := d.Resolve(dict.Get(key))
	if err != nil {
		return Rectangle{}, false
	}
	arr, ok := obj.(Array)
	if !ok || len(arr) != 4 {
		return Rectangle{}, false
	}

	var vals [4]float64
	for i, item := range arr {
		resolved, err := d.Resolve(item)
		if err != nil {
			return Rectangle{}, false
		}
		switch n := resolved.(type) {
		case Integer:
			vals[i] = float64(n)
		case Real:
			vals[i] = float64(n)
		default:
			return Rectangle{}, false
		}
	}
	return Rectangle{LLX: vals[0], LLY: vals[1], URX: vals[2], URY: vals[3]}, true
}

// NumPages returns the number of pages found in the page tree.
func (d *Document) NumPages() int {
	return len(d.pages)
}

// GetPage returns the page with 1-based number n.
func (d *Document) GetPage(n int) (*Page, error) {
	if n < 1 || n > len(d.pages) {
		return nil, fmt.Errorf("page %d out of range [1, %d]", n, len(d.pages))
	}
	return d.pages[n-1], nil
}

// Contents returns the page's decoded content stream. Multiple content
// streams are concatenated with a separating newline, matching how
// they form one logical stream.
func (p *Page) Contents() ([]byte, error) {
	obj, err := p.doc.Resolve(p.Dict.Get("Contents"))
	if err != nil {
		return nil, err
	}

	switch c := obj.(type) {
	case Stream:
		return p.doc.DecodeStream(c)
	case Array:
		var buf bytes.Buffer
		for _, item := range c {
			resolved, err := p.doc.Resolve(item)
			if err != nil {
				return nil, err
			}
			stream, ok := resolved.(Stream)
			if !ok {
				continue
			}
			data, err := p.doc.DecodeStream(stream)
			if err != nil {
				return nil, err
			}
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.Write(data)
		}
		return buf.Bytes(), nil
	case nil, Null:
		return nil, nil
	default:
		return nil, syntaxErrorf(0, "Contents is neither stream nor array")
	}
}
