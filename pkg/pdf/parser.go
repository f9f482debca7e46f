package pdf

import (
	"bytes"
	"io"
)

// maxParseDepth bounds recursion while parsing nested containers.
// Input is untrusted; running out of the budget is a SyntaxError, never
// a stack overflow.
const maxParseDepth = 100

// LengthResolver resolves an indirect /Length value for a stream body.
// The Document installs one; a nil resolver falls back to scanning for
// the endstream keyword.
type LengthResolver func(ref Reference) (int64, bool)

// Parser parses PDF objects from tokens
type Parser struct {
	lexer         *Lexer
	tokens        []Token
	pos           int
	resolveLength LengthResolver
}

// NewParser creates a new parser for the given lexer
func NewParser(lexer *Lexer) *Parser {
	return &Parser{lexer: lexer}
}

// NewParserFromBytes creates a new parser from byte slice
func NewParserFromBytes(data []byte) *Parser {
	return NewParser(NewLexerFromBytes(data))
}

// SetLengthResolver installs the resolver used for indirect /Length
// entries on stream dictionaries.
func (p *Parser) SetLengthResolver(r LengthResolver) {
	p.resolveLength = r
}

// nextToken gets the next token, buffering for lookahead
func (p *Parser) nextToken() (Token, error) {
	if p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		p.pos++
		return tok, nil
	}

	tok, err := p.lexer.NextToken()
	if err != nil {
		return Token{}, err
	}

	p.tokens = append(p.tokens, tok)
	p.pos++
	return tok, nil
}

// peekToken peeks at the next token without consuming it
func (p *Parser) peekToken() (Token, error) {
	tok, err := p.nextToken()
	if err != nil {
		return Token{}, err
	}
	p.pos--
	return tok, nil
}

// peekTokenN peeks at the nth token ahead (0-indexed)
func (p *Parser) peekTokenN(n int) (Token, error) {
	for i := len(p.tokens); i <= p.pos+n; i++ {
		tok, err := p.lexer.NextToken()
		if err != nil {
			return Token{}, err
		}
		p.tokens = append(p.tokens, tok)
	}
	return p.tokens[p.pos+n], nil
}

// ParseObject parses a single PDF object
func (p *Parser) ParseObject() (Object, error) {
	return p.parseObject(0)
}

func (p *Parser) parseObject(depth int) (Object, error) {
	if depth > maxParseDepth {
		return nil, syntaxErrorf(p.lexer.Position(), "nesting exceeds depth limit %d", maxParseDepth)
	}

	tok, err := p.nextToken()
	if err != nil {
		return nil, err
	}

	switch tok.Type {
	case TokenEOF:
		return nil, io.EOF

	case TokenNull:
		return Null{}, nil

	case TokenBoolean:
		return Boolean(tok.Value.(bool)), nil

	case TokenInteger:
		// Check if this is a reference (num gen R)
		next1, err := p.peekToken()
		if err == nil && next1.Type == TokenInteger {
			next2, err := p.peekTokenN(1)
			if err == nil && next2.Type == TokenRef {
				p.nextToken() // consume generation number
				p.nextToken() // consume R
				num := tok.Value.(int64)
				gen := next1.Value.(int64)
				if num < 0 || gen < 0 {
					return nil, syntaxErrorf(tok.Pos, "negative object id in reference")
				}
				return NewReference(uint32(num), uint16(gen)), nil
			}
		}
		return Integer(tok.Value.(int64)), nil

	case TokenReal:
		return Real(tok.Value.(float64)), nil

	case TokenString:
		return String{Value: tok.Value.([]byte)}, nil

	case TokenHexString:
		return String{Value: tok.Value.([]byte), IsHex: true}, nil

	case TokenName:
		return Name(tok.Value.(string)), nil

	case TokenArrayStart:
		return p.parseArray(depth + 1)

	case TokenDictStart:
		return p.parseDictionary(depth + 1)

	default:
		return nil, syntaxErrorf(tok.Pos, "unexpected token type %d", tok.Type)
	}
}

// parseArray parses a PDF array [...]
func (p *Parser) parseArray(depth int) (Array, error) {
	arr := Array{}

	for {
		tok, err := p.peekToken()
		if err != nil {
			return nil, err
		}

		if tok.Type == TokenArrayEnd {
			p.nextToken()
			return arr, nil
		}

		obj, err := p.parseObject(depth)
		if err != nil {
			return nil, err
		}

		arr = append(arr, obj)
	}
}

// parseDictionary parses a PDF dictionary <<...>>. A repeated key
// overwrites the earlier value: last write wins.
func (p *Parser) parseDictionary(depth int) (*Dictionary, error) {
	dict := NewDictionary()

	for {
		tok, err := p.peekToken()
		if err != nil {
			return nil, err
		}

		if tok.Type == TokenDictEnd {
			p.nextToken()
			return dict, nil
		}

		keyTok, err := p.nextToken()
		if err != nil {
			return nil, err
		}
		if keyTok.Type != TokenName {
			return nil, syntaxErrorf(keyTok.Pos, "expected name as dictionary key")
		}

		value, err := p.parseObject(depth)
		if err != nil {
			return nil, err
		}

		dict.Set(Name(keyTok.Value.(string)), value)
	}
}

// ParseIndirectObject parses an indirect object definition
// (num gen obj ... endobj), returning its id and body.
func (p *Parser) ParseIndirectObject() (ObjectID, Object, error) {
	var id ObjectID

	numTok, err := p.nextToken()
	if err != nil {
		return id, nil, err
	}
	if numTok.Type != TokenInteger {
		return id, nil, syntaxErrorf(numTok.Pos, "expected object number")
	}
	num := numTok.Value.(int64)

	genTok, err := p.nextToken()
	if err != nil {
		return id, nil, err
	}
	if genTok.Type != TokenInteger {
		return id, nil, syntaxErrorf(genTok.Pos, "expected generation number")
	}
	gen := genTok.Value.(int64)

	if num < 0 || gen < 0 || gen > 65535 {
		return id, nil, syntaxErrorf(numTok.Pos, "object id %d %d out of range", num, gen)
	}
	id = ObjectID{Number: uint32(num), Generation: uint16(gen)}

	objTok, err := p.nextToken()
	if err != nil {
		return id, nil, err
	}
	if objTok.Type != TokenObjStart {
		return id, nil, syntaxErrorf(objTok.Pos, "expected 'obj' keyword")
	}

	obj, err := p.parseObject(0)
	if err != nil {
		return id, nil, err
	}

	// A dictionary followed by the stream keyword is a stream object
	nextTok, err := p.peekToken()
	if err == nil && nextTok.Type == TokenStreamStart {
		p.nextToken()

		dict, ok := obj.(*Dictionary)
		if !ok {
			return id, nil, syntaxErrorf(nextTok.Pos, "stream without dictionary")
		}

		raw, consumedEnd, err := p.readStreamData(dict)
		if err != nil {
			return id, nil, err
		}
		obj = Stream{Dict: dict, Raw: raw}

		if !consumedEnd {
			endTok, err := p.nextToken()
			if err != nil {
				return id, nil, err
			}
			if endTok.Type != TokenStreamEnd {
				return id, nil, syntaxErrorf(endTok.Pos, "expected 'endstream'")
			}
		}
	}

	endTok, err := p.nextToken()
	if err != nil {
		return id, nil, err
	}
	if endTok.Type != TokenObjEnd {
		return id, nil, syntaxErrorf(endTok.Pos, "expected 'endobj'")
	}

	return id, obj, nil
}

// readStreamData reads the raw stream body, bounded by the dictionary's
// Length entry. The second return value reports whether the endstream
// keyword was consumed by the fallback scan.
func (p *Parser) readStreamData(dict *Dictionary) ([]byte, bool, error) {
	// The EOL after the stream keyword is not part of the body. A line
	// with content means Length bounds were already violated; keep the
	// bytes rather than discard them.
	line, err := p.lexer.ReadLine()
	if err != nil && err != io.EOF {
		return nil, false, err
	}
	var prefix []byte
	if len(line) > 0 {
		prefix = line
	}

	var length int64 = -1
	switch l := dict.Get("Length").(type) {
	case Integer:
		length = int64(l)
	case Reference:
		if p.resolveLength != nil {
			if n, ok := p.resolveLength(l); ok {
				length = n
			}
		}
	case nil:
		return nil, false, &MissingKeyError{Key: "Length"}
	}

	if length < 0 {
		data, err := p.readStreamUntilEnd(prefix)
		return data, true, err
	}

	data, err := p.lexer.ReadBytes(int(length))
	if err != nil && err != io.EOF {
		return nil, false, err
	}

	if len(prefix) > 0 {
		data = append(prefix, data...)
	}
	return data, false, nil
}

// readStreamUntilEnd scans forward to the endstream keyword when the
// body length could not be resolved.
func (p *Parser) readStreamUntilEnd(prefix []byte) ([]byte, error) {
	var buf bytes.Buffer
	if len(prefix) > 0 {
		buf.Write(prefix)
		buf.WriteByte('\n')
	}

	endMarker := []byte("endstream")

	for {
		line, err := p.lexer.ReadLine()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}

		if idx := bytes.Index(line, endMarker); idx >= 0 {
			if idx > 0 {
				buf.Write(line[:idx])
			}
			break
		}

		buf.Write(line)
		buf.WriteByte('\n')
	}

	data := buf.Bytes()
	for len(data) > 0 && (data[len(data)-1] == '\n' || data[len(data)-1] == '\r') {
		data = data[:len(data)-1]
	}
	return data, nil
}
