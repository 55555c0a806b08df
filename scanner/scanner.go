// Package scanner tokenizes PDF syntax held in memory: file bodies, object
// streams, content streams and CMap programs.
package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/wudi/pdfnormalize/ir/raw"
)

type Kind int

const (
	EOF        Kind = iota
	Object          // a complete scalar in Token.Obj
	ArrayOpen       // '['
	ArrayClose      // ']'
	DictOpen        // '<<'
	DictClose       // '>>'
	Keyword         // obj, stream, operators and the like, in Token.Word
)

type Token struct {
	Kind Kind
	Obj  raw.Object
	Word string
	Pos  int
}

type Config struct {
	// Refs reads "n g R" as an indirect reference. Content streams leave it
	// off, where R only starts operators such as RG.
	Refs bool
}

// ErrUnbalanced reports an array or dictionary that is not closed.
var ErrUnbalanced = errors.New("unbalanced array or dictionary")

type Scanner struct {
	data []byte
	pos  int
	cfg  Config
}

func New(data []byte, cfg Config) *Scanner { return &Scanner{data: data, cfg: cfg} }

// Pos is the offset of the next unread byte.
func (s *Scanner) Pos() int { return s.pos }

func (s *Scanner) Seek(offset int) error {
	if offset < 0 || offset > len(s.data) {
		return fmt.Errorf("seek to %d out of range", offset)
	}
	s.pos = offset
	return nil
}

func IsSpace(c byte) bool {
	return c == 0 || c == '\t' || c == '\n' || c == '\f' || c == '\r' || c == ' '
}

func IsDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (s *Scanner) skipSpace() {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if IsSpace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
			continue
		}
		return
	}
}

func (s *Scanner) peek(n int) byte {
	if s.pos+n < len(s.data) {
		return s.data[s.pos+n]
	}
	return 0
}

func (s *Scanner) Next() (Token, error) {
	s.skipSpace()
	start := s.pos
	if s.pos >= len(s.data) {
		return Token{Kind: EOF, Pos: start}, nil
	}
	c := s.data[s.pos]
	switch {
	case c == '[':
		s.pos++
		return Token{Kind: ArrayOpen, Pos: start}, nil
	case c == ']':
		s.pos++
		return Token{Kind: ArrayClose, Pos: start}, nil
	case c == '<' && s.peek(1) == '<':
		s.pos += 2
		return Token{Kind: DictOpen, Pos: start}, nil
	case c == '>' && s.peek(1) == '>':
		s.pos += 2
		return Token{Kind: DictClose, Pos: start}, nil
	case c == '<':
		b, err := s.hexString()
		return Token{Kind: Object, Obj: raw.HexStr(b), Pos: start}, err
	case c == '(':
		b, err := s.literalString()
		return Token{Kind: Object, Obj: raw.Str(b), Pos: start}, err
	case c == '/':
		return Token{Kind: Object, Obj: raw.NameLiteral(s.name()), Pos: start}, nil
	case c == '{' || c == '}':
		s.pos++
		return Token{Kind: Keyword, Word: string(c), Pos: start}, nil
	case c == ')' || c == '>':
		s.pos++
		return Token{}, fmt.Errorf("unexpected %q at offset %d", c, start)
	}
	word := s.regular()
	if n, ok := ParseNumber(word); ok {
		if s.cfg.Refs && n.IsInt && n.I >= 0 {
			if ref, ok := s.reference(int(n.I)); ok {
				return Token{Kind: Object, Obj: ref, Pos: start}, nil
			}
		}
		return Token{Kind: Object, Obj: n, Pos: start}, nil
	}
	switch word {
	case "true":
		return Token{Kind: Object, Obj: raw.Bool(true), Pos: start}, nil
	case "false":
		return Token{Kind: Object, Obj: raw.Bool(false), Pos: start}, nil
	case "null":
		return Token{Kind: Object, Obj: raw.NullObj{}, Pos: start}, nil
	}
	return Token{Kind: Keyword, Word: word, Pos: start}, nil
}

// reference completes "num gen R" after num, or rewinds.
func (s *Scanner) reference(num int) (raw.RefObj, bool) {
	save := s.pos
	s.skipSpace()
	gen, err := strconv.Atoi(s.regular())
	if err == nil && gen >= 0 {
		s.skipSpace()
		if s.pos < len(s.data) && s.data[s.pos] == 'R' {
			next := s.peek(1)
			if s.pos+1 >= len(s.data) || IsSpace(next) || IsDelim(next) {
				s.pos++
				return raw.Ref(num, gen), true
			}
		}
	}
	s.pos = save
	return raw.RefObj{}, false
}

func (s *Scanner) regular() string {
	start := s.pos
	for s.pos < len(s.data) && !IsSpace(s.data[s.pos]) && !IsDelim(s.data[s.pos]) {
		s.pos++
	}
	return string(s.data[start:s.pos])
}

func (s *Scanner) name() string {
	s.pos++ // '/'
	var out []byte
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if IsSpace(c) || IsDelim(c) {
			break
		}
		if c == '#' && s.pos+2 < len(s.data) {
			if v, err := strconv.ParseUint(string(s.data[s.pos+1:s.pos+3]), 16, 8); err == nil {
				out = append(out, byte(v))
				s.pos += 3
				continue
			}
		}
		out = append(out, c)
		s.pos++
	}
	return string(out)
}

// ParseNumber reads an integer or real, tolerating doubled signs.
func ParseNumber(word string) (raw.NumberObj, bool) {
	if word == "" {
		return raw.NumberObj{}, false
	}
	for i := 0; i < len(word); i++ {
		c := word[i]
		if !(c >= '0' && c <= '9') && c != '.' && c != '-' && c != '+' {
			return raw.NumberObj{}, false
		}
	}
	if i, err := strconv.ParseInt(word, 10, 64); err == nil {
		return raw.NumberInt(i), true
	}
	// Producers write quirks such as "--5" or "4.-2".
	f, err := strconv.ParseFloat(word, 64)
	if err != nil {
		cleaned := bytes.TrimLeft([]byte(word), "+-")
		f, err = strconv.ParseFloat(string(cleaned), 64)
		if err != nil {
			return raw.NumberObj{}, false
		}
		if word[0] == '-' {
			f = -f
		}
	}
	return raw.NumberFloat(f), true
}

func (s *Scanner) literalString() ([]byte, error) {
	start := s.pos
	s.pos++ // '('
	depth := 1
	var out []byte
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out, nil
			}
			out = append(out, c)
		case '\\':
			if s.pos >= len(s.data) {
				return out, nil
			}
			e := s.data[s.pos]
			s.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if s.pos < len(s.data) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case '\n':
			case '0', '1', '2', '3', '4', '5', '6', '7':
				v := int(e - '0')
				for k := 0; k < 2 && s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '7'; k++ {
					v = v*8 + int(s.data[s.pos]-'0')
					s.pos++
				}
				out = append(out, byte(v))
			default:
				out = append(out, e)
			}
		default:
			out = append(out, c)
		}
	}
	return nil, fmt.Errorf("unterminated string at offset %d", start)
}

func (s *Scanner) hexString() ([]byte, error) {
	start := s.pos
	s.pos++ // '<'
	var digits []byte
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			if len(digits)%2 == 1 {
				digits = append(digits, '0')
			}
			out := make([]byte, len(digits)/2)
			for i := range out {
				out[i] = unhex(digits[2*i])<<4 | unhex(digits[2*i+1])
			}
			return out, nil
		}
		if IsSpace(c) {
			continue
		}
		if unhex(c) == 0xff {
			return nil, fmt.Errorf("invalid hex digit %q at offset %d", c, s.pos-1)
		}
		digits = append(digits, c)
	}
	return nil, fmt.Errorf("unterminated hex string at offset %d", start)
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0xff
}

// ReadObject reads one complete value, composites included, starting at tok.
func (s *Scanner) ReadObject(tok Token) (raw.Object, error) {
	switch tok.Kind {
	case Object:
		return tok.Obj, nil
	case ArrayOpen:
		arr := raw.NewArray()
		for {
			t, err := s.Next()
			if err != nil {
				return nil, err
			}
			switch t.Kind {
			case ArrayClose:
				return arr, nil
			case EOF, DictClose:
				return nil, ErrUnbalanced
			case Keyword:
				// Viewers drop stray keywords inside arrays.
				continue
			}
			v, err := s.ReadObject(t)
			if err != nil {
				return nil, err
			}
			arr.Append(v)
		}
	case DictOpen:
		d := raw.Dict()
		for {
			t, err := s.Next()
			if err != nil {
				return nil, err
			}
			if t.Kind == DictClose {
				return d, nil
			}
			if t.Kind == EOF || t.Kind == ArrayClose {
				return nil, ErrUnbalanced
			}
			key, ok := t.Obj.(raw.NameObj)
			if t.Kind != Object || !ok {
				return nil, fmt.Errorf("dictionary key at offset %d is not a name", t.Pos)
			}
			vt, err := s.Next()
			if err != nil {
				return nil, err
			}
			v, err := s.ReadObject(vt)
			if err != nil {
				return nil, err
			}
			d.Set(key, v)
		}
	}
	return nil, fmt.Errorf("unexpected token at offset %d", tok.Pos)
}

var endstream = []byte("endstream")

// StreamData reads the body that follows a "stream" keyword. A declared length
// is trusted when "endstream" follows it; otherwise the body runs to the next
// "endstream".
func (s *Scanner) StreamData(length int) ([]byte, error) {
	if s.pos < len(s.data) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < len(s.data) && s.data[s.pos] == '\n' {
		s.pos++
	}
	start := s.pos
	if length >= 0 && start+length <= len(s.data) {
		end := start + length
		rest := end
		for rest < len(s.data) && IsSpace(s.data[rest]) {
			rest++
		}
		if bytes.HasPrefix(s.data[rest:], endstream) {
			s.pos = rest + len(endstream)
			return s.data[start:end], nil
		}
	}
	idx := bytes.Index(s.data[start:], endstream)
	if idx < 0 {
		return nil, fmt.Errorf("stream at offset %d has no endstream", start)
	}
	end := start + idx
	if end > start && s.data[end-1] == '\n' {
		end--
	}
	if end > start && s.data[end-1] == '\r' {
		end--
	}
	s.pos = start + idx + len(endstream)
	return s.data[start:end], nil
}

// InlineImageData reads the bytes after an inline image's ID keyword up to the
// EI that ends them, and moves past EI.
func (s *Scanner) InlineImageData() ([]byte, error) {
	if s.pos < len(s.data) && IsSpace(s.data[s.pos]) {
		s.pos++
	}
	start := s.pos
	for i := start; i+1 < len(s.data); i++ {
		if s.data[i] != 'E' || s.data[i+1] != 'I' {
			continue
		}
		if i > start && !IsSpace(s.data[i-1]) {
			continue
		}
		if i+2 < len(s.data) && !IsSpace(s.data[i+2]) && !IsDelim(s.data[i+2]) {
			continue
		}
		end := i
		if end > start && IsSpace(s.data[end-1]) {
			end--
		}
		s.pos = i + 2
		return s.data[start:end], nil
	}
	return nil, errors.New("inline image without EI")
}
