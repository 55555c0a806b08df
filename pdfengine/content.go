package pdfengine

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfnormalize/ir/raw"
	"github.com/wudi/pdfnormalize/scanner"
)

// op is one content-stream operator with its operands. Start and End delimit the
// operands and operator in the source so untouched operators can be copied verbatim.
type op struct {
	Name       string
	Args       []raw.Object
	InlineData []byte
	Start, End int
}

// parseContent splits a content stream into operators.
func parseContent(data []byte) ([]op, error) {
	s := scanner.New(data, scanner.Config{})
	var ops []op
	var args []raw.Object
	argStart := -1
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if tok.Kind == scanner.EOF {
			// Trailing operands without an operator are dropped.
			return ops, nil
		}
		if argStart < 0 {
			argStart = tok.Pos
		}
		if tok.Kind != scanner.Keyword {
			v, err := s.ReadObject(tok)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
			continue
		}
		o := op{Name: tok.Word, Args: args, Start: argStart}
		if tok.Word == "BI" {
			if err := inlineImage(s, &o); err != nil {
				return nil, err
			}
		}
		o.End = s.Pos()
		ops = append(ops, o)
		args = nil
		argStart = -1
	}
}

// inlineImage consumes "key value ... ID data EI" after BI. The image
// dictionary becomes the operator's single argument.
func inlineImage(s *scanner.Scanner, o *op) error {
	dict := raw.Dict()
	for {
		tok, err := s.Next()
		if err != nil {
			return err
		}
		if tok.Kind == scanner.EOF {
			return errors.New("inline image without ID")
		}
		if tok.Kind == scanner.Keyword && tok.Word == "ID" {
			break
		}
		key, ok := tok.Obj.(raw.NameObj)
		if tok.Kind != scanner.Object || !ok {
			return fmt.Errorf("inline image key at offset %d is not a name", tok.Pos)
		}
		vt, err := s.Next()
		if err != nil {
			return err
		}
		var v raw.Object
		if vt.Kind == scanner.Keyword {
			v = raw.NameLiteral(vt.Word)
		} else if v, err = s.ReadObject(vt); err != nil {
			return err
		}
		dict.Set(key, v)
	}
	data, err := s.InlineImageData()
	if err != nil {
		return err
	}
	o.Args = []raw.Object{dict}
	o.InlineData = data
	return nil
}
