// Package xref locates indirect objects: classic cross-reference tables,
// cross-reference streams, incremental updates and, failing those, a scan of
// the whole file.
package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/wudi/pdfnormalize/filters"
	"github.com/wudi/pdfnormalize/ir/raw"
	"github.com/wudi/pdfnormalize/scanner"
)

type Kind int

const (
	Free Kind = iota
	InUse
	Compressed // stored in an object stream
)

type Entry struct {
	Kind   Kind
	Offset int64 // InUse
	Gen    int
	Stream int // Compressed: number of the object stream
	Index  int // Compressed: position inside it
}

// Table is the merged view of every cross-reference section in a file.
type Table struct {
	Entries  map[int]Entry
	Trailer  *raw.DictObj
	Repaired bool
}

func (t *Table) Lookup(num int) (Entry, bool) {
	e, ok := t.Entries[num]
	if !ok || e.Kind == Free {
		return Entry{}, false
	}
	return e, true
}

// Objects lists the numbers of all in-use and compressed objects in order.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.Entries))
	for num, e := range t.Entries {
		if e.Kind != Free && num > 0 {
			out = append(out, num)
		}
	}
	sort.Ints(out)
	return out
}

var (
	ErrNoStartXRef = errors.New("startxref not found")
	ErrNoObjects   = errors.New("no objects found")
)

const maxSections = 256

// Resolve reads the section named by the last startxref and every earlier
// section it chains to through Prev and XRefStm. Entries from newer sections
// win.
func Resolve(ctx context.Context, data []byte, p *filters.Pipeline) (*Table, error) {
	offset, err := startXRef(data)
	if err != nil {
		return nil, err
	}
	t := &Table{Entries: make(map[int]Entry)}
	seen := make(map[int64]bool)
	queue := []int64{offset}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		off := queue[0]
		queue = queue[1:]
		if seen[off] {
			continue
		}
		if len(seen) >= maxSections {
			return nil, errors.New("too many cross-reference sections")
		}
		seen[off] = true
		trailer, err := readSection(ctx, data, off, t, p)
		if err != nil {
			return nil, fmt.Errorf("section at %d: %w", off, err)
		}
		if t.Trailer == nil {
			t.Trailer = trailer
		}
		// A hybrid file's XRefStm overrides the table it accompanies.
		if v, ok := trailer.KV["XRefStm"].(raw.NumberObj); ok {
			queue = append([]int64{v.Int()}, queue...)
		}
		if v, ok := trailer.KV["Prev"].(raw.NumberObj); ok {
			queue = append(queue, v.Int())
		}
	}
	if t.Trailer == nil {
		return nil, errors.New("no trailer")
	}
	return t, nil
}

func startXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, ErrNoStartXRef
	}
	s := scanner.New(data, scanner.Config{})
	_ = s.Seek(idx + len("startxref"))
	tok, err := s.Next()
	if err != nil {
		return 0, err
	}
	n, ok := tok.Obj.(raw.NumberObj)
	if !ok || !n.IsInt || n.I <= 0 || n.I >= int64(len(data)) {
		return 0, fmt.Errorf("startxref offset %v out of range", tok.Obj)
	}
	return n.I, nil
}

func readSection(ctx context.Context, data []byte, off int64, t *Table, p *filters.Pipeline) (*raw.DictObj, error) {
	s := scanner.New(data, scanner.Config{Refs: true})
	if err := s.Seek(int(off)); err != nil {
		return nil, err
	}
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	if tok.Kind == scanner.Keyword && tok.Word == "xref" {
		return readTable(s, t)
	}
	return readStream(ctx, s, tok, t, p)
}

// readTable parses "xref" subsections up to and including the trailer.
func readTable(s *scanner.Scanner, t *Table) (*raw.DictObj, error) {
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if tok.Kind == scanner.Keyword && tok.Word == "trailer" {
			break
		}
		start, ok := tok.Obj.(raw.NumberObj)
		if !ok {
			return nil, fmt.Errorf("bad subsection header at %d", tok.Pos)
		}
		countTok, err := s.Next()
		if err != nil {
			return nil, err
		}
		count, ok := countTok.Obj.(raw.NumberObj)
		if !ok {
			return nil, fmt.Errorf("bad subsection count at %d", countTok.Pos)
		}
		for i := 0; i < int(count.Int()); i++ {
			off, err1 := s.Next()
			gen, err2 := s.Next()
			kind, err3 := s.Next()
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, err
			}
			offN, ok1 := off.Obj.(raw.NumberObj)
			genN, ok2 := gen.Obj.(raw.NumberObj)
			if !ok1 || !ok2 || kind.Kind != scanner.Keyword {
				return nil, fmt.Errorf("bad entry at %d", off.Pos)
			}
			num := int(start.Int()) + i
			if _, done := t.Entries[num]; done {
				continue
			}
			e := Entry{Kind: Free, Gen: int(genN.Int())}
			if kind.Word == "n" {
				e.Kind, e.Offset = InUse, offN.Int()
			}
			t.Entries[num] = e
		}
	}
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	obj, err := s.ReadObject(tok)
	if err != nil {
		return nil, err
	}
	trailer, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, errors.New("trailer is not a dictionary")
	}
	return trailer, nil
}

// readStream parses a cross-reference stream object, whose dictionary doubles
// as the trailer.
func readStream(ctx context.Context, s *scanner.Scanner, first scanner.Token, t *Table, p *filters.Pipeline) (*raw.DictObj, error) {
	if _, ok := first.Obj.(raw.NumberObj); !ok {
		return nil, fmt.Errorf("expected xref or object at %d", first.Pos)
	}
	if _, err := s.Next(); err != nil { // generation
		return nil, err
	}
	if tok, err := s.Next(); err != nil || tok.Word != "obj" {
		return nil, errors.New("expected obj keyword")
	}
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	obj, err := s.ReadObject(tok)
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, errors.New("cross-reference stream without dictionary")
	}
	if tok, err := s.Next(); err != nil || tok.Word != "stream" {
		return nil, errors.New("cross-reference stream without data")
	}
	length := -1
	if n, ok := dict.KV["Length"].(raw.NumberObj); ok {
		length = int(n.Int())
	}
	body, err := s.StreamData(length)
	if err != nil {
		return nil, err
	}
	names, params := filters.ExtractFilters(dict)
	if len(names) > 0 {
		if body, err = p.Decode(ctx, body, names, params); err != nil {
			return nil, err
		}
	}

	widths := ints(dict.KV["W"])
	if len(widths) != 3 {
		return nil, errors.New("cross-reference stream needs three W entries")
	}
	rowLen := widths[0] + widths[1] + widths[2]
	if rowLen == 0 {
		return nil, errors.New("cross-reference stream has empty rows")
	}
	index := ints(dict.KV["Index"])
	if len(index) == 0 {
		size, _ := dict.KV["Size"].(raw.NumberObj)
		index = []int{0, int(size.Int())}
	}
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		for num := index[i]; num < index[i]+index[i+1]; num++ {
			if pos+rowLen > len(body) {
				return dict, nil
			}
			row := body[pos : pos+rowLen]
			pos += rowLen
			if _, done := t.Entries[num]; done {
				continue
			}
			kind := int64(1) // a zero-width type field means in use
			if widths[0] > 0 {
				kind = field(row[:widths[0]])
			}
			f2 := field(row[widths[0] : widths[0]+widths[1]])
			f3 := field(row[widths[0]+widths[1]:])
			switch kind {
			case 0:
				t.Entries[num] = Entry{Kind: Free, Gen: int(f3)}
			case 1:
				t.Entries[num] = Entry{Kind: InUse, Offset: f2, Gen: int(f3)}
			case 2:
				t.Entries[num] = Entry{Kind: Compressed, Stream: int(f2), Index: int(f3)}
			}
		}
	}
	return dict, nil
}

func field(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func ints(obj raw.Object) []int {
	arr, ok := obj.(*raw.ArrayObj)
	if !ok {
		return nil
	}
	out := make([]int, 0, arr.Len())
	for _, it := range arr.Items {
		n, ok := it.(raw.NumberObj)
		if !ok {
			return nil
		}
		out = append(out, int(n.Int()))
	}
	return out
}

var objHeader = regexp.MustCompile(`(\d+)[\x00\t\n\f\r ]+(\d+)[\x00\t\n\f\r ]+obj\b`)

// Repair rebuilds the table by scanning for "num gen obj" headers. Later
// definitions win, as in an incremental update. The trailer is the last one in
// the file, if any.
func Repair(data []byte) (*Table, error) {
	t := &Table{Entries: make(map[int]Entry), Repaired: true}
	for _, m := range objHeader.FindAllSubmatchIndex(data, -1) {
		if m[0] > 0 && data[m[0]-1] >= '0' && data[m[0]-1] <= '9' {
			continue
		}
		num, err1 := strconv.Atoi(string(data[m[2]:m[3]]))
		gen, err2 := strconv.Atoi(string(data[m[4]:m[5]]))
		if err1 != nil || err2 != nil {
			continue
		}
		t.Entries[num] = Entry{Kind: InUse, Offset: int64(m[0]), Gen: gen}
	}
	if len(t.Entries) == 0 {
		return nil, ErrNoObjects
	}
	if idx := bytes.LastIndex(data, []byte("trailer")); idx >= 0 {
		s := scanner.New(data, scanner.Config{Refs: true})
		_ = s.Seek(idx + len("trailer"))
		if tok, err := s.Next(); err == nil {
			if obj, err := s.ReadObject(tok); err == nil {
				t.Trailer, _ = obj.(*raw.DictObj)
			}
		}
	}
	if t.Trailer == nil {
		t.Trailer = raw.Dict()
	}
	return t, nil
}
