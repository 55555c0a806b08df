// Package parser loads every indirect object of a PDF file into a raw.Document.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wudi/pdfnormalize/filters"
	"github.com/wudi/pdfnormalize/ir/raw"
	"github.com/wudi/pdfnormalize/observability"
	"github.com/wudi/pdfnormalize/scanner"
	"github.com/wudi/pdfnormalize/xref"
)

// ErrNotPDF is returned when the data has no %PDF- header.
var ErrNotPDF = errors.New("not a PDF file: missing %PDF- header")

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	// Filters decodes object and cross-reference streams; filters.Default when nil.
	Filters *filters.Pipeline
	Logger  observability.Logger
}

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.Filters == nil {
		cfg.Filters = filters.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &DocumentParser{cfg: cfg}
}

// Parse reads the whole file. Damaged cross-reference data falls back to a
// scan of the file; objects that still cannot be read are left out, so
// references to them resolve to null.
func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	data := readAll(r)
	version, err := headerVersion(data)
	if err != nil {
		return nil, err
	}

	table, err := xref.Resolve(ctx, data, p.cfg.Filters)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.cfg.Logger.Warn("cross-reference unreadable, scanning file", observability.Error("error", err))
		if table, err = xref.Repair(data); err != nil {
			return nil, fmt.Errorf("repair xref: %w", err)
		}
	}

	objects, failed, err := p.loadAll(ctx, data, table)
	if err != nil {
		return nil, err
	}
	if failed > 0 && !table.Repaired {
		p.cfg.Logger.Warn("objects unreadable at their offsets, scanning file", observability.Int("failed", failed))
		if repaired, rerr := xref.Repair(data); rerr == nil {
			// keep the original trailer, its Root and Info still apply
			repaired.Trailer = table.Trailer
			objects, failed, err = p.loadAll(ctx, data, repaired)
			if err != nil {
				return nil, err
			}
		}
	}
	if failed > 0 {
		p.cfg.Logger.Warn("objects dropped", observability.Int("count", failed))
	}

	trailer := table.Trailer
	if _, ok := trailer.KV["Root"]; !ok {
		if root, ok := findCatalog(objects); ok {
			trailer.Set(raw.NameLiteral("Root"), raw.RefObj{R: root})
		}
	}
	_, encrypted := trailer.KV["Encrypt"]
	return &raw.Document{
		Objects:   objects,
		Trailer:   trailer,
		Version:   version,
		Encrypted: encrypted,
	}, nil
}

func (p *DocumentParser) loadAll(ctx context.Context, data []byte, table *xref.Table) (map[raw.ObjectRef]raw.Object, int, error) {
	l := &loader{
		data:    data,
		table:   table,
		filters: p.cfg.Filters,
		cache:   make(map[int]raw.Object),
		loading: make(map[int]bool),
		objstm:  make(map[int]*objectStream),
	}
	objects := make(map[raw.ObjectRef]raw.Object)
	failed := 0
	for _, num := range table.Objects() {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		e, _ := table.Lookup(num)
		obj, err := l.load(ctx, num)
		if err != nil {
			p.cfg.Logger.Debug("object unreadable", observability.Int("object", num), observability.Error("error", err))
			failed++
			continue
		}
		gen := e.Gen
		if e.Kind == xref.Compressed {
			gen = 0
		}
		objects[raw.ObjectRef{Num: num, Gen: gen}] = obj
	}
	return objects, failed, nil
}

func findCatalog(objects map[raw.ObjectRef]raw.Object) (raw.ObjectRef, bool) {
	var best raw.ObjectRef
	found := false
	for ref, obj := range objects {
		d, ok := obj.(*raw.DictObj)
		if !ok {
			continue
		}
		if n, ok := d.KV["Type"].(raw.NameObj); ok && n.Val == "Catalog" {
			// the highest number is usually the latest revision
			if !found || ref.Num > best.Num {
				best, found = ref, true
			}
		}
	}
	return best, found
}

func headerVersion(data []byte) (string, error) {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	idx := bytes.Index(head, []byte("%PDF-"))
	if idx < 0 {
		return "", ErrNotPDF
	}
	line := head[idx+len("%PDF-"):]
	if end := bytes.IndexAny(line, "\r\n"); end >= 0 {
		line = line[:end]
	}
	return strings.TrimSpace(string(line)), nil
}

func readAll(r io.ReaderAt) []byte {
	if br, ok := r.(*bytes.Reader); ok {
		out := make([]byte, br.Size())
		n, _ := br.ReadAt(out, 0)
		return out[:n]
	}
	var buf bytes.Buffer
	const chunk = 32 * 1024
	tmp := make([]byte, chunk)
	for off := int64(0); ; off += chunk {
		n, err := r.ReadAt(tmp, off)
		buf.Write(tmp[:n])
		if err != nil || n < chunk {
			break
		}
	}
	return buf.Bytes()
}

// loader reads objects on demand so indirect stream lengths and object
// streams can be resolved in any order.
type loader struct {
	data    []byte
	table   *xref.Table
	filters *filters.Pipeline
	cache   map[int]raw.Object
	loading map[int]bool
	objstm  map[int]*objectStream
}

type objectStream struct {
	body    []byte
	offsets []int
	nums    []int
}

func (l *loader) load(ctx context.Context, num int) (raw.Object, error) {
	if obj, ok := l.cache[num]; ok {
		return obj, nil
	}
	if l.loading[num] {
		return nil, fmt.Errorf("object %d refers to itself while loading", num)
	}
	l.loading[num] = true
	defer delete(l.loading, num)

	e, ok := l.table.Lookup(num)
	if !ok {
		return nil, fmt.Errorf("object %d not in cross-reference table", num)
	}
	var obj raw.Object
	var err error
	if e.Kind == xref.Compressed {
		obj, err = l.loadCompressed(ctx, num, e)
	} else {
		obj, err = l.loadAt(ctx, num, e)
	}
	if err != nil {
		return nil, err
	}
	l.cache[num] = obj
	return obj, nil
}

func (l *loader) loadAt(ctx context.Context, num int, e xref.Entry) (raw.Object, error) {
	if e.Offset < 0 || e.Offset >= int64(len(l.data)) {
		return nil, fmt.Errorf("object %d offset %d out of range", num, e.Offset)
	}
	s := scanner.New(l.data, scanner.Config{Refs: true})
	_ = s.Seek(int(e.Offset))
	numTok, err1 := s.Next()
	genTok, err2 := s.Next()
	objTok, err3 := s.Next()
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, err
	}
	n, ok := numTok.Obj.(raw.NumberObj)
	if !ok || int(n.Int()) != num || objTok.Kind != scanner.Keyword || objTok.Word != "obj" {
		return nil, fmt.Errorf("object %d header not found at offset %d", num, e.Offset)
	}
	if _, ok := genTok.Obj.(raw.NumberObj); !ok {
		return nil, fmt.Errorf("object %d has no generation", num)
	}

	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	if tok.Kind == scanner.Keyword && tok.Word == "endobj" {
		return raw.NullObj{}, nil
	}
	obj, err := s.ReadObject(tok)
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", num, err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return obj, nil
	}
	save := s.Pos()
	next, err := s.Next()
	if err != nil || next.Kind != scanner.Keyword || next.Word != "stream" {
		_ = s.Seek(save)
		return dict, nil
	}
	body, err := s.StreamData(l.streamLength(ctx, dict))
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", num, err)
	}
	return raw.NewStream(dict, body), nil
}

// streamLength resolves a direct or indirect /Length; -1 means unknown.
func (l *loader) streamLength(ctx context.Context, dict *raw.DictObj) int {
	v := dict.KV["Length"]
	if ref, ok := v.(raw.RefObj); ok {
		obj, err := l.load(ctx, ref.R.Num)
		if err != nil {
			return -1
		}
		v = obj
	}
	if n, ok := v.(raw.NumberObj); ok && n.Int() >= 0 {
		return int(n.Int())
	}
	return -1
}

func (l *loader) loadCompressed(ctx context.Context, num int, e xref.Entry) (raw.Object, error) {
	ostm, err := l.objectStream(ctx, e.Stream)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", e.Stream, err)
	}
	idx := e.Index
	if idx >= len(ostm.nums) || ostm.nums[idx] != num {
		// Index is only a hint; some writers get it wrong.
		idx = -1
		for i, n := range ostm.nums {
			if n == num {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("object %d not in object stream %d", num, e.Stream)
		}
	}
	s := scanner.New(ostm.body, scanner.Config{Refs: true})
	if err := s.Seek(ostm.offsets[idx]); err != nil {
		return nil, err
	}
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	return s.ReadObject(tok)
}

func (l *loader) objectStream(ctx context.Context, num int) (*objectStream, error) {
	if ostm, ok := l.objstm[num]; ok {
		return ostm, nil
	}
	obj, err := l.load(ctx, num)
	if err != nil {
		return nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("not a stream")
	}
	data := st.Data
	names, params := filters.ExtractFilters(st.Dict)
	if len(names) > 0 {
		if data, err = l.filters.Decode(ctx, data, names, params); err != nil {
			return nil, err
		}
	}
	n, _ := st.Dict.KV["N"].(raw.NumberObj)
	first, _ := st.Dict.KV["First"].(raw.NumberObj)
	if first.Int() < 0 || int(first.Int()) > len(data) {
		return nil, fmt.Errorf("First %d exceeds data", first.Int())
	}
	ostm := &objectStream{body: data[first.Int():]}
	hs := scanner.New(data[:first.Int()], scanner.Config{})
	for i := 0; i < int(n.Int()); i++ {
		numTok, err1 := hs.Next()
		offTok, err2 := hs.Next()
		if err := errors.Join(err1, err2); err != nil {
			return nil, err
		}
		objNum, ok1 := numTok.Obj.(raw.NumberObj)
		off, ok2 := offTok.Obj.(raw.NumberObj)
		if !ok1 || !ok2 {
			break
		}
		if off.Int() < 0 || int(off.Int()) > len(ostm.body) {
			return nil, fmt.Errorf("offset %d exceeds data", off.Int())
		}
		ostm.nums = append(ostm.nums, int(objNum.Int()))
		ostm.offsets = append(ostm.offsets, int(off.Int()))
	}
	l.objstm[num] = ostm
	return ostm, nil
}
