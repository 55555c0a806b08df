// Package enginetest provides a scripted in-memory engine.Engine that records
// every call, for testing code built on the engine interfaces.
package enginetest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/wudi/pdfnormalize/engine"
	"github.com/wudi/pdfnormalize/textblock"
)

// Operation names recorded in Call.Op.
const (
	OpOpen   = "open"
	OpBlocks = "blocks"
	OpRedact = "redact"
	OpApply  = "apply"
	OpInsert = "insert"
	OpSave   = "save"
	OpClose  = "close"
)

// Call is one recorded engine call. Page is -1 for document-level calls.
type Call struct {
	Op   string
	Page int
	Rect textblock.Rect
	HTML string
	Save engine.SaveOptions
}

// Engine serves the same scripted pages to every Open.
type Engine struct {
	// Pages holds the entries returned by Blocks, per page.
	Pages [][]engine.Entry
	// Fail, when set, is consulted before each call; a non-nil result is returned
	// as that call's error.
	Fail func(Call) error
	// Output is written by Save. When nil a short summary is written instead.
	Output []byte

	mu    sync.Mutex
	calls []Call
	open  int
}

// New returns an engine serving the given pages.
func New(pages ...[]engine.Entry) *Engine {
	return &Engine{Pages: pages}
}

// Calls returns a copy of the recorded calls.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// CallsOf returns the recorded calls with the given operation.
func (e *Engine) CallsOf(op string) []Call {
	var out []Call
	for _, c := range e.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// OpenHandles reports how many opened documents have not been closed.
func (e *Engine) OpenHandles() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

func (e *Engine) record(c Call) error {
	e.mu.Lock()
	e.calls = append(e.calls, c)
	fail := e.Fail
	e.mu.Unlock()
	if fail != nil {
		return fail(c)
	}
	return nil
}

func (e *Engine) Open(ctx context.Context, data []byte) (engine.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.record(Call{Op: OpOpen, Page: -1}); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.open++
	e.mu.Unlock()
	return &Document{eng: e, input: len(data)}, nil
}

// Document is a handle returned by Engine.Open.
type Document struct {
	eng     *Engine
	input   int
	closed  bool
	inserts int
	erased  int
}

func (d *Document) NumPages() int { return len(d.eng.Pages) }

func (d *Document) Page(index int) (engine.Page, error) {
	if d.closed {
		return nil, engine.ErrClosed
	}
	if index < 0 || index >= len(d.eng.Pages) {
		return nil, fmt.Errorf("page %d: %w", index, engine.ErrPageRange)
	}
	return &Page{doc: d, index: index}, nil
}

func (d *Document) Save(ctx context.Context, w io.Writer, opts engine.SaveOptions) error {
	if d.closed {
		return engine.ErrClosed
	}
	if err := d.eng.record(Call{Op: OpSave, Page: -1, Save: opts}); err != nil {
		return err
	}
	out := d.eng.Output
	if out == nil {
		out = []byte(fmt.Sprintf("%%PDF-fake input=%d erased=%d inserts=%d\n", d.input, d.erased, d.inserts))
	}
	_, err := w.Write(out)
	return err
}

func (d *Document) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.eng.mu.Lock()
	d.eng.open--
	d.eng.mu.Unlock()
	return d.eng.record(Call{Op: OpClose, Page: -1})
}

// Page is one scripted page.
type Page struct {
	doc     *Document
	index   int
	pending []textblock.Rect
}

func (p *Page) Index() int { return p.index }

func (p *Page) Blocks(ctx context.Context) ([]engine.Entry, error) {
	if p.doc.closed {
		return nil, engine.ErrClosed
	}
	if err := p.doc.eng.record(Call{Op: OpBlocks, Page: p.index}); err != nil {
		return nil, err
	}
	return p.doc.eng.Pages[p.index], nil
}

func (p *Page) AddRedaction(r textblock.Rect) error {
	if p.doc.closed {
		return engine.ErrClosed
	}
	if err := p.doc.eng.record(Call{Op: OpRedact, Page: p.index, Rect: r}); err != nil {
		return err
	}
	p.pending = append(p.pending, r)
	return nil
}

func (p *Page) ApplyRedactions(ctx context.Context) (int, error) {
	if p.doc.closed {
		return 0, engine.ErrClosed
	}
	if err := p.doc.eng.record(Call{Op: OpApply, Page: p.index}); err != nil {
		return 0, err
	}
	n := len(p.pending)
	p.pending = nil
	p.doc.erased += n
	return n, nil
}

func (p *Page) InsertHTMLBox(ctx context.Context, r textblock.Rect, html string) (engine.HTMLBoxResult, error) {
	if p.doc.closed {
		return engine.HTMLBoxResult{}, engine.ErrClosed
	}
	if err := p.doc.eng.record(Call{Op: OpInsert, Page: p.index, Rect: r, HTML: html}); err != nil {
		return engine.HTMLBoxResult{}, err
	}
	p.doc.inserts++
	return engine.HTMLBoxResult{SpareHeight: r.Height(), Scale: 1}, nil
}

// TextBlock builds a text entry whose lines each hold the given span texts.
func TextBlock(bbox textblock.Rect, lines ...[]string) *engine.TextEntry {
	e := &engine.TextEntry{BBox: bbox}
	for _, spans := range lines {
		var l engine.Line
		for _, s := range spans {
			l.Spans = append(l.Spans, engine.Span{Text: s, Font: "Helvetica", Size: 12})
		}
		e.Lines = append(e.Lines, l)
	}
	return e
}

// Image builds an image entry.
func Image(bbox textblock.Rect) *engine.ImageEntry {
	return &engine.ImageEntry{BBox: bbox, Width: 1, Height: 1}
}
