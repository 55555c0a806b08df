package pdfengine

import (
	"context"
	"fmt"

	"github.com/wudi/pdfnormalize/coords"
	"github.com/wudi/pdfnormalize/engine"
	"github.com/wudi/pdfnormalize/ir/raw"
	"github.com/wudi/pdfnormalize/textblock"
)

// Page is one page of a Document. Coordinates exchanged with callers are in page
// space: origin at the top-left corner of the crop box, y growing downward.
type Page struct {
	doc   *Document
	index int
	ref   raw.ObjectRef
	dict  *raw.DictObj
	inh   inherited

	// visible area in default user space
	box textblock.Rect

	pending   []pendingRedaction
	wrapped   bool
	ownsRes   bool
	fontNames map[faceKey]string
}

type pendingRedaction struct {
	area  textblock.Rect // user space
	annot raw.RefObj
}

func (d *Document) newPage(index int, ref raw.ObjectRef, dict *raw.DictObj, inh inherited) *Page {
	p := &Page{doc: d, index: index, ref: ref, dict: dict, inh: inh}
	media := d.boxOf(inh.mediaBox, textblock.Rect{X1: 612, Y1: 792})
	p.box = d.boxOf(inh.cropBox, media)
	return p
}

func (d *Document) boxOf(obj raw.Object, def textblock.Rect) textblock.Rect {
	v, ok := d.numbers(obj)
	if !ok || len(v) != 4 {
		return def
	}
	r := textblock.NewRect(v[0], v[1], v[2], v[3])
	if r.IsEmpty() {
		return def
	}
	return r
}

func (p *Page) Index() int { return p.index }

// toPage maps a point in default user space to page space.
func (p *Page) toPage(x, y float64) (float64, float64) {
	return x - p.box.X0, p.box.Y1 - y
}

// userRect maps a page-space rectangle to default user space.
func (p *Page) userRect(r textblock.Rect) textblock.Rect {
	r = r.Normalize()
	return textblock.NewRect(r.X0+p.box.X0, p.box.Y1-r.Y1, r.X1+p.box.X0, p.box.Y1-r.Y0)
}

// pageRect maps a user-space rectangle to page space.
func (p *Page) pageRect(r textblock.Rect) textblock.Rect {
	x0, y0 := p.toPage(r.X0, r.Y0)
	x1, y1 := p.toPage(r.X1, r.Y1)
	return textblock.NewRect(x0, y0, x1, y1)
}

func (p *Page) resources() *raw.DictObj {
	return p.doc.dict(p.inh.resources)
}

func (p *Page) content(ctx context.Context) ([]byte, error) {
	return p.doc.contentOf(ctx, p.dict.KV["Contents"])
}

func (p *Page) check() error {
	if p.doc.closed {
		return engine.ErrClosed
	}
	return nil
}

// Blocks interprets the page content and groups its glyphs into blocks.
func (p *Page) Blocks(ctx context.Context) ([]engine.Entry, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	tr, err := p.traceContent(ctx)
	if err != nil {
		return nil, err
	}
	return p.buildEntries(tr), nil
}

func (p *Page) traceContent(ctx context.Context) (*contentTrace, error) {
	data, err := p.content(ctx)
	if err != nil {
		return nil, fmt.Errorf("page %d contents: %w", p.index, err)
	}
	ops, err := parseContent(data)
	if err != nil {
		return nil, fmt.Errorf("page %d contents: %w", p.index, err)
	}
	tr, err := p.doc.trace(ctx, ops, p.resources(), coords.Identity(), 0)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", p.index, err)
	}
	tr.data = data
	return tr, nil
}

// ownResources gives the page a private, direct resource dictionary so
// additions do not leak to pages sharing the inherited one.
func (p *Page) ownResources() *raw.DictObj {
	if p.ownsRes {
		return p.dict.KV["Resources"].(*raw.DictObj)
	}
	res := shallowCopy(p.resources())
	p.dict.Set(raw.NameLiteral("Resources"), res)
	p.inh.resources = res
	p.ownsRes = true
	return res
}

// ownSubDict makes res[key] a private direct dictionary and returns it.
func (p *Page) ownSubDict(res *raw.DictObj, key string) *raw.DictObj {
	sub := shallowCopy(p.doc.getDict(res, key))
	res.Set(raw.NameLiteral(key), sub)
	return sub
}
