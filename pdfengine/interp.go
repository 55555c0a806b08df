package pdfengine

import (
	"context"
	"math"

	"github.com/wudi/pdfnormalize/coords"
	"github.com/wudi/pdfnormalize/ir/raw"
	"github.com/wudi/pdfnormalize/textblock"
)

const maxFormDepth = 12

// glyph is one shown character code, positioned in default user space.
type glyph struct {
	text    string
	box     textblock.Rect
	originX float64
	originY float64
	// pen position after the glyph, before spacing
	endX, endY float64
	baseline   float64 // baseline direction angle in radians
	size       float64
	font       string
	code       charCode
	// width is the glyph advance in text space per unit font size
	width     float64
	wordSpace bool
}

func (g glyph) center() (float64, float64) {
	return (g.box.X0 + g.box.X1) / 2, (g.box.Y0 + g.box.Y1) / 2
}

// showElement is one string or number of a show operator.
type showElement struct {
	number   float64
	isNumber bool
	// glyph index range for strings
	first, last int
}

type showTrace struct {
	font     *font
	size     float64
	tc, tw   float64
	elements []showElement
	glyphs   []glyph
}

type imageTrace struct {
	box           textblock.Rect
	width, height int
}

type formTrace struct {
	name    string
	ref     raw.Object
	content *contentTrace
}

// event is what one operator contributed to the page.
type event struct {
	op    int
	show  *showTrace
	image *imageTrace
	form  *formTrace
}

// contentTrace is an interpreted content stream.
type contentTrace struct {
	data      []byte
	ops       []op
	events    []event
	resources *raw.DictObj
}

type gstate struct {
	ctm      coords.Matrix
	font     *font
	fontName string
	size     float64
	tc, tw   float64
	th, tl   float64
	rise     float64
}

type interpreter struct {
	doc   *Document
	ctx   context.Context
	res   *raw.DictObj
	stack []gstate
	gs    gstate
	tm    coords.Matrix
	tlm   coords.Matrix
	depth int
	// forms being interpreted, to stop recursion
	active map[raw.ObjectRef]bool
}

// trace interprets content ops under ctm and records text, image and form events.
func (d *Document) trace(ctx context.Context, ops []op, res *raw.DictObj, ctm coords.Matrix, depth int) (*contentTrace, error) {
	return d.traceWith(ctx, ops, res, ctm, depth, map[raw.ObjectRef]bool{})
}

func (d *Document) traceWith(ctx context.Context, ops []op, res *raw.DictObj, ctm coords.Matrix, depth int, active map[raw.ObjectRef]bool) (*contentTrace, error) {
	in := &interpreter{
		doc:    d,
		ctx:    ctx,
		res:    res,
		gs:     gstate{ctm: ctm, th: 1},
		tm:     coords.Identity(),
		tlm:    coords.Identity(),
		depth:  depth,
		active: active,
	}
	tr := &contentTrace{ops: ops, resources: res}
	for i := range ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev, err := in.step(&ops[i])
		if err != nil {
			return nil, err
		}
		if ev != nil {
			ev.op = i
			tr.events = append(tr.events, *ev)
		}
	}
	return tr, nil
}

func num(args []raw.Object, i int) float64 {
	if i < len(args) {
		if v, ok := numberOf(args[i]); ok {
			return v
		}
	}
	return 0
}

func matrixArgs(args []raw.Object) (coords.Matrix, bool) {
	if len(args) < 6 {
		return coords.Matrix{}, false
	}
	var m coords.Matrix
	for i := 0; i < 6; i++ {
		v, ok := numberOf(args[len(args)-6+i])
		if !ok {
			return coords.Matrix{}, false
		}
		m[i] = v
	}
	return m, true
}

func (in *interpreter) step(o *op) (*event, error) {
	a := o.Args
	switch o.Name {
	case "q":
		in.stack = append(in.stack, in.gs)
	case "Q":
		if n := len(in.stack); n > 0 {
			in.gs = in.stack[n-1]
			in.stack = in.stack[:n-1]
		}
	case "cm":
		if m, ok := matrixArgs(a); ok {
			in.gs.ctm = m.Multiply(in.gs.ctm)
		}
	case "BT":
		in.tm = coords.Identity()
		in.tlm = coords.Identity()
	case "Tf":
		if len(a) >= 2 {
			name := nameOf(a[0])
			in.gs.fontName = name
			in.gs.size = num(a, 1)
			fonts := in.doc.getDict(in.res, "Font")
			var ref raw.Object
			if fonts != nil {
				ref = fonts.KV[name]
			}
			in.gs.font = in.doc.fontFor(in.ctx, ref)
		}
	case "Tc":
		in.gs.tc = num(a, 0)
	case "Tw":
		in.gs.tw = num(a, 0)
	case "Tz":
		in.gs.th = num(a, 0) / 100
	case "TL":
		in.gs.tl = num(a, 0)
	case "Ts":
		in.gs.rise = num(a, 0)
	case "Td":
		in.moveLine(num(a, 0), num(a, 1))
	case "TD":
		in.gs.tl = -num(a, 1)
		in.moveLine(num(a, 0), num(a, 1))
	case "Tm":
		if m, ok := matrixArgs(a); ok {
			in.tm, in.tlm = m, m
		}
	case "T*":
		in.moveLine(0, -in.gs.tl)
	case "Tj":
		if len(a) >= 1 {
			return in.show(a[len(a)-1:]), nil
		}
	case "'":
		in.moveLine(0, -in.gs.tl)
		if len(a) >= 1 {
			return in.show(a[len(a)-1:]), nil
		}
	case "\"":
		if len(a) >= 3 {
			in.gs.tw = num(a, 0)
			in.gs.tc = num(a, 1)
			in.moveLine(0, -in.gs.tl)
			return in.show(a[2:3]), nil
		}
	case "TJ":
		if len(a) >= 1 {
			if arr, ok := a[len(a)-1].(*raw.ArrayObj); ok {
				return in.show(arr.Items), nil
			}
		}
	case "Do":
		if len(a) >= 1 {
			return in.doXObject(nameOf(a[0]))
		}
	case "BI":
		dict, _ := firstDict(a)
		w := int(in.doc.inlineNumber(dict, "W", "Width"))
		h := int(in.doc.inlineNumber(dict, "H", "Height"))
		return &event{image: &imageTrace{box: unitSquare(in.gs.ctm), width: w, height: h}}, nil
	}
	return nil, nil
}

func firstDict(a []raw.Object) (*raw.DictObj, bool) {
	if len(a) == 0 {
		return nil, false
	}
	d, ok := a[0].(*raw.DictObj)
	return d, ok
}

func (d *Document) inlineNumber(dict *raw.DictObj, short, long string) float64 {
	if v := d.getNumber(dict, short, -1); v >= 0 {
		return v
	}
	return d.getNumber(dict, long, 0)
}

func (in *interpreter) moveLine(tx, ty float64) {
	in.tlm = coords.Translate(tx, ty).Multiply(in.tlm)
	in.tm = in.tlm
}

// unitSquare returns the bounding box of the unit square under m.
func unitSquare(m coords.Matrix) textblock.Rect {
	return transformRect(m, 0, 0, 1, 1)
}

func transformRect(m coords.Matrix, x0, y0, x1, y1 float64) textblock.Rect {
	pts := []coords.Point{
		m.Transform(coords.Point{X: x0, Y: y0}),
		m.Transform(coords.Point{X: x1, Y: y0}),
		m.Transform(coords.Point{X: x0, Y: y1}),
		m.Transform(coords.Point{X: x1, Y: y1}),
	}
	r := textblock.Rect{X0: pts[0].X, Y0: pts[0].Y, X1: pts[0].X, Y1: pts[0].Y}
	for _, p := range pts[1:] {
		r.X0 = math.Min(r.X0, p.X)
		r.Y0 = math.Min(r.Y0, p.Y)
		r.X1 = math.Max(r.X1, p.X)
		r.Y1 = math.Max(r.Y1, p.Y)
	}
	return r
}

func (in *interpreter) show(items []raw.Object) *event {
	f := in.gs.font
	if f == nil {
		f = in.doc.fontFor(in.ctx, nil)
		in.gs.font = f
	}
	st := &showTrace{font: f, size: in.gs.size, tc: in.gs.tc, tw: in.gs.tw}
	size, th := in.gs.size, in.gs.th
	for _, it := range items {
		if n, ok := numberOf(it); ok {
			st.elements = append(st.elements, showElement{number: n, isNumber: true})
			in.tm = coords.Translate(-n/1000*size*th, 0).Multiply(in.tm)
			continue
		}
		s, ok := stringOf(it)
		if !ok {
			continue
		}
		el := showElement{first: len(st.glyphs)}
		for _, c := range f.codes(s) {
			st.glyphs = append(st.glyphs, in.glyph(f, c))
		}
		el.last = len(st.glyphs)
		st.elements = append(st.elements, el)
	}
	return &event{show: st}
}

// glyph positions one code at the current text matrix and advances it.
func (in *interpreter) glyph(f *font, c charCode) glyph {
	gs := in.gs
	w0 := f.width(c) * f.scale
	trm := coords.Matrix{gs.size * gs.th, 0, 0, gs.size, 0, gs.rise}.Multiply(in.tm).Multiply(gs.ctm)
	boxW := w0
	if boxW <= 0 {
		boxW = 0.001
	}
	origin := trm.Transform(coords.Point{})
	dir := trm.Transform(coords.Point{X: 1})
	end := trm.Transform(coords.Point{X: w0})
	g := glyph{
		text:      f.text(c),
		box:       transformRect(trm, 0, f.descent, boxW, f.ascent),
		originX:   origin.X,
		originY:   origin.Y,
		endX:      end.X,
		endY:      end.Y,
		baseline:  math.Atan2(dir.Y-origin.Y, dir.X-origin.X),
		size:      math.Hypot(trm[2], trm[3]),
		font:      stripSubset(f.baseFont),
		code:      c,
		width:     w0,
		wordSpace: f.isWordSpace(c),
	}
	tx := w0*gs.size + gs.tc
	if g.wordSpace {
		tx += gs.tw
	}
	in.tm = coords.Translate(tx*gs.th, 0).Multiply(in.tm)
	return g
}

func (in *interpreter) doXObject(name string) (*event, error) {
	xobjs := in.doc.getDict(in.res, "XObject")
	if xobjs == nil {
		return nil, nil
	}
	ref := xobjs.KV[name]
	stream, ok := in.doc.resolve(ref).(*raw.StreamObj)
	if !ok || stream.Dict == nil {
		return nil, nil
	}
	switch in.doc.getName(stream.Dict, "Subtype") {
	case "Image":
		return &event{image: &imageTrace{
			box:    unitSquare(in.gs.ctm),
			width:  int(in.doc.getNumber(stream.Dict, "Width", 0)),
			height: int(in.doc.getNumber(stream.Dict, "Height", 0)),
		}}, nil
	case "Form":
		return in.form(name, ref, stream)
	}
	return nil, nil
}

func (in *interpreter) form(name string, ref raw.Object, stream *raw.StreamObj) (*event, error) {
	if in.depth >= maxFormDepth {
		return nil, nil
	}
	var key raw.ObjectRef
	if r, ok := ref.(raw.Reference); ok {
		key = r.Ref()
		if in.active[key] {
			return nil, nil
		}
		in.active[key] = true
		defer delete(in.active, key)
	}
	data, err := in.doc.streamData(in.ctx, ref)
	if err != nil {
		in.doc.logger.Debug("skipping unreadable form")
		return nil, nil
	}
	ops, err := parseContent(data)
	if err != nil {
		in.doc.logger.Debug("skipping malformed form")
		return nil, nil
	}
	ctm := in.gs.ctm
	if m, ok := in.doc.numbers(stream.Dict.KV["Matrix"]); ok && len(m) == 6 {
		ctm = coords.Matrix{m[0], m[1], m[2], m[3], m[4], m[5]}.Multiply(ctm)
	}
	res := in.doc.getDict(stream.Dict, "Resources")
	if res == nil {
		res = in.res
	}
	sub, err := in.doc.traceWith(in.ctx, ops, res, ctm, in.depth+1, in.active)
	if err != nil {
		return nil, err
	}
	sub.data = data
	return &event{form: &formTrace{name: name, ref: ref, content: sub}}, nil
}
