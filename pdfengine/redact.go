package pdfengine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/wudi/pdfnormalize/ir/raw"
	"github.com/wudi/pdfnormalize/observability"
	"github.com/wudi/pdfnormalize/textblock"
)

// coverTolerance lets an image edge stick out of a redaction area by this many
// points and still count as covered.
const coverTolerance = 0.5

// AddRedaction marks r (page space) for erasure. Nothing changes on the page
// until ApplyRedactions runs.
func (p *Page) AddRedaction(r textblock.Rect) error {
	if err := p.check(); err != nil {
		return err
	}
	area := p.userRect(r)
	annot := raw.Dict()
	annot.Set(raw.NameLiteral("Type"), raw.NameLiteral("Annot"))
	annot.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("Redact"))
	annot.Set(raw.NameLiteral("Rect"), rectArray(area.X0, area.Y0, area.X1, area.Y1))
	if p.ref != (raw.ObjectRef{}) {
		annot.Set(raw.NameLiteral("P"), raw.RefObj{R: p.ref})
	}
	ref := p.doc.addObject(annot)

	annots := raw.NewArray()
	if old := p.doc.array(p.dict.KV["Annots"]); old != nil {
		annots.Items = append(annots.Items, old.Items...)
	}
	annots.Append(ref)
	p.dict.Set(raw.NameLiteral("Annots"), annots)

	p.pending = append(p.pending, pendingRedaction{area: area, annot: ref})
	return nil
}

// ApplyRedactions erases everything under the pending redaction areas in one
// pass over the original content and drops the redaction annotations. It
// returns the number of glyphs and images removed.
func (p *Page) ApplyRedactions(ctx context.Context) (int, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	if len(p.pending) == 0 {
		return 0, nil
	}
	tr, err := p.traceContent(ctx)
	if err != nil {
		return 0, err
	}
	rw := &rewriter{doc: p.doc}
	for _, pr := range p.pending {
		rw.areas = append(rw.areas, pr.area)
	}
	var xobjects *raw.DictObj
	pageXObjects := func() *raw.DictObj {
		if xobjects == nil {
			xobjects = p.ownSubDict(p.ownResources(), "XObject")
		}
		return xobjects
	}
	out, changed, err := rw.rewrite(tr, pageXObjects)
	if err != nil {
		return 0, fmt.Errorf("page %d redact: %w", p.index, err)
	}
	if changed {
		p.setContent(out)
	}
	p.dropRedactAnnots()

	p.doc.logger.Debug("redactions applied",
		observability.Int("page", p.index),
		observability.Int("areas", len(p.pending)),
		observability.Int("removed", rw.removed))
	p.pending = nil
	return rw.removed, nil
}

// setContent replaces the page's content streams with one unfiltered stream.
func (p *Page) setContent(data []byte) {
	dict := raw.Dict()
	dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(data))))
	ref := p.doc.addObject(raw.NewStream(dict, data))
	p.dict.Set(raw.NameLiteral("Contents"), ref)
}

func (p *Page) dropRedactAnnots() {
	drop := make(map[raw.ObjectRef]bool, len(p.pending))
	for _, pr := range p.pending {
		drop[pr.annot.R] = true
		delete(p.doc.raw.Objects, pr.annot.R)
	}
	annots := p.doc.array(p.dict.KV["Annots"])
	if annots == nil {
		return
	}
	kept := raw.NewArray()
	for _, it := range annots.Items {
		if ref, ok := it.(raw.Reference); ok && drop[ref.Ref()] {
			continue
		}
		kept.Append(it)
	}
	if kept.Len() == 0 {
		delete(p.dict.KV, "Annots")
		return
	}
	p.dict.Set(raw.NameLiteral("Annots"), kept)
}

type rewriter struct {
	doc     *Document
	areas   []textblock.Rect
	removed int
}

func (rw *rewriter) hit(g *glyph) bool {
	x, y := g.center()
	for _, a := range rw.areas {
		if a.ContainsPoint(x, y) {
			return true
		}
	}
	return false
}

func (rw *rewriter) covers(box textblock.Rect) bool {
	for _, a := range rw.areas {
		grown := textblock.Rect{X0: a.X0 - coverTolerance, Y0: a.Y0 - coverTolerance, X1: a.X1 + coverTolerance, Y1: a.Y1 + coverTolerance}
		if grown.Contains(box) {
			return true
		}
	}
	return false
}

// rewrite produces new content for tr with the redacted parts removed.
// Untouched operators are copied from the source bytes. xobjects returns the
// XObject dictionary new form names are registered in.
func (rw *rewriter) rewrite(tr *contentTrace, xobjects func() *raw.DictObj) ([]byte, bool, error) {
	events := make(map[int]*event, len(tr.events))
	for i := range tr.events {
		events[tr.events[i].op] = &tr.events[i]
	}
	var buf bytes.Buffer
	cursor, changed := 0, false
	for i := range tr.ops {
		ev := events[i]
		if ev == nil {
			continue
		}
		o := &tr.ops[i]
		var repl []byte
		switch {
		case ev.show != nil:
			repl = rw.show(o, ev.show)
		case ev.image != nil:
			if rw.covers(ev.image.box) {
				repl = []byte{}
				rw.removed++
			}
		case ev.form != nil:
			name, ok, err := rw.form(ev.form, xobjects)
			if err != nil {
				return nil, false, err
			}
			if ok {
				repl = []byte(encodeName(name) + " Do")
			}
		}
		if repl == nil {
			continue
		}
		buf.Write(tr.data[cursor:o.Start])
		buf.Write(repl)
		cursor = o.End
		changed = true
	}
	if !changed {
		return tr.data, false, nil
	}
	buf.Write(tr.data[cursor:])
	return buf.Bytes(), true, nil
}

// show rewrites a show operator as TJ, replacing each removed glyph with the
// displacement it would have caused. It returns nil when no glyph is removed.
func (rw *rewriter) show(o *op, st *showTrace) []byte {
	gone := make([]bool, len(st.glyphs))
	hits := 0
	for i := range st.glyphs {
		if rw.hit(&st.glyphs[i]) {
			gone[i] = true
			hits++
		}
	}
	if hits == 0 {
		return nil
	}

	var b bytes.Buffer
	switch o.Name {
	case "'":
		b.WriteString("T* ")
	case "\"":
		fmt.Fprintf(&b, "%s Tw %s Tc T* ", formatNumber(st.tw), formatNumber(st.tc))
	}
	b.WriteByte('[')
	var run []byte
	var adjust float64
	hasAdjust := false
	flushRun := func() {
		if len(run) > 0 {
			b.WriteString(hexLiteral(run))
			run = nil
		}
	}
	flushAdjust := func() {
		if hasAdjust {
			fmt.Fprintf(&b, " %s ", formatNumber(adjust))
			adjust, hasAdjust = 0, false
		}
	}
	addAdjust := func(n float64) {
		flushRun()
		adjust += n
		hasAdjust = true
	}
	for _, el := range st.elements {
		if el.isNumber {
			addAdjust(el.number)
			continue
		}
		for i := el.first; i < el.last; i++ {
			g := &st.glyphs[i]
			if gone[i] {
				rw.removed++
				addAdjust(displacement(g, st))
				continue
			}
			flushAdjust()
			run = append(run, g.code.bytes...)
		}
	}
	flushRun()
	flushAdjust()
	b.WriteString("] TJ")
	return b.Bytes()
}

// displacement is the TJ number that advances the pen like g did.
func displacement(g *glyph, st *showTrace) float64 {
	n := g.width * 1000
	if st.size != 0 {
		extra := st.tc
		if g.wordSpace {
			extra += st.tw
		}
		n += extra * 1000 / st.size
	}
	return -n
}

// form rewrites a form XObject. A changed form is cloned under a new name so
// other users of the original keep seeing it intact.
func (rw *rewriter) form(ft *formTrace, parent func() *raw.DictObj) (string, bool, error) {
	stream, ok := rw.doc.resolve(ft.ref).(*raw.StreamObj)
	if !ok || ft.content == nil {
		return "", false, nil
	}
	dict := shallowCopy(stream.Dict)
	delete(dict.KV, "Filter")
	delete(dict.KV, "DecodeParms")
	res := shallowCopy(ft.content.resources)
	dict.Set(raw.NameLiteral("Resources"), res)

	var xobjects *raw.DictObj
	own := func() *raw.DictObj {
		if xobjects == nil {
			xobjects = shallowCopy(rw.doc.getDict(res, "XObject"))
			res.Set(raw.NameLiteral("XObject"), xobjects)
		}
		return xobjects
	}
	out, changed, err := rw.rewrite(ft.content, own)
	if err != nil || !changed {
		return "", false, err
	}
	dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(out))))
	ref := rw.doc.addObject(raw.NewStream(dict, out))

	target := parent()
	name := uniqueName(target, ft.name+"_r")
	target.Set(raw.NameLiteral(name), ref)
	return name, true, nil
}

func uniqueName(dict *raw.DictObj, base string) string {
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s%d", base, i)
		if _, taken := dict.KV[name]; !taken {
			return name
		}
	}
}

// hexLiteral formats b as a PDF hex string.
func hexLiteral(b []byte) string {
	const digits = "0123456789ABCDEF"
	out := make([]byte, 0, 2*len(b)+2)
	out = append(out, '<')
	for _, c := range b {
		out = append(out, digits[c>>4], digits[c&0x0f])
	}
	return string(append(out, '>'))
}
