package pdfengine

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/wudi/pdfnormalize/engine"
	"github.com/wudi/pdfnormalize/ir/raw"
	"github.com/wudi/pdfnormalize/observability"
	"github.com/wudi/pdfnormalize/textblock"
)

var defaultTextStyle = textStyle{face: faceKey{family: familySans}, size: 12}

// InsertHTMLBox lays out html inside r (page space) and draws it on top of the
// page, shrinking the text when it does not fit at its own size.
func (p *Page) InsertHTMLBox(ctx context.Context, r textblock.Rect, src string) (engine.HTMLBoxResult, error) {
	if err := p.check(); err != nil {
		return engine.HTMLBoxResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return engine.HTMLBoxResult{}, err
	}
	paras, err := parseHTML(src)
	if err != nil {
		return engine.HTMLBoxResult{}, fmt.Errorf("parse html: %w", err)
	}
	r = r.Normalize()
	lay, scale, ok, err := fitLayout(paras, r.Width(), r.Height())
	if err != nil {
		return engine.HTMLBoxResult{}, err
	}
	if !ok {
		p.doc.logger.Debug("html box does not fit",
			observability.Int("page", p.index),
			observability.String("rect", r.String()))
		return engine.HTMLBoxResult{SpareHeight: -1, Scale: scale}, nil
	}
	if len(lay.lines) > 0 {
		content, err := p.drawLayout(lay, p.userRect(r), scale)
		if err != nil {
			return engine.HTMLBoxResult{}, err
		}
		p.appendContent(content)
	}
	return engine.HTMLBoxResult{SpareHeight: r.Height() - lay.height*scale, Scale: scale}, nil
}

// drawLayout emits the text operators for lay, placed at the top-left of box.
func (p *Page) drawLayout(lay *layout, box textblock.Rect, scale float64) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString("BT\n")
	for _, line := range lay.lines {
		y := box.Y1 - line.baseline*scale
		for _, run := range line.runs {
			name, ef, err := p.fontResource(run.style.face)
			if err != nil {
				return nil, err
			}
			p.doc.useGlyphs(ef, run.glyphs)
			code := make([]byte, 0, 2*len(run.glyphs))
			for _, g := range run.glyphs {
				code = append(code, byte(g.gid>>8), byte(g.gid))
			}
			c := run.style.color
			fmt.Fprintf(&b, "%s %s Tf %s %s %s rg 1 0 0 1 %s %s Tm %s Tj\n",
				encodeName(name), formatNumber(run.style.size*scale),
				formatNumber(c[0]), formatNumber(c[1]), formatNumber(c[2]),
				formatNumber(box.X0+run.x*scale), formatNumber(y),
				hexLiteral(code))
		}
	}
	b.WriteString("ET\n")
	return b.Bytes(), nil
}

// fontResource returns the page's resource name for the embedded face.
func (p *Page) fontResource(key faceKey) (string, *embeddedFont, error) {
	if name, ok := p.fontNames[key]; ok {
		return name, p.doc.embedded[key], nil
	}
	tf, err := loadTypeface(key)
	if err != nil {
		return "", nil, err
	}
	ef := p.doc.embedFont(tf)
	fonts := p.ownSubDict(p.ownResources(), "Font")
	name := uniqueName(fonts, "NF")
	fonts.Set(raw.NameLiteral(name), ef.ref)
	if p.fontNames == nil {
		p.fontNames = make(map[faceKey]string)
	}
	p.fontNames[key] = name
	return name, ef, nil
}

// appendContent draws data after the existing content. The first call wraps
// the existing content in q/Q so its graphics state cannot leak.
func (p *Page) appendContent(data []byte) {
	var items []raw.Object
	switch v := p.doc.resolve(p.dict.KV["Contents"]).(type) {
	case *raw.ArrayObj:
		items = append(items, v.Items...)
	case *raw.StreamObj:
		items = append(items, p.dict.KV["Contents"])
	}
	if !p.wrapped {
		items = append([]raw.Object{p.doc.addObject(plainStream([]byte("q\n")))}, items...)
		items = append(items, p.doc.addObject(plainStream([]byte("\nQ\n"))))
		p.wrapped = true
	}
	items = append(items, p.doc.addObject(plainStream(data)))
	p.dict.Set(raw.NameLiteral("Contents"), raw.NewArray(items...))
}

func plainStream(data []byte) *raw.StreamObj {
	dict := raw.Dict()
	dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(data))))
	return raw.NewStream(dict, data)
}

// parseHTML turns a fragment into paragraphs of styled runs with collapsed
// whitespace. Block elements and <br> start new paragraphs.
func parseHTML(src string) ([]paragraph, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(src), ctx)
	if err != nil {
		return nil, err
	}
	hb := &htmlBuilder{}
	for _, n := range nodes {
		hb.walk(n, defaultTextStyle, "left")
	}
	hb.flush(false)
	return hb.paras, nil
}

type htmlBuilder struct {
	paras []paragraph
	cur   paragraph
}

func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Li, atom.Ul, atom.Ol, atom.Blockquote, atom.Pre, atom.Tr, atom.Table,
		atom.Section, atom.Article, atom.Header, atom.Footer, atom.Dl, atom.Dt, atom.Dd:
		return true
	}
	return false
}

func (hb *htmlBuilder) walk(n *html.Node, st textStyle, align string) {
	switch n.Type {
	case html.TextNode:
		hb.text(n.Data, st, align)
		return
	case html.ElementNode:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			hb.walk(c, st, align)
		}
		return
	}
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Head, atom.Title:
		return
	case atom.Br:
		hb.flush(true)
		return
	case atom.B, atom.Strong, atom.Th:
		st.face.bold = true
	case atom.I, atom.Em, atom.Cite, atom.Var:
		st.face.italic = true
	case atom.Code, atom.Tt, atom.Kbd, atom.Samp, atom.Pre:
		st.face.family = familyMono
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		st.face.bold = true
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, "style") {
			st, align = applyStyle(a.Val, st, align)
		}
	}
	block := isBlockElement(n.DataAtom)
	if block {
		hb.flush(false)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		hb.walk(c, st, align)
	}
	if block {
		hb.flush(false)
	}
}

func (hb *htmlBuilder) text(s string, st textStyle, align string) {
	collapsed := strings.Join(strings.Fields(s), " ")
	if collapsed == "" {
		if s == "" || len(hb.cur.runs) == 0 {
			return
		}
		collapsed = " "
	} else {
		if isHTMLSpace(s[0]) {
			collapsed = " " + collapsed
		}
		if isHTMLSpace(s[len(s)-1]) {
			collapsed += " "
		}
	}
	if len(hb.cur.runs) == 0 {
		collapsed = strings.TrimLeft(collapsed, " ")
		if collapsed == "" {
			return
		}
	} else if strings.HasPrefix(collapsed, " ") && strings.HasSuffix(hb.cur.runs[len(hb.cur.runs)-1].text, " ") {
		collapsed = collapsed[1:]
		if collapsed == "" {
			return
		}
	}
	hb.cur.align = align
	n := len(hb.cur.runs)
	if n > 0 && hb.cur.runs[n-1].style == st {
		hb.cur.runs[n-1].text += collapsed
		return
	}
	hb.cur.runs = append(hb.cur.runs, textRun{text: collapsed, style: st})
}

func isHTMLSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// flush ends the current paragraph. keepEmpty records a blank line, which is
// what a <br> on its own produces.
func (hb *htmlBuilder) flush(keepEmpty bool) {
	for n := len(hb.cur.runs); n > 0; n-- {
		last := &hb.cur.runs[n-1]
		last.text = strings.TrimRight(last.text, " ")
		if last.text != "" {
			break
		}
		hb.cur.runs = hb.cur.runs[:n-1]
	}
	if len(hb.cur.runs) > 0 || keepEmpty {
		hb.paras = append(hb.paras, hb.cur)
	}
	hb.cur = paragraph{}
}

// applyStyle reads the inline CSS declarations the box layout understands.
// Unknown properties and malformed values are ignored.
func applyStyle(decls string, st textStyle, align string) (textStyle, string) {
	for _, decl := range strings.Split(decls, ";") {
		prop, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		val = strings.TrimSpace(val)
		switch prop {
		case "font-family":
			st.face.family = familyFor(val)
		case "font-size":
			if size, ok := parseFontSize(val, st.size); ok {
				st.size = size
			}
		case "font-weight":
			st.face.bold = isBold(val)
		case "font-style":
			v := strings.ToLower(val)
			st.face.italic = v == "italic" || v == "oblique"
		case "color":
			if c, ok := parseColor(val); ok {
				st.color = c
			}
		case "text-align":
			switch v := strings.ToLower(val); v {
			case "center", "right":
				align = v
			default:
				align = "left"
			}
		}
	}
	return st, align
}

// familyFor maps a CSS font-family list to one of the embedded families.
func familyFor(list string) string {
	first, _, _ := strings.Cut(list, ",")
	name := strings.ToLower(strings.Trim(strings.TrimSpace(first), `"'`))
	switch {
	case strings.Contains(name, "mono"), strings.Contains(name, "courier"), strings.Contains(name, "consol"):
		return familyMono
	}
	return familySans
}

func isBold(v string) bool {
	v = strings.ToLower(v)
	switch v {
	case "bold", "bolder":
		return true
	case "normal", "lighter":
		return false
	}
	n, err := strconv.Atoi(v)
	return err == nil && n >= 600
}

// parseFontSize accepts pt, px, em and % units; a bare number is taken as points.
func parseFontSize(v string, parent float64) (float64, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	unit := 1.0
	relative := false
	for _, u := range []struct {
		suffix string
		factor float64
		rel    bool
	}{{"pt", 1, false}, {"px", 0.75, false}, {"em", 1, true}, {"%", 0.01, true}} {
		if strings.HasSuffix(v, u.suffix) {
			v = strings.TrimSpace(strings.TrimSuffix(v, u.suffix))
			unit, relative = u.factor, u.rel
			break
		}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	if relative {
		return f * unit * parent, true
	}
	return f * unit, true
}

var namedColors = map[string][3]float64{
	"black": {0, 0, 0},
	"white": {1, 1, 1},
	"red":   {1, 0, 0},
	"green": {0, 0.5, 0},
	"blue":  {0, 0, 1},
	"gray":  {0.5, 0.5, 0.5},
	"grey":  {0.5, 0.5, 0.5},
}

// parseColor accepts #rgb, #rrggbb, rgb(r, g, b) and a few colour names.
func parseColor(v string) ([3]float64, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	if c, ok := namedColors[v]; ok {
		return c, true
	}
	if strings.HasPrefix(v, "#") {
		hex := v[1:]
		if len(hex) == 3 {
			hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
		}
		if len(hex) != 6 {
			return [3]float64{}, false
		}
		n, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return [3]float64{}, false
		}
		return [3]float64{float64(n>>16&0xff) / 255, float64(n>>8&0xff) / 255, float64(n&0xff) / 255}, true
	}
	if strings.HasPrefix(v, "rgb(") && strings.HasSuffix(v, ")") {
		parts := strings.Split(v[4:len(v)-1], ",")
		if len(parts) != 3 {
			return [3]float64{}, false
		}
		var c [3]float64
		for i, part := range parts {
			n, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil || n < 0 || n > 255 {
				return [3]float64{}, false
			}
			c[i] = n / 255
		}
		return c, true
	}
	return [3]float64{}, false
}
