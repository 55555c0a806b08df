package pdfengine

import (
	"context"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/wudi/pdfnormalize/ir/raw"
)

// font is the part of a PDF font needed to decode and position text.
type font struct {
	baseFont string
	subtype  string
	// composite fonts use two-byte codes
	composite bool
	toUni     *toUnicode
	encoding  *[256]string
	widths    map[int]float64
	defWidth  float64
	// glyph space to text space
	scale           float64
	ascent, descent float64
	std             *stdMetrics
}

type charCode struct {
	code  int
	bytes []byte
}

func (d *Document) fontFor(ctx context.Context, obj raw.Object) *font {
	ref, isRef := obj.(raw.Reference)
	if isRef {
		if f, ok := d.fonts[ref.Ref()]; ok {
			return f
		}
	}
	f := d.loadFont(ctx, d.dict(obj))
	if isRef {
		d.fonts[ref.Ref()] = f
	}
	return f
}

func (d *Document) loadFont(ctx context.Context, dict *raw.DictObj) *font {
	f := &font{
		scale:    0.001,
		ascent:   0.8,
		descent:  -0.2,
		defWidth: 0,
		widths:   make(map[int]float64),
	}
	if dict == nil {
		f.std = stdMetricsFor("Helvetica")
		f.encoding = baseEncoding("StandardEncoding")
		return f
	}
	f.baseFont = d.getName(dict, "BaseFont")
	f.subtype = d.getName(dict, "Subtype")
	if tu := dict.KV["ToUnicode"]; tu != nil {
		if data, err := d.streamData(ctx, tu); err == nil {
			f.toUni = parseToUnicode(data)
		} else {
			d.logger.Debug("unreadable ToUnicode CMap")
		}
	}

	descriptor := d.getDict(dict, "FontDescriptor")
	if f.subtype == "Type0" {
		f.composite = true
		f.defWidth = 1000
		if arr := d.array(dict.KV["DescendantFonts"]); arr != nil && arr.Len() > 0 {
			cid := d.dict(arr.Items[0])
			f.defWidth = d.getNumber(cid, "DW", 1000)
			d.cidWidths(cid, f.widths)
			descriptor = d.getDict(cid, "FontDescriptor")
		}
	} else {
		d.simpleWidths(dict, f)
		f.encoding = d.simpleEncoding(dict, f.baseFont, descriptor)
		if f.subtype == "Type3" {
			if m, ok := d.numbers(dict.KV["FontMatrix"]); ok && len(m) == 6 && m[0] != 0 {
				f.scale = m[0]
			}
		}
	}
	if descriptor != nil {
		if f.defWidth == 0 {
			f.defWidth = d.getNumber(descriptor, "MissingWidth", 0)
		}
		asc := d.getNumber(descriptor, "Ascent", 0) / 1000
		desc := d.getNumber(descriptor, "Descent", 0) / 1000
		if asc > 0 && asc < 2 {
			f.ascent = asc
		}
		if desc < 0 && desc > -1 {
			f.descent = desc
		}
	}
	if len(f.widths) == 0 && !f.composite {
		f.std = stdMetricsFor(f.baseFont)
	}
	return f
}

func (d *Document) simpleWidths(dict *raw.DictObj, f *font) {
	ws, ok := d.numbers(dict.KV["Widths"])
	if !ok {
		return
	}
	first := int(d.getNumber(dict, "FirstChar", 0))
	for i, w := range ws {
		f.widths[first+i] = w
	}
}

// cidWidths reads a CIDFont /W array: "c [w1 w2 ...]" and "c1 c2 w" entries.
func (d *Document) cidWidths(cid *raw.DictObj, out map[int]float64) {
	arr := d.array(d.get(cid, "W"))
	if arr == nil {
		return
	}
	items := arr.Items
	for i := 0; i < len(items); {
		first, ok := numberOf(d.resolve(items[i]))
		if !ok || i+1 >= len(items) {
			return
		}
		if list := d.array(items[i+1]); list != nil {
			for j, it := range list.Items {
				if w, ok := numberOf(d.resolve(it)); ok {
					out[int(first)+j] = w
				}
			}
			i += 2
			continue
		}
		if i+2 >= len(items) {
			return
		}
		last, ok1 := numberOf(d.resolve(items[i+1]))
		w, ok2 := numberOf(d.resolve(items[i+2]))
		if !ok1 || !ok2 || last < first || last-first > maxRangeSpan {
			return
		}
		for c := int(first); c <= int(last); c++ {
			out[c] = w
		}
		i += 3
	}
}

func (d *Document) simpleEncoding(dict *raw.DictObj, baseFont string, descriptor *raw.DictObj) *[256]string {
	base := "StandardEncoding"
	symbolic := isSymbolFont(baseFont)
	if descriptor != nil {
		flags := int(d.getNumber(descriptor, "Flags", 0))
		if flags&4 != 0 && flags&32 == 0 {
			symbolic = true
		}
	}
	if symbolic {
		base = ""
	}
	var diffs *raw.ArrayObj
	switch enc := d.get(dict, "Encoding").(type) {
	case raw.Name:
		base = enc.Value()
	case *raw.DictObj:
		if n := d.getName(enc, "BaseEncoding"); n != "" {
			base = n
		}
		diffs = d.array(enc.KV["Differences"])
	}
	table := baseEncoding(base)
	if diffs != nil {
		code := 0
		for _, it := range diffs.Items {
			switch v := d.resolve(it).(type) {
			case raw.Number:
				code = int(v.Int())
			case raw.Name:
				if code >= 0 && code < 256 {
					table[code] = glyphText(v.Value())
				}
				code++
			}
		}
	}
	return table
}

func isSymbolFont(name string) bool {
	name = stripSubset(name)
	return strings.HasPrefix(name, "Symbol") || strings.HasPrefix(name, "ZapfDingbats")
}

// stripSubset removes a "ABCDEF+" subset tag.
func stripSubset(name string) string {
	if len(name) > 7 && name[6] == '+' {
		return name[7:]
	}
	return name
}

// baseEncoding returns a fresh code-to-text table. Unknown names and symbolic
// fonts fall back to Latin-1 style identity mapping of printable codes.
func baseEncoding(name string) *[256]string {
	var t [256]string
	if name == "StandardEncoding" {
		for c := ' '; c <= '~'; c++ {
			t[c] = string(c)
		}
		t['\''] = "’"
		t['`'] = "‘"
		for c, glyph := range standardHigh {
			t[c] = glyphText(glyph)
		}
		return &t
	}
	var cm *charmap.Charmap
	switch name {
	case "WinAnsiEncoding":
		cm = charmap.Windows1252
	case "MacRomanEncoding":
		cm = charmap.Macintosh
	}
	for c := 0; c < 256; c++ {
		switch {
		case cm != nil:
			r := cm.DecodeByte(byte(c))
			if r != 0xfffd && (c >= 32 || r == '\t') {
				t[c] = string(r)
			}
		case c >= 32:
			t[c] = string(rune(c))
		}
	}
	return &t
}

// codes splits a shown string into character codes.
func (f *font) codes(s []byte) []charCode {
	var out []charCode
	if f.composite {
		for i := 0; i < len(s); i += 2 {
			if i+1 >= len(s) {
				out = append(out, charCode{code: int(s[i]), bytes: s[i : i+1]})
				break
			}
			out = append(out, charCode{code: int(s[i])<<8 | int(s[i+1]), bytes: s[i : i+2]})
		}
		return out
	}
	for i := range s {
		out = append(out, charCode{code: int(s[i]), bytes: s[i : i+1]})
	}
	return out
}

// text decodes one code. Unmappable codes decode to U+FFFD.
func (f *font) text(c charCode) string {
	if s, ok := f.toUni.lookup(c.bytes); ok {
		return s
	}
	if f.encoding != nil && c.code < 256 {
		if s := f.encoding[c.code]; s != "" {
			return s
		}
	}
	if f.composite {
		return "\ufffd"
	}
	if c.code < 32 {
		return ""
	}
	return "\ufffd"
}

// width returns the glyph advance in glyph space units.
func (f *font) width(c charCode) float64 {
	if w, ok := f.widths[c.code]; ok {
		return w
	}
	if f.std != nil {
		return f.std.width(f.text(c))
	}
	if f.defWidth > 0 {
		return f.defWidth
	}
	return 500
}

// isWordSpace reports whether Tw applies to the code.
func (f *font) isWordSpace(c charCode) bool {
	return len(c.bytes) == 1 && c.code == 32
}
