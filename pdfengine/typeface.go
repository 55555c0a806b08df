package pdfengine

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"sync"
	"unicode/utf16"

	gotext "github.com/go-text/typesetting/font"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/pdfnormalize/ir/raw"
)

const (
	familySans = "sans"
	familyMono = "mono"
)

// faceKey selects one of the embedded Go fonts.
type faceKey struct {
	family       string
	bold, italic bool
}

func (k faceKey) ttf() []byte {
	if k.family == familyMono {
		switch {
		case k.bold && k.italic:
			return gomonobolditalic.TTF
		case k.bold:
			return gomonobold.TTF
		case k.italic:
			return gomonoitalic.TTF
		}
		return gomono.TTF
	}
	switch {
	case k.bold && k.italic:
		return gobolditalic.TTF
	case k.bold:
		return gobold.TTF
	case k.italic:
		return goitalic.TTF
	}
	return goregular.TTF
}

// typeface holds the metrics of a face in PDF glyph space (1000 units per em).
// Text is drawn through an Identity-H encoding, so codes are glyph ids.
type typeface struct {
	key         faceKey
	data        []byte
	face        *gotext.Face
	psName      string
	ascent      float64
	descent     float64 // negative
	capHeight   float64
	bbox        [4]float64
	italicAngle float64
	advances    []float64 // by glyph id
}

// faceGlyph is one rune as drawn: the face's glyph id, the text it stands
// for and its advance in glyph space.
type faceGlyph struct {
	gid   uint16
	r     rune
	width float64
}

var (
	typefaceMu    sync.Mutex
	typefaceCache = map[faceKey]*typeface{}
)

func loadTypeface(key faceKey) (*typeface, error) {
	typefaceMu.Lock()
	defer typefaceMu.Unlock()
	if tf, ok := typefaceCache[key]; ok {
		return tf, nil
	}
	tf, err := parseTypeface(key)
	if err != nil {
		return nil, err
	}
	typefaceCache[key] = tf
	return tf, nil
}

func parseTypeface(key faceKey) (*typeface, error) {
	data := key.ttf()
	face, err := gotext.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse face %v: %w", key, err)
	}
	sf, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse sfnt %v: %w", key, err)
	}
	upem := sf.UnitsPerEm()
	ppem := fixed.Int26_6(upem << 6)
	var buf sfnt.Buffer

	tf := &typeface{key: key, data: data, face: face, psName: "GoFont"}
	if ps, err := sf.Name(&buf, sfnt.NameIDPostScript); err == nil && ps != "" {
		tf.psName = ps
	}
	if m, err := sf.Metrics(&buf, ppem, xfont.HintingNone); err == nil {
		tf.ascent = unitsOf(m.Ascent, upem)
		tf.descent = -unitsOf(m.Descent, upem)
		tf.capHeight = unitsOf(m.CapHeight, upem)
	}
	if tf.capHeight == 0 {
		tf.capHeight = tf.ascent
	}
	if b, err := sf.Bounds(&buf, ppem, xfont.HintingNone); err == nil {
		// sfnt bounds grow downward
		tf.bbox = [4]float64{unitsOf(b.Min.X, upem), -unitsOf(b.Max.Y, upem), unitsOf(b.Max.X, upem), -unitsOf(b.Min.Y, upem)}
	}
	if post := sf.PostTable(); post != nil {
		tf.italicAngle = post.ItalicAngle
	}
	n := sf.NumGlyphs()
	if n > 0xffff {
		n = 0xffff
	}
	tf.advances = make([]float64, n)
	for gid := range tf.advances {
		adv, err := sf.GlyphAdvance(&buf, sfnt.GlyphIndex(gid), ppem, xfont.HintingNone)
		if err != nil {
			continue
		}
		tf.advances[gid] = unitsOf(adv, upem)
	}
	return tf, nil
}

func unitsOf(v fixed.Int26_6, upem sfnt.Units) float64 {
	return math.Round(float64(v) * 1000 / (64 * float64(upem)))
}

// glyph looks r up in the face's cmap. Runes the face has no glyph for are
// drawn as '?'.
func (tf *typeface) glyph(r rune) faceGlyph {
	gid, ok := tf.face.NominalGlyph(r)
	if !ok || gid == 0 || int(gid) >= len(tf.advances) {
		if r == '?' {
			return faceGlyph{r: '?'}
		}
		return tf.glyph('?')
	}
	return faceGlyph{gid: uint16(gid), r: r, width: tf.advances[gid]}
}

// advance is the width of text at size, in points.
func (tf *typeface) advance(text string, size float64) float64 {
	var w float64
	for _, r := range text {
		w += tf.glyph(r).width
	}
	return w * size / 1000
}

func (tf *typeface) flags() int64 {
	flags := int64(32) // nonsymbolic
	if tf.key.italic {
		flags |= 64
	}
	if tf.key.family == familyMono {
		flags |= 1
	}
	return flags
}

// embeddedFont is a face added to the document as a Type0 font. used records
// the text of every glyph drawn with it, for the ToUnicode CMap.
type embeddedFont struct {
	ref   raw.RefObj
	toUni raw.RefObj
	tf    *typeface
	used  map[uint16]rune
}

// embedFont adds the whole TrueType program for tf to the document once, as a
// Type0 font with Identity-H encoding and an identity CID to glyph mapping.
func (d *Document) embedFont(tf *typeface) *embeddedFont {
	if ef, ok := d.embedded[tf.key]; ok {
		return ef
	}
	fileDict := raw.Dict()
	fileDict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(tf.data))))
	fileDict.Set(raw.NameLiteral("Length1"), raw.NumberInt(int64(len(tf.data))))
	file := d.addObject(raw.NewStream(fileDict, tf.data))

	desc := raw.Dict()
	desc.Set(raw.NameLiteral("Type"), raw.NameLiteral("FontDescriptor"))
	desc.Set(raw.NameLiteral("FontName"), raw.NameLiteral(tf.psName))
	desc.Set(raw.NameLiteral("Flags"), raw.NumberInt(tf.flags()))
	desc.Set(raw.NameLiteral("FontBBox"), rectArray(tf.bbox[0], tf.bbox[1], tf.bbox[2], tf.bbox[3]))
	desc.Set(raw.NameLiteral("ItalicAngle"), raw.NumberFloat(tf.italicAngle))
	desc.Set(raw.NameLiteral("Ascent"), raw.NumberFloat(tf.ascent))
	desc.Set(raw.NameLiteral("Descent"), raw.NumberFloat(tf.descent))
	desc.Set(raw.NameLiteral("CapHeight"), raw.NumberFloat(tf.capHeight))
	desc.Set(raw.NameLiteral("StemV"), raw.NumberInt(80))
	desc.Set(raw.NameLiteral("FontFile2"), file)
	descRef := d.addObject(desc)

	csi := raw.Dict()
	csi.Set(raw.NameLiteral("Registry"), raw.Str([]byte("Adobe")))
	csi.Set(raw.NameLiteral("Ordering"), raw.Str([]byte("Identity")))
	csi.Set(raw.NameLiteral("Supplement"), raw.NumberInt(0))
	cid := raw.Dict()
	cid.Set(raw.NameLiteral("Type"), raw.NameLiteral("Font"))
	cid.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("CIDFontType2"))
	cid.Set(raw.NameLiteral("BaseFont"), raw.NameLiteral(tf.psName))
	cid.Set(raw.NameLiteral("CIDSystemInfo"), csi)
	cid.Set(raw.NameLiteral("FontDescriptor"), descRef)
	cid.Set(raw.NameLiteral("CIDToGIDMap"), raw.NameLiteral("Identity"))
	if len(tf.advances) > 0 {
		cid.Set(raw.NameLiteral("DW"), raw.NumberFloat(tf.advances[0]))
	}
	cid.Set(raw.NameLiteral("W"), cidWidths(tf.advances))
	cidRef := d.addObject(cid)

	ef := &embeddedFont{tf: tf, used: make(map[uint16]rune)}
	ef.toUni = d.addObject(plainStream(toUnicodeCMap(tf.psName, ef.used)))

	fnt := raw.Dict()
	fnt.Set(raw.NameLiteral("Type"), raw.NameLiteral("Font"))
	fnt.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("Type0"))
	fnt.Set(raw.NameLiteral("BaseFont"), raw.NameLiteral(tf.psName))
	fnt.Set(raw.NameLiteral("Encoding"), raw.NameLiteral("Identity-H"))
	fnt.Set(raw.NameLiteral("DescendantFonts"), raw.NewArray(cidRef))
	fnt.Set(raw.NameLiteral("ToUnicode"), ef.toUni)
	ef.ref = d.addObject(fnt)
	d.embedded[tf.key] = ef
	return ef
}

// useGlyphs records glyphs drawn with ef and rewrites its ToUnicode CMap when
// new ones appear.
func (d *Document) useGlyphs(ef *embeddedFont, glyphs []faceGlyph) {
	added := false
	for _, g := range glyphs {
		if _, ok := ef.used[g.gid]; !ok {
			ef.used[g.gid] = g.r
			added = true
		}
	}
	if !added {
		return
	}
	d.raw.Objects[ef.toUni.R] = plainStream(toUnicodeCMap(ef.tf.psName, ef.used))
	delete(d.decodedCache, ef.toUni.R)
	delete(d.fonts, ef.ref.R)
}

// cidWidths encodes per-glyph advances as a /W array of "first last width"
// ranges.
func cidWidths(advances []float64) *raw.ArrayObj {
	arr := raw.NewArray()
	for start := 0; start < len(advances); {
		end := start
		for end+1 < len(advances) && advances[end+1] == advances[start] {
			end++
		}
		arr.Append(raw.NumberInt(int64(start)))
		arr.Append(raw.NumberInt(int64(end)))
		arr.Append(raw.NumberFloat(advances[start]))
		start = end + 1
	}
	return arr
}

// toUnicodeCMap maps two-byte glyph ids back to text.
func toUnicodeCMap(name string, used map[uint16]rune) []byte {
	gids := make([]int, 0, len(used))
	for gid := range used {
		gids = append(gids, int(gid))
	}
	sort.Ints(gids)

	var b bytes.Buffer
	b.WriteString("/CIDInit /ProcSet findresource begin\n12 dict begin\nbegincmap\n")
	b.WriteString("/CIDSystemInfo << /Registry (Adobe) /Ordering (UCS) /Supplement 0 >> def\n")
	fmt.Fprintf(&b, "/CMapName /%s-UTF16 def\n/CMapType 2 def\n", name)
	b.WriteString("1 begincodespacerange\n<0000> <FFFF>\nendcodespacerange\n")
	for i := 0; i < len(gids); i += 100 {
		chunk := gids[i:min(i+100, len(gids))]
		fmt.Fprintf(&b, "%d beginbfchar\n", len(chunk))
		for _, gid := range chunk {
			fmt.Fprintf(&b, "<%04X> <", gid)
			for _, u := range utf16.Encode([]rune{used[uint16(gid)]}) {
				fmt.Fprintf(&b, "%04X", u)
			}
			b.WriteString(">\n")
		}
		b.WriteString("endbfchar\n")
	}
	b.WriteString("endcmap\nCMapName currentdict /CMap defineresource pop\nend\nend\n")
	return b.Bytes()
}
