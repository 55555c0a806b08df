package pdfengine

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var glyphNames = map[string]string{
	"space": " ", "exclam": "!", "quotedbl": "\"", "numbersign": "#", "dollar": "$",
	"percent": "%", "ampersand": "&", "quotesingle": "'", "quoteright": "’",
	"parenleft": "(", "parenright": ")", "asterisk": "*", "plus": "+", "comma": ",",
	"hyphen": "-", "period": ".", "slash": "/", "zero": "0", "one": "1", "two": "2",
	"three": "3", "four": "4", "five": "5", "six": "6", "seven": "7", "eight": "8",
	"nine": "9", "colon": ":", "semicolon": ";", "less": "<", "equal": "=",
	"greater": ">", "question": "?", "at": "@", "bracketleft": "[", "backslash": "\\",
	"bracketright": "]", "asciicircum": "^", "underscore": "_", "grave": "`",
	"quoteleft": "‘", "braceleft": "{", "bar": "|", "braceright": "}",
	"asciitilde": "~", "bullet": "•", "endash": "–", "emdash": "—",
	"quotedblleft": "“", "quotedblright": "”", "quotesinglbase": "‚",
	"quotedblbase": "„", "ellipsis": "…", "dagger": "†", "daggerdbl": "‡",
	"fi": "fi", "fl": "fl", "ff": "ff", "ffi": "ffi", "ffl": "ffl", "trademark": "™",
	"copyright": "©", "registered": "®", "degree": "°", "section": "§",
	"paragraph": "¶", "periodcentered": "·", "nbspace": "\u00a0", "minus": "−",
	"Euro": "€", "florin": "ƒ", "perthousand": "‰", "dotlessi": "ı",
	"germandbls": "ß", "ae": "æ", "AE": "Æ", "oslash": "ø", "Oslash": "Ø",
	"eth": "ð", "Eth": "Ð", "thorn": "þ", "Thorn": "Þ", "oe": "œ", "OE": "Œ",
	"lslash": "ł", "Lslash": "Ł", "exclamdown": "¡", "questiondown": "¿",
	"guillemotleft": "«", "guillemotright": "»", "guilsinglleft": "‹",
	"guilsinglright": "›", "cent": "¢", "sterling": "£", "yen": "¥",
	"currency": "¤", "brokenbar": "¦", "dieresis": "¨", "ordfeminine": "ª",
	"ordmasculine": "º", "logicalnot": "¬", "macron": "¯", "plusminus": "±",
	"twosuperior": "²", "threesuperior": "³", "acute": "´", "mu": "µ",
	"onesuperior": "¹", "onequarter": "¼", "onehalf": "½", "threequarters": "¾",
	"multiply": "×", "divide": "÷", "circumflex": "ˆ", "tilde": "˜", "caron": "ˇ",
	"cedilla": "¸", "ring": "˚", "hyphensoft": "\u00ad", "sfthyphen": "\u00ad",
	"fraction": "⁄", "breve": "˘", "dotaccent": "˙", "hungarumlaut": "˝", "ogonek": "˛",
}

// standardHigh is Adobe StandardEncoding above 0x7e. Codes not listed are unused.
var standardHigh = map[byte]string{
	0xa1: "exclamdown", 0xa2: "cent", 0xa3: "sterling", 0xa4: "fraction", 0xa5: "yen",
	0xa6: "florin", 0xa7: "section", 0xa8: "currency", 0xa9: "quotesingle",
	0xaa: "quotedblleft", 0xab: "guillemotleft", 0xac: "guilsinglleft",
	0xad: "guilsinglright", 0xae: "fi", 0xaf: "fl",
	0xb1: "endash", 0xb2: "dagger", 0xb3: "daggerdbl", 0xb4: "periodcentered",
	0xb6: "paragraph", 0xb7: "bullet", 0xb8: "quotesinglbase", 0xb9: "quotedblbase",
	0xba: "quotedblright", 0xbb: "guillemotright", 0xbc: "ellipsis", 0xbd: "perthousand",
	0xbf: "questiondown",
	0xc1: "grave", 0xc2: "acute", 0xc3: "circumflex", 0xc4: "tilde", 0xc5: "macron",
	0xc6: "breve", 0xc7: "dotaccent", 0xc8: "dieresis", 0xca: "ring", 0xcb: "cedilla",
	0xcd: "hungarumlaut", 0xce: "ogonek", 0xcf: "caron",
	0xd0: "emdash",
	0xe1: "AE", 0xe3: "ordfeminine", 0xe8: "Lslash", 0xe9: "Oslash", 0xea: "OE",
	0xeb: "ordmasculine",
	0xf1: "ae", 0xf5: "dotlessi", 0xf8: "lslash", 0xf9: "oslash", 0xfa: "oe",
	0xfb: "germandbls",
}

var accents = map[string]rune{
	"acute": '\u0301', "grave": '\u0300', "circumflex": '\u0302', "dieresis": '\u0308',
	"tilde": '\u0303', "ring": '\u030a', "cedilla": '\u0327', "caron": '\u030c',
	"macron": '\u0304', "breve": '\u0306', "dotaccent": '\u0307', "ogonek": '\u0328',
	"hungarumlaut": '\u030b',
}

// glyphText maps a glyph name to its text, following the Adobe glyph naming
// conventions for the common Latin set, uniXXXX and uXXXX[XX] names, and
// letter+accent names composed to NFC.
func glyphText(name string) string {
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	if s, ok := glyphNames[name]; ok {
		return s
	}
	if len(name) == 1 {
		return name
	}
	if strings.Contains(name, "_") {
		var b strings.Builder
		for _, part := range strings.Split(name, "_") {
			b.WriteString(glyphText(part))
		}
		return b.String()
	}
	if strings.HasPrefix(name, "uni") && len(name) >= 7 {
		var out []rune
		for rest := name[3:]; len(rest) >= 4; rest = rest[4:] {
			v, err := strconv.ParseUint(rest[:4], 16, 32)
			if err != nil {
				break
			}
			out = append(out, rune(v))
		}
		if len(out) > 0 {
			return string(out)
		}
	}
	if strings.HasPrefix(name, "u") && len(name) >= 5 && len(name) <= 7 {
		if v, err := strconv.ParseUint(name[1:], 16, 32); err == nil {
			return string(rune(v))
		}
	}
	if len(name) > 1 {
		base, accent := name[:1], name[1:]
		if mark, ok := accents[accent]; ok {
			return norm.NFC.String(base + string(mark))
		}
	}
	return ""
}

// stdMetrics approximates standard-14 font widths for fonts without /Widths.
type stdMetrics struct {
	widths map[rune]float64
	// fixed is the advance of every glyph in a monospaced font
	fixed float64
}

func (m *stdMetrics) width(text string) float64 {
	var total float64
	for _, r := range text {
		if m.fixed > 0 {
			total += m.fixed
			continue
		}
		if w, ok := m.widths[r]; ok {
			total += w
			continue
		}
		total += 556
	}
	return total
}

var courierMetrics = &stdMetrics{fixed: 600}

// Helvetica advance widths for printable ASCII, from the Adobe AFM files.
var helveticaMetrics = func() *stdMetrics {
	widths := []float64{
		278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278, // ' ' .. '/'
		556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556, // '0' .. '?'
		1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778, // '@' .. 'O'
		667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556, // 'P' .. '_'
		333, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556, // '`' .. 'o'
		556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584, // 'p' .. '~'
	}
	m := &stdMetrics{widths: make(map[rune]float64, len(widths)+4)}
	for i, w := range widths {
		m.widths[rune(' '+i)] = w
	}
	m.widths['\u2019'] = 222
	m.widths['\u2018'] = 222
	m.widths['\u2022'] = 350
	m.widths['\u00a0'] = 278
	return m
}()

func stdMetricsFor(baseFont string) *stdMetrics {
	if strings.HasPrefix(stripSubset(baseFont), "Courier") {
		return courierMetrics
	}
	return helveticaMetrics
}
