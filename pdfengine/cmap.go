package pdfengine

import (
	xunicode "golang.org/x/text/encoding/unicode"

	"github.com/wudi/pdfnormalize/ir/raw"
	"github.com/wudi/pdfnormalize/scanner"
)

// toUnicode maps character codes (as raw byte strings) to text.
type toUnicode struct {
	entries map[string]string
}

var utf16be = xunicode.UTF16(xunicode.BigEndian, xunicode.IgnoreBOM)

func decodeUTF16BE(b []byte) string {
	out, err := utf16be.NewDecoder().Bytes(b)
	if err != nil {
		return string([]rune{0xfffd})
	}
	return string(out)
}

// parseToUnicode reads the bfchar and bfrange sections of a CMap.
// Everything else in the program is ignored.
func parseToUnicode(data []byte) *toUnicode {
	m := &toUnicode{entries: make(map[string]string)}
	s := scanner.New(data, scanner.Config{})

	// operands collects the values between a begin and end keyword.
	var operands []raw.Object
	section := ""
	for {
		tok, err := s.Next()
		if err != nil || tok.Kind == scanner.EOF {
			break
		}
		if tok.Kind == scanner.Keyword {
			switch tok.Word {
			case "begincodespacerange", "beginbfchar", "beginbfrange":
				section = tok.Word
				operands = operands[:0]
			case "endcodespacerange":
				section = ""
			case "endbfchar":
				for i := 0; i+1 < len(operands); i += 2 {
					src, ok := stringOf(operands[i])
					if !ok || len(src) == 0 {
						continue
					}
					m.entries[string(src)] = cmapTarget(operands[i+1])
				}
				section = ""
			case "endbfrange":
				for i := 0; i+2 < len(operands); i += 3 {
					m.addRange(operands[i], operands[i+1], operands[i+2])
				}
				section = ""
			}
			continue
		}
		v, err := s.ReadObject(tok)
		if err != nil {
			break
		}
		if section != "" {
			operands = append(operands, v)
		}
	}
	return m
}

func cmapTarget(obj raw.Object) string {
	if b, ok := stringOf(obj); ok {
		return decodeUTF16BE(b)
	}
	if n := nameOf(obj); n != "" {
		return glyphText(n)
	}
	return ""
}

// maxRangeSpan bounds bfrange expansion for malformed CMaps.
const maxRangeSpan = 1 << 16

func (m *toUnicode) addRange(loObj, hiObj, dst raw.Object) {
	lo, ok1 := stringOf(loObj)
	hi, ok2 := stringOf(hiObj)
	if !ok1 || !ok2 || len(lo) == 0 || len(lo) != len(hi) {
		return
	}
	start, end := bytesToInt(lo), bytesToInt(hi)
	if end < start || end-start > maxRangeSpan {
		return
	}
	if arr, ok := dst.(*raw.ArrayObj); ok {
		for i := 0; i <= end-start && i < len(arr.Items); i++ {
			m.entries[string(intToBytes(start+i, len(lo)))] = cmapTarget(arr.Items[i])
		}
		return
	}
	base, ok := stringOf(dst)
	if !ok || len(base) == 0 {
		return
	}
	for i := 0; i <= end-start; i++ {
		target := append([]byte(nil), base...)
		// Only the last byte pair is incremented; carry into the previous byte.
		v := int(target[len(target)-1]) + i
		target[len(target)-1] = byte(v)
		if len(target) >= 2 {
			target[len(target)-2] += byte(v >> 8)
		}
		m.entries[string(intToBytes(start+i, len(lo)))] = decodeUTF16BE(target)
	}
}

// lookup returns the text for a code and whether it was mapped.
func (m *toUnicode) lookup(code []byte) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m.entries[string(code)]
	return s, ok
}

func bytesToInt(b []byte) int {
	v := 0
	for _, c := range b {
		v = v<<8 | int(c)
	}
	return v
}

func intToBytes(v, n int) []byte {
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}
