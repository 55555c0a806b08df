package pdfengine

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/wudi/pdfnormalize/ir/raw"
	"github.com/wudi/pdfnormalize/scanner"
)

// formatNumber writes f with at most six decimals and no trailing zeros.
func formatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	s := strconv.FormatFloat(f, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

// encodeName writes a name object, escaping delimiters and non-printing bytes.
func encodeName(name string) string {
	var b strings.Builder
	b.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 33 || c > 126 || c == '#' || scanner.IsDelim(c) {
			fmt.Fprintf(&b, "#%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// literalString escapes s for a (...) string. Strings with binary content
// are written in hex form instead.
func literalString(s []byte) string {
	for _, c := range s {
		if (c < 32 && c != '\n' && c != '\r' && c != '\t') || c > 126 {
			return hexLiteral(s)
		}
	}
	var b strings.Builder
	b.WriteByte('(')
	for _, c := range s {
		switch c {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte(')')
	return b.String()
}

// serializer writes objects with references renumbered through refs. A
// reference to an object that is not written becomes null.
type serializer struct {
	refs map[raw.ObjectRef]raw.ObjectRef
}

func (s *serializer) write(b *bytes.Buffer, obj raw.Object) {
	switch v := obj.(type) {
	case nil:
		b.WriteString("null")
	case raw.Reference:
		if to, ok := s.refs[v.Ref()]; ok {
			fmt.Fprintf(b, "%d %d R", to.Num, to.Gen)
		} else {
			b.WriteString("null")
		}
	case raw.Name:
		b.WriteString(encodeName(v.Value()))
	case raw.Number:
		if v.IsInteger() {
			b.WriteString(strconv.FormatInt(v.Int(), 10))
		} else {
			b.WriteString(formatNumber(v.Float()))
		}
	case raw.Boolean:
		b.WriteString(strconv.FormatBool(v.Value()))
	case raw.String:
		if v.IsHex() {
			b.WriteString(hexLiteral(v.Value()))
		} else {
			b.WriteString(literalString(v.Value()))
		}
	case raw.Array:
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteByte(' ')
			}
			it, _ := v.Get(i)
			s.write(b, it)
		}
		b.WriteByte(']')
	case raw.Dictionary:
		s.writeDict(b, v, nil)
	case raw.Stream:
		s.writeStream(b, v)
	default:
		b.WriteString("null")
	}
}

// writeDict writes d with keys sorted; override replaces or adds entries.
func (s *serializer) writeDict(b *bytes.Buffer, d raw.Dictionary, override map[string]raw.Object) {
	entries := make(map[string]raw.Object, d.Len()+len(override))
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		entries[k.Value()] = v
	}
	for k, v := range override {
		entries[k] = v
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("<<")
	for _, k := range keys {
		b.WriteString(encodeName(k))
		b.WriteByte(' ')
		s.write(b, entries[k])
	}
	b.WriteString(">>")
}

func (s *serializer) writeStream(b *bytes.Buffer, st raw.Stream) {
	data := st.RawData()
	var dict raw.Dictionary = raw.Dict()
	if d := st.Dictionary(); d != nil {
		dict = d
	}
	s.writeDict(b, dict, map[string]raw.Object{"Length": raw.NumberInt(int64(len(data)))})
	b.WriteString("\nstream\n")
	b.Write(data)
	b.WriteString("\nendstream")
}

// writeFile writes a complete PDF with a classic cross-reference table.
// objects must already be numbered as they will appear in the file.
func writeFile(version string, objects map[raw.ObjectRef]raw.Object, trailer *raw.DictObj, s *serializer) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", version)

	ordered := make([]raw.ObjectRef, 0, len(objects))
	for ref := range objects {
		ordered = append(ordered, ref)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Num < ordered[j].Num })

	offsets := make(map[int]int, len(ordered))
	gens := make(map[int]int, len(ordered))
	maxNum := 0
	for _, ref := range ordered {
		offsets[ref.Num] = b.Len()
		gens[ref.Num] = ref.Gen
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
		fmt.Fprintf(&b, "%d %d obj\n", ref.Num, ref.Gen)
		s.write(&b, objects[ref])
		b.WriteString("\nendobj\n")
	}

	xrefOffset := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", maxNum+1)
	b.WriteString("0000000000 65535 f \n")
	for num := 1; num <= maxNum; num++ {
		if off, ok := offsets[num]; ok {
			fmt.Fprintf(&b, "%010d %05d n \n", off, gens[num])
		} else {
			b.WriteString("0000000000 00001 f \n")
		}
	}
	b.WriteString("trailer\n")
	s.writeDict(&b, trailer, map[string]raw.Object{"Size": raw.NumberInt(int64(maxNum + 1))})
	fmt.Fprintf(&b, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return b.Bytes()
}
