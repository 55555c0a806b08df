package scanner

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfnormalize/ir/raw"
)

func readAll(t *testing.T, src string, cfg Config) []raw.Object {
	t.Helper()
	s := New([]byte(src), cfg)
	var out []raw.Object
	for {
		tok, err := s.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if tok.Kind == EOF {
			return out
		}
		if tok.Kind == Keyword {
			out = append(out, raw.NameLiteral("kw:"+tok.Word))
			continue
		}
		obj, err := s.ReadObject(tok)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		out = append(out, obj)
	}
}

func TestReferencesOnlyWhenEnabled(t *testing.T) {
	src := "1 0 0 RG 12 0 R [3 0 R] 4 5"
	got := readAll(t, src, Config{Refs: true})
	want := []raw.Object{
		raw.NumberInt(1), raw.NumberInt(0), raw.NumberInt(0), raw.NameLiteral("kw:RG"),
		raw.Ref(12, 0),
		raw.NewArray(raw.Ref(3, 0)),
		raw.NumberInt(4), raw.NumberInt(5),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("with refs (-want +got):\n%s", diff)
	}

	got = readAll(t, "12 0 R", Config{})
	want = []raw.Object{raw.NumberInt(12), raw.NumberInt(0), raw.NameLiteral("kw:R")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("without refs (-want +got):\n%s", diff)
	}
}

func TestDictionaryWithReferences(t *testing.T) {
	got := readAll(t, "<< /Type /Page /Parent 2 0 R /Kids [] /Name (a\\)b) /Hex <41 42> >>", Config{Refs: true})
	d, ok := got[0].(*raw.DictObj)
	if len(got) != 1 || !ok {
		t.Fatalf("got %#v", got)
	}
	want := map[string]raw.Object{
		"Type":   raw.NameLiteral("Page"),
		"Parent": raw.Ref(2, 0),
		"Kids":   raw.NewArray(),
		"Name":   raw.Str([]byte("a)b")),
		"Hex":    raw.HexStr([]byte("AB")),
	}
	if diff := cmp.Diff(want, d.KV); diff != "" {
		t.Fatalf("dict (-want +got):\n%s", diff)
	}
}

func TestParseNumberTolerance(t *testing.T) {
	cases := map[string]float64{"12": 12, "-3.5": -3.5, ".5": 0.5, "4.": 4, "--2": -2}
	for in, want := range cases {
		n, ok := ParseNumber(in)
		if !ok || n.Float() != want {
			t.Errorf("ParseNumber(%q) = %v, %v; want %v", in, n.Float(), ok, want)
		}
	}
	if _, ok := ParseNumber("1a"); ok {
		t.Errorf("1a parsed as a number")
	}
}

func TestStreamData(t *testing.T) {
	cases := []struct {
		name   string
		src    string
		length int
		want   string
	}{
		{"declared length", "stream\r\nab\nendstream rest", 3, "ab\n"},
		{"wrong length", "stream\nabc\nendstream rest", 10, "abc"},
		{"unknown length", "stream\nabc\r\nendstream rest", -1, "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New([]byte(tc.src), Config{})
			if tok, err := s.Next(); err != nil || tok.Word != "stream" {
				t.Fatalf("stream keyword: %+v %v", tok, err)
			}
			data, err := s.StreamData(tc.length)
			if err != nil {
				t.Fatalf("stream data: %v", err)
			}
			if string(data) != tc.want {
				t.Fatalf("data = %q, want %q", data, tc.want)
			}
			if tok, _ := s.Next(); tok.Word != "rest" {
				t.Fatalf("next token = %+v", tok)
			}
		})
	}
	s := New([]byte("stream\nno end"), Config{})
	s.Next()
	if _, err := s.StreamData(-1); err == nil {
		t.Fatalf("expected error for missing endstream")
	}
}

func TestUnbalancedComposites(t *testing.T) {
	for _, src := range []string{"[1 2", "<< /A 1", "<< 1 2 >>", "[1 >>"} {
		s := New([]byte(src), Config{})
		tok, _ := s.Next()
		if _, err := s.ReadObject(tok); err == nil {
			t.Errorf("%q: expected error", src)
		}
	}
}
