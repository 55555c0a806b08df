package pdfengine

import "testing"

func TestGlyphText(t *testing.T) {
	cases := map[string]string{
		"A":          "A",
		"space":      " ",
		"quoteright": "’",
		"uni20AC":    "€",
		"u1F600":     "\U0001F600",
		"eacute":     "é",
		"Adieresis":  "Ä",
		"a.sc":       "a",
		"f_i":        "fi",
		"fi":         "fi",
	}
	for name, want := range cases {
		if got := glyphText(name); got != want {
			t.Errorf("glyphText(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestStandardMetrics(t *testing.T) {
	if got := stdMetricsFor("Courier-Bold").width("Hello"); got != 3000 {
		t.Errorf("Courier width = %v", got)
	}
	if got := stdMetricsFor("ABCDEF+Helvetica").width("Hi"); got != 722+222 {
		t.Errorf("Helvetica width = %v", got)
	}
}

func TestBaseEncodings(t *testing.T) {
	cases := []struct {
		encoding string
		code     byte
		want     string
	}{
		{"StandardEncoding", 'A', "A"},
		{"StandardEncoding", '\'', "’"},
		{"StandardEncoding", 0xa4, "⁄"},
		{"StandardEncoding", 0xa9, "'"},
		{"StandardEncoding", 0xe1, "Æ"},
		{"StandardEncoding", 0xf5, "ı"},
		{"StandardEncoding", 0xfb, "ß"},
		{"StandardEncoding", 0x80, ""},
		{"StandardEncoding", 0xe8, "Ł"},
		{"WinAnsiEncoding", 0x80, "€"},
		{"WinAnsiEncoding", 0xe1, "á"},
		{"MacRomanEncoding", 0x8e, "é"},
	}
	for _, tc := range cases {
		if got := baseEncoding(tc.encoding)[tc.code]; got != tc.want {
			t.Errorf("%s[%#x] = %q, want %q", tc.encoding, tc.code, got, tc.want)
		}
	}
}
