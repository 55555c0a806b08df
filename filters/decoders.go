package filters

import (
	"bytes"
	"compress/flate"
	stdlzw "compress/lzw"
	"compress/zlib"
	"context"
	stdascii85 "encoding/ascii85"
	"errors"
	"fmt"
	"io"

	"golang.org/x/image/tiff/lzw"

	"github.com/wudi/pdfnormalize/ir/raw"
)

type flateDecoder struct{}

func NewFlateDecoder() Decoder { return flateDecoder{} }

func (flateDecoder) Name() string { return "FlateDecode" }

// Decode keeps whatever inflated before a truncated or corrupt tail, which is
// how viewers treat damaged streams.
func (flateDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		// some producers omit the zlib header
		r = flate.NewReader(bytes.NewReader(in))
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && out.Len() == 0 {
		return nil, err
	}
	return unpredict(out.Bytes(), params)
}

type lzwDecoder struct{}

func NewLZWDecoder() Decoder { return lzwDecoder{} }

func (lzwDecoder) Name() string { return "LZWDecode" }

// Decode uses the TIFF variant of LZW for the default EarlyChange 1, and the
// plain variant when a stream sets EarlyChange 0.
func (lzwDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	var r io.ReadCloser
	if intParam(params, "EarlyChange", 1) == 0 {
		r = stdlzw.NewReader(bytes.NewReader(in), stdlzw.MSB, 8)
	} else {
		r = lzw.NewReader(bytes.NewReader(in), lzw.MSB, 8)
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && out.Len() == 0 {
		return nil, err
	}
	return unpredict(out.Bytes(), params)
}

type ascii85Decoder struct{}

func NewASCII85Decoder() Decoder { return ascii85Decoder{} }

func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	trimmed = bytes.TrimPrefix(trimmed, []byte("<~"))
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	out := make([]byte, len(trimmed)*4/5+4*bytes.Count(trimmed, []byte("z"))+4)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

type asciiHexDecoder struct{}

func NewASCIIHexDecoder() Decoder { return asciiHexDecoder{} }

func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

func (asciiHexDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	out := make([]byte, 0, len(in)/2)
	var hi byte
	half := false
	for _, c := range in {
		if c == '>' {
			break
		}
		v, ok := hexValue(c)
		if !ok {
			if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == 0 {
				continue
			}
			return nil, fmt.Errorf("invalid hex digit %q", c)
		}
		if half {
			out = append(out, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	// An odd final digit is followed by an implied 0.
	if half {
		out = append(out, hi<<4)
	}
	return out, nil
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

type runLengthDecoder struct{}

func NewRunLengthDecoder() Decoder { return runLengthDecoder{} }

func (runLengthDecoder) Name() string { return "RunLengthDecode" }

func (runLengthDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	var out []byte
	for i := 0; i < len(in); {
		n := int(in[i])
		i++
		switch {
		case n == 128:
			return out, nil
		case n < 128:
			end := i + n + 1
			if end > len(in) {
				return nil, errors.New("run length literal overruns input")
			}
			out = append(out, in[i:end]...)
			i = end
		default:
			if i >= len(in) {
				return nil, errors.New("run length repeat without byte")
			}
			out = append(out, bytes.Repeat(in[i:i+1], 257-n)...)
			i++
		}
	}
	return out, nil
}
