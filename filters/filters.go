// Package filters decodes PDF stream filters.
package filters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wudi/pdfnormalize/ir/raw"
)

type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params raw.Dictionary) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
	MaxDecodeTime       time.Duration
}

var (
	ErrUnknownFilter = errors.New("unknown filter")
	ErrTooLarge      = errors.New("decompressed size exceeds limit")
)

type Pipeline struct {
	decoders []Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	return &Pipeline{decoders: decoders, limits: limits}
}

// Default decodes every filter that carries general data. Image codecs such as
// DCTDecode are not included; their streams are never read as content.
func Default() *Pipeline {
	return NewPipeline([]Decoder{
		NewFlateDecoder(),
		NewLZWDecoder(),
		NewASCII85Decoder(),
		NewASCIIHexDecoder(),
		NewRunLengthDecoder(),
	}, Limits{MaxDecompressedSize: 256 << 20, MaxDecodeTime: 30 * time.Second})
}

func (p *Pipeline) findDecoder(name string) Decoder {
	for _, d := range p.decoders {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// Decode applies filterNames in order; params[i] belongs to filterNames[i].
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []raw.Dictionary) ([]byte, error) {
	if p.limits.MaxDecodeTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.limits.MaxDecodeTime)
		defer cancel()
	}
	data := input
	for i, name := range filterNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dec := p.findDecoder(name)
		if dec == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFilter, name)
		}
		var param raw.Dictionary
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, ErrTooLarge
		}
		data = out
	}
	return data, nil
}

// ExtractFilters reads Filter and DecodeParms entries from a stream dictionary.
// A null DecodeParms entry keeps its slot so parameters stay aligned.
func ExtractFilters(dict raw.Dictionary) ([]string, []raw.Dictionary) {
	var names []string
	var params []raw.Dictionary

	filterObj, ok := dict.Get(raw.NameLiteral("Filter"))
	if !ok {
		return names, params
	}
	switch f := filterObj.(type) {
	case raw.Name:
		names = append(names, f.Value())
	case *raw.ArrayObj:
		for _, item := range f.Items {
			if n, ok := item.(raw.Name); ok {
				names = append(names, n.Value())
			}
		}
	}
	if len(names) == 0 {
		return names, params
	}
	if pObj, ok := dict.Get(raw.NameLiteral("DecodeParms")); ok {
		switch p := pObj.(type) {
		case raw.Dictionary:
			params = append(params, p)
		case *raw.ArrayObj:
			for _, item := range p.Items {
				d, _ := item.(raw.Dictionary)
				params = append(params, d)
			}
		}
	}
	return names, params
}

func intParam(params raw.Dictionary, key string, def int) int {
	if params == nil {
		return def
	}
	v, ok := params.Get(raw.NameLiteral(key))
	if !ok {
		return def
	}
	if n, ok := v.(raw.Number); ok {
		return int(n.Int())
	}
	return def
}
