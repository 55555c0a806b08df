package pdfengine

import (
	"context"
	"fmt"

	"github.com/wudi/pdfnormalize/filters"
	"github.com/wudi/pdfnormalize/ir/raw"
)

const maxResolveDepth = 32

// resolve follows indirect references until it reaches a direct object.
// Dangling references resolve to nil.
func (d *Document) resolve(obj raw.Object) raw.Object {
	for i := 0; i < maxResolveDepth; i++ {
		ref, ok := obj.(raw.Reference)
		if !ok {
			return obj
		}
		next, ok := d.raw.Objects[ref.Ref()]
		if !ok {
			return nil
		}
		obj = next
	}
	return nil
}

func (d *Document) dict(obj raw.Object) *raw.DictObj {
	switch v := d.resolve(obj).(type) {
	case *raw.DictObj:
		return v
	case *raw.StreamObj:
		return v.Dict
	}
	return nil
}

func (d *Document) array(obj raw.Object) *raw.ArrayObj {
	a, _ := d.resolve(obj).(*raw.ArrayObj)
	return a
}

func (d *Document) get(dict *raw.DictObj, key string) raw.Object {
	if dict == nil {
		return nil
	}
	v, ok := dict.KV[key]
	if !ok {
		return nil
	}
	return d.resolve(v)
}

func (d *Document) getDict(dict *raw.DictObj, key string) *raw.DictObj {
	if dict == nil {
		return nil
	}
	return d.dict(dict.KV[key])
}

func (d *Document) getName(dict *raw.DictObj, key string) string {
	return nameOf(d.get(dict, key))
}

func (d *Document) getNumber(dict *raw.DictObj, key string, def float64) float64 {
	if v, ok := numberOf(d.get(dict, key)); ok {
		return v
	}
	return def
}

func nameOf(obj raw.Object) string {
	if n, ok := obj.(raw.Name); ok {
		return n.Value()
	}
	return ""
}

func numberOf(obj raw.Object) (float64, bool) {
	if n, ok := obj.(raw.Number); ok {
		return n.Float(), true
	}
	return 0, false
}

func stringOf(obj raw.Object) ([]byte, bool) {
	if s, ok := obj.(raw.String); ok {
		return s.Value(), true
	}
	return nil, false
}

// numbers reads an array of numbers; non-numeric items make it fail.
func (d *Document) numbers(obj raw.Object) ([]float64, bool) {
	arr := d.array(obj)
	if arr == nil {
		return nil, false
	}
	out := make([]float64, 0, arr.Len())
	for _, it := range arr.Items {
		v, ok := numberOf(d.resolve(it))
		if !ok {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

// streamData returns the decoded bytes of a stream object.
func (d *Document) streamData(ctx context.Context, obj raw.Object) ([]byte, error) {
	var key raw.ObjectRef
	if ref, ok := obj.(raw.Reference); ok {
		key = ref.Ref()
		if data, ok := d.decodedCache[key]; ok {
			return data, nil
		}
	}
	s, ok := d.resolve(obj).(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("object %v is not a stream", obj)
	}
	data := s.Data
	if s.Dict == nil {
		return data, nil
	}
	names, params := filters.ExtractFilters(s.Dict)
	if len(names) > 0 {
		out, err := d.filters.Decode(ctx, data, names, params)
		if err != nil {
			return nil, fmt.Errorf("decode %v: %w", names, err)
		}
		data = out
	}
	if key != (raw.ObjectRef{}) {
		d.decodedCache[key] = data
	}
	return data, nil
}

// contentOf concatenates the decoded streams of a /Contents value, separated by
// a newline so tokens cannot run together across streams.
func (d *Document) contentOf(ctx context.Context, obj raw.Object) ([]byte, error) {
	var out []byte
	appendStream := func(o raw.Object) error {
		data, err := d.streamData(ctx, o)
		if err != nil {
			return err
		}
		out = append(out, data...)
		out = append(out, '\n')
		return nil
	}
	switch v := d.resolve(obj).(type) {
	case nil:
		return nil, nil
	case *raw.ArrayObj:
		for _, it := range v.Items {
			if err := appendStream(it); err != nil {
				return nil, err
			}
		}
	case *raw.StreamObj:
		if err := appendStream(obj); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unexpected contents type %s", v.Type())
	}
	return out, nil
}

// addObject stores obj under a fresh object number.
func (d *Document) addObject(obj raw.Object) raw.RefObj {
	d.nextNum++
	ref := raw.ObjectRef{Num: d.nextNum, Gen: 0}
	d.raw.Objects[ref] = obj
	return raw.RefObj{R: ref}
}

// shallowCopy copies the top level of a dictionary.
func shallowCopy(src *raw.DictObj) *raw.DictObj {
	dst := raw.Dict()
	if src == nil {
		return dst
	}
	for k, v := range src.KV {
		dst.KV[k] = v
	}
	return dst
}

func rectArray(x0, y0, x1, y1 float64) *raw.ArrayObj {
	return raw.NewArray(raw.NumberFloat(x0), raw.NumberFloat(y0), raw.NumberFloat(x1), raw.NumberFloat(y1))
}

// deepCopy copies the containers of obj so the copy can be rewritten without
// touching the original. Stream data is shared.
func deepCopy(obj raw.Object) raw.Object {
	switch v := obj.(type) {
	case *raw.DictObj:
		dst := raw.Dict()
		for k, it := range v.KV {
			dst.KV[k] = deepCopy(it)
		}
		return dst
	case *raw.ArrayObj:
		dst := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, it := range v.Items {
			dst.Items[i] = deepCopy(it)
		}
		return dst
	case *raw.StreamObj:
		var dict *raw.DictObj
		if v.Dict != nil {
			dict = deepCopy(v.Dict).(*raw.DictObj)
		}
		return raw.NewStream(dict, v.Data)
	}
	return obj
}
