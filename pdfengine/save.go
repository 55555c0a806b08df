package pdfengine

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/wudi/pdfnormalize/engine"
	"github.com/wudi/pdfnormalize/ir/raw"
	"github.com/wudi/pdfnormalize/observability"
	"github.com/wudi/pdfnormalize/optimize"
)

const defaultVersion = "1.7"

// Save writes the document as a new file. Garbage levels follow the usual
// meaning: 1 drops unreachable objects, 2 also renumbers them densely, 3 also
// merges identical streams and 4 merges all identical objects except page
// tree nodes. The open document is left usable.
func (d *Document) Save(ctx context.Context, w io.Writer, opts engine.SaveOptions) error {
	if d.closed {
		return engine.ErrClosed
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	snap := &raw.Document{
		Objects: make(map[raw.ObjectRef]raw.Object, len(d.raw.Objects)),
		Trailer: d.saveTrailer(),
		Version: d.raw.Version,
	}
	for ref, obj := range d.raw.Objects {
		if isXRefMachinery(obj) {
			continue
		}
		// merging rewrites references inside objects
		if opts.Garbage >= 3 {
			obj = deepCopy(obj)
		}
		snap.Objects[ref] = obj
	}

	if opts.Garbage >= 1 {
		if err := d.collect(ctx, snap, opts.Garbage); err != nil {
			return fmt.Errorf("garbage collect: %w", err)
		}
	}
	if opts.Deflate {
		deflateStreams(snap)
	}
	refs := identityNumbers(snap.Objects)
	if opts.Garbage >= 2 {
		refs = denseNumbers(snap.Objects)
	}
	objects := make(map[raw.ObjectRef]raw.Object, len(snap.Objects))
	for from, obj := range snap.Objects {
		objects[refs[from]] = obj
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	version := strings.TrimPrefix(snap.Version, "PDF-")
	if version == "" {
		version = defaultVersion
	}
	out := writeFile(version, objects, snap.Trailer.(*raw.DictObj), &serializer{refs: refs})
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	d.logger.Debug("document saved",
		observability.Int("objects", len(objects)),
		observability.Int("bytes", len(out)),
		observability.Int("garbage", opts.Garbage),
		observability.String("deflate", fmt.Sprint(opts.Deflate)))
	return nil
}

// saveTrailer keeps the trailer entries that survive a full rewrite.
func (d *Document) saveTrailer() *raw.DictObj {
	t := raw.Dict()
	for _, key := range []string{"Root", "Info", "ID"} {
		if v, ok := d.raw.Trailer.Get(raw.NameLiteral(key)); ok {
			t.Set(raw.NameLiteral(key), v)
		}
	}
	return t
}

func isXRefMachinery(obj raw.Object) bool {
	s, ok := obj.(*raw.StreamObj)
	if !ok || s.Dict == nil {
		return false
	}
	switch nameOf(s.Dict.KV["Type"]) {
	case "XRef", "ObjStm":
		return true
	}
	return false
}

// collect prunes and merges the snapshot's objects. The open document keeps
// all of its own.
func (d *Document) collect(ctx context.Context, snap *raw.Document, level int) error {
	before := len(snap.Objects)
	opt := optimize.New(optimize.Config{
		CleanUnusedResources:            true,
		CombineDuplicateStreams:         level >= 3,
		CombineIdenticalIndirectObjects: level >= 4,
	})
	if err := opt.Optimize(ctx, snap); err != nil {
		return err
	}
	d.logger.Debug("unused objects dropped",
		observability.Int("before", before),
		observability.Int("after", len(snap.Objects)))
	return nil
}

// deflateStreams compresses unfiltered streams when that makes them smaller.
// Compressed copies replace the snapshot entries; the originals are untouched.
func deflateStreams(snap *raw.Document) {
	for ref, obj := range snap.Objects {
		s, ok := obj.(*raw.StreamObj)
		if !ok || len(s.Data) == 0 {
			continue
		}
		if s.Dict != nil {
			if _, filtered := s.Dict.KV["Filter"]; filtered {
				continue
			}
		}
		var b bytes.Buffer
		zw, err := zlib.NewWriterLevel(&b, zlib.BestCompression)
		if err != nil {
			continue
		}
		if _, err := zw.Write(s.Data); err != nil {
			zw.Close()
			continue
		}
		if err := zw.Close(); err != nil || b.Len() >= len(s.Data) {
			continue
		}
		dict := shallowCopy(s.Dict)
		dict.Set(raw.NameLiteral("Filter"), raw.NameLiteral("FlateDecode"))
		delete(dict.KV, "DecodeParms")
		snap.Objects[ref] = raw.NewStream(dict, b.Bytes())
	}
}

func identityNumbers(objects map[raw.ObjectRef]raw.Object) map[raw.ObjectRef]raw.ObjectRef {
	refs := make(map[raw.ObjectRef]raw.ObjectRef, len(objects))
	for ref := range objects {
		refs[ref] = ref
	}
	return refs
}

// denseNumbers renumbers objects 1..n in their original order, generation 0.
func denseNumbers(objects map[raw.ObjectRef]raw.Object) map[raw.ObjectRef]raw.ObjectRef {
	ordered := make([]raw.ObjectRef, 0, len(objects))
	for ref := range objects {
		ordered = append(ordered, ref)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Num != ordered[j].Num {
			return ordered[i].Num < ordered[j].Num
		}
		return ordered[i].Gen < ordered[j].Gen
	})
	refs := make(map[raw.ObjectRef]raw.ObjectRef, len(ordered))
	for i, ref := range ordered {
		refs[ref] = raw.ObjectRef{Num: i + 1}
	}
	return refs
}
