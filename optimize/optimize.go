// Package optimize shrinks a raw document before it is written: unreachable
// objects are dropped and identical objects are merged.
package optimize

import (
	"context"
	"sort"

	"github.com/wudi/pdfnormalize/ir/raw"
)

type Config struct {
	CleanUnusedResources            bool // drop objects unreachable from the trailer
	CombineDuplicateStreams         bool
	CombineIdenticalIndirectObjects bool // streams and every other object kind
}

type Optimizer struct {
	config Config
}

func New(config Config) *Optimizer { return &Optimizer{config: config} }

// Optimize rewrites doc in place. References inside the remaining objects are
// updated, so callers that share objects with doc must copy them first.
func (o *Optimizer) Optimize(ctx context.Context, doc *raw.Document) error {
	if doc == nil {
		return nil
	}
	if o.config.CleanUnusedResources {
		sweep(doc)
	}
	if o.config.CombineDuplicateStreams || o.config.CombineIdenticalIndirectObjects {
		if err := o.combineObjects(ctx, doc, o.config.CombineIdenticalIndirectObjects); err != nil {
			return err
		}
	}
	return nil
}

func sweep(doc *raw.Document) {
	reachable := make(map[raw.ObjectRef]bool)
	if doc.Trailer != nil {
		markReachable(doc, doc.Trailer, reachable)
	}
	for ref := range doc.Objects {
		if !reachable[ref] {
			delete(doc.Objects, ref)
		}
	}
}

func markReachable(doc *raw.Document, obj raw.Object, reachable map[raw.ObjectRef]bool) {
	switch t := obj.(type) {
	case raw.Reference:
		ref := t.Ref()
		if reachable[ref] {
			return
		}
		reachable[ref] = true
		if target, ok := doc.Objects[ref]; ok {
			markReachable(doc, target, reachable)
		}
	case *raw.ArrayObj:
		for _, v := range t.Items {
			markReachable(doc, v, reachable)
		}
	case *raw.DictObj:
		for _, v := range t.KV {
			markReachable(doc, v, reachable)
		}
	case *raw.StreamObj:
		if t.Dict != nil {
			markReachable(doc, t.Dict, reachable)
		}
	}
}

// combineObjects merges byte-identical objects until nothing changes, since
// merging children can make their parents identical. Page tree nodes keep
// their identity: a page listed twice in Kids is not a valid page tree.
func (o *Optimizer) combineObjects(ctx context.Context, doc *raw.Document, includeOthers bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		refs := make([]raw.ObjectRef, 0, len(doc.Objects))
		for ref := range doc.Objects {
			refs = append(refs, ref)
		}
		sort.Slice(refs, func(i, j int) bool {
			if refs[i].Num != refs[j].Num {
				return refs[i].Num < refs[j].Num
			}
			return refs[i].Gen < refs[j].Gen
		})

		seen := make(map[string]raw.ObjectRef)
		replacements := make(map[raw.ObjectRef]raw.ObjectRef)
		for _, ref := range refs {
			obj := doc.Objects[ref]
			_, isStream := obj.(*raw.StreamObj)
			if !isStream && !includeOthers {
				continue
			}
			if isPageTreeNode(obj) {
				continue
			}
			h := hashObject(obj)
			if original, ok := seen[h]; ok {
				replacements[ref] = original
			} else {
				seen[h] = ref
			}
		}
		if len(replacements) == 0 {
			return nil
		}
		applyReplacements(doc, replacements)
		for dup := range replacements {
			delete(doc.Objects, dup)
		}
	}
}

func isPageTreeNode(obj raw.Object) bool {
	d, ok := obj.(*raw.DictObj)
	if !ok {
		return false
	}
	if n, ok := d.KV["Type"].(raw.NameObj); ok && (n.Val == "Page" || n.Val == "Pages") {
		return true
	}
	_, hasKids := d.KV["Kids"]
	_, hasParent := d.KV["Parent"]
	return hasKids || (hasParent && d.KV["Contents"] != nil)
}

func applyReplacements(doc *raw.Document, replacements map[raw.ObjectRef]raw.ObjectRef) {
	for ref, obj := range doc.Objects {
		doc.Objects[ref] = replaceRefs(obj, replacements)
	}
	if doc.Trailer != nil {
		replaceRefs(doc.Trailer, replacements)
	}
}

func replaceRefs(obj raw.Object, replacements map[raw.ObjectRef]raw.ObjectRef) raw.Object {
	switch t := obj.(type) {
	case raw.RefObj:
		if to, ok := replacements[t.R]; ok {
			return raw.RefObj{R: to}
		}
	case *raw.ArrayObj:
		for i, v := range t.Items {
			t.Items[i] = replaceRefs(v, replacements)
		}
	case *raw.DictObj:
		for k, v := range t.KV {
			t.KV[k] = replaceRefs(v, replacements)
		}
	case *raw.StreamObj:
		if t.Dict != nil {
			replaceRefs(t.Dict, replacements)
		}
	}
	return obj
}
