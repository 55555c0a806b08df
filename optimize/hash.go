package optimize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/wudi/pdfnormalize/ir/raw"
)

func hashObject(obj raw.Object) string {
	h := sha256.New()
	writeHash(h, obj)
	return hex.EncodeToString(h.Sum(nil))
}

func writeHash(h io.Writer, obj raw.Object) {
	if obj == nil {
		fmt.Fprint(h, "nil")
		return
	}
	fmt.Fprint(h, obj.Type(), ":")
	switch t := obj.(type) {
	case raw.Name:
		fmt.Fprintf(h, "%q", t.Value())
	case raw.Number:
		if t.IsInteger() {
			fmt.Fprint(h, t.Int())
		} else {
			fmt.Fprint(h, t.Float())
		}
	case raw.Boolean:
		fmt.Fprint(h, t.Value())
	case raw.String:
		fmt.Fprintf(h, "%q", t.Value())
	case raw.Reference:
		fmt.Fprintf(h, "%d %d R", t.Ref().Num, t.Ref().Gen)
	case *raw.ArrayObj:
		fmt.Fprint(h, "[")
		for _, v := range t.Items {
			writeHash(h, v)
			fmt.Fprint(h, ",")
		}
		fmt.Fprint(h, "]")
	case *raw.DictObj:
		fmt.Fprint(h, "<<")
		keys := make([]string, 0, len(t.KV))
		for k := range t.KV {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "%q", k)
			writeHash(h, t.KV[k])
		}
		fmt.Fprint(h, ">>")
	case *raw.StreamObj:
		if t.Dict != nil {
			writeHash(h, t.Dict)
		}
		fmt.Fprintf(h, "%d:", len(t.Data))
		h.Write(t.Data)
	}
}
