package dio

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/trustchain/internal/meta"
	"github.com/rzbill/trustchain/pkg/id"
)

// filter is a compiled CEL predicate over an item's metadata and payload.
// The zero filter accepts everything.
//
// Variables: key (hex string), parent (hex string, empty at the root),
// collection, author, ts_ms, size, now_ms and json, the payload decoded as
// JSON when the chain stores JSON data.
type filter struct {
	prog    cel.Program
	enabled bool
}

func newFilter(expr string) (filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("key", cel.StringType),
		cel.Variable("parent", cel.StringType),
		cel.Variable("collection", cel.UintType),
		cel.Variable("author", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
		cel.Variable("json", cel.DynType),
	)
	if err != nil {
		return filter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return filter{}, iss.Err()
	}
	prog, err := env.Program(ast)
	if err != nil {
		return filter{}, err
	}
	return filter{prog: prog, enabled: true}, nil
}

// eval reports whether the item passes. Evaluation errors reject it.
func (f filter) eval(key id.PrimaryKey, m *meta.Metadata, format meta.Format, data []byte) bool {
	if !f.enabled {
		return true
	}
	var parent string
	var collection uint64
	if t := m.TreeLink(); t != nil {
		parent, collection = t.Parent.String(), t.Collection
	}
	var doc any = map[string]any{}
	if format == meta.FormatJSON {
		var v any
		if json.Unmarshal(data, &v) == nil && v != nil {
			doc = v
		}
	}
	var ts int64
	if t := m.Timestamp(); !t.IsZero() {
		ts = t.UnixMilli()
	}
	out, _, err := f.prog.Eval(map[string]any{
		"key":        key.String(),
		"parent":     parent,
		"collection": collection,
		"author":     m.Author(),
		"ts_ms":      ts,
		"size":       int64(len(data)),
		"now_ms":     time.Now().UnixMilli(),
		"json":       doc,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
