package admin

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rzbill/trustchain/internal/errs"
)

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func isNotFound(err error) bool { return errs.IsNotFound(err) }

// jsonSafe converts msgpack's map[any]any into map[string]any so decoded
// payloads print as JSON.
func jsonSafe(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonSafe(val)
		}
		return out
	case map[string]any:
		for k, val := range t {
			t[k] = jsonSafe(val)
		}
		return t
	case []any:
		for i := range t {
			t[i] = jsonSafe(t[i])
		}
		return t
	default:
		return v
	}
}
