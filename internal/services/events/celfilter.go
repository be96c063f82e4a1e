package eventsvc

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/tidalhq/tidal/internal/dispatch"
	"github.com/tidalhq/tidal/internal/event"
)

// celFilter wraps a compiled CEL program shared by subscribe streaming and
// replay. When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("topic", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("seq", cel.IntType),
		cel.Variable("published_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON payload (map/list/values) for field filtering.
		cel.Variable("json", cel.DynType),
		// Current time in ms for windowed filters.
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against one event. Evaluation
// errors count as non-matches.
func (f celFilter) Eval(ev event.Event) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(ev.Payload, &jsonObj)
	out, _, err := f.prog.Eval(map[string]any{
		"topic":        ev.Topic,
		"type":         ev.Type,
		"seq":          int64(ev.Seq),
		"published_ms": ev.PublishedAt.UnixMilli(),
		"size":         int64(len(ev.Payload)),
		"text":         string(ev.Payload),
		"json":         jsonObj,
		"now_ms":       time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// dispatchFilter adapts the filter for the dispatcher. A disabled filter
// returns nil so the pump skips the indirection entirely.
func (f celFilter) dispatchFilter() dispatch.Filter {
	if !f.enabled {
		return nil
	}
	return f.Eval
}
