package workflow

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Ashour158/People-sub002/internal/domain/expr"
)

// Action is a pure transformation of an instance context. It receives a
// private copy of the context and returns the context to store.
type Action func(params map[string]interface{}, ctx map[string]interface{}) (map[string]interface{}, error)

// ActionRegistry holds the actions available to action nodes
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewActionRegistry creates a registry preloaded with the built-in actions
// set, copy and increment.
func NewActionRegistry() *ActionRegistry {
	r := &ActionRegistry{actions: make(map[string]Action)}
	r.Register("set", setAction)
	r.Register("copy", copyAction)
	r.Register("increment", incrementAction)
	return r
}

// Register adds or replaces a named action
func (r *ActionRegistry) Register(name string, action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = action
}

// Names returns the registered action names, sorted
func (r *ActionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a named action over a copy of ctx
func (r *ActionRegistry) Execute(name string, params, ctx map[string]interface{}) (out map[string]interface{}, err error) {
	r.mu.RLock()
	action, ok := r.actions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown action %q", name)
	}

	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("action %s panic: %v", name, p)
		}
	}()

	out, err = action(params, cloneMap(ctx))
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", name, err)
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

// setAction writes params.value at params.path
func setAction(params, ctx map[string]interface{}) (map[string]interface{}, error) {
	path, err := pathParam(params, "path")
	if err != nil {
		return nil, err
	}
	if err := setPath(ctx, path, cloneValue(params["value"])); err != nil {
		return nil, err
	}
	return ctx, nil
}

// copyAction copies the value at params.from to params.to
func copyAction(params, ctx map[string]interface{}) (map[string]interface{}, error) {
	from, err := pathParam(params, "from")
	if err != nil {
		return nil, err
	}
	to, err := pathParam(params, "to")
	if err != nil {
		return nil, err
	}
	v, err := expr.Eval(expr.Lookup{Path: from}, ctx)
	if err != nil {
		return nil, err
	}
	if err := setPath(ctx, to, cloneValue(v)); err != nil {
		return nil, err
	}
	return ctx, nil
}

// incrementAction adds params.by (default 1) to the number at params.path;
// a missing value counts as zero.
func incrementAction(params, ctx map[string]interface{}) (map[string]interface{}, error) {
	path, err := pathParam(params, "path")
	if err != nil {
		return nil, err
	}
	by := 1.0
	if raw, ok := params["by"]; ok {
		n, ok := toFloat(raw)
		if !ok {
			return nil, fmt.Errorf("by must be a number, got %v", raw)
		}
		by = n
	}

	current, _ := expr.Eval(expr.Lookup{Path: path}, ctx)
	n := 0.0
	if current != nil {
		var ok bool
		if n, ok = toFloat(current); !ok {
			return nil, fmt.Errorf("%s is %v, not a number", strings.Join(path, "."), current)
		}
	}
	if err := setPath(ctx, path, n+by); err != nil {
		return nil, err
	}
	return ctx, nil
}

func pathParam(params map[string]interface{}, key string) ([]string, error) {
	s, _ := params[key].(string)
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("parameter %q is required", key)
	}
	return strings.Split(s, "."), nil
}

func setPath(m map[string]interface{}, path []string, v interface{}) error {
	for i, key := range path[:len(path)-1] {
		next, ok := m[key]
		if !ok || next == nil {
			child := map[string]interface{}{}
			m[key] = child
			m = child
			continue
		}
		child, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s is not an object", strings.Join(path[:i+1], "."))
		}
		m = child
	}
	m[path[len(path)-1]] = v
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	}
	return v
}
