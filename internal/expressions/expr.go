// Package expressions provides the two expression engines the executor
// consults: expr-lang for action conditions and gojq for result projection.
// Compiled programs are cached and reused across goroutines.
package expressions

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

// CondEngine evaluates action condition expressions against the previous
// results of the current run. Thread-safe.
type CondEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewCondEngine creates a condition engine.
func NewCondEngine() *CondEngine {
	return &CondEngine{cache: make(map[string]*vm.Program)}
}

// EvalBool compiles (or retrieves from cache) an expression and evaluates it
// against env. The result must be a boolean; anything else is a validation
// failure.
func (e *CondEngine) EvalBool(expression string, env map[string]any) (bool, error) {
	if expression == "" {
		return false, schema.NewError(schema.ErrCodeValidation, "empty condition expression")
	}
	prg, err := e.getOrCompile(expression)
	if err != nil {
		return false, err
	}
	if env == nil {
		env = map[string]any{}
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"condition evaluation failed for %q: %s", expression, err.Error()).WithCause(err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q evaluated to %T, want bool", expression, out)
	}
	return b, nil
}

func (e *CondEngine) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"condition compile error in %q: %s", expression, err.Error()).WithCause(err)
	}
	e.cache[expression] = prg
	return prg, nil
}
