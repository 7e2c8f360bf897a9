package publisher

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

// Condition is a compiled feature condition, e.g.
//
//	Build.Branch == "main" && Event != "queued"
type Condition struct {
	source  string
	program *vm.Program
}

func conditionEnv(event scms.Event) map[string]any {
	return map[string]any{
		"Event":      string(event.Kind),
		"Phase":      string(event.Phase()),
		"Build":      event.Build,
		"Revision":   event.Revision,
		"User":       event.User,
		"Comment":    event.Comment,
		"InProgress": event.InProgress,
	}
}

// CompileCondition compiles source. The expression must evaluate to a boolean.
func CompileCondition(source string) (*Condition, error) {
	program, err := expr.Compile(source, expr.Env(conditionEnv(scms.Event{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile condition %q: %w", source, err)
	}
	return &Condition{source: source, program: program}, nil
}

// String returns the condition source.
func (c *Condition) String() string {
	return c.source
}

// Evaluate runs the condition against event.
func (c *Condition) Evaluate(event scms.Event) (bool, error) {
	output, err := expr.Run(c.program, conditionEnv(event))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", c.source, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q must return boolean, got %T", c.source, output)
	}
	return result, nil
}
