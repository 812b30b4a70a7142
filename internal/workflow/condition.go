package workflow

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Condition expressions see one entity map per payload kind, each
// string-keyed and string-valued, so `problem.priority == "High"` and
// `case.status == "under_review"` read naturally. Comparison, equality
// and boolean combination are what the environment admits; there is no
// call surface beyond the built-ins.
var conditionEntities = []string{"problem", "case", "project", "milestone", "user", "event"}

var newConditionEnv = func() (*cel.Env, error) {
	opts := make([]cel.EnvOption, 0, len(conditionEntities))
	for _, name := range conditionEntities {
		opts = append(opts, cel.Variable(name, cel.MapType(cel.StringType, cel.StringType)))
	}
	return cel.NewEnv(opts...)
}

var conditionProgramCache sync.Map

func compileCondition(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("expression required")
	}
	if cached, ok := conditionProgramCache.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	env, err := newConditionEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.New("condition must evaluate to a boolean")
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	conditionProgramCache.Store(expr, program)
	return program, nil
}

// evalCondition evaluates expr against the flattened payload snapshot.
// Entities absent from the payload evaluate as empty maps, so lookups
// on them fail closed instead of erroring.
func evalCondition(expr string, snapshot map[string]map[string]string) (bool, error) {
	program, err := compileCondition(expr)
	if err != nil {
		return false, err
	}
	activation := make(map[string]any, len(conditionEntities))
	for _, name := range conditionEntities {
		if m, ok := snapshot[name]; ok && m != nil {
			activation[name] = m
		} else {
			activation[name] = map[string]string{}
		}
	}
	out, _, err := program.Eval(activation)
	if err != nil {
		return false, err
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("condition did not produce a boolean")
	}
	return v, nil
}
