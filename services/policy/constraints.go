package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/zerotrust-labs/agent-gate/models"
)

// constraintEnv compiles CEL constraint expressions. Expressions see
// three variables: actor_id, action and the params map.
type constraintEnv struct {
	env *cel.Env
}

// compiledConstraint is a named, ready-to-run predicate
type compiledConstraint struct {
	name    string
	program cel.Program
}

func newConstraintEnv() (*constraintEnv, error) {
	env, err := cel.NewEnv(
		cel.Variable("actor_id", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, err
	}
	return &constraintEnv{env: env}, nil
}

func (e *constraintEnv) compile(c models.Constraint) (compiledConstraint, error) {
	if c.Expr == "" {
		return compiledConstraint{}, fmt.Errorf("empty constraint expression")
	}
	ast, issues := e.env.Compile(c.Expr)
	if issues != nil && issues.Err() != nil {
		return compiledConstraint{}, fmt.Errorf("compile error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return compiledConstraint{}, fmt.Errorf("constraint must evaluate to bool, got %s", ast.OutputType())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return compiledConstraint{}, fmt.Errorf("program error: %w", err)
	}
	name := c.Name
	if name == "" {
		name = c.Expr
	}
	return compiledConstraint{name: name, program: program}, nil
}

// eval runs the predicate against the request's actual parameters.
// Evaluation errors are returned so the caller can fail closed.
func (cc compiledConstraint) eval(req *models.ActionRequest) (bool, error) {
	params := req.Parameters
	if params == nil {
		params = map[string]string{}
	}
	out, _, err := cc.program.Eval(map[string]any{
		"actor_id": req.ActorID,
		"action":   string(req.ActionType),
		"params":   params,
	})
	if err != nil {
		return false, err
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("constraint %q returned non-bool %T", cc.name, out.Value())
	}
	return allowed, nil
}
