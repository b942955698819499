// Package evalsafe provides a structurally-safe expression evaluator used
// to judge host-selector threshold lines and other user-supplied boolean
// expressions against a fixed set of pre-bound variables.
//
// The original scheduler hand-rolls this as an ast.NodeVisitor subclass
// over Python's compile(expr, mode='eval') tree, walking the parsed nodes
// and raising on anything beyond names, literals, tuples/lists,
// attribute access, subscript, comparisons, boolean operators, and
// arithmetic (host_select.py's SimpleVisitor whitelist explicitly
// includes ast.Attribute, ast.Subscript, and ast.Index alongside the
// rest). This package gets the same guarantee for free from
// expr-lang/expr's restricted expression grammar (no statements, no
// lambdas, no imports by construction) and adds one extra pass over the
// parsed AST to reject the handful of expr constructs — calls, builtins,
// closures, slicing — that the original's whitelist also excludes but
// expr's grammar would otherwise permit. Member access (`a.b`) and index
// access (`a[i]`), both parsed as ast.MemberNode, are permitted.
package evalsafe

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/swarmguard/cyclesched/internal/errs"
)

// Eval evaluates expression against the given pre-bound variables and
// returns its result. expression must reference only identifiers present
// in vars, literals, attribute/index access, and arithmetic/comparison/
// boolean operators; function calls, slicing, and closures are rejected
// before compilation.
func Eval(expression string, vars map[string]any) (any, error) {
	program, err := compile(expression, vars)
	if err != nil {
		return nil, err
	}
	result, err := expr.Run(program, vars)
	if err != nil {
		return nil, errs.Wrap(errs.KindEvalError, expression, err)
	}
	return result, nil
}

// EvalBool evaluates expression, which must yield a boolean, against a set
// of named numeric variables — the shape host-selector threshold lines
// take ("load_1 < 4.0 and memory_free_mb > 2048").
func EvalBool(expression string, vars map[string]float64) (bool, error) {
	env := make(map[string]any, len(vars))
	for k, v := range vars {
		env[k] = v
	}
	result, err := Eval(expression, env)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, errs.New(errs.KindEvalError, expression).
			WithHint("expression must evaluate to a boolean")
	}
	return b, nil
}

func compile(expression string, vars map[string]any) (*vm.Program, error) {
	tree, err := parser.Parse(expression)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnsafeExpression, expression, err)
	}
	g := &structureGuard{}
	ast.Walk(&tree.Node, g)
	if g.err != nil {
		return nil, errs.Wrap(errs.KindUnsafeExpression, expression, g.err).
			WithHint("only variables, literals, and arithmetic/comparison/boolean operators are permitted")
	}
	program, err := expr.Compile(expression, expr.Env(vars), expr.AsAny())
	if err != nil {
		return nil, errs.Wrap(errs.KindUnsafeExpression, expression, err)
	}
	return program, nil
}

// structureGuard walks a parsed expression tree and flags any node kind
// the original scheduler's whitelist would have rejected: function/method
// calls, builtin pipe calls (map/filter/reduce/...), closures (lambda
// bodies to those pipes), and slicing. Member access (a.b) and index
// access (a[i]) — both ast.MemberNode — are left alone: the original's
// whitelist explicitly permits ast.Attribute/ast.Subscript/ast.Index.
type structureGuard struct {
	err error
}

func (g *structureGuard) Visit(node *ast.Node) {
	if g.err != nil || node == nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.CallNode:
		g.err = fmt.Errorf("function calls are not permitted: %s", n.String())
	case *ast.BuiltinNode:
		g.err = fmt.Errorf("builtin pipe functions are not permitted: %s", n.Name)
	case *ast.ClosureNode:
		g.err = fmt.Errorf("closures are not permitted")
	case *ast.SliceNode:
		g.err = fmt.Errorf("slicing is not permitted")
	case *ast.VariableDeclaratorNode:
		g.err = fmt.Errorf("variable declarations are not permitted")
	}
}
