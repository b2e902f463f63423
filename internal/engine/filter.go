package engine

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"relstore/internal/store"
)

// Filter is one predicate pushed down to the store as a WHERE term.
type Filter struct {
	Field    string
	Operator string // eq, neq, gt, gte, lt, lte, like, in, not_in
	Value    any
}

func buildWhereClause(f Filter, pb store.ParamBuilder, d store.Dialect) string {
	switch f.Operator {
	case "eq", "":
		return fmt.Sprintf("%s = %s", f.Field, pb.Add(f.Value))
	case "neq":
		return fmt.Sprintf("%s != %s", f.Field, pb.Add(f.Value))
	case "gt":
		return fmt.Sprintf("%s > %s", f.Field, pb.Add(f.Value))
	case "gte":
		return fmt.Sprintf("%s >= %s", f.Field, pb.Add(f.Value))
	case "lt":
		return fmt.Sprintf("%s < %s", f.Field, pb.Add(f.Value))
	case "lte":
		return fmt.Sprintf("%s <= %s", f.Field, pb.Add(f.Value))
	case "like":
		return fmt.Sprintf("%s LIKE %s", f.Field, pb.Add(f.Value))
	case "in":
		return d.InExpr(f.Field, pb, toSlice(f.Value))
	case "not_in":
		return d.NotInExpr(f.Field, pb, toSlice(f.Value))
	default:
		return fmt.Sprintf("%s = %s", f.Field, pb.Add(f.Value))
	}
}

func toSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return []any{v}
}

// CompileRowFilter compiles a boolean expression evaluated against a row's
// column map, e.g. `age >= 18 && name startsWith "A"`.
func CompileRowFilter(expression string) (*vm.Program, error) {
	prog, err := expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, InvalidPayloadError(fmt.Sprintf("Invalid filter expression: %v", err))
	}
	return prog, nil
}

// EvalRowFilter runs a compiled row filter against one row.
func EvalRowFilter(prog *vm.Program, row map[string]any) (bool, error) {
	result, err := expr.Run(prog, row)
	if err != nil {
		return false, fmt.Errorf("evaluate filter: %w", err)
	}
	ok, isBool := result.(bool)
	if !isBool {
		return false, fmt.Errorf("filter expression did not produce a boolean")
	}
	return ok, nil
}
