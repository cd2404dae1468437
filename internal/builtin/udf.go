package builtin

import (
	"duck-expect/internal/domain"
	"duck-expect/internal/engine/lazy"
	"duck-expect/internal/mapmetric"
	"duck-expect/internal/udf"
)

// udfCondition evaluates a Starlark predicate per value. It has no SQL form.
func udfCondition(rt *udf.Runtime) mapmetric.Condition {
	compile := func(kw domain.Kwargs) (*udf.Predicate, error) {
		src, ok := kw.String("udf")
		if !ok {
			return nil, domain.ErrValidation("udf source is required")
		}
		return rt.Compile(src)
	}
	return mapmetric.Condition{
		Name:       "column_values.udf",
		DomainType: domain.DomainColumn,
		ValueKeys:  []string{"udf"},
		Memory: memoryMap(func(in mapmetric.MemoryInput) (rowPredicate, error) {
			p, err := compile(in.ValueKwargs)
			if err != nil {
				return nil, err
			}
			return p.Eval, nil
		}),
		Lazy: func(in mapmetric.LazyInput) (lazy.Expr, error) {
			p, err := compile(in.ValueKwargs)
			if err != nil {
				return lazy.Expr{}, err
			}
			col := in.Column()
			return lazy.RowExpr(func(r lazy.Row) (any, error) { return p.Eval(r.Values[col]) }), nil
		},
	}
}
