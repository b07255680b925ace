package handlers

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/INLOpen/mimir/core"
)

// Filter transforms an entry or rejects it by returning false. Filters must
// not modify the entry they are given.
type Filter func(entry core.LogEntry) (core.LogEntry, bool)

// Apply runs filters in order and stops at the first rejection.
func Apply(entry core.LogEntry, filters ...Filter) (core.LogEntry, bool) {
	for _, f := range filters {
		var ok bool
		if entry, ok = f(entry); !ok {
			return nil, false
		}
	}
	return entry, true
}

// KeysFilter keeps entries that contain every key.
func KeysFilter(keys ...string) Filter {
	return func(entry core.LogEntry) (core.LogEntry, bool) {
		return entry, entry.HasAll(keys...)
	}
}

// SelectKeys keeps only the given keys of each entry. Entries left empty are
// rejected.
func SelectKeys(keys ...string) Filter {
	return func(entry core.LogEntry) (core.LogEntry, bool) {
		out := make(core.LogEntry, len(keys))
		for _, k := range keys {
			if v, ok := entry.Lookup(k); ok {
				out[k] = v
			}
		}
		return out, len(out) > 0
	}
}

// ExprFilter keeps entries for which the boolean expression src holds. Entry
// keys are variables; keys missing from an entry evaluate to nil.
//
//	loss < 1 && epoch % 10 == 0
func ExprFilter(src string) (Filter, error) {
	program, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, &core.ValidationError{Field: "filter", Value: src, Message: err.Error()}
	}
	return exprFilter(program), nil
}

func exprFilter(program *vm.Program) Filter {
	return func(entry core.LogEntry) (core.LogEntry, bool) {
		env := map[string]any(entry)
		if env == nil {
			env = map[string]any{}
		}
		out, err := expr.Run(program, env)
		if err != nil {
			return nil, false
		}
		keep, _ := out.(bool)
		return entry, keep
	}
}
