package core

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Predicate evaluates a condition against a record held in memory.
type Predicate func(Record) bool

// Conditions selects records. It holds either an equality mapping
// (column -> value, implicitly ANDed) or a store-native expression paired
// with an equivalent in-memory predicate. The zero value matches every
// record.
//
// Equality conditions derive their expression and predicate on demand, so
// both forms always agree. Conditions built with Filter compile every
// clause into both forms at once.
type Conditions struct {
	equality Record
	expr     string
	params   []any
	match    Predicate
}

// Equal builds an equality condition. A nil value selects NULL columns.
func Equal(values Record) Conditions {
	if len(values) == 0 {
		return Conditions{}
	}
	return Conditions{equality: values.Clone()}
}

// Where builds a condition from a raw store expression and its in-memory
// counterpart. Callers are responsible for keeping the two equivalent;
// prefer Filter where the clause can be expressed with the builder.
func Where(expr string, params []any, match Predicate) Conditions {
	return Conditions{expr: expr, params: params, match: match}
}

// Filter ANDs the given clauses into a condition holding both forms.
func Filter(clauses ...Cond) Conditions {
	if len(clauses) == 0 {
		return Conditions{}
	}
	c := And(clauses...)
	return Conditions{expr: c.expr, params: c.params, match: c.match}
}

// IsEmpty reports whether the condition matches every record.
func (c Conditions) IsEmpty() bool {
	return len(c.equality) == 0 && c.expr == "" && c.match == nil
}

// IsEquality reports whether the condition is a plain equality mapping.
func (c Conditions) IsEquality() bool {
	return len(c.equality) > 0
}

// Evaluable reports whether the condition can be evaluated in memory.
// Raw expressions built with Where and a nil predicate cannot.
func (c Conditions) Evaluable() bool {
	return len(c.equality) > 0 || c.match != nil || c.expr == ""
}

// Equality returns a copy of the equality mapping, nil for predicate
// conditions.
func (c Conditions) Equality() Record {
	return c.equality.Clone()
}

// SQL returns the store-native expression with '?' placeholders and its
// parameters. An empty expression means no filtering.
func (c Conditions) SQL() (string, []any) {
	if len(c.equality) == 0 {
		return c.expr, c.params
	}
	keys := sortedKeys(c.equality)
	parts := make([]string, 0, len(keys))
	params := make([]any, 0, len(keys))
	for _, k := range keys {
		v := c.equality[k]
		if v == nil {
			parts = append(parts, QuoteIdent(k)+" IS NULL")
			continue
		}
		parts = append(parts, QuoteIdent(k)+" = ?")
		params = append(params, v)
	}
	return strings.Join(parts, " AND "), params
}

// Matches evaluates the condition against an in-memory record.
func (c Conditions) Matches(r Record) bool {
	if len(c.equality) > 0 {
		for k, v := range c.equality {
			if !ValuesEqual(r[k], v) {
				return false
			}
		}
		return true
	}
	if c.match == nil {
		return c.expr == ""
	}
	return c.match(r)
}

// QuoteIdent quotes a column or table identifier with ANSI double quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sortedKeys(r Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Cond is a single filter clause compiled into both forms.
type Cond struct {
	expr   string
	params []any
	match  Predicate
}

func compare(column, op string, value any, ok func(int) bool) Cond {
	return Cond{
		expr:   QuoteIdent(column) + " " + op + " ?",
		params: []any{value},
		match: func(r Record) bool {
			v := r[column]
			if v == nil || value == nil {
				return false
			}
			return ok(CompareValues(v, value))
		},
	}
}

// Eq matches records whose column equals value. A nil value matches NULL.
func Eq(column string, value any) Cond {
	if value == nil {
		return IsNull(column)
	}
	return Cond{
		expr:   QuoteIdent(column) + " = ?",
		params: []any{value},
		match:  func(r Record) bool { return ValuesEqual(r[column], value) },
	}
}

// Ne matches records whose column is set and differs from value.
func Ne(column string, value any) Cond {
	return Cond{
		expr:   QuoteIdent(column) + " <> ?",
		params: []any{value},
		match: func(r Record) bool {
			v := r[column]
			return v != nil && value != nil && !ValuesEqual(v, value)
		},
	}
}

// Lt matches records whose column is lower than value.
func Lt(column string, value any) Cond {
	return compare(column, "<", value, func(c int) bool { return c < 0 })
}

// Le matches records whose column is lower than or equal to value.
func Le(column string, value any) Cond {
	return compare(column, "<=", value, func(c int) bool { return c <= 0 })
}

// Gt matches records whose column is greater than value.
func Gt(column string, value any) Cond {
	return compare(column, ">", value, func(c int) bool { return c > 0 })
}

// Ge matches records whose column is greater than or equal to value.
func Ge(column string, value any) Cond {
	return compare(column, ">=", value, func(c int) bool { return c >= 0 })
}

// HasPrefix matches records whose column starts with prefix. The store
// form uses substr so the match is case sensitive on every engine.
func HasPrefix(column, prefix string) Cond {
	return Cond{
		expr:   "substr(" + QuoteIdent(column) + ", 1, ?) = ?",
		params: []any{utf8.RuneCountInString(prefix), prefix},
		match: func(r Record) bool {
			v := r[column]
			if v == nil {
				return false
			}
			return strings.HasPrefix(ToText(v), prefix)
		},
	}
}

// In matches records whose column equals one of values.
func In(column string, values ...any) Cond {
	if len(values) == 0 {
		return Cond{expr: "1 = 0", match: func(Record) bool { return false }}
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	params := append([]any(nil), values...)
	return Cond{
		expr:   QuoteIdent(column) + " IN (" + marks + ")",
		params: params,
		match: func(r Record) bool {
			v := r[column]
			for _, candidate := range params {
				if ValuesEqual(v, candidate) {
					return true
				}
			}
			return false
		},
	}
}

// IsNull matches records whose column is NULL.
func IsNull(column string) Cond {
	return Cond{
		expr:  QuoteIdent(column) + " IS NULL",
		match: func(r Record) bool { return r[column] == nil },
	}
}

// And matches records satisfying every clause.
func And(clauses ...Cond) Cond {
	return join(" AND ", clauses, func(r Record) bool {
		for _, c := range clauses {
			if !c.match(r) {
				return false
			}
		}
		return true
	})
}

// Or matches records satisfying at least one clause.
func Or(clauses ...Cond) Cond {
	if len(clauses) == 0 {
		return Cond{expr: "1 = 0", match: func(Record) bool { return false }}
	}
	return join(" OR ", clauses, func(r Record) bool {
		for _, c := range clauses {
			if c.match(r) {
				return true
			}
		}
		return false
	})
}

// Not negates a clause. The store form maps an unknown (NULL) inner result
// to true, which is what the in-memory negation yields.
func Not(clause Cond) Cond {
	return Cond{
		expr:   "(CASE WHEN (" + clause.expr + ") THEN 0 ELSE 1 END) = 1",
		params: clause.params,
		match:  func(r Record) bool { return !clause.match(r) },
	}
}

func join(sep string, clauses []Cond, match Predicate) Cond {
	if len(clauses) == 1 {
		return clauses[0]
	}
	parts := make([]string, 0, len(clauses))
	var params []any
	for _, c := range clauses {
		parts = append(parts, "("+c.expr+")")
		params = append(params, c.params...)
	}
	return Cond{expr: strings.Join(parts, sep), params: params, match: match}
}

// String renders the condition for logs.
func (c Conditions) String() string {
	expr, params := c.SQL()
	if expr == "" {
		return "<all>"
	}
	args := make([]string, len(params))
	for i, p := range params {
		args[i] = strconv.Quote(ToText(p))
	}
	return expr + " [" + strings.Join(args, ", ") + "]"
}
