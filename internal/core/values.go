package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Record is a flat mapping of column name to scalar value.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Project returns a copy holding only the given columns. An empty column
// list returns the full record.
func (r Record) Project(columns []string) Record {
	if len(columns) == 0 {
		return r.Clone()
	}
	out := make(Record, len(columns))
	for _, c := range columns {
		if v, ok := r[c]; ok {
			out[c] = v
		}
	}
	return out
}

// Sort describes one ordering key.
type Sort struct {
	Column string
	Desc   bool
}

// Query carries the optional modifiers of a multi-record read.
type Query struct {
	Sort    []Sort
	Columns []string
	Offset  int
	Limit   int
}

// ToNumber reports the numeric value of v for every Go numeric kind,
// booleans and json.Number.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// ToText returns the string form used when comparing non-numeric values.
func ToText(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	}
	if f, ok := ToNumber(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// CompareValues orders two column values. Nil compares as zero, numbers
// compare numerically across kinds and sort before strings, strings compare
// lexicographically.
func CompareValues(a, b any) int {
	if a == nil {
		a = 0
	}
	if b == nil {
		b = 0
	}
	an, aok := ToNumber(a)
	bn, bok := ToNumber(b)
	switch {
	case aok && bok:
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	case aok:
		return -1
	case bok:
		return 1
	}
	return strings.Compare(ToText(a), ToText(b))
}

// ValuesEqual reports whether two column values are equal under the same
// rules a SQL store applies: nil only equals nil, numbers are compared by
// value regardless of their Go type.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	an, aok := ToNumber(a)
	bn, bok := ToNumber(b)
	if aok && bok {
		return an == bn
	}
	if aok != bok {
		return false
	}
	return ToText(a) == ToText(b)
}

// SortRecords sorts records in place by the given keys, evaluated left to
// right. The sort is stable so equal records keep their store order.
func SortRecords(records []Record, sorts []Sort) {
	if len(sorts) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, s := range sorts {
			c := CompareValues(records[i][s.Column], records[j][s.Column])
			if c == 0 {
				continue
			}
			if s.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// ApplyQuery sorts, pages and projects records the way every in-memory
// strategy must, so results are identical to a store-evaluated query.
func ApplyQuery(records []Record, q Query) []Record {
	SortRecords(records, q.Sort)
	if q.Offset > 0 {
		if q.Offset >= len(records) {
			return []Record{}
		}
		records = records[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(records) {
		records = records[:q.Limit]
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Project(q.Columns)
	}
	return out
}
