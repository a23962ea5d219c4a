package query

import (
	"fmt"
	"sort"
	"strings"
)

// Operator identifies a filter comparison
type Operator string

const (
	OpEqual      Operator = "eq"
	OpNotEqual   Operator = "not"
	OpContain    Operator = "contain"
	OpNotContain Operator = "not_contain"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
)

// Filter is one key/operator/value clause
type Filter struct {
	Key      string      `json:"k"`
	Value    interface{} `json:"v"`
	Operator Operator    `json:"o"`
}

// Page bounds a result window
type Page struct {
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`
}

// Sort orders results by a field name
type Sort struct {
	Name string `json:"name"`
	Desc bool   `json:"desc,omitempty"`
}

// Query is a filter/sort/page specification applied to a record collection
type Query struct {
	Filters   []Filter `json:"filter,omitempty"`
	Sort      *Sort    `json:"sort,omitempty"`
	Page      *Page    `json:"page,omitempty"`
	CountOnly bool     `json:"count_only,omitempty"`
}

// Record is the attribute view of a resource the engine evaluates against.
// Nested maps hold tag/metadata values; nested slices hold multi-valued
// associations (for example the member list of a project group).
type Record map[string]interface{}

// Resolve walks a dotted key through nested maps and slices. When the path
// crosses a slice the values resolved from each element are flattened into a
// single slice. The second return is false when the path names no field.
func Resolve(rec Record, key string) (interface{}, bool) {
	return resolvePath(rec, strings.Split(key, "."))
}

func resolvePath(v interface{}, path []string) (interface{}, bool) {
	if len(path) == 0 {
		return v, true
	}
	switch cur := v.(type) {
	case Record:
		return resolvePath(map[string]interface{}(cur), path)
	case map[string]interface{}:
		child, ok := cur[path[0]]
		if !ok {
			return nil, false
		}
		return resolvePath(child, path[1:])
	case []interface{}:
		var out []interface{}
		found := false
		for _, elem := range cur {
			if resolved, ok := resolvePath(elem, path); ok {
				found = true
				if nested, isSlice := resolved.([]interface{}); isSlice {
					out = append(out, nested...)
				} else {
					out = append(out, resolved)
				}
			}
		}
		if !found {
			return nil, false
		}
		return out, true
	default:
		return nil, false
	}
}

// Match reports whether a record satisfies every filter clause
func Match(rec Record, filters []Filter) bool {
	for _, f := range filters {
		if !matchClause(rec, f) {
			return false
		}
	}
	return true
}

func matchClause(rec Record, f Filter) bool {
	value, found := Resolve(rec, f.Key)
	switch f.Operator {
	case OpEqual:
		return matchEqual(value, found, f.Value)
	case OpNotEqual:
		return !matchEqual(value, found, f.Value)
	case OpContain:
		return matchContain(value, found, f.Value)
	case OpNotContain:
		return !matchContain(value, found, f.Value)
	case OpIn:
		return matchIn(value, found, f.Value)
	case OpNotIn:
		return !matchIn(value, found, f.Value)
	default:
		return false
	}
}

// matchEqual treats a nil filter value as "field absent or unset"
func matchEqual(value interface{}, found bool, want interface{}) bool {
	if want == nil {
		return !found || value == nil
	}
	if !found {
		return false
	}
	return anyEqual(value, want)
}

func matchContain(value interface{}, found bool, want interface{}) bool {
	needle, ok := want.(string)
	if !ok || !found {
		return false
	}
	for _, v := range flatten(value) {
		if s, ok := v.(string); ok && strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

func matchIn(value interface{}, found bool, want interface{}) bool {
	if !found {
		return false
	}
	for _, accepted := range flatten(want) {
		if anyEqual(value, accepted) {
			return true
		}
	}
	return false
}

// anyEqual compares want against value, or against any element when value is
// multi-valued
func anyEqual(value, want interface{}) bool {
	for _, v := range flatten(value) {
		if equalValues(v, want) {
			return true
		}
	}
	return false
}

func flatten(v interface{}) []interface{} {
	switch vs := v.(type) {
	case []interface{}:
		return vs
	case []string:
		out := make([]interface{}, len(vs))
		for i, s := range vs {
			out[i] = s
		}
		return out
	default:
		return []interface{}{v}
	}
}

// equalValues compares scalars, normalizing numeric types so records built
// from JSON (float64) and from Go literals (int) compare equal
func equalValues(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// Apply filters, sorts and pages a collection. The returned total counts
// matching records before paging, so callers can report total_count alongside
// a bounded page.
func Apply(records []Record, q Query) ([]Record, int) {
	matched := make([]Record, 0, len(records))
	for _, rec := range records {
		if Match(rec, q.Filters) {
			matched = append(matched, rec)
		}
	}
	total := len(matched)

	if q.Sort != nil {
		sortRecords(matched, *q.Sort)
	}
	if q.CountOnly {
		return nil, total
	}
	if q.Page != nil {
		matched = pageRecords(matched, *q.Page)
	}
	return matched, total
}

func sortRecords(records []Record, s Sort) {
	sort.SliceStable(records, func(i, j int) bool {
		if s.Desc {
			return lessValues(records[j][s.Name], records[i][s.Name])
		}
		return lessValues(records[i][s.Name], records[j][s.Name])
	})
}

func lessValues(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af < bf
		}
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}

func pageRecords(records []Record, p Page) []Record {
	// Page values arrive straight from client JSON; negatives mean "from
	// the start" / "no limit" rather than a slicing panic.
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Offset >= len(records) {
		return nil
	}
	records = records[p.Offset:]
	if p.Limit > 0 && p.Limit < len(records) {
		records = records[:p.Limit]
	}
	return records
}
