package query

import (
	"fmt"
	"strings"

	"github.com/skyfactor/identity/pkg/errdefs"
)

// FieldOperator identifies an aggregate field computation
type FieldOperator string

const (
	// FieldCount yields the number of records in the group
	FieldCount FieldOperator = "count"
	// FieldSize yields the distinct cardinality of a (possibly multi-valued)
	// field across the group
	FieldSize FieldOperator = "size"
)

// GroupKey names one group-by key and its output column
type GroupKey struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// GroupField names one computed output column
type GroupField struct {
	Key      string        `json:"key,omitempty"`
	Name     string        `json:"name"`
	Operator FieldOperator `json:"operator"`
}

// Group is a group-by specification
type Group struct {
	Keys   []GroupKey   `json:"keys"`
	Fields []GroupField `json:"fields"`
}

// Aggregate wraps the group stage of a stat query
type Aggregate struct {
	Group *Group `json:"group,omitempty"`
}

// StatQuery combines filtering with aggregation and output ordering
type StatQuery struct {
	Filters   []Filter   `json:"filter,omitempty"`
	Aggregate *Aggregate `json:"aggregate,omitempty"`
	Sort      *Sort      `json:"sort,omitempty"`
	Page      *Page      `json:"page,omitempty"`
}

// Stat executes a stat query over a record collection and returns one row per
// group, in first-seen order unless a sort is requested. An empty collection
// yields an empty result.
func Stat(records []Record, q StatQuery) ([]Record, error) {
	if q.Aggregate == nil || q.Aggregate.Group == nil {
		return nil, errdefs.Validation("stat query requires an aggregate.group stage")
	}
	group := q.Aggregate.Group
	if len(group.Keys) == 0 {
		return nil, errdefs.Validation("aggregate.group requires at least one key")
	}
	for _, field := range group.Fields {
		switch field.Operator {
		case FieldCount:
		case FieldSize:
			if field.Key == "" {
				return nil, errdefs.Validation("size operator requires a key")
			}
		default:
			return nil, errdefs.Validation("unsupported aggregate operator %q", field.Operator)
		}
		if field.Name == "" {
			return nil, errdefs.Validation("aggregate field requires an output name")
		}
	}

	matched := make([]Record, 0, len(records))
	for _, rec := range records {
		if Match(rec, q.Filters) {
			matched = append(matched, rec)
		}
	}

	var order []string
	buckets := make(map[string][]Record)
	keyValues := make(map[string]Record)
	for _, rec := range matched {
		fp, values := groupFingerprint(rec, group.Keys)
		if _, seen := buckets[fp]; !seen {
			order = append(order, fp)
			keyValues[fp] = values
		}
		buckets[fp] = append(buckets[fp], rec)
	}

	rows := make([]Record, 0, len(order))
	for _, fp := range order {
		row := Record{}
		for name, v := range keyValues[fp] {
			row[name] = v
		}
		for _, field := range group.Fields {
			switch field.Operator {
			case FieldCount:
				row[field.Name] = len(buckets[fp])
			case FieldSize:
				row[field.Name] = distinctSize(buckets[fp], field.Key)
			}
		}
		rows = append(rows, row)
	}

	if q.Sort != nil {
		sortRecords(rows, *q.Sort)
	}
	if q.Page != nil {
		rows = pageRecords(rows, *q.Page)
	}
	return rows, nil
}

// groupFingerprint derives a stable bucket key plus the named key values for
// the output row
func groupFingerprint(rec Record, keys []GroupKey) (string, Record) {
	parts := make([]string, 0, len(keys))
	values := Record{}
	for _, k := range keys {
		v, _ := Resolve(rec, k.Key)
		values[k.Name] = v
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return strings.Join(parts, "\x1f"), values
}

func distinctSize(records []Record, key string) int {
	seen := make(map[string]struct{})
	for _, rec := range records {
		v, ok := Resolve(rec, key)
		if !ok {
			continue
		}
		for _, elem := range flatten(v) {
			if elem == nil {
				continue
			}
			seen[fmt.Sprintf("%v", elem)] = struct{}{}
		}
	}
	return len(seen)
}
