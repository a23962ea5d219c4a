// Package query implements the generic filter and aggregation pipeline shared
// by every identity resource type.
//
// # Filtering
//
// A query carries a list of filter clauses, each a key/operator/value triple:
//
//	q := query.Query{
//		Filters: []query.Filter{
//			{Key: "name", Value: "steven", Operator: query.OpContain},
//			{Key: "state", Value: []interface{}{"ENABLED", "PENDING"}, Operator: query.OpIn},
//		},
//	}
//
// Clauses combine with logical AND. Keys address fields of a Record, with
// dotted keys descending into nested maps (for example "tags.env"). An eq
// clause with a nil value selects records where the field is absent or nil.
//
// # Aggregation
//
// Stat queries group filtered records by one or more keys and compute fields
// per group (count of records, size = distinct cardinality of a nested
// multi-valued field), optionally sorted by an output field name:
//
//	rows, err := query.Stat(records, query.StatQuery{
//		Aggregate: &query.Aggregate{Group: &query.Group{
//			Keys:   []query.GroupKey{{Key: "user_id", Name: "Id"}},
//			Fields: []query.GroupField{{Operator: query.FieldCount, Name: "Count"}},
//		}},
//		Sort: &query.Sort{Name: "Count", Desc: true},
//	})
//
// Group order is first-seen unless a sort is requested; sorting is stable so
// ties keep their first-seen order.
package query
