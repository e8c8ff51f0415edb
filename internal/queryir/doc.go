// Package queryir is the predicate language of datastore filters.
//
// A predicate is a tree of And, Or, Not and Filter nodes:
//
//	queryir.And(
//		queryir.Eq("meeting_id", ir.IRInt(1)),
//		queryir.Filter{Field: "weight", Op: queryir.OpGt, Value: ir.IRInt(3)},
//	)
//
// The same tree is compiled to SQL by querysql for the backing store and
// evaluated in memory by Match for instances held in the request overlay, so
// both paths must agree on semantics:
//   - a missing field equals null
//   - "= null" and "!= null" test presence
//   - any other comparison involving a missing field is false
//   - values of different types never compare equal
//
// Predicate is sealed with a marker method so backends can switch
// exhaustively over node types.
package queryir
