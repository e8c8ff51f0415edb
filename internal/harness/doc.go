// Package harness runs YAML scenarios against a real engine and a fresh
// in-memory store.
//
// # Scenario Format
//
//	name: agenda_assign_rejects_child
//	description: "Assigning an item below its own descendant fails"
//	now: 1700000000
//	data:
//	  meeting/1: { name: M, committee_id: 1 }
//	  agenda_item/10: { meeting_id: 1, child_ids: [11] }
//	requests:
//	  - user_id: 1
//	    actions:
//	      - name: agenda_item.assign
//	        data: [{ meeting_id: 1, parent_id: 12, ids: [10] }]
//	    expect:
//	      success: false
//	      kind: ActionError
//	      message: "Assigning item 10 to one of its children is not possible."
//	assertions:
//	  - type: instance
//	    fqid: agenda_item/10
//	    expect: { parent_id: null }
//
// A request without expect must succeed. Expected results are matched as
// subsets: objects may carry more keys than listed, lists must have the
// same length.
//
// # Assertion Types
//
//   - instance: the instance exists and its fields match expect
//   - deleted: the instance is absent or deleted
//   - history: the instance has a history line with template
//   - unchanged: request number step committed nothing
//   - consistent: the final store satisfies relation symmetry, equal
//     fields, tree acyclicity and unique keys
//
// # Deterministic Testing
//
// Every scenario gets a fixed clock (now, default 1700000000), sequential
// request ids prefixed with the scenario name and an in-memory media
// service, so the write requests compared by RunWithGolden are stable.
package harness
