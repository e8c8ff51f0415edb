// Package engine is the action dispatcher.
//
// A dispatch takes an ordered list of (action, payload[]) pairs for one
// user and runs them against one request-scoped overlay. Every write goes
// through the relation resolver, every resulting change is accumulated
// into a single write request, and the request is flushed atomically at
// the end. The first error aborts the dispatch and drops the overlay, so a
// failed dispatch leaves the store untouched.
//
// Dispatch flow:
//
//  1. Look up each action and check its visibility.
//  2. Per payload element: contract, Validate, permission check, Expand,
//     Prepare, apply (overlay write, relation resolver, write events).
//  3. Sub-actions started through Invoker.Execute share all of the above;
//     a depth quota bounds nesting.
//  4. Deferred checks run once all actions are done: required fields,
//     unique keys, protected deletes, and checks registered by actions.
//  5. The write request is flushed in one position.
//
// A dispatch is single-threaded. Concurrent dispatches only meet in the
// store, where optimistic locks turn a lost race into a LockConflict that
// the transport retries.
package engine
