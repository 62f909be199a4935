// Package uniqueness detects duplicate values among nested child records
// before they are persisted.
//
// A host builds a parent together with its children in memory and calls
// ValidateNested for a single child collection, or ValidateTree for child
// collections spread over a polymorphic container/component tree. Both
// compare a composite key (the field value, optionally lower-cased, plus
// any scope values) across every candidate and optionally ask a Store
// whether a persisted row already holds the same key.
//
// Duplicates are reported through the records' Errors, never returned as
// Go errors. The returned error is reserved for misuse (ErrInvalidArgument),
// cyclic trees (ErrCyclicStructure), runaway depth (ErrMaxDepthExceeded)
// and Store failures.
package uniqueness
