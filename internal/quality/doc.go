// Package quality evaluates the sales table against a rule set.
//
// Four check categories are supported: missing values, numeric ranges,
// categorical allow-lists and consistency queries. [Engine.GenerateReport]
// fans the checks out over two bounded goroutine pools, one for I/O-bound
// checks and one for numeric-range checks, and merges their results into a
// [Report] by fixed key once every task has finished.
//
// A check that cannot run never aborts the report. Its slot receives the
// category's empty value and a [CheckFailure] is recorded and logged:
//
//   - configuration: the rule names a column the table does not have
//   - query: the query failed or the task panicked
//
// Only setup problems, such as a missing sales table, are returned as errors.
package quality
