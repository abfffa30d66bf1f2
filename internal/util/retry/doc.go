// Package retry provides exponential backoff retry logic for transient failures.
//
// [WithExponentialBackoff] retries an operation with configurable retry count,
// initial delay, maximum delay and multiplier. Errors wrapped with [Fatal], or
// rejected by a [WithRetryIf] predicate, stop the loop immediately. It is used
// for cloud API calls, teardown deletions and SSH connection attempts.
package retry
