package node

import "fmt"

// ConcurrentError is returned when expected_mutative_count does not match
// the node's current counter: a write slipped in since the caller's last
// discover (spec.md §4.3, §7).
type ConcurrentError struct {
	expected uint64
	actual   uint64
}

func NewConcurrentError(expected, actual uint64) ConcurrentError {
	return ConcurrentError{expected: expected, actual: actual}
}

func (e ConcurrentError) Error() string {
	return fmt.Sprintf("concurrent modification: expected mutative count %d, node is at %d", e.expected, e.actual)
}

// AlreadyPreparedError is returned by Prepare when the tail is already
// PREPARED (a stale coordinator retrying prepare).
type AlreadyPreparedError struct{ tailUUID string }

func NewAlreadyPreparedError(tailUUID string) AlreadyPreparedError {
	return AlreadyPreparedError{tailUUID: tailUUID}
}

func (e AlreadyPreparedError) Error() string {
	return fmt.Sprintf("a change (%s) is already prepared", e.tailUUID)
}

// NotPreparedError is returned by Commit/Rollback/TakeOver when the tail is
// not PREPARED.
type NotPreparedError struct{}

func NewNotPreparedError() NotPreparedError { return NotPreparedError{} }

func (e NotPreparedError) Error() string { return "no change is currently prepared" }

// UuidMismatchError is returned by Commit/Rollback/TakeOver when the
// caller's uuid does not match the PREPARED tail's uuid.
type UuidMismatchError struct {
	expected string
	actual   string
}

func NewUuidMismatchError(expected, actual string) UuidMismatchError {
	return UuidMismatchError{expected: expected, actual: actual}
}

func (e UuidMismatchError) Error() string {
	return fmt.Sprintf("uuid mismatch: prepared change is %s, caller referenced %s", e.expected, e.actual)
}

// BadVersionError is returned by Prepare when new_version does not equal
// head.version + 1.
type BadVersionError struct {
	expected uint64
	actual   uint64
}

func NewBadVersionError(expected, actual uint64) BadVersionError {
	return BadVersionError{expected: expected, actual: actual}
}

func (e BadVersionError) Error() string {
	return fmt.Sprintf("bad version: expected %d, got %d", e.expected, e.actual)
}

// NotActiveError is returned by Prepare when the node's mode is PASSIVE
// (spec.md §3: "Only the active of a stripe accepts prepares").
type NotActiveError struct{}

func NewNotActiveError() NotActiveError { return NotActiveError{} }

func (e NotActiveError) Error() string { return "node is not the active coordinator of its stripe" }
