package changelog

import "fmt"

// LogConflictError is raised by AppendPrepared when the record being
// appended does not chain onto the current head, and by ApplyTailState when
// there is no matching PREPARED tail (spec.md §4.1, §7). It indicates a
// protocol bug in the caller -- the node state machine is responsible for
// never calling Append with a record that doesn't chain -- so it is never
// expected to be recovered from locally.
type LogConflictError struct {
	reason string
}

func NewLogConflictError(reason string) LogConflictError {
	return LogConflictError{reason: reason}
}

func (e LogConflictError) Error() string { return "log conflict: " + e.reason }

// MalformedRecordError is raised by Open/replay, and by Get when it falls
// back to scanning the journal, when a persisted record fails its CRC or
// cannot be decoded and the failure is not explainable as a torn trailing
// write (spec.md §7: "raise MalformedChangeRecord ... refuse to start;
// operator intervention required"). offset is the byte position in the
// journal file where the bad frame begins; the record's own version is
// not generally recoverable once its framing is corrupt.
type MalformedRecordError struct {
	offset int64
	reason string
}

func NewMalformedRecordError(offset int64, reason string) MalformedRecordError {
	return MalformedRecordError{offset: offset, reason: reason}
}

func (e MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at offset %d: %s", e.offset, e.reason)
}

// DurabilityError is raised when a durable write (fsync) fails. The state
// machine must not acknowledge the caller when it sees this.
type DurabilityError struct {
	reason string
}

func NewDurabilityError(reason string) DurabilityError {
	return DurabilityError{reason: reason}
}

func (e DurabilityError) Error() string { return "durability failure: " + e.reason }
