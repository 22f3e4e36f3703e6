package coordinator

import (
	"fmt"
	"strings"
)

// PartialClusterError is raised when Phase A cannot reach every target
// (spec.md §4.4, §7 "Unreachable").
type PartialClusterError struct {
	unreachable []string
}

func NewPartialClusterError(unreachable []string) PartialClusterError {
	return PartialClusterError{unreachable: unreachable}
}

func (e PartialClusterError) Error() string {
	return fmt.Sprintf("partial cluster: unreachable targets [%s]", strings.Join(e.unreachable, ", "))
}

// PriorChangeInFlightError is raised when Phase A finds a target with a
// PREPARED tail and the caller did not request recovery.
type PriorChangeInFlightError struct {
	prepared []string
}

func NewPriorChangeInFlightError(prepared []string) PriorChangeInFlightError {
	return PriorChangeInFlightError{prepared: prepared}
}

func (e PriorChangeInFlightError) Error() string {
	return fmt.Sprintf("prior change in flight on [%s]; run repair", strings.Join(e.prepared, ", "))
}

// InconsistentClusterError is raised when Phase A's targets disagree on
// current_version or the latest committed uuid (spec.md §9 open question:
// this is a fail-closed, never a silently-picked winner).
type InconsistentClusterError struct {
	detail string
}

func NewInconsistentClusterError(detail string) InconsistentClusterError {
	return InconsistentClusterError{detail: detail}
}

func (e InconsistentClusterError) Error() string {
	return "inconsistent cluster: " + e.detail
}

// RaceDetectedError is raised when Phase D's second discovery shows a
// target's tail no longer matches the uuid this session just prepared.
type RaceDetectedError struct {
	node string
}

func NewRaceDetectedError(node string) RaceDetectedError {
	return RaceDetectedError{node: node}
}

func (e RaceDetectedError) Error() string {
	return fmt.Sprintf("race detected: %s's tail changed during prepare", e.node)
}

// RejectedError wraps the original Phase C rejection (evaluator reject,
// concurrent modification, etc.) once the coordinator has finished rolling
// back any acceptors, so the caller sees the cause rather than the
// bookkeeping that followed it.
type RejectedError struct {
	node   string
	reason string
}

func NewRejectedError(node, reason string) RejectedError {
	return RejectedError{node: node, reason: reason}
}

func (e RejectedError) Error() string {
	return fmt.Sprintf("rejected by %s: %s", e.node, e.reason)
}
