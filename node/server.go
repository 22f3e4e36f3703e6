// Package node implements the per-node state machine of spec.md §3/§4.3
// (C3): the only component allowed to touch a node's changelog.Log, and the
// thing a coordinator's transport.NodeClient ultimately calls into.
//
// Mirrors the teacher's consensus.Scope: one lock gates every mutative
// operation (prepare/commit/rollback/take_over) so at most one change is
// ever in flight per node (spec.md invariant 3), while Discover takes the
// read side of the same lock and never blocks behind another discover.
package node

import (
	"sync"
	"time"

	"github.com/cactus/go-statsd-client/statsd"
	"github.com/google/uuid"
	logging "github.com/op/go-logging"

	"github.com/bhumikasha/terracotta-platform/changelog"
	"github.com/bhumikasha/terracotta-platform/evaluator"
	"github.com/bhumikasha/terracotta-platform/wire"
)

var logger = logging.MustGetLogger("node")

// Mode distinguishes the one node per stripe the coordinator talks to
// (spec.md §3) from the passives that merely replicate.
type Mode string

const (
	ModeActiveCoordinator Mode = "ACTIVE_COORDINATOR"
	ModePassive           Mode = "PASSIVE"
)

// Server is the per-node state machine. One Server owns one changelog.Log;
// the mutativeMessageCount it reports in Discover is the optimistic-
// concurrency token a coordinator must echo back in ExpectedMutativeCount
// on every subsequent Prepare/Commit/Rollback/TakeOver (spec.md §4.3).
type Server struct {
	id   string
	mode Mode
	log  *changelog.Log
	stat statsd.Statter

	mu                    sync.RWMutex
	mutativeMessageCount  uint64
	lastMutationHost      string
	lastMutationUser      string
	lastMutationTimestamp time.Time

	now func() time.Time
}

// NewServer wraps log into a state machine for the node identified by id.
// stat may be nil, in which case instrumentation is a no-op.
func NewServer(id string, mode Mode, log *changelog.Log, stat statsd.Statter) *Server {
	if stat == nil {
		stat, _ = statsd.NewNoopClient()
	}
	return &Server{
		id:   id,
		mode: mode,
		log:  log,
		stat: stat,
		now:  time.Now,
	}
}

func (s *Server) count(bucket string) {
	if err := s.stat.Inc(bucket, 1, 1.0); err != nil {
		logger.Debug("statsd increment failed for %s: %v", bucket, err)
	}
}

// SetMode changes whether this node accepts prepares as the active of its
// stripe. A stripe failover flips this on the new active and its former
// active, outside the scope of any in-flight change.
func (s *Server) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// Discover answers the coordinator's status probe (phases A and D).
// It never blocks behind a mutative call for longer than that call's
// critical section, and never blocks another concurrent Discover.
func (s *Server) Discover(_ wire.DiscoverRequest) wire.DiscoverResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	head, _ := s.log.Head()
	var latest *wire.Record
	var checkpoints []string
	if head != nil {
		latest = head
		checkpoints = head.Checkpoints
	}

	return wire.DiscoverResponse{
		Mode:                  string(s.mode),
		MutativeMessageCount:  s.mutativeMessageCount,
		LastMutationHost:      s.lastMutationHost,
		LastMutationUser:      s.lastMutationUser,
		LastMutationTimestamp: s.lastMutationTimestamp,
		CurrentVersion:        s.log.CurrentVersion(),
		HighestVersion:        s.log.HighestVersion(),
		LatestChange:          latest,
		Checkpoints:           checkpoints,
	}
}

// checkCounterLocked rejects a mutative call whose ExpectedMutativeCount has
// gone stale: something else mutated this node since the caller's last
// discover (spec.md §4.3 "optimistic concurrency").
func (s *Server) checkCounterLocked(expected uint64) error {
	if expected != s.mutativeMessageCount {
		return NewConcurrentError(expected, s.mutativeMessageCount)
	}
	return nil
}

func (s *Server) recordMutationLocked(host, user string) {
	s.mutativeMessageCount++
	s.lastMutationHost = host
	s.lastMutationUser = user
	s.lastMutationTimestamp = s.now()
}

// Prepare evaluates req.Payload against the node's current configuration
// and, if accepted, durably appends a PREPARED record (the coordinator's
// phase C). Evaluation happens once per node, independently, using the pure
// evaluator.Evaluate -- every correctly-functioning node must reach the
// same verdict.
func (s *Server) Prepare(req wire.PrepareRequest) (wire.PrepareResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModeActiveCoordinator {
		return wire.PrepareResponse{}, NewNotActiveError()
	}
	if err := s.checkCounterLocked(req.ExpectedMutativeCount); err != nil {
		return wire.PrepareResponse{}, err
	}
	if head, ok := s.log.Head(); ok && !head.State.Terminal() {
		return wire.PrepareResponse{}, NewAlreadyPreparedError(head.UUID.String())
	}
	if req.NewVersion != s.log.HighestVersion()+1 {
		return wire.PrepareResponse{}, NewBadVersionError(s.log.HighestVersion()+1, req.NewVersion)
	}

	current := s.log.CurrentConfig()
	candidate, verdict := evaluator.Evaluate(current, req.Payload)
	if !verdict.Accepted {
		s.count("prepare.rejected")
		return wire.PrepareResponse{Accepted: false, RejectionReason: verdict.Reason}, nil
	}

	parent := uuid.Nil
	if head, ok := s.log.Head(); ok {
		parent = head.UUID
	}
	rec := &wire.Record{
		UUID:              req.ChangeUUID,
		ParentUUID:        parent,
		Version:           req.NewVersion,
		State:             wire.StatePrepared,
		Payload:           req.Payload,
		Result:            candidate,
		CreationHost:      req.Host,
		CreationUser:      req.User,
		CreationTimestamp: s.now(),
	}
	if err := s.log.AppendPrepared(rec); err != nil {
		return wire.PrepareResponse{}, err
	}
	s.recordMutationLocked(req.Host, req.User)
	s.count("prepare.accepted")
	return wire.PrepareResponse{Accepted: true}, nil
}

func (s *Server) tailFor(changeUUID uuid.UUID) (*wire.Record, error) {
	head, ok := s.log.Head()
	if !ok || head.State != wire.StatePrepared {
		return nil, NewNotPreparedError()
	}
	if head.UUID != changeUUID {
		return nil, NewUuidMismatchError(head.UUID.String(), changeUUID.String())
	}
	return head, nil
}

// Commit transitions the PREPARED tail to COMMITTED (spec.md §4.3 phase E).
func (s *Server) Commit(req wire.CommitRequest) (wire.CommitResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkCounterLocked(req.ExpectedMutativeCount); err != nil {
		return wire.CommitResponse{}, err
	}
	if _, err := s.tailFor(req.ChangeUUID); err != nil {
		return wire.CommitResponse{}, err
	}
	if _, err := s.log.ApplyTailState(req.ChangeUUID, wire.StateCommitted, req.Host, req.User, s.now()); err != nil {
		return wire.CommitResponse{}, err
	}
	s.recordMutationLocked(req.Host, req.User)
	s.count("commit.accepted")
	return wire.CommitResponse{Accepted: true}, nil
}

// Rollback transitions the PREPARED tail to ROLLED_BACK (spec.md §4.3 phase
// E, the discard path).
func (s *Server) Rollback(req wire.RollbackRequest) (wire.RollbackResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkCounterLocked(req.ExpectedMutativeCount); err != nil {
		return wire.RollbackResponse{}, err
	}
	if _, err := s.tailFor(req.ChangeUUID); err != nil {
		return wire.RollbackResponse{}, err
	}
	if _, err := s.log.ApplyTailState(req.ChangeUUID, wire.StateRolledBack, req.Host, req.User, s.now()); err != nil {
		return wire.RollbackResponse{}, err
	}
	s.recordMutationLocked(req.Host, req.User)
	s.count("rollback.accepted")
	return wire.RollbackResponse{Accepted: true}, nil
}

// TakeOver hands the still-PREPARED tail record to a recovering coordinator
// without changing its state (spec.md §5 recovery): it is advisory
// evidence, not a commit/rollback decision, but it still consumes a
// mutative-count slot so a stale coordinator racing the recovery is
// rejected by checkCounterLocked on its next call.
func (s *Server) TakeOver(req wire.TakeOverRequest) (wire.TakeOverResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkCounterLocked(req.ExpectedMutativeCount); err != nil {
		return wire.TakeOverResponse{}, err
	}
	tail, err := s.tailFor(req.ChangeUUID)
	if err != nil {
		return wire.TakeOverResponse{}, err
	}
	s.recordMutationLocked(req.Host, req.User)
	s.count("takeover.accepted")
	return wire.TakeOverResponse{Accepted: true, TailRecord: tail.Clone()}, nil
}

// Diagnostic is the snapshot nomadctl's `diagnostic` verb reads: the same
// facts as Discover plus the node's own id and mode, gathered without
// mutating anything and without a second round trip through Discover.
func (s *Server) Diagnostic(_ wire.DiagnosticRequest) wire.DiagnosticResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	head, _ := s.log.Head()
	return wire.DiagnosticResponse{
		ID:                    s.id,
		Mode:                  string(s.mode),
		MutativeMessageCount:  s.mutativeMessageCount,
		LastMutationHost:      s.lastMutationHost,
		LastMutationUser:      s.lastMutationUser,
		LastMutationTimestamp: s.lastMutationTimestamp,
		CurrentVersion:        s.log.CurrentVersion(),
		HighestVersion:        s.log.HighestVersion(),
		Tail:                  head,
	}
}
