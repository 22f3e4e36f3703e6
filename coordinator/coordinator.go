// Package coordinator drives a change across a target set of nodes: the
// phase A-E protocol of spec.md §4.4 (C5) and the recovery/take-over
// procedure of §4.5 (C6).
//
// The fan-out shape is grounded on the teacher's Cluster.ExecuteRead: a
// buffered response channel sized to the target count, one goroutine per
// target with its own CallTimeout deadline, and a collector that drains the
// channel until every goroutine has reported.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/op/go-logging"
	"golang.org/x/time/rate"

	"github.com/bhumikasha/terracotta-platform/transport"
	"github.com/bhumikasha/terracotta-platform/wire"
)

var logger = logging.MustGetLogger("coordinator")

// Outcome is the terminal result of a coordinator session (spec.md §4.4
// phase E).
type Outcome string

const (
	OutcomeCommitted          Outcome = "COMMITTED"
	OutcomePartiallyCommitted Outcome = "PARTIALLY_COMMITTED"
	OutcomeRolledBack         Outcome = "ROLLED_BACK"
	OutcomePartiallyRolledBack Outcome = "PARTIALLY_ROLLED_BACK"
)

// Result is the structured verdict a Coordinator session reports; nomadctl
// formats this for the operator per spec.md §7 ("the CLI formats for the
// operator").
type Result struct {
	Outcome Outcome
	UUID    uuid.UUID
	Version uint64
	// Failed holds, per node id, the rejection/commit-failure reason seen
	// during Phase E (always empty for a clean OutcomeCommitted/RolledBack).
	Failed map[string]string
}

// Coordinator drives change sessions across Targets. Each Apply or Repair
// call is one independent session; the Coordinator keeps no state between
// calls, so the same value can run several sessions one after another.
type Coordinator struct {
	Targets     []transport.NodeClient
	Host        string
	User        string
	CallTimeout time.Duration
	Limiter     *rate.Limiter
}

// New builds a Coordinator with a 5s per-call deadline and no throttling.
// Use the struct literal directly to override either.
func New(targets []transport.NodeClient, host, user string) *Coordinator {
	return &Coordinator{
		Targets:     targets,
		Host:        host,
		User:        user,
		CallTimeout: 5 * time.Second,
	}
}

func (c *Coordinator) wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}

type discoverResult struct {
	node string
	resp wire.DiscoverResponse
	err  error
}

// discoverAll runs Phase A/D's discover fan-out and returns one result per
// target, in no particular order.
func (c *Coordinator) discoverAll(ctx context.Context) []discoverResult {
	out := make(chan discoverResult, len(c.Targets))
	var wg sync.WaitGroup
	for _, target := range c.Targets {
		wg.Add(1)
		go func(t transport.NodeClient) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
			defer cancel()
			resp, err := t.Discover(callCtx, wire.DiscoverRequest{})
			out <- discoverResult{node: t.ID(), resp: resp, err: err}
		}(target)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]discoverResult, 0, len(c.Targets))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// phaseA runs first discovery and the three Phase A checks: reachability,
// no PREPARED tail, and pairwise agreement on current_version and the
// latest committed uuid.
func (c *Coordinator) phaseA(ctx context.Context) (map[string]wire.DiscoverResponse, error) {
	results := c.discoverAll(ctx)

	var unreachable, prepared []string
	byNode := make(map[string]wire.DiscoverResponse, len(results))
	for _, r := range results {
		if r.err != nil {
			unreachable = append(unreachable, r.node)
			continue
		}
		if r.resp.LatestChange != nil && r.resp.LatestChange.State == wire.StatePrepared {
			prepared = append(prepared, r.node)
		}
		byNode[r.node] = r.resp
	}
	if len(unreachable) > 0 {
		return nil, NewPartialClusterError(unreachable)
	}
	if len(prepared) > 0 {
		return nil, NewPriorChangeInFlightError(prepared)
	}

	var refVersion uint64
	var refUUID uuid.UUID
	first := true
	for node, resp := range byNode {
		// Only a COMMITTED tail identifies shared history; a rolled-back
		// tail is node-local noise from an abandoned session and must not
		// be compared across nodes that never saw it.
		nodeUUID := uuid.Nil
		if resp.LatestChange != nil && resp.LatestChange.State == wire.StateCommitted {
			nodeUUID = resp.LatestChange.UUID
		}
		if first {
			refVersion, refUUID, first = resp.CurrentVersion, nodeUUID, false
			continue
		}
		if resp.CurrentVersion != refVersion || nodeUUID != refUUID {
			return nil, NewInconsistentClusterError(fmt.Sprintf(
				"%s reports version=%d uuid=%s, expected version=%d uuid=%s",
				node, resp.CurrentVersion, nodeUUID, refVersion, refUUID))
		}
	}
	return byNode, nil
}

type prepareResult struct {
	node string
	resp wire.PrepareResponse
	err  error
}

func (c *Coordinator) prepareAll(ctx context.Context, expected map[string]uint64, changeUUID uuid.UUID, newVersion uint64, payload wire.Payload) []prepareResult {
	out := make(chan prepareResult, len(c.Targets))
	var wg sync.WaitGroup
	for _, target := range c.Targets {
		wg.Add(1)
		go func(t transport.NodeClient) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
			defer cancel()
			req := wire.PrepareRequest{
				ExpectedMutativeCount: expected[t.ID()],
				ChangeUUID:            changeUUID,
				NewVersion:            newVersion,
				Payload:               payload,
				Host:                  c.Host,
				User:                  c.User,
			}
			resp, err := t.Prepare(callCtx, req)
			out <- prepareResult{node: t.ID(), resp: resp, err: err}
		}(target)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]prepareResult, 0, len(c.Targets))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// rollbackAcceptors sends rollback to every node in acceptors, logging but
// never aborting on a per-node failure -- spec.md §4.4 phase E's "rejections
// here are logged but do not abort the fan-out" applies equally to the
// rollback-on-abort path.
func (c *Coordinator) rollbackAcceptors(ctx context.Context, acceptors []string, expected map[string]uint64, changeUUID uuid.UUID) {
	byID := make(map[string]transport.NodeClient, len(c.Targets))
	for _, t := range c.Targets {
		byID[t.ID()] = t
	}
	var wg sync.WaitGroup
	for _, node := range acceptors {
		t, ok := byID[node]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(t transport.NodeClient) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
			defer cancel()
			req := wire.RollbackRequest{
				ExpectedMutativeCount: expected[t.ID()] + 1,
				ChangeUUID:            changeUUID,
				Host:                  c.Host,
				User:                  c.User,
			}
			if _, err := t.Rollback(callCtx, req); err != nil {
				logger.Warning("rollback of aborted prepare failed on %s: %v", t.ID(), err)
			}
		}(t)
	}
	wg.Wait()
}

type settleResult struct {
	node string
	ok   bool
	err  error
}

// settleAll sends commit (or rollback, if commit is false) to every target
// and always attempts the full fan-out (spec.md §4.4 phase E).
func (c *Coordinator) settleAll(ctx context.Context, commit bool, expected map[string]uint64, changeUUID uuid.UUID) []settleResult {
	out := make(chan settleResult, len(c.Targets))
	var wg sync.WaitGroup
	for _, target := range c.Targets {
		wg.Add(1)
		go func(t transport.NodeClient) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
			defer cancel()
			exp := expected[t.ID()] + 1 // +1: the accepted prepare already bumped the counter
			var ok bool
			var err error
			if commit {
				var resp wire.CommitResponse
				resp, err = t.Commit(callCtx, wire.CommitRequest{ExpectedMutativeCount: exp, ChangeUUID: changeUUID, Host: c.Host, User: c.User})
				ok = resp.Accepted
			} else {
				var resp wire.RollbackResponse
				resp, err = t.Rollback(callCtx, wire.RollbackRequest{ExpectedMutativeCount: exp, ChangeUUID: changeUUID, Host: c.Host, User: c.User})
				ok = resp.Accepted
			}
			out <- settleResult{node: t.ID(), ok: ok, err: err}
		}(target)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]settleResult, 0, len(c.Targets))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// Apply runs a full phase A-E session applying payload to every target
// (spec.md §4.4).
func (c *Coordinator) Apply(ctx context.Context, payload wire.Payload) (*Result, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	discovered, err := c.phaseA(ctx)
	if err != nil {
		return nil, err
	}

	changeUUID := uuid.New()
	var newVersion uint64
	expected := make(map[string]uint64, len(discovered))
	for node, resp := range discovered {
		expected[node] = resp.MutativeMessageCount
		if resp.CurrentVersion+1 > newVersion {
			newVersion = resp.CurrentVersion + 1
		}
	}

	prepared := c.prepareAll(ctx, expected, changeUUID, newVersion, payload)
	var acceptors []string
	var rejection error
	for _, r := range prepared {
		switch {
		case r.err != nil:
			if rejection == nil {
				rejection = NewRejectedError(r.node, r.err.Error())
			}
		case !r.resp.Accepted:
			if rejection == nil {
				rejection = NewRejectedError(r.node, r.resp.RejectionReason)
			}
		default:
			acceptors = append(acceptors, r.node)
		}
	}
	if rejection != nil {
		c.rollbackAcceptors(ctx, acceptors, expected, changeUUID)
		return nil, rejection
	}

	// Phase D: second discovery, race check.
	second := c.discoverAll(ctx)
	for _, r := range second {
		if r.err != nil {
			c.rollbackAcceptors(ctx, acceptors, expected, changeUUID)
			return nil, NewPartialClusterError([]string{r.node})
		}
		if r.resp.LatestChange == nil || r.resp.LatestChange.UUID != changeUUID {
			c.rollbackAcceptors(ctx, acceptors, expected, changeUUID)
			return nil, NewRaceDetectedError(r.node)
		}
	}

	settled := c.settleAll(ctx, true, expected, changeUUID)
	failed := make(map[string]string)
	for _, r := range settled {
		if r.err != nil {
			failed[r.node] = r.err.Error()
		} else if !r.ok {
			failed[r.node] = "commit not accepted"
		}
	}
	outcome := OutcomeCommitted
	if len(failed) > 0 {
		outcome = OutcomePartiallyCommitted
	}
	return &Result{Outcome: outcome, UUID: changeUUID, Version: newVersion, Failed: failed}, nil
}
