package coordinator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bhumikasha/terracotta-platform/transport"
	"github.com/bhumikasha/terracotta-platform/wire"
)

// ForcedOutcome overrides the default rollback decision of Repair's
// all-PREPARED-or-unseen branch (spec.md §4.5 step 3). ForceNone leaves the
// default in place.
type ForcedOutcome int

const (
	ForceNone ForcedOutcome = iota
	ForceCommit
	ForceRollback
)

// NoPriorChangeError is returned by Repair when discovery finds no
// PREPARED tail anywhere: there is nothing to recover.
type NoPriorChangeError struct{}

func (NoPriorChangeError) Error() string { return "no prepared change found; nothing to repair" }

// AmbiguousRecoveryError is returned by Repair when more than one distinct
// uuid is found PREPARED across targets -- recovery only resolves one
// change per session.
type AmbiguousRecoveryError struct{ detail string }

func (e AmbiguousRecoveryError) Error() string { return "ambiguous recovery: " + e.detail }

// Repair runs the recovery/take-over procedure of spec.md §4.5 (C6): it
// discovers every target, partitions them by their relationship to the one
// PREPARED uuid it finds, decides an outcome, takes over the still-PREPARED
// nodes, and drives them to that outcome. Nodes in the X partition (never
// saw the change) are left untouched -- the caller runs a normal Apply
// session against just those nodes afterward, per spec.md §4.5 step 5.
func (c *Coordinator) Repair(ctx context.Context, force ForcedOutcome) (*Result, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	results := c.discoverAll(ctx)

	var changeUUID uuid.UUID
	haveUUID := false
	for _, r := range results {
		if r.err != nil {
			continue
		}
		if r.resp.LatestChange != nil && r.resp.LatestChange.State == wire.StatePrepared {
			if !haveUUID {
				changeUUID, haveUUID = r.resp.LatestChange.UUID, true
			} else if r.resp.LatestChange.UUID != changeUUID {
				return nil, AmbiguousRecoveryError{detail: fmt.Sprintf("both %s and another uuid are PREPARED", changeUUID)}
			}
		}
	}
	if !haveUUID {
		return nil, NoPriorChangeError{}
	}

	var prepared, committed, rolledBack []string
	expected := make(map[string]uint64, len(results))
	for _, r := range results {
		if r.err != nil {
			continue
		}
		expected[r.node] = r.resp.MutativeMessageCount
		if r.resp.LatestChange == nil || r.resp.LatestChange.UUID != changeUUID {
			continue // partition X: never saw this uuid, left for a follow-up repair
		}
		switch r.resp.LatestChange.State {
		case wire.StatePrepared:
			prepared = append(prepared, r.node)
		case wire.StateCommitted:
			committed = append(committed, r.node)
		case wire.StateRolledBack:
			rolledBack = append(rolledBack, r.node)
		}
	}

	commit := false
	switch {
	case len(committed) > 0:
		commit = true
	case len(rolledBack) > 0:
		commit = false
	case force == ForceCommit:
		commit = true
	default:
		commit = false // default policy: rollback (spec.md §4.5 step 3)
	}
	_ = ForceRollback // explicit no-op: ForceRollback just reaffirms the default

	byID := make(map[string]transport.NodeClient, len(c.Targets))
	for _, t := range c.Targets {
		byID[t.ID()] = t
	}
	for _, node := range prepared {
		t, ok := byID[node]
		if !ok {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
		resp, err := t.TakeOver(callCtx, wire.TakeOverRequest{
			ExpectedMutativeCount: expected[node],
			ChangeUUID:            changeUUID,
			Host:                  c.Host,
			User:                  c.User,
		})
		cancel()
		if err != nil || !resp.Accepted {
			logger.Warning("take_over of %s failed, still attempting to settle it: %v", node, err)
			continue
		}
		expected[node]++ // take_over itself consumed a mutative slot (spec.md §4.6)
	}

	failed := make(map[string]string)
	for _, node := range prepared {
		t, ok := byID[node]
		if !ok {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
		var err error
		if commit {
			var resp wire.CommitResponse
			resp, err = t.Commit(callCtx, wire.CommitRequest{ExpectedMutativeCount: expected[node], ChangeUUID: changeUUID, Host: c.Host, User: c.User})
			if err == nil && !resp.Accepted {
				err = fmt.Errorf("commit not accepted")
			}
		} else {
			var resp wire.RollbackResponse
			resp, err = t.Rollback(callCtx, wire.RollbackRequest{ExpectedMutativeCount: expected[node], ChangeUUID: changeUUID, Host: c.Host, User: c.User})
			if err == nil && !resp.Accepted {
				err = fmt.Errorf("rollback not accepted")
			}
		}
		cancel()
		if err != nil {
			failed[node] = err.Error()
		}
	}

	outcome := OutcomeRolledBack
	if commit {
		outcome = OutcomeCommitted
	}
	if len(failed) > 0 {
		if commit {
			outcome = OutcomePartiallyCommitted
		} else {
			outcome = OutcomePartiallyRolledBack
		}
	}
	return &Result{Outcome: outcome, UUID: changeUUID, Failed: failed}, nil
}
