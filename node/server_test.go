package node

import (
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/bhumikasha/terracotta-platform/changelog"
	"github.com/bhumikasha/terracotta-platform/topology"
	"github.com/bhumikasha/terracotta-platform/wire"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log, err := changelog.OpenInDir(afero.NewMemMapFs(), "/node-a")
	require.NoError(t, err)
	return NewServer("node-a", ModeActiveCoordinator, log, nil)
}

func attachStripePayload() wire.Payload {
	return wire.AttachStripe(topology.Stripe{ID: "s1"})
}

func TestDiscoverOnEmptyLog(t *testing.T) {
	s := newTestServer(t)
	resp := s.Discover(wire.DiscoverRequest{})
	require.Equal(t, uint64(0), resp.MutativeMessageCount)
	require.Equal(t, uint64(0), resp.CurrentVersion)
	require.Nil(t, resp.LatestChange)
}

func TestPrepareCommitCycle(t *testing.T) {
	s := newTestServer(t)
	changeUUID := uuid.New()

	pr, err := s.Prepare(wire.PrepareRequest{
		ExpectedMutativeCount: 0,
		ChangeUUID:            changeUUID,
		NewVersion:            1,
		Payload:               attachStripePayload(),
		Host:                  "h", User: "u",
	})
	require.NoError(t, err)
	require.True(t, pr.Accepted)

	disc := s.Discover(wire.DiscoverRequest{})
	require.Equal(t, uint64(1), disc.MutativeMessageCount)
	require.Equal(t, wire.StatePrepared, disc.LatestChange.State)

	cr, err := s.Commit(wire.CommitRequest{ExpectedMutativeCount: 1, ChangeUUID: changeUUID, Host: "h", User: "u"})
	require.NoError(t, err)
	require.True(t, cr.Accepted)

	disc = s.Discover(wire.DiscoverRequest{})
	require.Equal(t, uint64(2), disc.MutativeMessageCount)
	require.Equal(t, uint64(1), disc.CurrentVersion)
}

func TestPrepareRejectsStaleCounter(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Prepare(wire.PrepareRequest{ExpectedMutativeCount: 7, ChangeUUID: uuid.New(), NewVersion: 1, Payload: attachStripePayload()})
	require.Error(t, err)
	_, ok := err.(ConcurrentError)
	require.True(t, ok)
}

func TestPrepareRejectsWhenAlreadyPrepared(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Prepare(wire.PrepareRequest{ExpectedMutativeCount: 0, ChangeUUID: uuid.New(), NewVersion: 1, Payload: attachStripePayload()})
	require.NoError(t, err)

	_, err = s.Prepare(wire.PrepareRequest{ExpectedMutativeCount: 1, ChangeUUID: uuid.New(), NewVersion: 2, Payload: attachStripePayload()})
	require.Error(t, err)
	_, ok := err.(AlreadyPreparedError)
	require.True(t, ok)
}

func TestPrepareRejectsOnEvaluatorReject(t *testing.T) {
	s := newTestServer(t)
	// detaching a stripe that doesn't exist is always rejected by the
	// evaluator, independent of node state.
	resp, err := s.Prepare(wire.PrepareRequest{ExpectedMutativeCount: 0, ChangeUUID: uuid.New(), NewVersion: 1, Payload: wire.DetachStripe("nope")})
	require.NoError(t, err) // Prepare itself succeeds as an RPC...
	require.False(t, resp.Accepted) // ...but the evaluator's verdict is carried in the response, not an error.
	require.NotEmpty(t, resp.RejectionReason)
}

func TestCommitRejectsUuidMismatch(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Prepare(wire.PrepareRequest{ExpectedMutativeCount: 0, ChangeUUID: uuid.New(), NewVersion: 1, Payload: attachStripePayload()})
	require.NoError(t, err)

	_, err = s.Commit(wire.CommitRequest{ExpectedMutativeCount: 1, ChangeUUID: uuid.New()})
	require.Error(t, err)
	_, ok := err.(UuidMismatchError)
	require.True(t, ok)
}

func TestRollbackReturnsToAccepting(t *testing.T) {
	s := newTestServer(t)
	changeUUID := uuid.New()
	_, err := s.Prepare(wire.PrepareRequest{ExpectedMutativeCount: 0, ChangeUUID: changeUUID, NewVersion: 1, Payload: attachStripePayload()})
	require.NoError(t, err)

	rr, err := s.Rollback(wire.RollbackRequest{ExpectedMutativeCount: 1, ChangeUUID: changeUUID})
	require.NoError(t, err)
	require.True(t, rr.Accepted)

	// A fresh prepare is legal again. The rolled-back record stays in the
	// chain at version 1, so the next record chains onto it at version 2.
	_, err = s.Prepare(wire.PrepareRequest{ExpectedMutativeCount: 2, ChangeUUID: uuid.New(), NewVersion: 2, Payload: attachStripePayload()})
	require.NoError(t, err)
}

func TestTakeOverReturnsTailWithoutChangingState(t *testing.T) {
	s := newTestServer(t)
	changeUUID := uuid.New()
	_, err := s.Prepare(wire.PrepareRequest{ExpectedMutativeCount: 0, ChangeUUID: changeUUID, NewVersion: 1, Payload: attachStripePayload()})
	require.NoError(t, err)

	to, err := s.TakeOver(wire.TakeOverRequest{ExpectedMutativeCount: 1, ChangeUUID: changeUUID})
	require.NoError(t, err)
	require.True(t, to.Accepted)
	require.Equal(t, wire.StatePrepared, to.TailRecord.State)

	// counter monotonicity (spec.md §8 property 4): take_over consumed a
	// mutative slot.
	require.Equal(t, uint64(2), s.Discover(wire.DiscoverRequest{}).MutativeMessageCount)
}

func TestPassiveNodeRejectsPrepare(t *testing.T) {
	log, err := changelog.OpenInDir(afero.NewMemMapFs(), "/node-a")
	require.NoError(t, err)
	s := NewServer("node-a", ModePassive, log, nil)

	_, err = s.Prepare(wire.PrepareRequest{ExpectedMutativeCount: 0, ChangeUUID: uuid.New(), NewVersion: 1, Payload: attachStripePayload()})
	require.Error(t, err)
	_, ok := err.(NotActiveError)
	require.True(t, ok)
}
