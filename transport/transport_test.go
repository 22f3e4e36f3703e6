package transport_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/bhumikasha/terracotta-platform/changelog"
	"github.com/bhumikasha/terracotta-platform/node"
	"github.com/bhumikasha/terracotta-platform/topology"
	"github.com/bhumikasha/terracotta-platform/transport"
	"github.com/bhumikasha/terracotta-platform/wire"
)

func newTestNode(t *testing.T) *node.Server {
	t.Helper()
	log, err := changelog.OpenInDir(afero.NewMemMapFs(), "/node-a")
	require.NoError(t, err)
	return node.NewServer("node-a", node.ModeActiveCoordinator, log, nil)
}

func TestLocalNodeClientDelegatesToServer(t *testing.T) {
	srv := newTestNode(t)
	client := transport.NewLocalNodeClient("node-a", srv)
	require.Equal(t, "node-a", client.ID())

	changeUUID := uuid.New()
	presp, err := client.Prepare(context.Background(), wire.PrepareRequest{
		ExpectedMutativeCount: 0,
		ChangeUUID:            changeUUID,
		NewVersion:            1,
		Payload:               wire.AttachStripe(topology.Stripe{ID: "s1"}),
	})
	require.NoError(t, err)
	require.True(t, presp.Accepted)

	disc, err := client.Discover(context.Background(), wire.DiscoverRequest{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), disc.MutativeMessageCount)

	cresp, err := client.Commit(context.Background(), wire.CommitRequest{ExpectedMutativeCount: 1, ChangeUUID: changeUUID})
	require.NoError(t, err)
	require.True(t, cresp.Accepted)
}

// loopbackRoundTripper dispatches a framed request straight into a
// node.Server, the same demultiplexing cmd/nomadnode's listener does over a
// real TCP connection, but in-process -- enough to exercise RemoteNodeClient's
// encode/decode path without a toolchain-run listener.
func loopbackRoundTripper(srv *node.Server) transport.RoundTripper {
	return func(_ context.Context, reqKind wire.MessageKind, body []byte) (wire.MessageKind, []byte, error) {
		switch reqKind {
		case wire.KindDiscoverRequest:
			resp := srv.Discover(wire.DiscoverRequest{})
			b, err := json.Marshal(resp)
			return wire.KindDiscoverResponse, b, err
		case wire.KindPrepareRequest:
			var req wire.PrepareRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return 0, nil, err
			}
			resp, err := srv.Prepare(req)
			if err != nil {
				resp = wire.PrepareResponse{Accepted: false, RejectionReason: err.Error()}
			}
			b, merr := json.Marshal(resp)
			return wire.KindPrepareResponse, b, merr
		case wire.KindCommitRequest:
			var req wire.CommitRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return 0, nil, err
			}
			resp, err := srv.Commit(req)
			if err != nil {
				resp = wire.CommitResponse{Accepted: false, RejectionReason: err.Error()}
			}
			b, merr := json.Marshal(resp)
			return wire.KindCommitResponse, b, merr
		case wire.KindDiagnosticRequest:
			resp := srv.Diagnostic(wire.DiagnosticRequest{})
			b, err := json.Marshal(resp)
			return wire.KindDiagnosticResponse, b, err
		default:
			return 0, nil, nil
		}
	}
}

func TestRemoteNodeClientRoundTrip(t *testing.T) {
	srv := newTestNode(t)
	client := transport.NewRemoteNodeClient("node-a", loopbackRoundTripper(srv))

	disc, err := client.Discover(context.Background(), wire.DiscoverRequest{})
	require.NoError(t, err)
	require.Equal(t, uint64(0), disc.MutativeMessageCount)

	changeUUID := uuid.New()
	presp, err := client.Prepare(context.Background(), wire.PrepareRequest{
		ExpectedMutativeCount: 0,
		ChangeUUID:            changeUUID,
		NewVersion:            1,
		Payload:               wire.AttachStripe(topology.Stripe{ID: "s1"}),
	})
	require.NoError(t, err)
	require.True(t, presp.Accepted)

	cresp, err := client.Commit(context.Background(), wire.CommitRequest{ExpectedMutativeCount: 1, ChangeUUID: changeUUID})
	require.NoError(t, err)
	require.True(t, cresp.Accepted)
}

func TestRemoteNodeClientRoundTripsDiagnostic(t *testing.T) {
	srv := newTestNode(t)
	client := transport.NewRemoteNodeClient("node-a", loopbackRoundTripper(srv))

	changeUUID := uuid.New()
	_, err := client.Prepare(context.Background(), wire.PrepareRequest{
		ExpectedMutativeCount: 0,
		ChangeUUID:            changeUUID,
		NewVersion:            1,
		Payload:               wire.AttachStripe(topology.Stripe{ID: "s1"}),
	})
	require.NoError(t, err)

	diag, err := client.Diagnostic(context.Background(), wire.DiagnosticRequest{})
	require.NoError(t, err)
	require.Equal(t, "node-a", diag.ID)
	require.Equal(t, string(node.ModeActiveCoordinator), diag.Mode)
	require.Equal(t, uint64(1), diag.MutativeMessageCount)
	require.NotNil(t, diag.Tail)
	require.Equal(t, changeUUID, diag.Tail.UUID)
}

func TestLocalNodeClientDiagnosticMatchesServer(t *testing.T) {
	srv := newTestNode(t)
	client := transport.NewLocalNodeClient("node-a", srv)

	diag, err := client.Diagnostic(context.Background(), wire.DiagnosticRequest{})
	require.NoError(t, err)
	require.Equal(t, srv.Diagnostic(wire.DiagnosticRequest{}), diag)
}

func TestRemoteNodeClientSurfacesTransportFailure(t *testing.T) {
	client := transport.NewRemoteNodeClient("gone", func(_ context.Context, _ wire.MessageKind, _ []byte) (wire.MessageKind, []byte, error) {
		return 0, nil, context.DeadlineExceeded
	})
	_, err := client.Discover(context.Background(), wire.DiscoverRequest{})
	require.Error(t, err)
}
