// Package transport gives a coordinator a uniform way to reach every node
// in a cluster, whether that node lives in the same process (tests, a
// single-node bootstrap) or across the network.
//
// Grounded on the teacher's cluster/node.go baseNode/LocalNode/RemoteNode
// split: a node.Server is wrapped behind the same NodeClient interface
// whether the coordinator is talking to it directly or through a
// RoundTripper.
package transport

import (
	"context"
	"fmt"

	"github.com/bhumikasha/terracotta-platform/node"
	"github.com/bhumikasha/terracotta-platform/wire"
)

// NodeClient is everything a coordinator needs to drive one node through
// the protocol of spec.md §4.3/§4.4.
type NodeClient interface {
	ID() string
	Discover(ctx context.Context, req wire.DiscoverRequest) (wire.DiscoverResponse, error)
	Prepare(ctx context.Context, req wire.PrepareRequest) (wire.PrepareResponse, error)
	Commit(ctx context.Context, req wire.CommitRequest) (wire.CommitResponse, error)
	Rollback(ctx context.Context, req wire.RollbackRequest) (wire.RollbackResponse, error)
	TakeOver(ctx context.Context, req wire.TakeOverRequest) (wire.TakeOverResponse, error)
	Diagnostic(ctx context.Context, req wire.DiagnosticRequest) (wire.DiagnosticResponse, error)
}

// LocalNodeClient calls directly into a node.Server running in the same
// process. Every test in coordinator_test.go uses it to assemble a fake
// cluster without a network.
type LocalNodeClient struct {
	id     string
	server *node.Server
}

func NewLocalNodeClient(id string, server *node.Server) *LocalNodeClient {
	return &LocalNodeClient{id: id, server: server}
}

func (c *LocalNodeClient) ID() string { return c.id }

func (c *LocalNodeClient) Discover(_ context.Context, req wire.DiscoverRequest) (wire.DiscoverResponse, error) {
	return c.server.Discover(req), nil
}

func (c *LocalNodeClient) Prepare(_ context.Context, req wire.PrepareRequest) (wire.PrepareResponse, error) {
	return c.server.Prepare(req)
}

func (c *LocalNodeClient) Commit(_ context.Context, req wire.CommitRequest) (wire.CommitResponse, error) {
	return c.server.Commit(req)
}

func (c *LocalNodeClient) Rollback(_ context.Context, req wire.RollbackRequest) (wire.RollbackResponse, error) {
	return c.server.Rollback(req)
}

func (c *LocalNodeClient) TakeOver(_ context.Context, req wire.TakeOverRequest) (wire.TakeOverResponse, error) {
	return c.server.TakeOver(req)
}

func (c *LocalNodeClient) Diagnostic(_ context.Context, req wire.DiagnosticRequest) (wire.DiagnosticResponse, error) {
	return c.server.Diagnostic(req), nil
}

// RoundTripper sends one framed request to a remote node and returns its
// framed response body. Concrete wire transport (TCP, HTTP, whatever) is
// out of scope per spec.md §1 -- RemoteNodeClient only needs something
// that can move bytes and report a transport-level failure.
type RoundTripper func(ctx context.Context, reqKind wire.MessageKind, body []byte) (respKind wire.MessageKind, respBody []byte, err error)

// RemoteNodeClient drives a node across whatever RoundTripper the caller
// supplies, encoding/decoding through the wire package's message envelope.
// Mirrors the teacher's RemoteNode wrapping a ConnectionPool: the transport
// itself is a swappable collaborator, never a concrete protocol baked into
// this type.
type RemoteNodeClient struct {
	id string
	rt RoundTripper
}

func NewRemoteNodeClient(id string, rt RoundTripper) *RemoteNodeClient {
	return &RemoteNodeClient{id: id, rt: rt}
}

func (c *RemoteNodeClient) ID() string { return c.id }

func roundTrip(ctx context.Context, rt RoundTripper, reqKind, wantRespKind wire.MessageKind, req interface{}, resp interface{}) error {
	body, err := encodeBody(req)
	if err != nil {
		return err
	}
	gotKind, respBody, err := rt(ctx, reqKind, body)
	if err != nil {
		return fmt.Errorf("transport: round trip to %v failed: %w", reqKind, err)
	}
	if gotKind != wantRespKind {
		return fmt.Errorf("transport: expected response kind %v, got %v", wantRespKind, gotKind)
	}
	return decodeBody(respBody, resp)
}

func (c *RemoteNodeClient) Discover(ctx context.Context, req wire.DiscoverRequest) (wire.DiscoverResponse, error) {
	var resp wire.DiscoverResponse
	err := roundTrip(ctx, c.rt, wire.KindDiscoverRequest, wire.KindDiscoverResponse, req, &resp)
	return resp, err
}

func (c *RemoteNodeClient) Prepare(ctx context.Context, req wire.PrepareRequest) (wire.PrepareResponse, error) {
	var resp wire.PrepareResponse
	err := roundTrip(ctx, c.rt, wire.KindPrepareRequest, wire.KindPrepareResponse, req, &resp)
	return resp, err
}

func (c *RemoteNodeClient) Commit(ctx context.Context, req wire.CommitRequest) (wire.CommitResponse, error) {
	var resp wire.CommitResponse
	err := roundTrip(ctx, c.rt, wire.KindCommitRequest, wire.KindCommitResponse, req, &resp)
	return resp, err
}

func (c *RemoteNodeClient) Rollback(ctx context.Context, req wire.RollbackRequest) (wire.RollbackResponse, error) {
	var resp wire.RollbackResponse
	err := roundTrip(ctx, c.rt, wire.KindRollbackRequest, wire.KindRollbackResponse, req, &resp)
	return resp, err
}

func (c *RemoteNodeClient) TakeOver(ctx context.Context, req wire.TakeOverRequest) (wire.TakeOverResponse, error) {
	var resp wire.TakeOverResponse
	err := roundTrip(ctx, c.rt, wire.KindTakeOverRequest, wire.KindTakeOverResponse, req, &resp)
	return resp, err
}

func (c *RemoteNodeClient) Diagnostic(ctx context.Context, req wire.DiagnosticRequest) (wire.DiagnosticResponse, error) {
	var resp wire.DiagnosticResponse
	err := roundTrip(ctx, c.rt, wire.KindDiagnosticRequest, wire.KindDiagnosticResponse, req, &resp)
	return resp, err
}
