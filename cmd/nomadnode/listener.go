package main

import (
	"encoding/json"
	"net"

	"github.com/bhumikasha/terracotta-platform/node"
	"github.com/bhumikasha/terracotta-platform/wire"
)

// serve accepts connections on addr and dispatches one framed request per
// round trip to srv, using the wire package's message envelope. One
// goroutine per connection; one connection handles requests sequentially,
// matching node.Server's own internal serialization.
func serve(addr string, srv *node.Server) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatalf("listen on %s: %v", addr, err)
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Warningf("accept: %v", err)
			continue
		}
		go handleConn(conn, srv)
	}
}

func handleConn(conn net.Conn, srv *node.Server) {
	defer conn.Close()
	for {
		kind, body, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}
		if err := dispatch(conn, kind, body, srv); err != nil {
			logger.Warningf("dispatch failed: %v", err)
			return
		}
	}
}

func dispatch(conn net.Conn, kind wire.MessageKind, body json.RawMessage, srv *node.Server) error {
	switch kind {
	case wire.KindDiscoverRequest:
		var req wire.DiscoverRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return err
		}
		return wire.WriteMessage(conn, wire.KindDiscoverResponse, srv.Discover(req))

	case wire.KindPrepareRequest:
		var req wire.PrepareRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return err
		}
		resp, err := srv.Prepare(req)
		if err != nil {
			resp = wire.PrepareResponse{Accepted: false, RejectionReason: err.Error()}
		}
		return wire.WriteMessage(conn, wire.KindPrepareResponse, resp)

	case wire.KindCommitRequest:
		var req wire.CommitRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return err
		}
		resp, err := srv.Commit(req)
		if err != nil {
			resp = wire.CommitResponse{Accepted: false, RejectionReason: err.Error()}
		}
		return wire.WriteMessage(conn, wire.KindCommitResponse, resp)

	case wire.KindRollbackRequest:
		var req wire.RollbackRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return err
		}
		resp, err := srv.Rollback(req)
		if err != nil {
			resp = wire.RollbackResponse{Accepted: false, RejectionReason: err.Error()}
		}
		return wire.WriteMessage(conn, wire.KindRollbackResponse, resp)

	case wire.KindTakeOverRequest:
		var req wire.TakeOverRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return err
		}
		resp, err := srv.TakeOver(req)
		if err != nil {
			resp = wire.TakeOverResponse{Accepted: false, RejectionReason: err.Error()}
		}
		return wire.WriteMessage(conn, wire.KindTakeOverResponse, resp)

	case wire.KindDiagnosticRequest:
		var req wire.DiagnosticRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return err
		}
		return wire.WriteMessage(conn, wire.KindDiagnosticResponse, srv.Diagnostic(req))

	default:
		return nil
	}
}
