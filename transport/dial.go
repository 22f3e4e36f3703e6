package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/bhumikasha/terracotta-platform/wire"
)

// DialTCP opens a persistent connection to a nomadnode listener and returns
// a RemoteNodeClient that serializes round trips over it. One connection
// per target, reused across calls -- nomadctl dials every target this way,
// including the clients it hands to the coordinator.
func DialTCP(id, addr string) (*RemoteNodeClient, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	d := &tcpDialer{conn: conn}
	return NewRemoteNodeClient(id, d.roundTrip), nil
}

type tcpDialer struct {
	mu   sync.Mutex
	conn net.Conn
}

func (d *tcpDialer) roundTrip(ctx context.Context, reqKind wire.MessageKind, body []byte) (wire.MessageKind, []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = d.conn.SetDeadline(deadline)
	}
	if err := wire.WriteMessage(d.conn, reqKind, json.RawMessage(body)); err != nil {
		return 0, nil, err
	}
	kind, respBody, err := wire.ReadMessage(d.conn)
	if err != nil {
		return 0, nil, err
	}
	return kind, respBody, nil
}
