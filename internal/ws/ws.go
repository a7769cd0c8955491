// internal/ws/ws.go
package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds every outbound frame. Slow clients are not throttled
// beyond this; writes are best-effort.
const writeTimeout = 5 * time.Second

// Conn is the write side of a WebSocket connection as the registries see it.
// *websocket.Conn satisfies it; tests substitute an in-memory recorder.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// Send marshals payload as JSON and writes it as a single text frame.
// The returned error lets callers such as BroadcastState evict stale sockets.
func Send(conn Conn, payload interface{}) error {
	if conn == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// SafeSend is Send with the error swallowed. Peer-gone and mid-close failures
// must never propagate to relay logic; the read loop owns disconnect handling.
func SafeSend(conn Conn, payload interface{}) {
	_ = Send(conn, payload)
}
