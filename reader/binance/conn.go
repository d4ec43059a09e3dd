package binance

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of the websocket connection the stream reader
// needs. A fake implementation stands in during tests.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a connection to the streaming endpoint.
type Dialer func(ctx context.Context, url string) (Conn, error)

// NewDialer returns a Dialer backed by gorilla/websocket.
func NewDialer(handshakeTimeout time.Duration) Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
