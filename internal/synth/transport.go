package synth

import (
	"context"
	"io"
	"net/http"

	"github.com/coder/websocket"
)

// FrameKind distinguishes the two frame flavors the remote service
// emits: textual control frames and binary content envelopes.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
)

// Frame is one inbound message from the synthesis service.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Transport is the bidirectional connection the session runs on.
// Implementations must be safe for one concurrent sender and one
// concurrent receiver. A clean remote close surfaces as io.EOF from
// Receive.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) (Frame, error)
	Close() error
}

// Dialer opens a fresh Transport. It is called lazily on first use and
// again after a connection is torn down.
type Dialer func(ctx context.Context) (Transport, error)

// WebSocketDialer returns a Dialer that connects to the synthesis
// service's websocket endpoint. apiKey, when non-empty, is sent as a
// query-style auth header on the upgrade request.
func WebSocketDialer(rawURL, apiKey string) Dialer {
	return func(ctx context.Context) (Transport, error) {
		opts := &websocket.DialOptions{}
		if apiKey != "" {
			opts.HTTPHeader = http.Header{"X-Goog-Api-Key": {apiKey}}
		}
		conn, _, err := websocket.Dial(ctx, rawURL, opts)
		if err != nil {
			return nil, err
		}
		// Content envelopes can carry a full sentence of base64 PCM.
		conn.SetReadLimit(8 << 20)
		return &wsTransport{conn: conn}, nil
	}
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Receive(ctx context.Context) (Frame, error) {
	msgType, data, err := t.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return Frame{}, io.EOF
		}
		return Frame{}, err
	}
	kind := FrameText
	if msgType == websocket.MessageBinary {
		kind = FrameBinary
	}
	return Frame{Kind: kind, Data: data}, nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
