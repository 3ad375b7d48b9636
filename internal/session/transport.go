package session

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Transport is a live bidirectional message connection.
type Transport interface {
	// WriteMessage sends one text frame. Callers must serialize writes;
	// the Manager does so under its lock.
	WriteMessage(data []byte) error
	Close() error
}

// Events are the callbacks a Transport feeds after a successful dial.
type Events struct {
	// OnMessage delivers one inbound frame.
	OnMessage func(data []byte)
	// OnClose fires once when the transport dies, with the causing error
	// or nil on a clean close.
	OnClose func(err error)
}

// Dialer opens transports. A successful Dial returns an open transport;
// open acknowledgment is the return itself.
type Dialer interface {
	Dial(address string, events Events) (Transport, error)
}

// WSDialer dials websocket transports, attaching the caller's bearer
// token to the handshake.
type WSDialer struct {
	// Token returns the current opaque auth token, or "".
	Token func() string
}

// Dial opens a websocket connection to address and starts its read pump.
func (d *WSDialer) Dial(address string, events Events) (Transport, error) {
	header := http.Header{}
	if d.Token != nil {
		if tok := d.Token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	c, _, err := websocket.DefaultDialer.Dial(address, header)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				if events.OnClose != nil {
					events.OnClose(err)
				}
				return
			}
			if events.OnMessage != nil {
				events.OnMessage(data)
			}
		}
	}()

	return &wsTransport{conn: c}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteMessage(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// ResolveAddress turns a socket path from a session descriptor into a full
// websocket URL. Absolute ws:// and wss:// addresses pass through; paths
// are resolved against the API base with its scheme rewritten to ws.
func ResolveAddress(apiBase, wsPath string) string {
	if wsPath == "" {
		return ""
	}
	if strings.HasPrefix(wsPath, "ws://") || strings.HasPrefix(wsPath, "wss://") {
		return wsPath
	}
	base := apiBase
	if strings.HasPrefix(base, "https") {
		base = "wss" + strings.TrimPrefix(base, "https")
	} else if strings.HasPrefix(base, "http") {
		base = "ws" + strings.TrimPrefix(base, "http")
	}
	base = strings.TrimSuffix(base, "/")
	if strings.HasPrefix(wsPath, "/") {
		return base + wsPath
	}
	return base + "/" + wsPath
}
