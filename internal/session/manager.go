// Package session owns one message transport per group and hides
// connection-establishment latency from callers: sends issued while the
// transport is still connecting are buffered and flushed in order the
// moment it opens.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/okitz/groupledger/internal/metrics"
	"github.com/okitz/groupledger/internal/models"
)

// State is the lifecycle of one group's connection.
type State int

const (
	// StateNone: no connection entry exists.
	StateNone State = iota
	// StateConnecting: a dial is in flight; outbound payloads buffer.
	StateConnecting
	// StateOpen: the transport is live; outbound payloads write through.
	StateOpen
)

// Handler receives decoded inbound messages for a subscribed group.
type Handler func(msg *models.Message)

// Manager multiplexes group sessions over per-group transports. All
// connection and subscriber state lives in private fields of a single
// Manager constructed at startup; there is no package-level registry.
type Manager struct {
	dialer Dialer

	mu        sync.Mutex
	conns     map[int64]*conn
	handlers  map[int64]map[int]Handler
	handlerID int
}

type conn struct {
	state     State
	transport Transport
	pending   [][]byte
}

// NewManager creates a Manager dialing through d.
func NewManager(d Dialer) *Manager {
	return &Manager{
		dialer:   d,
		conns:    make(map[int64]*conn),
		handlers: make(map[int64]map[int]Handler),
	}
}

// State reports the connection state for a group.
func (m *Manager) State(groupID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[groupID]
	if !ok {
		return StateNone
	}
	return c.state
}

// Connect requests a transport for the group. It returns once the dial has
// been started, not once it completes; payloads sent in the meantime are
// buffered. Calling Connect again while connecting or open is a no-op, so
// concurrent connect requests never produce a duplicate transport.
func (m *Manager) Connect(groupID int64, address string) {
	m.mu.Lock()
	if _, ok := m.conns[groupID]; ok {
		m.mu.Unlock()
		return
	}
	c := &conn{state: StateConnecting}
	m.conns[groupID] = c
	m.mu.Unlock()

	metrics.Connects.Inc()
	go m.dial(groupID, c, address)
}

// dial completes the connection attempt for the entry c created by
// Connect. The entry is re-checked by identity, not just group id: a
// disconnect-then-reconnect can register a newer entry for the same group
// while this dial is in flight, and a stale dial must never attach to it.
func (m *Manager) dial(groupID int64, c *conn, address string) {
	t, err := m.dialer.Dial(address, Events{
		OnMessage: func(data []byte) { m.deliver(groupID, data) },
		OnClose:   func(err error) { m.drop(groupID, c, err) },
	})

	m.mu.Lock()
	if m.conns[groupID] != c {
		// Disconnected, or superseded by a later Connect, while the dial
		// was in flight.
		m.mu.Unlock()
		if t != nil {
			t.Close()
		}
		return
	}
	if err != nil {
		delete(m.conns, groupID)
		m.mu.Unlock()
		metrics.TransportErrors.Inc()
		slog.Warn("transport dial failed", "group_id", groupID, "error", err)
		return
	}

	c.transport = t
	c.state = StateOpen
	pending := c.pending
	c.pending = nil
	// Flush under the lock so no concurrent Send can interleave with the
	// buffered payloads.
	for _, data := range pending {
		if werr := t.WriteMessage(data); werr != nil {
			delete(m.conns, groupID)
			m.mu.Unlock()
			metrics.TransportErrors.Inc()
			slog.Warn("flush failed", "group_id", groupID, "error", werr)
			t.Close()
			return
		}
		metrics.MessagesSent.Inc()
	}
	m.mu.Unlock()
	slog.Debug("transport open", "group_id", groupID, "flushed", len(pending))
}

// Send writes payload to the group's transport as a JSON text frame. While
// the transport is connecting the payload is queued and flushed FIFO on
// open. With no connection entry at all, Send fails with ErrNotConnected
// and the caller decides whether to reconnect.
func (m *Manager) Send(groupID int64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conns[groupID]
	if !ok {
		return fmt.Errorf("group %d: %w", groupID, models.ErrNotConnected)
	}
	switch c.state {
	case StateConnecting:
		c.pending = append(c.pending, data)
		metrics.MessagesBuffered.Inc()
		return nil
	case StateOpen:
		if err := c.transport.WriteMessage(data); err != nil {
			delete(m.conns, groupID)
			metrics.TransportErrors.Inc()
			return fmt.Errorf("group %d: write failed: %w", groupID, models.ErrNotConnected)
		}
		metrics.MessagesSent.Inc()
		return nil
	}
	return fmt.Errorf("group %d: %w", groupID, models.ErrNotConnected)
}

// Disconnect closes the group's transport and discards any buffered
// payloads.
func (m *Manager) Disconnect(groupID int64) {
	m.mu.Lock()
	c, ok := m.conns[groupID]
	delete(m.conns, groupID)
	m.mu.Unlock()

	if ok && c.transport != nil {
		c.transport.Close()
	}
}

// Subscribe registers a handler for the group's inbound messages and
// returns its unsubscribe function. Multiple handlers per group multicast;
// unsubscribing removes exactly the one handler.
func (m *Manager) Subscribe(groupID int64, handler Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlerID++
	id := m.handlerID
	set, ok := m.handlers[groupID]
	if !ok {
		set = make(map[int]Handler)
		m.handlers[groupID] = set
	}
	set[id] = handler

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.handlers[groupID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.handlers, groupID)
			}
		}
	}
}

// deliver parses an inbound frame and multicasts it to the group's
// subscribers.
func (m *Manager) deliver(groupID int64, data []byte) {
	msg := models.ParseMessage(data)
	metrics.MessagesReceived.WithLabelValues(string(msg.Kind)).Inc()

	m.mu.Lock()
	var snapshot []Handler
	for _, h := range m.handlers[groupID] {
		snapshot = append(snapshot, h)
	}
	m.mu.Unlock()

	for _, h := range snapshot {
		h(msg)
	}
}

// drop clears the connection entry after a transport close or error, so
// the next Connect starts fresh. There is no automatic retry: reconnect
// happens on the next user-initiated action. Only the transport that owns
// the entry may drop it; the close of a superseded transport is ignored.
func (m *Manager) drop(groupID int64, c *conn, err error) {
	m.mu.Lock()
	owned := m.conns[groupID] == c
	if owned {
		delete(m.conns, groupID)
	}
	m.mu.Unlock()

	if owned && err != nil {
		metrics.TransportErrors.Inc()
		slog.Warn("transport closed", "group_id", groupID, "error", err)
	}
}
