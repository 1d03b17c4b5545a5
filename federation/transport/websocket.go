package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// graphql-transport-ws message types, per the protocol this executor speaks.
// Grounded on the connection_init/connection_ack/subscribe/next/error/
// complete handshake pattern used for GraphQL-over-WebSocket transports in
// the example pack (dial, subprotocol negotiation, JSON framing, a typed
// read loop dispatching by message "type").
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
	msgPing           = "ping"
	msgPong           = "pong"
)

// ConnectionAcknowledgementTimeout is the close code sent when the subgraph
// does not reply to ConnectionInit within the ack deadline. 4408 is the
// code reserved by the graphql-transport-ws specification for this case.
const ConnectionAcknowledgementTimeout = 4408

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
}

// Subscription is one multiplexed stream over a WSExecutor's connection.
type Subscription struct {
	id     string
	ch     chan subscriptionEvent
	closed atomic.Bool
}

type subscriptionEvent struct {
	data []byte
	err  error
	done bool
}

// Next blocks until the next Next/Error message arrives for this
// subscription, or the stream completes (ok == false).
func (s *Subscription) Next(ctx context.Context) (data []byte, ok bool, err error) {
	select {
	case ev, open := <-s.ch:
		if !open {
			return nil, false, nil
		}
		if ev.done {
			return nil, false, ev.err
		}
		return ev.data, true, ev.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// WSExecutor implements the graphql-transport-ws protocol: one connection
// per subscription root, multiplexing subscriptions by string ID. Each ID is
// a random UUID; IDs are not a monotonic sequence.
type WSExecutor struct {
	conn *websocket.Conn

	mu            sync.Mutex
	subscriptions map[string]*Subscription

	writeMu sync.Mutex
	closed  chan struct{}
}

// DialWSExecutor opens the connection, performs the ConnectionInit/
// ConnectionAck handshake (failing with ConnectionAcknowledgementTimeout if
// the subgraph doesn't ack within ackTimeout), and starts the read loop.
func DialWSExecutor(ctx context.Context, endpoint string, headers http.Header, initPayload interface{}, ackTimeout time.Duration) (*WSExecutor, error) {
	if ackTimeout <= 0 {
		ackTimeout = 10 * time.Second
	}

	dialer := websocket.Dialer{Subprotocols: []string{"graphql-transport-ws"}}
	conn, _, err := dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to dial subgraph websocket %s: %w", endpoint, err)
	}

	var initBody json.RawMessage
	if initPayload != nil {
		initBody, err = json.Marshal(initPayload)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to marshal connection_init payload: %w", err)
		}
	}

	if err := conn.WriteJSON(wsMessage{Type: msgConnectionInit, Payload: initBody}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send connection_init: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(ackTimeout))
	var ack wsMessage
	if err := conn.ReadJSON(&ack); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(ConnectionAcknowledgementTimeout, "connection acknowledgement timeout"),
			time.Now().Add(time.Second))
		conn.Close()
		return nil, fmt.Errorf("timed out waiting for connection_ack from %s: %w", endpoint, err)
	}
	if ack.Type != msgConnectionAck {
		conn.Close()
		return nil, fmt.Errorf("expected connection_ack from %s, got %q", endpoint, ack.Type)
	}
	conn.SetReadDeadline(time.Time{})

	w := &WSExecutor{
		conn:          conn,
		subscriptions: make(map[string]*Subscription),
		closed:        make(chan struct{}),
	}
	go w.readLoop()

	return w, nil
}

// Subscribe starts a new subscription keyed by a fresh UUID, matching the
// `id` field graphql-transport-ws expects to correlate subscribe/next/
// error/complete frames, and returns a handle to read its events from.
func (w *WSExecutor) Subscribe(query string, variables map[string]interface{}, operationName string) (*Subscription, error) {
	id := uuid.NewString()
	sub := &Subscription{id: id, ch: make(chan subscriptionEvent, 8)}

	w.mu.Lock()
	w.subscriptions[id] = sub
	w.mu.Unlock()

	payload, err := json.Marshal(subscribePayload{Query: query, Variables: variables, OperationName: operationName})
	if err != nil {
		w.mu.Lock()
		delete(w.subscriptions, id)
		w.mu.Unlock()
		return nil, fmt.Errorf("failed to marshal subscribe payload: %w", err)
	}

	if err := w.send(wsMessage{ID: id, Type: msgSubscribe, Payload: payload}); err != nil {
		w.mu.Lock()
		delete(w.subscriptions, id)
		w.mu.Unlock()
		return nil, err
	}

	return sub, nil
}

// Unsubscribe sends Complete for sub's ID, matching the on-stream-drop
// behavior of sending Complete rather than a raw close.
func (w *WSExecutor) Unsubscribe(sub *Subscription) error {
	if !sub.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.mu.Lock()
	delete(w.subscriptions, sub.id)
	w.mu.Unlock()
	return w.send(wsMessage{ID: sub.id, Type: msgComplete})
}

func (w *WSExecutor) send(msg wsMessage) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteJSON(msg)
}

// Close sends a normal close and tears down the connection, matching the
// on-client-drop behavior.
func (w *WSExecutor) Close() error {
	select {
	case <-w.closed:
		return nil
	default:
		close(w.closed)
	}
	w.writeMu.Lock()
	w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	w.writeMu.Unlock()
	return w.conn.Close()
}

func (w *WSExecutor) readLoop() {
	defer func() {
		w.mu.Lock()
		for _, sub := range w.subscriptions {
			close(sub.ch)
		}
		w.subscriptions = make(map[string]*Subscription)
		w.mu.Unlock()
	}()

	for {
		var msg wsMessage
		if err := w.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case msgPing:
			w.send(wsMessage{Type: msgPong, Payload: msg.Payload})

		case msgPong:
			// no-op; keepalive acknowledged

		case msgNext:
			w.dispatch(msg.ID, subscriptionEvent{data: msg.Payload})

		case msgError:
			w.dispatchAndDrop(msg.ID, subscriptionEvent{err: fmt.Errorf("subgraph subscription error: %s", msg.Payload), done: true})

		case msgComplete:
			w.dispatchAndDrop(msg.ID, subscriptionEvent{done: true})
		}
	}
}

func (w *WSExecutor) dispatch(id string, ev subscriptionEvent) {
	w.mu.Lock()
	sub, ok := w.subscriptions[id]
	w.mu.Unlock()
	if !ok {
		return
	}
	select {
	case sub.ch <- ev:
	case <-w.closed:
	}
}

// dispatchAndDrop delivers a terminal event and removes+closes the
// subscription's channel in one critical section, so a concurrent dispatch
// can never race a send against the close.
func (w *WSExecutor) dispatchAndDrop(id string, ev subscriptionEvent) {
	w.mu.Lock()
	sub, ok := w.subscriptions[id]
	delete(w.subscriptions, id)
	w.mu.Unlock()
	if !ok {
		return
	}
	select {
	case sub.ch <- ev:
	case <-w.closed:
	}
	close(sub.ch)
}
