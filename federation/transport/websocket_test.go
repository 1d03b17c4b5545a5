package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/n9te9/federation-router/federation/transport"
	"github.com/stretchr/testify/require"
)

type wireMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newSubgraphWSServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{Subprotocols: []string{"graphql-transport-ws"}}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		var init wireMessage
		if err := conn.ReadJSON(&init); err != nil || init.Type != "connection_init" {
			return
		}
		if err := conn.WriteJSON(wireMessage{Type: "connection_ack"}); err != nil {
			return
		}

		var sub wireMessage
		if err := conn.ReadJSON(&sub); err != nil || sub.Type != "subscribe" {
			return
		}

		payload, _ := json.Marshal(map[string]interface{}{"data": map[string]interface{}{"tick": 1}})
		conn.WriteJSON(wireMessage{ID: sub.ID, Type: "next", Payload: payload})
		conn.WriteJSON(wireMessage{ID: sub.ID, Type: "complete"})
	}))
}

func TestWSExecutor_SubscribeReceivesNextThenComplete(t *testing.T) {
	server := newSubgraphWSServer(t)
	defer server.Close()

	endpoint := "ws" + server.URL[len("http"):]

	exec, err := transport.DialWSExecutor(context.Background(), endpoint, nil, nil, time.Second)
	require.NoError(t, err)
	defer exec.Close()

	sub, err := exec.Subscribe("subscription { tick }", nil, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	data, ok, err := sub.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, data)

	_, ok, err = sub.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok, "expected stream to complete")
}
