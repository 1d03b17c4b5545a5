package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type subWireMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// newSubscriptionSubgraphServer serves both the HTTP subgraph endpoint (so
// NewGateway's schema composition and any non-subscription traffic has
// somewhere to land) and a graphql-transport-ws websocket endpoint that
// emits one "next" event carrying tickValue, then completes.
func newSubscriptionSubgraphServer(t *testing.T, tickValue int) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{Subprotocols: []string{"graphql-transport-ws"}}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var init subWireMessage
		if err := conn.ReadJSON(&init); err != nil || init.Type != "connection_init" {
			return
		}
		if err := conn.WriteJSON(subWireMessage{Type: "connection_ack"}); err != nil {
			return
		}

		var sub subWireMessage
		if err := conn.ReadJSON(&sub); err != nil || sub.Type != "subscribe" {
			return
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"data": map[string]interface{}{"tick": tickValue},
		})
		conn.WriteJSON(subWireMessage{ID: sub.ID, Type: "next", Payload: payload})
		conn.WriteJSON(subWireMessage{ID: sub.ID, Type: "complete"})
	})

	return httptest.NewServer(mux)
}

func TestGateway_ServeSubscription_StreamsSSEFrames(t *testing.T) {
	server := newSubscriptionSubgraphServer(t, 7)
	defer server.Close()

	schemaPath := "testdata/subscription-clock.graphql"
	schema := `
		type Query {
			noop: String
		}

		type Subscription {
			tick: Int
		}
	`
	require.NoError(t, createTestSchema(schemaPath, schema))
	defer cleanupTestSchema(schemaPath)

	settings := GatewayOption{
		Endpoint:    "/graphql",
		ServiceName: "test-gateway",
		Services: []GatewayService{
			{
				Name:        "clock",
				Host:        server.URL + "/ws",
				SchemaFiles: []string{schemaPath},
			},
		},
	}

	gw, err := NewGateway(settings)
	require.NoError(t, err)

	req := graphQLRequest{Query: "subscription { tick }"}
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	w := httptest.NewRecorder()

	gw.ServeHTTP(w, httpReq)

	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	out := w.Body.String()
	require.Contains(t, out, "event: next")
	require.Contains(t, out, `"tick":7`)
	require.Contains(t, out, "event: complete")
}

func TestGateway_ServeSubscription_UnknownFieldRejected(t *testing.T) {
	schemaPath := "testdata/subscription-empty.graphql"
	schema := `
		type Query {
			noop: String
		}

		type Subscription {
			tick: Int
		}
	`
	require.NoError(t, createTestSchema(schemaPath, schema))
	defer cleanupTestSchema(schemaPath)
	defer os.Remove(schemaPath)

	settings := GatewayOption{
		Endpoint:    "/graphql",
		ServiceName: "test-gateway",
		Services: []GatewayService{
			{
				Name:        "clock",
				Host:        "http://clock.example.com",
				SchemaFiles: []string{schemaPath},
			},
		},
	}

	gw, err := NewGateway(settings)
	require.NoError(t, err)

	req := graphQLRequest{Query: "subscription { missing }"}
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	w := httptest.NewRecorder()

	gw.ServeHTTP(w, httpReq)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
