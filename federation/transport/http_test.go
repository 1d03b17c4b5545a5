package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/n9te9/federation-router/federation/transport"
	"github.com/stretchr/testify/require"
)

func TestHTTPExecutor_Execute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"product": map[string]interface{}{"id": "1"}},
		})
	}))
	defer server.Close()

	exec := transport.NewHTTPExecutor(http.DefaultClient, 5, false)

	resp, err := exec.Execute(context.Background(), server.URL, nil, &transport.Request{Query: "{ product { id } }"}, 0)
	require.NoError(t, err)
	product, ok := resp.Data["product"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "1", product["id"])
}

func TestHTTPExecutor_EmptyResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exec := transport.NewHTTPExecutor(http.DefaultClient, 5, false)
	_, err := exec.Execute(context.Background(), server.URL, nil, &transport.Request{Query: "{ x }"}, 0)
	require.Error(t, err)
	execErr, ok := err.(*transport.ExecutorError)
	require.True(t, ok)
	require.Equal(t, transport.ErrEmptyResponseBody, execErr.Kind)
}

func TestHTTPExecutor_DedupesConcurrentIdenticalRequests(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"ok": true}})
	}))
	defer server.Close()

	exec := transport.NewHTTPExecutor(http.DefaultClient, 5, true)

	const n = 10
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := exec.Execute(context.Background(), server.URL, nil, &transport.Request{Query: "{ ok }"}, 0)
			errCh <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errCh)
	}

	require.Less(t, atomic.LoadInt64(&hits), int64(n), "expected dedupe to reduce hit count below concurrent caller count")
}

func TestHTTPExecutor_RequestTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	exec := transport.NewHTTPExecutor(http.DefaultClient, 5, false)
	_, err := exec.Execute(context.Background(), server.URL, nil, &transport.Request{Query: "{ slow }"}, 1)
	require.Error(t, err)
}
