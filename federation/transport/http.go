// Package transport implements the subgraph executors: HTTP for queries and
// mutations, WebSocket (graphql-transport-ws) for subscriptions. Grounded on
// executor/executor_v2.go's sendRequest for the request/response shape, and
// generalized with a per-subgraph semaphore and in-flight request dedupe per
// pipeline/executor/http_executor.rs's OnceCell-joining behavior.
package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Request is the wire shape sent to a subgraph.
type Request struct {
	Query         string                   `json:"query"`
	Variables     map[string]interface{}   `json:"variables,omitempty"`
	Representations []interface{}          `json:"-"`
	Extensions    map[string]interface{}   `json:"extensions,omitempty"`
}

// Response is the raw decoded subgraph response.
type Response struct {
	Data       map[string]interface{}   `json:"data,omitempty"`
	Errors     []interface{}            `json:"errors,omitempty"`
}

// ExecutorError is the taxonomy of failures an HTTP executor can return, kept
// as typed sentinels so callers can match on Kind rather than string-sniffing
// error text.
type ExecutorErrorKind int

const (
	ErrRequestTimeout ExecutorErrorKind = iota
	ErrResponseBodyReadFailure
	ErrEmptyResponseBody
	ErrResponseDeserializationFailure
	ErrVariablesSerializationFailure
)

type ExecutorError struct {
	Kind     ExecutorErrorKind
	Endpoint string
	Ms       int64
	Err      error
}

func (e *ExecutorError) Error() string {
	switch e.Kind {
	case ErrRequestTimeout:
		return fmt.Sprintf("request to %s timed out after %dms", e.Endpoint, e.Ms)
	case ErrResponseBodyReadFailure:
		return fmt.Sprintf("failed to read response body from %s: %v", e.Endpoint, e.Err)
	case ErrEmptyResponseBody:
		return fmt.Sprintf("empty response body from %s", e.Endpoint)
	case ErrResponseDeserializationFailure:
		return fmt.Sprintf("failed to deserialize response from %s: %v", e.Endpoint, e.Err)
	case ErrVariablesSerializationFailure:
		return fmt.Sprintf("failed to serialize variables for %s: %v", e.Endpoint, e.Err)
	default:
		return fmt.Sprintf("subgraph executor error for %s: %v", e.Endpoint, e.Err)
	}
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// cell is a OnceCell-like join point: the leader goroutine populates result
// and closes done; joiners block on done and read the same result.
type cell struct {
	done   chan struct{}
	result *Response
	err    error
}

// HTTPExecutor sends operations to subgraphs over HTTP, bounding concurrency
// per subgraph and optionally deduplicating identical in-flight requests.
type HTTPExecutor struct {
	client *http.Client

	mu         sync.Mutex
	semaphores map[string]chan struct{}
	permits    int

	dedupe   bool
	inflight map[string]*cell
	inflightMu sync.Mutex
}

// NewHTTPExecutor builds an executor with permits concurrent in-flight
// requests allowed per subgraph endpoint. dedupe enables fingerprint-based
// joining of identical concurrent requests to the same endpoint.
func NewHTTPExecutor(client *http.Client, permits int, dedupe bool) *HTTPExecutor {
	if permits <= 0 {
		permits = 10
	}
	return &HTTPExecutor{
		client:     client,
		semaphores: make(map[string]chan struct{}),
		permits:    permits,
		dedupe:     dedupe,
		inflight:   make(map[string]*cell),
	}
}

func (e *HTTPExecutor) semaphoreFor(endpoint string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	sem, ok := e.semaphores[endpoint]
	if !ok {
		sem = make(chan struct{}, e.permits)
		e.semaphores[endpoint] = sem
	}
	return sem
}

func fingerprint(endpoint, method string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(endpoint))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Execute sends req to endpoint, applying the per-subgraph semaphore and, if
// enabled, in-flight dedupe. timeout of zero means no deadline beyond ctx's.
func (e *HTTPExecutor) Execute(ctx context.Context, endpoint string, headers http.Header, req *Request, timeout time.Duration) (*Response, error) {
	body := map[string]interface{}{"query": req.Query}
	if len(req.Variables) > 0 {
		body["variables"] = req.Variables
	}
	if len(req.Representations) > 0 {
		if body["variables"] == nil {
			body["variables"] = map[string]interface{}{}
		}
		body["variables"].(map[string]interface{})["representations"] = req.Representations
	}
	if len(req.Extensions) > 0 {
		body["extensions"] = req.Extensions
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, &ExecutorError{Kind: ErrVariablesSerializationFailure, Endpoint: endpoint, Err: err}
	}

	if !e.dedupe {
		return e.doRequest(ctx, endpoint, headers, bodyBytes, timeout)
	}

	fp := fingerprint(endpoint, http.MethodPost, bodyBytes)

	e.inflightMu.Lock()
	if existing, ok := e.inflight[fp]; ok {
		e.inflightMu.Unlock()
		<-existing.done
		return existing.result, existing.err
	}
	c := &cell{done: make(chan struct{})}
	e.inflight[fp] = c
	e.inflightMu.Unlock()

	c.result, c.err = e.doRequest(ctx, endpoint, headers, bodyBytes, timeout)

	e.inflightMu.Lock()
	delete(e.inflight, fp)
	e.inflightMu.Unlock()
	close(c.done)

	return c.result, c.err
}

func (e *HTTPExecutor) doRequest(ctx context.Context, endpoint string, headers http.Header, bodyBytes []byte, timeout time.Duration) (*Response, error) {
	sem := e.semaphoreFor(endpoint)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-sem }()

	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &ExecutorError{Kind: ErrResponseDeserializationFailure, Endpoint: endpoint, Err: err}
	}

	httpReq.Header.Set("content-type", "application/json; charset=utf-8")
	httpReq.Header.Set("connection", "keep-alive")
	for k, vs := range headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, &ExecutorError{Kind: ErrRequestTimeout, Endpoint: endpoint, Ms: time.Since(start).Milliseconds(), Err: err}
		}
		return nil, &ExecutorError{Kind: ErrResponseBodyReadFailure, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExecutorError{Kind: ErrResponseBodyReadFailure, Endpoint: endpoint, Err: err}
	}
	if len(respBody) == 0 {
		return nil, &ExecutorError{Kind: ErrEmptyResponseBody, Endpoint: endpoint}
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &ExecutorError{Kind: ErrResponseDeserializationFailure, Endpoint: endpoint, Err: err}
	}

	return &out, nil
}
