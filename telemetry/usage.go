package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// ExecutionReport is one operation's usage record, mirroring the
// report shape buffered and flushed by hive-console-sdk's usage agent.
type ExecutionReport struct {
	ClientName    string        `json:"client_name,omitempty"`
	ClientVersion string        `json:"client_version,omitempty"`
	Timestamp     int64         `json:"timestamp"`
	Duration      time.Duration `json:"duration_ns"`
	OK            bool          `json:"ok"`
	Errors        int           `json:"errors"`
	OperationBody string        `json:"operation_body"`
	OperationName string        `json:"operation_name,omitempty"`
	PersistedHash string        `json:"persisted_document_hash,omitempty"`
}

// UsageReporter is the collaborator interface the pipeline pushes execution
// reports to. The core never depends on a concrete wire client — only on
// this interface — so a Hive-console client, a different analytics backend,
// or a test double can all stand in for it.
type UsageReporter interface {
	Report(report ExecutionReport)
	Close(ctx context.Context) error
}

// NoopUsageReporter discards every report. Used when usage reporting is
// disabled in configuration.
type NoopUsageReporter struct{}

func (NoopUsageReporter) Report(ExecutionReport)      {}
func (NoopUsageReporter) Close(context.Context) error { return nil }

// BufferedUsageReporter accumulates reports and flushes them to an HTTP
// endpoint either when the buffer reaches bufferSize or on flushInterval,
// whichever comes first.
type BufferedUsageReporter struct {
	endpoint      string
	targetID      string
	client        *http.Client
	bufferSize    int
	flushInterval time.Duration

	mu      sync.Mutex
	buf     []ExecutionReport
	flushCh chan struct{}
	done    chan struct{}
}

// NewBufferedUsageReporter starts a background flush loop. Close must be
// called to stop it and flush any remaining buffered reports.
func NewBufferedUsageReporter(endpoint, targetID string, bufferSize int, flushInterval time.Duration) *BufferedUsageReporter {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	r := &BufferedUsageReporter{
		endpoint:      endpoint,
		targetID:      targetID,
		client:        &http.Client{Timeout: 15 * time.Second},
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		buf:           make([]ExecutionReport, 0, bufferSize),
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}

	go r.loop()
	return r
}

func (r *BufferedUsageReporter) Report(report ExecutionReport) {
	r.mu.Lock()
	r.buf = append(r.buf, report)
	full := len(r.buf) >= r.bufferSize
	r.mu.Unlock()

	if full {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

func (r *BufferedUsageReporter) loop() {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = r.flush(context.Background())
		case <-r.flushCh:
			_ = r.flush(context.Background())
		case <-r.done:
			_ = r.flush(context.Background())
			return
		}
	}
}

func (r *BufferedUsageReporter) flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.buf) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := r.buf
	r.buf = make([]ExecutionReport, 0, r.bufferSize)
	r.mu.Unlock()

	endpoint := r.endpoint
	if r.targetID != "" {
		endpoint = endpoint + "/" + r.targetID
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal usage batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build usage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send usage batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("usage endpoint returned status %d", resp.StatusCode)
	}

	return nil
}

func (r *BufferedUsageReporter) Close(ctx context.Context) error {
	close(r.done)
	return r.flush(ctx)
}
