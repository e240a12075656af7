package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// Event is a structured audit entry indexed per driver. Reconciliation
// steps, dispatch results and security warnings all land here.
type Event struct {
	Timestamp     time.Time      `json:"timestamp"`
	EventID       string         `json:"event_id"`
	Driver        string         `json:"driver,omitempty"`
	Level         string         `json:"level"`
	Message       string         `json:"message"`
	TransactionID string         `json:"transaction_id,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	Error         string         `json:"error,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// Logger indexes events into per-driver indices.
type Logger struct {
	client *Client
}

// NewLogger creates a new OpenSearch event logger
func NewLogger(client *Client) *Logger {
	return &Logger{client: client}
}

// Client returns the wrapped connection, for health checks.
func (l *Logger) Client() *Client {
	return l.client
}

var indexNameSanitizer = regexp.MustCompile(`[^a-z0-9_-]`)

// indexName builds the daily index name for a driver, e.g.
// payflow-events-stripe-2026.08.31.
func indexName(driver string, ts time.Time) string {
	if driver == "" {
		driver = "system"
	}
	driver = indexNameSanitizer.ReplaceAllString(strings.ToLower(driver), "-")
	return fmt.Sprintf("payflow-events-%s-%s", driver, ts.Format("2006.01.02"))
}

// LogEvent indexes a single event. Failures are returned to the caller;
// the system logger treats them as non-fatal.
func (l *Logger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.client == nil {
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      indexName(event.Driver, event.Timestamp),
		DocumentID: event.EventID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return fmt.Errorf("failed to index event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("OpenSearch indexing failed with status %d", res.StatusCode)
	}
	return nil
}
