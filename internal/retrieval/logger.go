package retrieval

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pdfchat/internal/middleware"
	"pdfchat/internal/text"
	"pdfchat/internal/vector"
)

// QueryLogEntry is one line of the query audit log.
type QueryLogEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	CorrelationID  string    `json:"correlation_id"`
	TenantID       string    `json:"tenant_id"`
	Query          string    `json:"query"`
	NumResults     int       `json:"num_results"`
	Documents      []string  `json:"documents,omitempty"`
	ContextChars   int       `json:"context_chars"`
	ContextPreview string    `json:"context_preview,omitempty"`
	LatencyMs      int64     `json:"latency_ms"`
	Error          string    `json:"error,omitempty"`
}

// QueryOutcome is what Answer saw for one question.
type QueryOutcome struct {
	TenantID string
	Query    string
	Hits     []vector.Hit
	Context  string
	Started  time.Time
	Err      error
}

type QueryLogOption func(*QueryLogger)

// WithContextPreview keeps the first n characters of the model context in
// each entry.
func WithContextPreview(n int) QueryLogOption {
	return func(l *QueryLogger) { l.preview = n }
}

// WithClock replaces time.Now for timestamps and latencies.
func WithClock(now func() time.Time) QueryLogOption {
	return func(l *QueryLogger) { l.now = now }
}

// QueryLogger writes one JSON line per answered (or failed) question.
type QueryLogger struct {
	mu      sync.Mutex
	enc     *json.Encoder
	closer  io.Closer
	preview int
	now     func() time.Time
}

func NewQueryLogger(w io.Writer, opts ...QueryLogOption) *QueryLogger {
	l := &QueryLogger{enc: json.NewEncoder(w), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewFileQueryLogger appends entries to path and mirrors them to stdout.
func NewFileQueryLogger(path string, opts ...QueryLogOption) (*QueryLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path is from application config, not user input
	if err != nil {
		return nil, err
	}
	l := NewQueryLogger(io.MultiWriter(os.Stdout, f), opts...)
	l.closer = f
	return l, nil
}

// Observe records q. A nil logger discards it.
func (l *QueryLogger) Observe(ctx context.Context, q QueryOutcome) {
	if l == nil {
		return
	}
	now := l.now()
	entry := QueryLogEntry{
		Timestamp:     now,
		CorrelationID: middleware.GetCorrelationID(ctx),
		TenantID:      q.TenantID,
		Query:         q.Query,
		NumResults:    len(q.Hits),
		Documents:     documentNames(q.Hits),
		ContextChars:  len(q.Context),
	}
	if l.preview > 0 {
		entry.ContextPreview = text.Truncate(q.Context, l.preview)
	}
	if !q.Started.IsZero() {
		entry.LatencyMs = now.Sub(q.Started).Milliseconds()
	}
	if q.Err != nil {
		entry.Error = q.Err.Error()
	}
	l.write(entry)
}

func (l *QueryLogger) write(entry QueryLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(entry); err != nil {
		slog.Error("failed to write query log entry", "error", err)
	}
}

func (l *QueryLogger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// documentNames lists the distinct source documents of hits in rank order.
func documentNames(hits []vector.Hit) []string {
	var names []string
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		name := h.Chunk.DocumentName
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
