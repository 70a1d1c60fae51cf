package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/alo17/secgateway/internal/observability"
)

const (
	redactedValue = "[REDACTED]"

	// recentWindow is the lookback used for Stats.Recent.
	recentWindow = 24 * time.Hour
)

// Recorder keeps the most recent security events in a fixed-size ring,
// logs each one and counts it in metrics. A nil *Recorder drops events.
type Recorder struct {
	config  *Config
	logger  observability.Logger
	metrics *observability.Metrics
	writer  io.Writer
	closer  io.Closer
	now     func() time.Time

	mu    sync.RWMutex
	ring  []*Event
	head  int
	count int
	wmu   sync.Mutex
}

// RecorderOption is a functional option for the recorder.
type RecorderOption func(*Recorder)

// WithLogger sets the observability logger.
func WithLogger(l observability.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) RecorderOption {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithWriter mirrors events to w instead of Config.Output.
func WithWriter(w io.Writer) RecorderOption {
	return func(r *Recorder) {
		r.writer = w
	}
}

// WithClock sets the time source used for Stats.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder creates a new recorder.
func NewRecorder(config *Config, opts ...RecorderOption) (*Recorder, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audit config: %w", err)
	}

	r := &Recorder{
		config: config,
		logger: observability.NopLogger(),
		now:    time.Now,
		ring:   make([]*Event, config.GetEffectiveCapacity()),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.writer == nil && config.Output != "" {
		writer, closer, err := createWriter(config.Output)
		if err != nil {
			return nil, err
		}
		r.writer = writer
		r.closer = closer
	}

	return r, nil
}

// createWriter creates the mirror writer based on configuration.
func createWriter(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		//nolint:gosec // G304: path from config is trusted
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		return file, file, nil
	}
}

// Record stores an event. Request and trace IDs are taken from ctx when the
// event does not carry them.
func (r *Recorder) Record(ctx context.Context, event *Event) {
	if r == nil || event == nil || !r.config.Enabled {
		return
	}
	if r.config.MinSeverity != "" && !event.Severity.AtLeast(r.config.MinSeverity) {
		return
	}

	if event.RequestID == "" {
		event.RequestID = observability.RequestIDFromContext(ctx)
	}
	if event.TraceID == "" {
		event.TraceID = extractTraceID(ctx)
	}

	r.redact(event)
	stored := event.clone()

	r.mu.Lock()
	r.ring[r.head] = &stored
	r.head = (r.head + 1) % len(r.ring)
	if r.count < len(r.ring) {
		r.count++
	}
	r.mu.Unlock()

	r.metrics.RecordSecurityEvent(string(event.Type), string(event.Severity))
	r.log(ctx, event)
	r.write(event)
}

// log writes the event through the structured logger at a level matching
// its severity.
func (r *Recorder) log(ctx context.Context, event *Event) {
	fields := []observability.Field{
		observability.String("event_id", event.ID),
		observability.String("type", string(event.Type)),
		observability.String("severity", string(event.Severity)),
		observability.String("ip", event.IP),
	}
	if event.UserID != "" {
		fields = append(fields, observability.String("user_id", event.UserID))
	}
	if len(event.Details) > 0 {
		fields = append(fields, observability.Any("details", event.Details))
	}

	logger := r.logger.WithContext(ctx)
	switch event.Severity {
	case SeverityCritical:
		logger.Error("security event", fields...)
	case SeverityHigh:
		logger.Warn("security event", fields...)
	default:
		logger.Info("security event", fields...)
	}
}

// write mirrors the event to the configured writer.
func (r *Recorder) write(event *Event) {
	if r.writer == nil {
		return
	}

	var output []byte
	if r.config.GetEffectiveFormat() == formatText {
		output = []byte(formatEventText(event))
	} else {
		data, err := json.Marshal(event)
		if err != nil {
			r.logger.Error("failed to marshal security event", observability.Error(err))
			return
		}
		output = append(data, '\n')
	}

	r.wmu.Lock()
	defer r.wmu.Unlock()
	if _, err := r.writer.Write(output); err != nil {
		r.logger.Error("failed to write security event", observability.Error(err))
	}
}

// formatEventText formats an event as a single text line.
func formatEventText(event *Event) string {
	var sb strings.Builder

	sb.WriteString(event.Timestamp.Format(time.RFC3339))
	sb.WriteString(" ")
	sb.WriteString(strings.ToUpper(string(event.Severity)))
	sb.WriteString(" ")
	sb.WriteString(string(event.Type))
	sb.WriteString(" ip=")
	sb.WriteString(event.IP)

	if event.UserID != "" {
		sb.WriteString(" user=")
		sb.WriteString(event.UserID)
	}
	if event.RequestID != "" {
		sb.WriteString(" request_id=")
		sb.WriteString(event.RequestID)
	}
	if event.TraceID != "" {
		sb.WriteString(" trace_id=")
		sb.WriteString(event.TraceID)
	}

	sb.WriteString("\n")
	return sb.String()
}

// redact replaces sensitive detail values.
func (r *Recorder) redact(event *Event) {
	if len(r.config.RedactFields) == 0 {
		return
	}
	for key := range event.Details {
		if r.shouldRedact(key) {
			event.Details[key] = redactedValue
		}
	}
}

func (r *Recorder) shouldRedact(field string) bool {
	lowerField := strings.ToLower(field)
	for _, redactField := range r.config.RedactFields {
		if strings.Contains(lowerField, strings.ToLower(redactField)) {
			return true
		}
	}
	return false
}

// Events returns copies of the stored events matching f, newest first.
func (r *Recorder) Events(f Filter) []Event {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, 0, r.count)
	r.eachNewest(func(e *Event) {
		if f.Match(e) {
			out = append(out, e.clone())
		}
	})
	return out
}

// Resolve marks the event with the given ID as resolved. It reports false
// when the event is unknown or has already left the ring.
func (r *Recorder) Resolve(id string) bool {
	if r == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	r.eachNewest(func(e *Event) {
		if !found && e.ID == id {
			e.Resolved = true
			found = true
		}
	})
	return found
}

// Clear removes the stored events older than before and returns how many
// were removed. A zero before removes every event.
func (r *Recorder) Clear(before time.Time) int {
	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]*Event, 0, r.count)
	r.eachNewest(func(e *Event) {
		if !before.IsZero() && !e.Timestamp.Before(before) {
			kept = append(kept, e)
		}
	})
	removed := r.count - len(kept)

	clear(r.ring)
	for i := range kept {
		r.ring[i] = kept[len(kept)-1-i]
	}
	r.head = len(kept) % len(r.ring)
	r.count = len(kept)
	return removed
}

// Stats summarizes the stored events.
func (r *Recorder) Stats() Stats {
	s := Stats{
		ByType:     make(map[EventType]int),
		BySeverity: make(map[Severity]int),
	}
	if r == nil {
		return s
	}

	cutoff := r.now().Add(-recentWindow)

	r.mu.RLock()
	defer r.mu.RUnlock()

	r.eachNewest(func(e *Event) {
		s.Total++
		s.ByType[e.Type]++
		s.BySeverity[e.Severity]++
		if !e.Timestamp.Before(cutoff) {
			s.Recent++
		}
		if !e.Resolved {
			s.Unresolved++
		}
	})
	return s
}

// Len returns the number of stored events.
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// eachNewest visits stored events from newest to oldest. Callers hold mu.
func (r *Recorder) eachNewest(fn func(*Event)) {
	size := len(r.ring)
	for i := 1; i <= r.count; i++ {
		fn(r.ring[(r.head-i+size)%size])
	}
}

// Close closes the mirror file, if any.
func (r *Recorder) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// extractTraceID extracts the trace ID from the OpenTelemetry span context.
func extractTraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
