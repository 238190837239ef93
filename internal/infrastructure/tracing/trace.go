package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/id"
)

// TraceID identifies one request flow
type TraceID string

// SpanID identifies one operation within a trace
type SpanID string

const (
	tracePrefix = "trc"
	spanPrefix  = "spn"
)

// Span is a single timed operation
type Span struct {
	TraceID    TraceID
	SpanID     SpanID
	ParentID   SpanID
	Name       string
	Service    string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Tags       map[string]string
	Events     []Event
	Error      error
	StatusCode int
}

// Event is a timestamped note on a span
type Event struct {
	Timestamp time.Time
	Message   string
}

// Tracer collects finished spans and writes them to the log
type Tracer struct {
	service string
	log     *logging.Logger
	spans   chan *Span
	wg      sync.WaitGroup
	once    sync.Once
}

// New creates a tracer and starts its collector
func New(service string, log *logging.Logger) *Tracer {
	t := &Tracer{
		service: service,
		log:     logging.OrNop(log).Named("trace"),
		spans:   make(chan *Span, 1000),
	}
	t.wg.Add(1)
	go t.collect()
	return t
}

// StartSpan creates a span that continues the trace in ctx, or starts a new
// one. A nil tracer still returns a usable span.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = TraceID(id.Default().GenerateWithPrefix(tracePrefix))
	}

	span := &Span{
		TraceID:   traceID,
		SpanID:    SpanID(id.Default().GenerateWithPrefix(spanPrefix)),
		ParentID:  GetSpanID(ctx),
		Name:      name,
		StartTime: time.Now(),
		Tags:      make(map[string]string),
	}
	if t != nil {
		span.Service = t.service
	}

	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return span, ctx
}

// Finish marks the span as complete
func (s *Span) Finish() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// SetTag adds a tag to the span
func (s *Span) SetTag(key, value string) {
	s.Tags[key] = value
}

// SetError records an error in the span
func (s *Span) SetError(err error) {
	s.Error = err
}

// SetStatus sets the HTTP status code
func (s *Span) SetStatus(code int) {
	s.StatusCode = code
}

// AddEvent appends a note to the span
func (s *Span) AddEvent(message string) {
	s.Events = append(s.Events, Event{Timestamp: time.Now(), Message: message})
}

func (t *Tracer) collect() {
	defer t.wg.Done()
	for span := range t.spans {
		t.write(span)
	}
}

func (t *Tracer) write(span *Span) {
	fields := make([]zap.Field, 0, 8+len(span.Tags))
	fields = append(fields,
		zap.String("trace_id", string(span.TraceID)),
		zap.String("span_id", string(span.SpanID)),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
	)
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(span.ParentID)))
	}
	if span.StatusCode != 0 {
		fields = append(fields, zap.Int("status", span.StatusCode))
	}
	for k, v := range span.Tags {
		fields = append(fields, zap.String(k, v))
	}
	if len(span.Events) > 0 {
		fields = append(fields, zap.Int("events", len(span.Events)))
	}

	if span.Error != nil {
		t.log.Warn("span completed with error", append(fields, zap.Error(span.Error))...)
		return
	}
	t.log.Debug("span completed", fields...)
}

// Submit hands a finished span to the collector. Spans are dropped when the
// buffer is full or the tracer is nil.
func (t *Tracer) Submit(span *Span) {
	if t == nil {
		return
	}
	select {
	case t.spans <- span:
	default:
		t.log.Warn("span buffer full, dropping span",
			zap.String("trace_id", string(span.TraceID)),
			zap.String("span_id", string(span.SpanID)))
	}
}

// Close stops the collector after writing buffered spans. Submit must not be
// called after Close.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		close(t.spans)
		t.wg.Wait()
	})
}

// Context keys for trace propagation
type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) TraceID {
	traceID, _ := ctx.Value(traceIDKey).(TraceID)
	return traceID
}

// GetSpanID retrieves the span ID from context
func GetSpanID(ctx context.Context) SpanID {
	spanID, _ := ctx.Value(spanIDKey).(SpanID)
	return spanID
}

// FormatTrace returns a formatted trace string for logging
func FormatTrace(traceID TraceID, spanID SpanID) string {
	return fmt.Sprintf("[trace:%s span:%s]", traceID, spanID)
}
