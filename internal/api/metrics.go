package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	boardEventName   = "board.request"
	boardEventDomain = "studyverse.board"
	boardSpanName    = "board.request"
	boardAttrPrefix  = "studyverse.board."
	tracerName       = "github.com/RARPlayzDev/StudyVerse-sub000/internal/api"
	metricsKey       = "board.metrics"
)

// requestMetrics collects per request timings and emits them once as an
// observability event, both as a log entry and on the request span.
type requestMetrics struct {
	logger *log.Logger
	span   trace.Span
	route  string
	method string
	start  time.Time

	authDuration   time.Duration
	readyDuration  time.Duration
	opDuration     time.Duration
	encodeDuration time.Duration
	tasksReturned  int
	errorStage     string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, boardSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger:        logger,
		span:          span,
		route:         route,
		method:        method,
		start:         time.Now(),
		tasksReturned: -1,
	}, ctx
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if m != nil && d > 0 {
		m.authDuration = d
	}
}

func (m *requestMetrics) ObserveReady(d time.Duration) {
	if m != nil && d > 0 {
		m.readyDuration = d
	}
}

func (m *requestMetrics) ObserveOp(d time.Duration) {
	if m != nil && d > 0 {
		m.opDuration = d
	}
}

func (m *requestMetrics) ObserveEncode(d time.Duration) {
	if m != nil && d > 0 {
		m.encodeDuration = d
	}
}

func (m *requestMetrics) SetTasksReturned(n int) {
	if m == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	m.tasksReturned = n
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m != nil && stage != "" {
		m.errorStage = stage
	}
}

func (m *requestMetrics) attributes(status int, err error) map[string]any {
	attrs := map[string]any{
		"http.route":       m.route,
		"http.method":      m.method,
		"http.status_code": status,
	}
	attrs[boardAttrPrefix+"total_ms"] = durationToMillis(time.Since(m.start))
	if m.authDuration > 0 {
		attrs[boardAttrPrefix+"auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.readyDuration > 0 {
		attrs[boardAttrPrefix+"ready_ms"] = durationToMillis(m.readyDuration)
	}
	if m.opDuration > 0 {
		attrs[boardAttrPrefix+"op_ms"] = durationToMillis(m.opDuration)
	}
	if m.encodeDuration > 0 {
		attrs[boardAttrPrefix+"encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.tasksReturned >= 0 {
		attrs[boardAttrPrefix+"tasks_returned"] = m.tasksReturned
	}
	if m.errorStage != "" {
		attrs[boardAttrPrefix+"error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}
	return attrs
}

// Log ends the span and writes the observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := m.attributes(status, err)
	severityText, severityNumber := severityForStatus(status, err)

	if m.span != nil {
		eventAttrs := []attribute.KeyValue{
			attribute.String("event.name", boardEventName),
			attribute.String("event.domain", boardEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}
		spanAttrs := make([]attribute.KeyValue, 0, len(attrs))
		for k, v := range attrs {
			kv := toAttribute(k, v)
			eventAttrs = append(eventAttrs, kv)
			spanAttrs = append(spanAttrs, kv)
		}
		m.span.SetAttributes(spanAttrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      boardEventName,
		"event.domain":    boardEventDomain,
		"attributes":      attrs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error("observability.event")
	case "WARN":
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

// severityForStatus maps a response to OpenTelemetry severity text and number.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	case err != nil:
		return "ERROR", 17
	}
	return "INFO", 9
}

func toAttribute(k string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(k, val)
	case int:
		return attribute.Int(k, val)
	case int64:
		return attribute.Int64(k, val)
	case float64:
		return attribute.Float64(k, val)
	case bool:
		return attribute.Bool(k, val)
	}
	return attribute.String(k, fmt.Sprint(v))
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// RequestMetrics starts a span for every request and logs one observability
// event when the handler returns.
func RequestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			m, ctx := newRequestMetrics(req.Context(), logger, req.Method, c.Path())
			c.SetRequest(req.WithContext(ctx))
			c.Set(metricsKey, m)

			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			m.Log(status, err)
			return err
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsKey).(*requestMetrics)
	return m
}
