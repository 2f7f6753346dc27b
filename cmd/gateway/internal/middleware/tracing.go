package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Kocoro-lab/Shannon/go/coverage/internal/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// TraceIDFromContext returns the request trace ID set by TracingMiddleware.
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// TracingMiddleware provides distributed tracing support
type TracingMiddleware struct {
	logger *zap.Logger
}

// NewTracingMiddleware creates a new tracing middleware
func NewTracingMiddleware(logger *zap.Logger) *TracingMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TracingMiddleware{
		logger: logger,
	}
}

// Middleware returns the HTTP middleware function
func (tm *TracingMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := tm.extractTraceID(r)
		if traceID == "" {
			traceID = tm.generateTraceID()
		}

		ctx := tracing.ExtractTraceparent(r.Context(), r.Header.Get("traceparent"))
		ctx, span := tracing.StartSpan(ctx, r.Method+" "+r.URL.Path,
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
			attribute.String("trace_id", traceID),
		)
		defer span.End()
		ctx = context.WithValue(ctx, traceIDKey, traceID)

		w.Header().Set("X-Trace-ID", traceID)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.response.status_code", sw.status))
		tm.logger.Info("Request handled",
			zap.String("trace_id", traceID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// extractTraceID extracts trace ID from request headers
func (tm *TracingMiddleware) extractTraceID(r *http.Request) string {
	// W3C Trace Context
	if traceID, _, _, ok := tracing.ParseTraceparent(r.Header.Get("traceparent")); ok {
		return traceID
	}
	if traceID := r.Header.Get("X-Trace-ID"); traceID != "" && len(traceID) <= 64 {
		return traceID
	}
	if requestID := r.Header.Get("X-Request-ID"); requestID != "" && len(requestID) <= 64 {
		return requestID
	}
	return ""
}

func (tm *TracingMiddleware) generateTraceID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
