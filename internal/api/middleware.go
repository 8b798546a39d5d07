package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/opensource-finance/paygrid/internal/metrics"
)

// Request headers understood by the API.
const (
	TenantIDHeader  = "X-Tenant-ID"
	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-ID"
)

var (
	tracer = otel.Tracer("paygrid-api")

	corsAllowHeaders  = strings.Join([]string{"Content-Type", "Authorization", TenantIDHeader, RequestIDHeader, TraceIDHeader}, ", ")
	corsExposeHeaders = strings.Join([]string{RequestIDHeader, TraceIDHeader}, ", ")
)

// requestMeta is shared by every middleware of one request. It is stored
// as a pointer so values set further down the chain, like the tenant, are
// visible to the request log written on the way out.
type requestMeta struct {
	requestID string
	traceID   string
	tenantID  string
}

type metaKey struct{}

func metaFrom(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(metaKey{}).(*requestMeta)
	return m
}

// ensureMeta returns the request's metadata, attaching a fresh one when
// the request did not pass through TracingMiddleware.
func ensureMeta(r *http.Request) (*requestMeta, *http.Request) {
	if m := metaFrom(r.Context()); m != nil {
		return m, r
	}
	m := &requestMeta{}
	return m, r.WithContext(context.WithValue(r.Context(), metaKey{}, m))
}

// GetTenantID returns the tenant the request acts for.
func GetTenantID(ctx context.Context) string {
	if m := metaFrom(ctx); m != nil {
		return m.tenantID
	}
	return ""
}

// GetTraceID returns the trace ID, falling back to the request ID when
// no tracer provider is installed.
func GetTraceID(ctx context.Context) string {
	if m := metaFrom(ctx); m != nil {
		return m.traceID
	}
	return ""
}

// GetRequestID returns the caller supplied or generated request ID.
func GetRequestID(ctx context.Context) string {
	if m := metaFrom(ctx); m != nil {
		return m.requestID
	}
	return ""
}

// TenantMiddleware scopes the request to the tenant named in X-Tenant-ID.
// Configurations and payslips are never shared across tenants, so the
// header is mandatory and the all-tenants wildcard is refused.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(TenantIDHeader))
		switch tenantID {
		case "":
			writeError(w, http.StatusBadRequest, TenantIDHeader+" header is required")
			return
		case domain.AllTenants:
			writeError(w, http.StatusBadRequest, TenantIDHeader+" must name a single tenant")
			return
		}

		meta, r := ensureMeta(r)
		meta.tenantID = tenantID
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("paygrid.tenant_id", tenantID))
		next.ServeHTTP(w, r)
	})
}

// TracingMiddleware opens the request span and assigns the request ID.
// The span is renamed after routing so configuration IDs do not end up
// in span names.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := &requestMeta{requestID: r.Header.Get(RequestIDHeader)}
		if meta.requestID == "" {
			meta.requestID = uuid.New().String()
		}

		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("paygrid.request_id", meta.requestID),
			),
		)
		defer span.End()

		meta.traceID = meta.requestID
		if sc := span.SpanContext(); sc.TraceID().IsValid() {
			meta.traceID = sc.TraceID().String()
		}

		w.Header().Set(RequestIDHeader, meta.requestID)
		w.Header().Set(TraceIDHeader, meta.traceID)

		rec := newStatusRecorder(w)
		r = r.WithContext(context.WithValue(ctx, metaKey{}, meta))
		next.ServeHTTP(rec, r)

		route := routeOf(r)
		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", rec.status),
		)
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}

// LoggingMiddleware writes one structured line per request once it has
// been served.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		meta, r := ensureMeta(r)
		rec := newStatusRecorder(w)

		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"route", routeOf(r),
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"tenant_id", meta.tenantID,
			"request_id", meta.requestID,
			"trace_id", meta.traceID,
		)
	})
}

// CORSMiddleware lets browser based configuration builders call the API.
// Credentials are only allowed for an explicit origin.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a panic in a handler into a 500 response.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rv := recover()
			if rv == nil {
				return
			}
			if rv == http.ErrAbortHandler {
				panic(rv)
			}
			slog.Error("handler panicked",
				"panic", rv,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", GetRequestID(r.Context()),
			)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// MetricsMiddleware feeds the paygrid_http_* collectors. Requests are
// labelled by route pattern to keep label cardinality bounded.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r)
		metrics.RecordHTTPRequest(r.Method, routeOf(r), strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}

// routeOf returns the matched chi pattern, or the raw path when the
// request was not routed.
func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
