package observe

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

// instrumented returns metrics backed by a manual reader and installs an
// in-memory tracer as the global provider.
func instrumented(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)
	return m, reader, globalTracer(t)
}

// controlPlane mimics the API's route table.
func controlPlane(status int) *http.ServeMux {
	mux := http.NewServeMux()
	h := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) }
	mux.HandleFunc("GET /v1/mode", h)
	mux.HandleFunc("PUT /v1/pages/{page}", h)
	mux.HandleFunc("POST /v1/ask", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"answer":{"text":"ok"}}`))
	})
	return mux
}

func TestMiddleware(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	tests := []struct {
		name        string
		method      string
		path        string
		traceparent string
		status      int
		wantSpan    string
		wantRoute   string
		wantStatus  int
		wantTraceID string
	}{
		{
			name:       "page number collapses to the pattern",
			method:     http.MethodPut,
			path:       "/v1/pages/12",
			status:     http.StatusNoContent,
			wantSpan:   "HTTP PUT /v1/pages/{page}",
			wantRoute:  "PUT /v1/pages/{page}",
			wantStatus: http.StatusNoContent,
		},
		{
			name:        "incoming trace is continued",
			method:      http.MethodGet,
			path:        "/v1/mode",
			traceparent: "00-" + traceID + "-00f067aa0ba902b7-01",
			status:      http.StatusOK,
			wantSpan:    "HTTP GET /v1/mode",
			wantRoute:   "GET /v1/mode",
			wantStatus:  http.StatusOK,
			wantTraceID: traceID,
		},
		{
			name:       "write without header is a 200",
			method:     http.MethodPost,
			path:       "/v1/ask",
			status:     http.StatusTeapot,
			wantSpan:   "HTTP POST /v1/ask",
			wantRoute:  "POST /v1/ask",
			wantStatus: http.StatusOK,
		},
		{
			name:       "unmatched path keeps the raw path",
			method:     http.MethodGet,
			path:       "/nowhere",
			status:     http.StatusOK,
			wantSpan:   "HTTP GET /nowhere",
			wantRoute:  "GET /nowhere",
			wantStatus: http.StatusNotFound,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, reader, exp := instrumented(t)

			var seenCID string
			inner := controlPlane(tc.status)
			h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seenCID = CorrelationID(r.Context())
				inner.ServeHTTP(w, r)
			}))

			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.traceparent != "" {
				req.Header.Set("traceparent", tc.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if len(seenCID) != 32 {
				t.Errorf("correlation ID %q is not a trace ID", seenCID)
			}
			if tc.wantTraceID != "" && seenCID != tc.wantTraceID {
				t.Errorf("correlation ID = %q, want %q", seenCID, tc.wantTraceID)
			}
			if got := rec.Header().Get(CorrelationHeader); got != seenCID {
				t.Errorf("%s = %q, want %q", CorrelationHeader, got, seenCID)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			if spans[0].Name != tc.wantSpan {
				t.Errorf("span name = %q, want %q", spans[0].Name, tc.wantSpan)
			}
			if got, ok := spanAttr(spans[0].Attributes, "http.response.status_code"); !ok || got.AsInt64() != int64(tc.wantStatus) {
				t.Errorf("span status = %v, want %d", got.AsInt64(), tc.wantStatus)
			}

			rm := collect(t, reader)
			met := findMetric(rm, "vaani.http.request.duration")
			if met == nil {
				t.Fatal("http duration metric not recorded")
			}
			hist := met.Data.(metricdata.Histogram[float64])
			if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
				t.Fatalf("data points = %+v", hist.DataPoints)
			}
			attrs := hist.DataPoints[0].Attributes
			if v, _ := attrs.Value("path"); v.AsString() != tc.wantRoute {
				t.Errorf("path attribute = %q, want %q", v.AsString(), tc.wantRoute)
			}
			if v, _ := attrs.Value("status"); v.AsInt64() != int64(tc.wantStatus) {
				t.Errorf("status attribute = %d, want %d", v.AsInt64(), tc.wantStatus)
			}
		})
	}
}

func TestMiddleware_UUIDWithoutTracing(t *testing.T) {
	m, _, _ := instrumented(t)
	otel.SetTracerProvider(noop.NewTracerProvider())

	h := Middleware(m)(controlPlane(http.StatusNoContent))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/pages/3", nil))

	if got := rec.Header().Get(CorrelationHeader); len(got) != 36 {
		t.Errorf("%s = %q, want a UUID", CorrelationHeader, got)
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
}

func (hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) { return nil, nil, nil }

func TestStatusRecorder_UnwrapReachesHijacker(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: hijackableRecorder{httptest.NewRecorder()}}

	if _, ok := rec.Unwrap().(http.Hijacker); !ok {
		t.Error("Unwrap() does not expose the underlying http.Hijacker")
	}
}

func TestStatusRecorder_FirstStatusWins(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	rec.WriteHeader(http.StatusBadGateway)
	rec.WriteHeader(http.StatusOK)
	if rec.statusCode != http.StatusBadGateway {
		t.Errorf("statusCode = %d, want 502", rec.statusCode)
	}
}

func spanAttr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}
