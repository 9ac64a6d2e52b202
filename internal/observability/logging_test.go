package observability

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
)

func TestNewHandler(t *testing.T) {
	tests := []struct {
		format  string
		wantErr bool
		isJSON  bool
	}{
		{format: ""},
		{format: "text"},
		{format: "json", isJSON: true},
		{format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			handler, shutdown, err := newHandler(context.Background(), &buf, Options{Level: slog.LevelInfo, Format: tt.format})
			if tt.wantErr {
				if err == nil {
					t.Fatal("newHandler() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newHandler() error = %v", err)
			}

			logger := slog.New(handler)
			logger.Debug("hidden")
			logger.Info("visible", "profile", "default")

			if err := shutdown(context.Background()); err != nil {
				t.Fatalf("shutdown() error = %v", err)
			}

			out := buf.String()
			if !strings.Contains(out, "visible") {
				t.Errorf("info record missing: %q", out)
			}
			if strings.Contains(out, "hidden") {
				t.Errorf("debug record written at info level: %q", out)
			}
			if got := json.Valid([]byte(out)); got != tt.isJSON {
				t.Errorf("json.Valid(%q) = %v, want %v", out, got, tt.isJSON)
			}
		})
	}
}

func TestNewHandlerJSONCarriesCorrelation(t *testing.T) {
	id := [16]byte{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}

	var buf bytes.Buffer
	handler, _, err := newHandler(context.Background(), &buf, Options{Level: slog.LevelDebug, Format: "json"})
	if err != nil {
		t.Fatalf("newHandler() error = %v", err)
	}

	ctx := WithCorrelation(context.Background(), id)
	slog.New(handler).DebugContext(ctx, "authorization url presented")

	if want := hex.EncodeToString(id[:]); !strings.Contains(buf.String(), want) {
		t.Errorf("record %q does not carry trace id %s", buf.String(), want)
	}
}

func TestWithCorrelationIgnoresZeroID(t *testing.T) {
	ctx := context.Background()
	if got := WithCorrelation(ctx, [16]byte{}); got != ctx {
		t.Error("WithCorrelation() with zero id changed the context")
	}
}

func TestNewHandlerExportsOTLP(t *testing.T) {
	var posts atomic.Int32
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(collector.Close)

	var buf bytes.Buffer
	handler, shutdown, err := newHandler(context.Background(), &buf, Options{
		Level:        slog.LevelInfo,
		Format:       "text",
		OTLPEndpoint: collector.URL + "/v1/logs",
		OTLPProtocol: ProtocolHTTP,
	})
	if err != nil {
		t.Fatalf("newHandler() error = %v", err)
	}

	slog.New(handler).Info("logged in", "profile", "default")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}

	if posts.Load() == 0 {
		t.Error("collector received no export request")
	}
	if !strings.Contains(buf.String(), "logged in") {
		t.Errorf("text output %q missing record written alongside export", buf.String())
	}
}

func TestNewOTLPExporter(t *testing.T) {
	tests := []struct {
		protocol string
		wantErr  bool
	}{
		{protocol: ""},
		{protocol: ProtocolHTTP},
		{protocol: ProtocolGRPC},
		{protocol: "udp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.protocol, func(t *testing.T) {
			exporter, err := newOTLPExporter(context.Background(), tt.protocol, "http://127.0.0.1:4317")
			if (err != nil) != tt.wantErr {
				t.Fatalf("newOTLPExporter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if exporter != nil {
				_ = exporter.Shutdown(context.Background())
			}
		})
	}
}

func TestMinSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  otellog.Severity
	}{
		{level: slog.LevelDebug - 4, want: otellog.SeverityDebug},
		{level: slog.LevelDebug, want: otellog.SeverityDebug},
		{level: slog.LevelInfo, want: otellog.SeverityInfo},
		{level: slog.LevelWarn, want: otellog.SeverityWarn},
		{level: slog.LevelError, want: otellog.SeverityError},
	}

	for _, tt := range tests {
		if got := minSeverity(tt.level).Severity(); got != tt.want {
			t.Errorf("minSeverity(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestChainOrderAndRecovery(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), mark("outer"), mark("inner"), Recovery)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("middleware order = %v, want [outer inner]", order)
	}
}

func TestRecoveryRepanicsOnAbort(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if v := recover(); v != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", v)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/callback", nil))
}
