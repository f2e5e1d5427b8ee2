package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestLocalHandlerFormats(t *testing.T) {
	tests := []struct {
		format  string
		want    string
		wantErr bool
	}{
		{format: "text", want: "msg=hello"},
		{format: "", want: "msg=hello"},
		{format: "json", want: `"msg":"hello"`},
		{format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			h, err := newLocalHandler(&buf, tt.format, slog.LevelInfo)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newLocalHandler() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			slog.New(h).Info("hello")
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output %q does not contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestTraceHandlerAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	h, err := newLocalHandler(&buf, "json", slog.LevelInfo)
	if err != nil {
		t.Fatal(err)
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	slog.New(h).With("component", "test").InfoContext(ctx, "polling")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if record["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace_id = %v", record["trace_id"])
	}
	if record["span_id"] != "00f067aa0ba902b7" {
		t.Errorf("span_id = %v", record["span_id"])
	}
	if record["component"] != "test" {
		t.Errorf("component = %v", record["component"])
	}
}

func TestTraceHandlerWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	h, err := newLocalHandler(&buf, "text", slog.LevelInfo)
	if err != nil {
		t.Fatal(err)
	}

	slog.New(h).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("unexpected trace_id in %q", buf.String())
	}
}

func TestFanout(t *testing.T) {
	var debug, warn bytes.Buffer
	f := fanout{
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}
	logger := slog.New(f)

	logger.Debug("detail")
	logger.Warn("careful")

	if !strings.Contains(debug.String(), "detail") || !strings.Contains(debug.String(), "careful") {
		t.Errorf("debug handler got %q", debug.String())
	}
	if strings.Contains(warn.String(), "detail") || !strings.Contains(warn.String(), "careful") {
		t.Errorf("warn handler got %q", warn.String())
	}
	if f.Enabled(context.Background(), slog.LevelDebug-4) {
		t.Error("Enabled() = true below every handler's level")
	}
}

func TestInstrument(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := []struct {
		name     string
		exporter string
		wantErr  bool
	}{
		{name: "none", exporter: ExporterNone},
		{name: "stdout", exporter: ExporterStdout},
		{name: "unknown", exporter: "kafka", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			shutdown, err := Instrument(t.Context(), Options{
				Level:    slog.LevelInfo,
				Format:   "text",
				Exporter: tt.exporter,
				Output:   &buf,
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Instrument() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			slog.Info("instrumented")
			if err := shutdown(context.Background()); err != nil {
				t.Fatalf("shutdown() error = %v", err)
			}
			if !strings.Contains(buf.String(), "msg=instrumented") {
				t.Errorf("local output %q missing record", buf.String())
			}
		})
	}
}

func TestSeverity(t *testing.T) {
	if severity(slog.LevelDebug) >= severity(slog.LevelInfo) {
		t.Error("debug severity not below info")
	}
	if severity(slog.LevelError+4) != severity(slog.LevelError) {
		t.Error("levels above error do not map to error")
	}
}
