package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "development", mutate: func(c *Config) { *c = *DevelopmentConfig() }},
		{name: "production", mutate: func(c *Config) { *c = *ProductionConfig() }},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: true},
		{name: "sampling above one", mutate: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, wantErr: true},
		{name: "metrics without address", mutate: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddress = ""
		}, wantErr: true},
		{name: "events without buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerWritesComponentFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LoggingConfig{Level: "debug", Format: "json"})

	logger.NewComponentLogger("core").WithCommand("pause").WithState("paused").Debug("waiting")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	for key, want := range map[string]string{
		"component": "core",
		"command":   "pause",
		"state":     "paused",
		"message":   "waiting",
		"level":     "debug",
	} {
		if entry[key] != want {
			t.Errorf("field %s = %v, want %q", key, entry[key], want)
		}
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LoggingConfig{Level: "warn", Format: "json"})

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn message missing")
	}
}

func TestSetGlobalLevelRejectsUnknown(t *testing.T) {
	if err := SetGlobalLevel("shouty"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestFromContextDefaultsToNop(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext returned nil")
	}
	logger := NopLogger()
	ctx := logger.WithContext(context.Background())
	if FromContext(ctx) != logger {
		t.Error("FromContext did not return the stored logger")
	}
}

func TestNopMetricsIgnoresRecords(t *testing.T) {
	m := NopMetrics()
	m.RecordStateChange("paused", 2)
	m.SetWaitersPending(3)
	m.RecordCommand("pause", "ok", time.Millisecond)
	m.RecordRequest("swap_buffers", "ok", time.Millisecond)
	m.RecordTransition("ready", "running")
	m.RecordFrame()
	m.RecordFault("protocol")
}

func TestMetricsRecord(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test", ListenAddress: ":0"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordStateChange("paused", 2)
	m.RecordStateChange("paused", 1)
	m.SetWaitersPending(4)
	m.RecordCommand("pause", "ok", 0)
	m.RecordFault("protocol")
	m.RecordFrame()
	m.RecordFrame()

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"state changes", testutil.ToFloat64(m.stateChanges.WithLabelValues("paused")), 2},
		{"waiters resolved", testutil.ToFloat64(m.waitersResolved), 3},
		{"waiters pending", testutil.ToFloat64(m.waitersPending), 4},
		{"commands", testutil.ToFloat64(m.commands.WithLabelValues("pause", "ok")), 1},
		{"faults", testutil.ToFloat64(m.faultsByClass.WithLabelValues("protocol")), 1},
		{"frames", testutil.ToFloat64(m.frames), 2},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestMetricsHandlerServesSeries(t *testing.T) {
	m, _ := NewMetrics(MetricsConfig{Enabled: true, Namespace: "emusync", ListenAddress: ":0"})
	m.RecordTransition("ready", "running")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "emusync_lifecycle_transitions_total") {
		t.Errorf("metrics output missing transitions series:\n%s", rec.Body.String())
	}
}

func TestEventPublisherAsyncDeliversInOrder(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 16, MaxBatchSize: 4, EnableAsync: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var mu sync.Mutex
	var got []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e.Data["state"].(string))
		mu.Unlock()
	}, FilterByType(EventTypeStateChanged))

	for _, s := range []string{"running", "paused", "running", "stopped"} {
		if err := ep.PublishStateChanged(s, 0); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	_ = ep.PublishCoreReady()

	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, ",") != "running,paused,running,stopped" {
		t.Errorf("delivered %v", got)
	}

	if err := ep.PublishCoreReady(); !errors.Is(err, ErrPublisherStopped) {
		t.Errorf("Publish after Shutdown = %v, want ErrPublisherStopped", err)
	}
}

func TestEventPublisherAssignsIdentity(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 1})

	var got Event
	ep.Subscribe(func(e Event) { got = e }, nil)
	_ = ep.PublishError("core", errors.New("boom"))

	if got.ID == "" || got.Timestamp.IsZero() {
		t.Errorf("event missing identity: %+v", got)
	}
	if got.Level != EventLevelError || got.Message != "boom" {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestEventFilters(t *testing.T) {
	warn := Event{Level: EventLevelWarning, SessionID: "a"}
	info := Event{Level: EventLevelInfo, SessionID: "b"}

	if !FilterByLevel(EventLevelWarning)(warn) || FilterByLevel(EventLevelWarning)(info) {
		t.Error("FilterByLevel mismatch")
	}
	if !FilterBySession("a")(warn) || FilterBySession("a")(info) {
		t.Error("FilterBySession mismatch")
	}
}

func TestStartOperationWithoutTelemetry(t *testing.T) {
	ic := StartOperation(context.Background(), "core.pause")
	if ic.Logger == nil || ic.Timer == nil {
		t.Fatal("StartOperation returned incomplete context")
	}
	ic.End(errors.New("failed"))
}

func TestNopTelemetryShutdown(t *testing.T) {
	tel := Nop()
	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("FromTelemetryContext did not return the stored telemetry")
	}
	ic := StartOperation(ctx, "lifecycle.start")
	ic.End(nil)
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}
