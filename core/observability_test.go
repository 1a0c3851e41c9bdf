package core

import (
	"context"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

func newObservedService(t *testing.T, sender Sender, installations ...Installation) (*Service, *captureMetricsRecorder, *captureLogger) {
	t.Helper()
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	svc, err := NewService(DefaultConfig(),
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
		WithClock(newFakeClock()),
		WithInstallationRepository(newMemoryInstallationRepository(installations...)),
		WithStrategies(headerStrategy{scheme: AuthSchemeAPIKey}, &countingAcquirer{scheme: AuthSchemeOAuth2, expiresIn: time.Hour}),
		WithSender(sender),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, metrics, logger
}

func TestServiceObservability_InvokeSuccess(t *testing.T) {
	sender := &scriptedSender{responses: []Response{{StatusCode: 200, Body: []byte(`{"ok":true}`)}}}
	svc, metrics, logger := newObservedService(t, sender, apiKeyInstallation("inst_1", "k"))

	decision, err := svc.Invoke(context.Background(), InvokeRequest{
		InstallationID: "inst_1",
		Connector:      "keyed",
		Operation:      "ping",
		URL:            "https://keyed.example/ping",
	})
	if err != nil || !decision.IsSuccess() {
		t.Fatalf("invoke: %s %v", decision.Kind, err)
	}

	if !hasCounter(metrics.counters, "integrations.invoke.total", "success") {
		t.Fatalf("expected integrations.invoke.total success counter")
	}
	if !hasHistogram(metrics.histograms, "integrations.invoke.duration_ms", "success") {
		t.Fatalf("expected integrations.invoke.duration_ms histogram")
	}
	if !hasDecisionCounter(metrics.counters, DecisionSuccess) {
		t.Fatalf("expected dispatch decision counter")
	}
	if !hasLog(logger.snapshot(), "info", "invoke succeeded", "invoke") {
		t.Fatalf("expected invoke succeeded structured log")
	}
}

func TestServiceObservability_ResolveFailure(t *testing.T) {
	svc, metrics, logger := newObservedService(t, &scriptedSender{})

	if _, err := svc.ResolveAuthHeader(context.Background(), "missing"); err == nil {
		t.Fatalf("expected missing installation error")
	}
	if !hasCounter(metrics.counters, "integrations.resolve_auth_header.total", "failure") {
		t.Fatalf("expected resolve failure counter")
	}
	if !hasLog(logger.snapshot(), "error", "resolve_auth_header failed", "resolve_auth_header") {
		t.Fatalf("expected resolve failure log")
	}
}

func TestServiceObservability_TagsVendor(t *testing.T) {
	svc, metrics, _ := newObservedService(t, &scriptedSender{})
	svc.observeOperation(
		context.Background(),
		time.Now().UTC().Add(-100*time.Millisecond),
		"Execute-Refresh",
		goerrors.New("vendor timeout", goerrors.CategoryExternal),
		map[string]any{"vendor_key": "acme", "installation_id": "inst_1"},
	)
	for _, counter := range metrics.counters {
		if counter.name != "integrations.execute_refresh.total" {
			continue
		}
		if counter.tags["vendor_key"] != "acme" || counter.tags["status"] != "failure" {
			t.Fatalf("unexpected tags %#v", counter.tags)
		}
		if _, leaked := counter.tags["installation_id"]; leaked {
			t.Fatalf("expected installation id to stay out of metric tags")
		}
		return
	}
	t.Fatalf("expected normalized operation counter")
}

func hasDecisionCounter(items []capturedCounter, kind DecisionKind) bool {
	for _, item := range items {
		if item.name == "integrations.dispatch.decision.total" && item.tags["decision"] == string(kind) {
			return true
		}
	}
	return false
}

func hasCounter(items []capturedCounter, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasHistogram(items []capturedHistogram, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasLog(items []capturedLog, level string, message string, eventType string) bool {
	for _, item := range items {
		if item.level != level {
			continue
		}
		if item.msg != message {
			continue
		}
		if item.fields["event_type"] == eventType {
			return true
		}
	}
	return false
}
