package metrics

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"surveybot/internal/bus"
)

func TestCollectorRegistrationIsIdempotent(t *testing.T) {
	c := NewMetricsCollector("test")
	a := c.Counter("test_total", "help", "")
	b := c.Counter("test_total", "help", "")
	if a != b {
		t.Fatal("expected the same counter for the same name and labels")
	}
	if c.Counter("test_total", "help", `kind="x"`) == a {
		t.Fatal("different labels must yield a different counter")
	}
}

func TestHandlerRendersPrometheusText(t *testing.T) {
	c := NewMetricsCollector("test")
	c.Counter("test_events_total", "Events", `kind="b"`).Add(2)
	c.Counter("test_events_total", "Events", `kind="a"`).Inc()
	c.Gauge("test_active", "Active", "").Set(3)
	h := c.Histogram("test_latency_seconds", "Latency", "", []float64{1, 0.5})
	h.Observe(0.2)
	h.Observe(0.7)
	h.Observe(9)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE test_uptime_seconds gauge",
		"# TYPE test_events_total counter",
		`test_events_total{kind="a"} 1`,
		`test_events_total{kind="b"} 2`,
		"test_active 3",
		`test_latency_seconds_bucket{le="0.5"} 1`,
		`test_latency_seconds_bucket{le="1"} 2`,
		`test_latency_seconds_bucket{le="+Inf"} 3`,
		"test_latency_seconds_count 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("output missing %q:\n%s", want, body)
		}
	}
	if strings.Count(body, "# HELP test_events_total") != 1 {
		t.Errorf("HELP line for a labelled counter must be written once:\n%s", body)
	}
	if strings.Index(body, `kind="a"`) > strings.Index(body, `kind="b"`) {
		t.Errorf("samples must be sorted by labels:\n%s", body)
	}
}

func TestSurveyMetricsSubscribe(t *testing.T) {
	c := NewMetricsCollector("surveybot")
	m := NewSurveyMetrics(c)
	eb := bus.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.Subscribe(eb)

	eb.Emit(bus.Event{Type: bus.EventSurveyEnrolled, ChatID: "1"})
	eb.Emit(bus.Event{Type: bus.EventSurveyEnrolled, ChatID: "2"})
	eb.Emit(bus.Event{Type: bus.EventAnswerRecorded, ChatID: "1"})
	eb.Emit(bus.Event{Type: bus.EventAnswerInvalid, ChatID: "1"})
	eb.Emit(bus.Event{Type: bus.EventSendFailed, ChatID: "1", Payload: map[string]any{"kind": "media"}})
	eb.Emit(bus.Event{Type: bus.EventSurveyCompleted, ChatID: "1", Payload: map[string]any{"duration": 90 * time.Second}})

	if got := m.Enrolled.Value(); got != 2 {
		t.Errorf("enrolled = %d, want 2", got)
	}
	if got := m.ActiveConversations.Value(); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
	if got := m.Completed.Value(); got != 1 {
		t.Errorf("completed = %d, want 1", got)
	}
	if got := m.AnswersInvalid.Value(); got != 1 {
		t.Errorf("invalid = %d, want 1", got)
	}
	if got := m.SendFailuresMedia.Value(); got != 1 {
		t.Errorf("media send failures = %d, want 1", got)
	}
	if got := m.Duration.Count(); got != 1 {
		t.Errorf("duration observations = %d, want 1", got)
	}
}
