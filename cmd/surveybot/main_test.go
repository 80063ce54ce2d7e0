package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"surveybot/internal/channel"
	"surveybot/internal/config"
	"surveybot/internal/metrics"
	"surveybot/internal/survey"
)

func TestMain(m *testing.M) {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	os.Exit(m.Run())
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	src := t.TempDir()
	cfg := config.Defaults()
	cfg.Recipients.Path = filepath.Join(src, "people.txt")
	cfg.Results.DBPath = filepath.Join(src, "data", "results.db")
	cfgPath := filepath.Join(src, "config.json")

	writeTestFile(t, cfgPath, `{"survey":{"channel":"cli"}}`)
	writeTestFile(t, cfg.Recipients.Path, "5215550001,Ana\n")
	writeTestFile(t, cfg.Results.DBPath, "sqlite bytes")

	var files []backupFile
	for _, f := range backupSet(cfgPath, cfg) {
		if _, err := os.Stat(f.Path); err == nil {
			files = append(files, f)
		}
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 existing files, got %d", len(files))
	}

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := createTarGz(archive, files); err != nil {
		t.Fatalf("backup: %v", err)
	}

	dst := t.TempDir()
	restoreCfg := config.Defaults()
	restoreCfg.Recipients.Path = filepath.Join(dst, "recipients.txt")
	restoreCfg.Results.DBPath = filepath.Join(dst, "db", "results.db")
	restored, err := extractTarGz(archive, backupSet(filepath.Join(dst, "config.json"), restoreCfg))
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(restored) != 3 {
		t.Fatalf("expected 3 restored files, got %v", restored)
	}

	data, err := os.ReadFile(restoreCfg.Recipients.Path)
	if err != nil || string(data) != "5215550001,Ana\n" {
		t.Errorf("recipient file not restored: %q %v", data, err)
	}
	data, err = os.ReadFile(restoreCfg.Results.DBPath)
	if err != nil || string(data) != "sqlite bytes" {
		t.Errorf("database not restored: %q %v", data, err)
	}
}

func TestExtractTarGz_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	writeTestFile(t, path, "not an archive")
	if _, err := extractTarGz(path, nil); err == nil {
		t.Error("expected error for a non-gzip file")
	}
}

func TestNewChannel(t *testing.T) {
	cases := map[string]string{
		"whatsapp": "whatsapp",
		"telegram": "telegram",
		"discord":  "discord",
		"slack":    "slack",
		"cli":      "cli",
	}
	for name, want := range cases {
		cfg := config.Defaults()
		cfg.Survey.Channel = name
		ch, webhook, err := newChannel(cfg)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if ch.Name() != want {
			t.Errorf("%s: got channel %q", name, ch.Name())
		}
		if (webhook != nil) != (name == "whatsapp") {
			t.Errorf("%s: webhook presence wrong", name)
		}
	}

	cfg := config.Defaults()
	cfg.Survey.Channel = "fax"
	if _, _, err := newChannel(cfg); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestNewHTTPServer_Routes(t *testing.T) {
	cfg := config.Defaults()
	cfg.Metrics.Enabled = true
	collector := metrics.NewMetricsCollector("surveybot")
	collector.Counter("surveybot_probe_total", "test counter", "").Inc()
	conversations := survey.NewConversationStore()

	wa := channel.NewWhatsApp(channel.WhatsAppChannelConfig{Config: cfg.Channels.WhatsApp, Logger: logger})
	srv := newHTTPServer(cfg, wa, collector, conversations)
	if srv == nil {
		t.Fatal("expected a server")
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	var health map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health["status"] != "ok" || health["active"] != float64(0) {
		t.Errorf("unexpected health %v", health)
	}

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "surveybot_probe_total 1") {
		t.Errorf("metrics missing counter:\n%s", rec.Body.String())
	}

	// Not started yet, so the webhook answers 503 rather than 404.
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader("{}")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("webhook: expected 503, got %d", rec.Code)
	}
}

func TestNewHTTPServer_NotNeeded(t *testing.T) {
	cfg := config.Defaults()
	if srv := newHTTPServer(cfg, nil, metrics.NewMetricsCollector("surveybot"), survey.NewConversationStore()); srv != nil {
		t.Error("expected no server without webhook or metrics")
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "surveybot.log")
	l, cleanup, err := newLogger(config.GeneralConfig{LogLevel: "warn", LogFile: path})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hidden")
	l.Warn("shown", "chat", "42")
	cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "chat=42") {
		t.Errorf("unexpected log file contents %q", data)
	}
}

func TestRenderService(t *testing.T) {
	unit := renderService(systemdTemplate, "/usr/local/bin/surveybot", "/etc/surveybot.json", "")
	if !strings.Contains(unit, "ExecStart=/usr/local/bin/surveybot run --config /etc/surveybot.json") {
		t.Errorf("unexpected unit:\n%s", unit)
	}
	if strings.Contains(unit, "{{") {
		t.Error("template placeholders left in unit")
	}
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
