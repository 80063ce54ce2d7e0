package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"surveybot/internal/config"
	"surveybot/internal/domain"
)

type captureBus struct {
	mu  sync.Mutex
	got []domain.InboundMessage
}

func (c *captureBus) Publish(msg domain.InboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, msg)
}

func (c *captureBus) Subscribe() <-chan domain.InboundMessage { return nil }
func (c *captureBus) Close()                                  {}

func (c *captureBus) messages() []domain.InboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.InboundMessage(nil), c.got...)
}

func newTestWhatsApp(apiBase, secret string) (*WhatsApp, *captureBus) {
	w := NewWhatsApp(WhatsAppChannelConfig{
		Config: config.WhatsAppConfig{
			AccessToken:   "token",
			PhoneNumberID: "100",
			AppSecret:     secret,
			VerifyToken:   "verify-me",
			APIBase:       apiBase,
		},
		Logger: testLogger(),
	})
	w.retry = fastRetry
	b := &captureBus{}
	w.mu.Lock()
	w.bus = b
	w.mu.Unlock()
	return w, b
}

const inboundPayload = `{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{"messaging_product":"whatsapp","messages":[
{"from":"5215550001","id":"a","timestamp":"1700000000","type":"text","text":{"body":"7"}},
{"from":"5215550001","id":"b","timestamp":"1700000001","type":"image"}]}}]}]}`

func TestWhatsApp_Verification(t *testing.T) {
	w, _ := newTestWhatsApp("", "")

	req := httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=abc123", nil)
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "abc123" {
		t.Errorf("expected challenge echo, got %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=abc123", nil)
	rec = httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for wrong token, got %d", rec.Code)
	}
}

func TestWhatsApp_IncomingPublishesText(t *testing.T) {
	w, b := newTestWhatsApp("", "")

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(inboundPayload))
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	got := b.messages()
	if len(got) != 1 {
		t.Fatalf("expected only the text message published, got %d", len(got))
	}
	if got[0].Channel != "whatsapp" || got[0].ChatID != "5215550001" || got[0].Content != "7" {
		t.Errorf("unexpected message %+v", got[0])
	}
	if got[0].Timestamp.Unix() != 1700000000 {
		t.Errorf("expected the message timestamp, got %v", got[0].Timestamp)
	}
}

func TestWhatsApp_IncomingSignature(t *testing.T) {
	w, b := newTestWhatsApp("", "app-secret")

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(inboundPayload))
	req.Header.Set("X-Hub-Signature-256", "sha256=bad")
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a bad signature, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(inboundPayload))
	req.Header.Set("X-Hub-Signature-256", sign([]byte(inboundPayload), "app-secret"))
	rec = httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for a valid signature, got %d", rec.Code)
	}
	if len(b.messages()) != 1 {
		t.Errorf("expected 1 published message, got %d", len(b.messages()))
	}
}

func TestWhatsApp_IncomingBeforeStart(t *testing.T) {
	w := NewWhatsApp(WhatsAppChannelConfig{Logger: testLogger()})

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(inboundPayload))
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before Start, got %d", rec.Code)
	}
}

func TestWhatsApp_IncomingBadJSON(t *testing.T) {
	w, _ := newTestWhatsApp("", "")

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestWhatsApp_SendSplitsLongText(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/100/messages" || r.Header.Get("Authorization") != "Bearer token" {
			rw.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w, _ := newTestWhatsApp(srv.URL, "")
	if err := w.Send(context.Background(), "5215550001", strings.Repeat("x", whatsappMaxLen+10)); err != nil {
		t.Fatalf("send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("expected 2 API calls, got %d", len(bodies))
	}
	if bodies[0]["to"] != "5215550001" || bodies[0]["type"] != "text" {
		t.Errorf("unexpected payload %v", bodies[0])
	}
}

func TestWhatsApp_SendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusBadRequest)
		io.WriteString(rw, `{"error":{"message":"invalid recipient"}}`)
	}))
	defer srv.Close()

	w, _ := newTestWhatsApp(srv.URL, "")
	err := w.Send(context.Background(), "nobody", "hola")
	if err == nil || !strings.Contains(err.Error(), "invalid recipient") {
		t.Errorf("expected API error, got %v", err)
	}
}

func TestWhatsApp_SendMediaUploadsThenSendsImage(t *testing.T) {
	img := filepath.Join(t.TempDir(), "qr.png")
	if err := os.WriteFile(img, []byte("\x89PNG fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var uploaded []byte
	var sent map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.URL.Path {
		case "/100/media":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				rw.WriteHeader(http.StatusBadRequest)
				return
			}
			f, _, err := r.FormFile("file")
			if err != nil {
				rw.WriteHeader(http.StatusBadRequest)
				return
			}
			uploaded, _ = io.ReadAll(f)
			io.WriteString(rw, `{"id":"media-1"}`)
		case "/100/messages":
			json.NewDecoder(r.Body).Decode(&sent)
			rw.WriteHeader(http.StatusOK)
		default:
			rw.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	w, _ := newTestWhatsApp(srv.URL, "")
	if err := w.SendMedia(context.Background(), "5215550001", img, "Escanea"); err != nil {
		t.Fatalf("send media: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !bytes.Equal(uploaded, []byte("\x89PNG fake")) {
		t.Errorf("unexpected upload %q", uploaded)
	}
	if sent["type"] != "image" {
		t.Fatalf("expected image message, got %v", sent)
	}
	image := sent["image"].(map[string]any)
	if image["id"] != "media-1" || image["caption"] != "Escanea" {
		t.Errorf("unexpected image payload %v", image)
	}
}

func TestWhatsApp_SendMediaMissingFile(t *testing.T) {
	w, _ := newTestWhatsApp("http://127.0.0.1:0", "")
	if err := w.SendMedia(context.Background(), "1", filepath.Join(t.TempDir(), "missing.png"), ""); err == nil {
		t.Error("expected error for a missing file")
	}
}
