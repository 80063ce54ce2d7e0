package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"surveybot/internal/config"
	"surveybot/internal/domain"
)

const (
	whatsappAPIBase   = "https://graph.facebook.com/v21.0"
	whatsappMaxLen    = 4096
	whatsappMaxUpload = 16 << 20
)

// WhatsApp implements domain.Channel for the WhatsApp Business Cloud API.
// Inbound messages arrive on a webhook served by Handler.
type WhatsApp struct {
	cfg     config.WhatsAppConfig
	apiBase string
	logger  *slog.Logger
	client  *http.Client
	retry   retryPolicy
	mux     *http.ServeMux

	mu  sync.RWMutex
	bus domain.MessageBus
}

type WhatsAppChannelConfig struct {
	Config config.WhatsAppConfig
	Client *http.Client // optional
	Logger *slog.Logger
}

func NewWhatsApp(cfg WhatsAppChannelConfig) *WhatsApp {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	apiBase := strings.TrimRight(cfg.Config.APIBase, "/")
	if apiBase == "" {
		apiBase = whatsappAPIBase
	}
	webhookPath := cfg.Config.WebhookPath
	if webhookPath == "" {
		webhookPath = "/webhook/whatsapp"
	}

	w := &WhatsApp{
		cfg:     cfg.Config,
		apiBase: apiBase,
		logger:  logger,
		client:  client,
		retry:   defaultRetry,
		mux:     http.NewServeMux(),
	}
	w.cfg.WebhookPath = webhookPath
	w.mux.HandleFunc("GET "+webhookPath, w.handleVerification)
	w.mux.HandleFunc("POST "+webhookPath, w.handleIncoming)
	return w
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// Start attaches the bus and blocks until ctx is cancelled. The webhook itself
// is served by whoever mounts Handler.
func (w *WhatsApp) Start(ctx context.Context, bus domain.MessageBus) error {
	w.mu.Lock()
	w.bus = bus
	w.mu.Unlock()

	w.logger.Info("whatsapp channel ready", "webhook", w.cfg.WebhookPath)
	<-ctx.Done()
	return nil
}

func (w *WhatsApp) Stop() error {
	w.mu.Lock()
	w.bus = nil
	w.mu.Unlock()
	return nil
}

// WebhookPath is the path Handler answers on.
func (w *WhatsApp) WebhookPath() string { return w.cfg.WebhookPath }

// Handler returns the webhook handler, to be mounted on the main mux.
func (w *WhatsApp) Handler() http.Handler { return w.mux }

// Send delivers text, split into API-sized chunks.
func (w *WhatsApp) Send(ctx context.Context, to string, content string) error {
	for _, chunk := range splitMessage(content, whatsappMaxLen) {
		err := w.postMessage(ctx, map[string]any{
			"messaging_product": "whatsapp",
			"to":                to,
			"type":              "text",
			"text":              map[string]string{"body": chunk},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SendMedia uploads the file and sends it as an image or document.
func (w *WhatsApp) SendMedia(ctx context.Context, to, path, caption string) error {
	mediaID, err := w.uploadMedia(ctx, path)
	if err != nil {
		return err
	}

	kind := "document"
	media := map[string]string{"id": mediaID}
	if isImage(path) {
		kind = "image"
	} else {
		media["filename"] = filepath.Base(path)
	}
	if caption != "" {
		media["caption"] = caption
	}

	return w.postMessage(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              kind,
		kind:                media,
	})
}

// --- Webhook handlers ---

// handleVerification answers the webhook subscription challenge.
func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && w.cfg.VerifyToken != "" && token == w.cfg.VerifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	w.mu.RLock()
	bus := w.bus
	w.mu.RUnlock()
	if bus == nil {
		http.Error(rw, "channel not started", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if w.cfg.AppSecret != "" && !verifyHMAC(body, w.cfg.AppSecret, r.Header.Get("X-Hub-Signature-256")) {
		w.logger.Warn("whatsapp invalid signature")
		http.Error(rw, "Forbidden", http.StatusForbidden)
		return
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil {
					w.logger.Debug("whatsapp non-text message ignored", "from", msg.From, "type", msg.Type)
					continue
				}

				w.logger.Debug("whatsapp message received", "from", msg.From, "text_len", len(msg.Text.Body))
				bus.Publish(domain.InboundMessage{
					Channel:   "whatsapp",
					ChatID:    msg.From,
					SenderID:  msg.From,
					Content:   msg.Text.Body,
					Timestamp: msg.time(),
				})
			}
		}
	}

	rw.WriteHeader(http.StatusOK)
}

// --- Cloud API calls ---

func (w *WhatsApp) postMessage(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", w.apiBase, w.cfg.PhoneNumberID)

	resp, err := doWithRetry(ctx, w.client, w.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)
		return req, nil
	}, w.logger)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}
	return nil
}

func (w *WhatsApp) uploadMedia(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("whatsapp media: %w", err)
	}
	if info.Size() > whatsappMaxUpload {
		return "", fmt.Errorf("whatsapp media: %s is %d bytes, limit is %d", path, info.Size(), whatsappMaxUpload)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("whatsapp media: %w", err)
	}
	contentType := mediaType(path)
	url := fmt.Sprintf("%s/%s/media", w.apiBase, w.cfg.PhoneNumberID)

	resp, err := doWithRetry(ctx, w.client, w.retry, func() (*http.Request, error) {
		body, formType, err := multipartBody(data, filepath.Base(path), contentType)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", formType)
		req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)
		return req, nil
	}, w.logger)
	if err != nil {
		return "", fmt.Errorf("whatsapp upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", fmt.Errorf("whatsapp upload: decode response: %w", err)
	}
	if uploaded.ID == "" {
		return "", errors.New("whatsapp upload: empty media id")
	}
	return uploaded.ID, nil
}

func multipartBody(data []byte, filename, contentType string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("messaging_product", "whatsapp"); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("type", contentType); err != nil {
		return nil, "", err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// --- Webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From      string  `json:"from"`
	ID        string  `json:"id"`
	Timestamp string  `json:"timestamp"`
	Type      string  `json:"type"`
	Text      *waText `json:"text,omitempty"`
}

// time converts the unix-seconds timestamp, falling back to now.
func (m waMessage) time() time.Time {
	var secs int64
	if _, err := fmt.Sscan(m.Timestamp, &secs); err != nil || secs <= 0 {
		return time.Now()
	}
	return time.Unix(secs, 0)
}

type waText struct {
	Body string `json:"body"`
}
