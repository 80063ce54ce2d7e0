package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"surveybot/internal/domain"
)

const (
	defaultBuffer         = 100
	defaultPublishTimeout = 10 * time.Second
)

// InboxConfig tunes the inbound queue shared by a channel and the survey engine.
type InboxConfig struct {
	Buffer int
	// PublishTimeout bounds how long a channel waits on a full queue before
	// the answer is dropped.
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

// Inbox carries participant replies from a channel to the survey engine.
// Replies from one chat arrive in the order the channel published them.
type Inbox struct {
	queue   chan domain.InboundMessage
	wait    time.Duration
	logger  *slog.Logger
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// New builds an Inbox, applying defaults for zero fields.
func New(cfg InboxConfig) *Inbox {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Inbox{
		queue:  make(chan domain.InboundMessage, cfg.Buffer),
		wait:   cfg.PublishTimeout,
		logger: cfg.Logger,
	}
}

// Publish enqueues msg, stamping it with the current time when the channel
// did not. A full queue is waited on for PublishTimeout.
func (b *Inbox) Publish(msg domain.InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.drop(msg, "inbox closed")
		return
	}

	select {
	case b.queue <- msg:
		return
	default:
	}

	b.logger.Warn("inbox full, waiting", "channel", msg.Channel, "chat", msg.ChatID, "buffer", cap(b.queue))
	timer := time.NewTimer(b.wait)
	defer timer.Stop()
	select {
	case b.queue <- msg:
	case <-timer.C:
		b.drop(msg, "inbox full")
	}
}

func (b *Inbox) drop(msg domain.InboundMessage, reason string) {
	n := b.dropped.Add(1)
	b.logger.Error("reply dropped", "reason", reason, "channel", msg.Channel, "chat", msg.ChatID, "dropped_total", n)
}

func (b *Inbox) Subscribe() <-chan domain.InboundMessage { return b.queue }

// Dropped reports how many replies never reached the engine.
func (b *Inbox) Dropped() int64 { return b.dropped.Load() }

// Close ends the subscription. Later publishes are counted as dropped.
func (b *Inbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.queue)
}
