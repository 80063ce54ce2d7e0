package recipient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"surveybot/internal/bus"
	"surveybot/internal/domain"
	"surveybot/internal/survey"
)

const DefaultInterval = 30 * time.Second

// Enroller starts surveys. survey.Engine implements it.
type Enroller interface {
	Enroll(ctx context.Context, id, name string) (bool, error)
	Active(id string) bool
}

// FeedConfig holds dependencies for a Feed.
type FeedConfig struct {
	Source   Source
	Enroller Enroller
	Interval time.Duration // defaults to 30s
	Events   *bus.EventBus // optional
	Logger   *slog.Logger
}

// Feed polls a Source and enrolls every recipient not already in a survey.
// Each recipient handed to the enroller is removed from the source so it is
// enrolled at most once.
type Feed struct {
	source   Source
	enroller Enroller
	interval time.Duration
	events   *bus.EventBus
	logger   *slog.Logger

	mu sync.Mutex
	// handedOff holds ids enrolled but not yet confirmed removed from the
	// source, so a failed save cannot cause a second enrollment.
	handedOff map[string]bool
}

func NewFeed(cfg FeedConfig) *Feed {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Feed{
		source:    cfg.Source,
		enroller:  cfg.Enroller,
		interval:  cfg.Interval,
		events:    cfg.Events,
		logger:    cfg.Logger,
		handedOff: make(map[string]bool),
	}
}

// Run polls immediately and then on every interval until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	f.logger.Info("recipient feed started", "interval", f.interval)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		if _, err := f.Poll(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("recipient poll skipped", "err", err)
		}
		select {
		case <-ctx.Done():
			f.logger.Info("recipient feed stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one tick and returns the number of new enrollments. An unreadable
// or malformed source skips the tick and is returned as an error.
func (f *Feed) Poll(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	candidates, err := f.source.Load()
	if err != nil {
		f.emit(bus.EventRecipientSourceError, map[string]any{"err": err.Error()})
		return 0, fmt.Errorf("load recipients: %w", err)
	}

	remaining := make([]domain.Recipient, 0, len(candidates))
	dropped := 0
	for _, r := range candidates {
		if f.handedOff[r.ConversationID] || f.enroller.Active(r.ConversationID) {
			f.logger.Debug("recipient already enrolled, dropping", "chat", r.ConversationID)
			dropped++
			continue
		}
		remaining = append(remaining, r)
	}

	enrolled, attempted := 0, 0
	for len(remaining) > 0 {
		if ctx.Err() != nil {
			break
		}
		r := remaining[0]
		remaining = remaining[1:]
		attempted++

		created, err := f.enroller.Enroll(ctx, r.ConversationID, r.Name)
		switch {
		case created && err != nil:
			f.logger.Warn("enrolled with delivery failure", "chat", r.ConversationID, "err", err)
		case errors.Is(err, survey.ErrAlreadyActive):
			f.logger.Debug("recipient already enrolled, dropping", "chat", r.ConversationID)
		case err != nil:
			f.logger.Warn("enrollment failed", "chat", r.ConversationID, "err", err)
		}
		if created {
			enrolled++
		}
		f.handedOff[r.ConversationID] = true
		if err := f.save(remaining); err != nil {
			f.logger.Error("failed to remove enrolled recipient from source", "chat", r.ConversationID, "err", err)
		}
	}

	if attempted == 0 && dropped > 0 {
		if err := f.save(remaining); err != nil {
			f.logger.Error("failed to rewrite recipient source", "err", err)
		}
	}
	if enrolled > 0 {
		f.logger.Info("recipients enrolled", "count", enrolled, "pending", len(remaining))
	}
	return enrolled, nil
}

// save persists remaining and forgets the handed-off ids it no longer contains.
func (f *Feed) save(remaining []domain.Recipient) error {
	if err := f.source.Save(remaining); err != nil {
		return err
	}
	still := make(map[string]bool, len(remaining))
	for _, r := range remaining {
		still[r.ConversationID] = true
	}
	for id := range f.handedOff {
		if !still[id] {
			delete(f.handedOff, id)
		}
	}
	return nil
}

func (f *Feed) emit(eventType string, payload map[string]any) {
	if f.events == nil {
		return
	}
	f.events.Emit(bus.Event{Type: eventType, Payload: payload})
}
