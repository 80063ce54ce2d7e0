package channel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"surveybot/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const slackMaxMsgLen = 4000

// Slack implements domain.Channel for Slack using Socket Mode. Chat IDs are
// Slack conversation IDs.
type Slack struct {
	botToken string
	appToken string
	logger   *slog.Logger

	client    *slack.Client
	botUID    string
	ready     chan struct{}
	readyOnce sync.Once
}

type SlackChannelConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

func NewSlack(cfg SlackChannelConfig) *Slack {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   logger,
		ready:    make(chan struct{}),
	}
}

func (s *Slack) Name() string { return "slack" }

// Ready is closed once the bot token has been verified.
func (s *Slack) Ready() <-chan struct{} { return s.ready }

// Start authenticates and runs the Socket Mode loop until ctx is cancelled.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	api := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))

	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.client = api
	s.botUID = auth.UserID
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("slack bot connected", "user", auth.User, "user_id", auth.UserID)

	socket := socketmode.New(api)

	go func() {
		for evt := range socket.Events {
			if evt.Type == socketmode.EventTypeEventsAPI {
				if event, ok := evt.Data.(slackevents.EventsAPIEvent); ok {
					s.handleEventsAPI(bus, event)
				}
			}
			// Unacknowledged envelopes make Slack redeliver and eventually disconnect.
			if evt.Request != nil {
				socket.Ack(*evt.Request)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socket.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) Stop() error { return nil }

func (s *Slack) handleEventsAPI(bus domain.MessageBus, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Own messages, edits and joins are not answers.
	if ev.User == "" || ev.User == s.botUID || ev.SubType != "" || ev.BotID != "" {
		return
	}

	s.logger.Debug("slack message received", "channel", ev.Channel, "content_len", len(ev.Text))
	bus.Publish(domain.InboundMessage{
		Channel:   "slack",
		ChatID:    ev.Channel,
		SenderID:  ev.User,
		Content:   ev.Text,
		Timestamp: time.Now(),
	})
}

func (s *Slack) Send(ctx context.Context, channelID string, content string) error {
	if s.client == nil {
		return fmt.Errorf("slack: not connected")
	}
	for _, chunk := range splitMessage(content, slackMaxMsgLen) {
		_, _, err := s.client.PostMessageContext(ctx, channelID,
			slack.MsgOptionText(chunk, false),
			slack.MsgOptionAsUser(true),
		)
		if err != nil {
			return fmt.Errorf("slack send: %w", err)
		}
	}
	return nil
}

// SendMedia uploads the file into the conversation with the caption as its
// initial comment.
func (s *Slack) SendMedia(ctx context.Context, channelID, path, caption string) error {
	if s.client == nil {
		return fmt.Errorf("slack: not connected")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("slack media: %w", err)
	}

	_, err = s.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		File:           path,
		FileSize:       int(info.Size()),
		Filename:       filepath.Base(path),
		InitialComment: caption,
		Channel:        channelID,
	})
	if err != nil {
		return fmt.Errorf("slack send media: %w", err)
	}
	return nil
}
