package channel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"surveybot/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// Discord implements domain.Channel for a Discord bot. Chat IDs are Discord
// channel IDs, usually the DM channel with the recipient.
type Discord struct {
	token  string
	logger *slog.Logger

	session   *discordgo.Session
	ready     chan struct{}
	readyOnce sync.Once
}

type DiscordChannelConfig struct {
	Token  string
	Logger *slog.Logger
}

func NewDiscord(cfg DiscordChannelConfig) *Discord {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		token:  cfg.Token,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

func (d *Discord) Name() string { return "discord" }

// Ready is closed once the gateway session is open.
func (d *Discord) Ready() <-chan struct{} { return d.ready }

// Start opens the gateway session and blocks until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
			return
		}
		if m.Content == "" {
			return
		}

		d.logger.Debug("discord message received", "channel_id", m.ChannelID, "content_len", len(m.Content))
		bus.Publish(domain.InboundMessage{
			Channel:   "discord",
			ChatID:    m.ChannelID,
			SenderID:  m.Author.ID,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.session = session
	d.readyOnce.Do(func() { close(d.ready) })
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error { return nil }

func (d *Discord) Send(ctx context.Context, channelID string, content string) error {
	if d.session == nil {
		return fmt.Errorf("discord: not connected")
	}
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// SendMedia attaches the file to a message carrying the caption.
func (d *Discord) SendMedia(ctx context.Context, channelID, path, caption string) error {
	if d.session == nil {
		return fmt.Errorf("discord: not connected")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("discord media: %w", err)
	}
	defer f.Close()

	if _, err := d.session.ChannelFileSendWithMessage(channelID, caption, filepath.Base(path), f, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send media: %w", err)
	}
	return nil
}
