package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"surveybot/internal/domain"
)

// CLI implements domain.Channel on a terminal so a survey can be driven by
// hand. A line "@id text" answers as conversation id; any other line answers
// as the default chat.
type CLI struct {
	defaultChat string
	logger      *slog.Logger
	in          io.Reader

	mu  sync.Mutex
	out io.Writer
}

type CLIChannelConfig struct {
	DefaultChatID string
	Logger        *slog.Logger
	In            io.Reader
	Out           io.Writer
}

func NewCLI(cfg CLIChannelConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.DefaultChatID == "" {
		cfg.DefaultChatID = "cli"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		defaultChat: cfg.DefaultChatID,
		logger:      cfg.Logger,
		in:          cfg.In,
		out:         cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start reads lines until EOF, /quit or ctx cancellation.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.println(fmt.Sprintf("surveybot CLI. Answer with text, or \"@id text\" for another conversation (default %q). /quit exits.", c.defaultChat))

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}

			chatID, text := c.parseLine(line)
			if text == "" {
				continue
			}
			if text == "/quit" || text == "/exit" || text == "/q" {
				c.logger.Info("user requested quit")
				return nil
			}

			bus.Publish(domain.InboundMessage{
				Channel:   "cli",
				ChatID:    chatID,
				SenderID:  chatID,
				Content:   text,
				Timestamp: time.Now(),
			})
		}
	}
}

func (c *CLI) parseLine(line string) (chatID, text string) {
	line = strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(line, "@"); ok {
		id, text, _ := strings.Cut(rest, " ")
		if id != "" {
			return id, strings.TrimSpace(text)
		}
	}
	return c.defaultChat, line
}

func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	return c.println(fmt.Sprintf("[%s] %s", chatID, content))
}

// SendMedia prints the attachment path in place of the file.
func (c *CLI) SendMedia(ctx context.Context, chatID, path, caption string) error {
	line := fmt.Sprintf("[%s] <media %s>", chatID, path)
	if caption != "" {
		line += " " + caption
	}
	return c.println(line)
}

func (c *CLI) println(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, s)
	return err
}
