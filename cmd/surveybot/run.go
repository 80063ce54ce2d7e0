package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"surveybot/internal/bus"
	"surveybot/internal/channel"
	"surveybot/internal/config"
	"surveybot/internal/domain"
	"surveybot/internal/metrics"
	"surveybot/internal/recipient"
	"surveybot/internal/results"
	"surveybot/internal/survey"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the survey: channel, recipient feed and HTTP endpoints",
		Long:  "Connects the configured channel, enrolls recipients from the recipient file and answers them until Ctrl+C.",
		RunE:  runSurvey,
	}
}

func runSurvey(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := newLogger(cfg.General)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = log

	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return err
	}

	questions := survey.DefaultQuestionBank()
	messages := cfg.Survey.Messages.WithDefaults()
	if cfg.Survey.DefinitionFile != "" {
		questions, messages, err = survey.LoadDefinition(cfg.Survey.DefinitionFile)
		if err != nil {
			return err
		}
		logger.Info("survey definition loaded", "file", cfg.Survey.DefinitionFile, "questions", questions.Len())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, webhook, err := newChannel(cfg)
	if err != nil {
		return err
	}

	inbox := bus.New(bus.InboxConfig{Logger: logger})
	defer func() {
		inbox.Close()
		if n := inbox.Dropped(); n > 0 {
			logger.Warn("replies dropped during run", "count", n)
		}
	}()
	events := bus.NewEventBus(logger)

	var store domain.ResultStore
	if cfg.Results.Enabled {
		s, err := results.NewSQLiteStore(cfg.Results.DBPath, logger)
		if err != nil {
			return fmt.Errorf("results store: %w", err)
		}
		defer s.Close()
		store = s
	}

	collector := metrics.NewMetricsCollector("surveybot")
	metrics.NewSurveyMetrics(collector).Subscribe(events)

	conversations := survey.NewConversationStore()
	engine := survey.NewEngine(survey.EngineConfig{
		Questions:           questions,
		Store:               conversations,
		Timers:              survey.NewTimeoutScheduler(cfg.Survey.ReminderWindow(), cfg.Survey.TimeoutWindow()),
		Messenger:           ch,
		Messages:            messages,
		Channel:             ch.Name(),
		BranchThreshold:     cfg.Survey.BranchThreshold,
		CompletionThreshold: cfg.Survey.CompletionThreshold,
		ScoreQuestionID:     cfg.Survey.ScoreQuestionID,
		ReviewLink:          cfg.Survey.ReviewLink,
		ReviewMediaPath:     cfg.Survey.ReviewMediaPath,
		SendRetries:         cfg.Survey.SendRetries,
		RetryBackoff:        time.Second,
		SendTimeout:         cfg.Survey.SendTimeout(),
		Workers:             cfg.Survey.Workers,
		Results:             store,
		Events:              events,
		Logger:              logger,
	})
	defer engine.Shutdown()

	feed := recipient.NewFeed(recipient.FeedConfig{
		Source:   recipient.NewFileSource(cfg.Recipients.Path),
		Enroller: engine,
		Interval: cfg.Survey.PollInterval(),
		Events:   events,
		Logger:   logger,
	})

	// A channel that ends (CLI at EOF, lost gateway) ends the run.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		if err := ch.Start(gctx, inbox); err != nil {
			return fmt.Errorf("%s channel: %w", ch.Name(), err)
		}
		return nil
	})

	g.Go(func() error {
		engine.Run(gctx, inbox.Subscribe())
		return nil
	})

	g.Go(func() error {
		if !waitReady(gctx, ch) {
			return nil
		}
		return feed.Run(gctx)
	})

	if srv := newHTTPServer(cfg, webhook, collector, conversations); srv != nil {
		g.Go(func() error {
			logger.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("surveybot started", "version", version, "channel", ch.Name(), "recipients", cfg.Recipients.Path)

	err = g.Wait()
	if active := conversations.Len(); active > 0 {
		logger.Warn("stopping with surveys in progress", "active", active)
	}
	logger.Info("shutdown complete")
	return err
}

// newChannel builds the transport named by survey.channel. The returned
// handler is the WhatsApp webhook, nil for the other transports.
func newChannel(cfg *config.Config) (domain.Channel, *channel.WhatsApp, error) {
	chs := cfg.Channels
	switch cfg.Survey.Channel {
	case "whatsapp":
		wa := channel.NewWhatsApp(channel.WhatsAppChannelConfig{Config: chs.WhatsApp, Logger: logger})
		return wa, wa, nil
	case "telegram":
		return channel.NewTelegram(channel.TelegramChannelConfig{
			Token:     chs.Telegram.Token,
			ParseMode: chs.Telegram.ParseMode,
			Logger:    logger,
		}), nil, nil
	case "discord":
		return channel.NewDiscord(channel.DiscordChannelConfig{Token: chs.Discord.Token, Logger: logger}), nil, nil
	case "slack":
		return channel.NewSlack(channel.SlackChannelConfig{
			BotToken: chs.Slack.BotToken,
			AppToken: chs.Slack.AppToken,
			Logger:   logger,
		}), nil, nil
	case "cli":
		return channel.NewCLI(channel.CLIChannelConfig{DefaultChatID: chs.CLI.DefaultChatID, Logger: logger}), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown survey channel %q", cfg.Survey.Channel)
	}
}

// waitReady blocks until ch can send, for channels that connect inside Start.
func waitReady(ctx context.Context, ch domain.Channel) bool {
	r, ok := ch.(channel.Readier)
	if !ok {
		return true
	}
	select {
	case <-r.Ready():
		return true
	case <-ctx.Done():
		return false
	}
}

// newHTTPServer mounts the WhatsApp webhook, /metrics and /healthz. It
// returns nil when neither the webhook nor metrics need a listener.
func newHTTPServer(cfg *config.Config, webhook *channel.WhatsApp, collector *metrics.MetricsCollector, conversations *survey.ConversationStore) *http.Server {
	if webhook == nil && !cfg.Metrics.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	if webhook != nil {
		mux.Handle(webhook.WebhookPath(), webhook.Handler())
	}
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Endpoint, collector.Handler())
	}
	mux.HandleFunc("GET /healthz", healthHandler(collector, conversations, logger))

	return &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func healthHandler(collector *metrics.MetricsCollector, conversations *survey.ConversationStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"version": version,
			"active":  conversations.Len(),
			"uptime":  collector.Uptime().Round(time.Second).String(),
		})
		if err != nil {
			logger.Warn("healthz write failed", "err", err)
		}
	}
}
