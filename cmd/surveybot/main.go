package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"surveybot/internal/config"
	"surveybot/internal/recipient"
	"surveybot/internal/results"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "surveybot",
		Short: "surveybot: conversational satisfaction surveys over chat",
		Long: `surveybot enrolls recipients from a recipient file and walks each one
through a numeric-answer survey on WhatsApp, Telegram, Discord, Slack or the terminal.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.surveybot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(recipientsCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	daemon := &cobra.Command{Use: "daemon", Short: "Manage the background service"}
	daemon.AddCommand(installDaemonCmd())
	daemon.AddCommand(uninstallDaemonCmd())
	root.AddCommand(daemon)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadOrDefaults loads the config file, falling back to defaults with
// expanded paths when it is missing.
func loadOrDefaults() (*config.Config, bool) {
	cfg, err := config.Load(resolveConfigPath())
	if err == nil {
		return cfg, true
	}
	logger.Warn("config not loaded, using defaults", "path", resolveConfigPath(), "err", err)
	cfg = config.Defaults()
	cfg.General.Workspace = config.ExpandPath(cfg.General.Workspace)
	cfg.Recipients.Path = config.ExpandPath(cfg.Recipients.Path)
	cfg.Results.DBPath = config.ExpandPath(cfg.Results.DBPath)
	return cfg, false
}

// newLogger builds the process logger from general.logLevel, teeing to
// general.logFile when set. The returned cleanup is never nil.
func newLogger(general config.GeneralConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	switch strings.ToLower(general.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	cleanup := func() {}
	if general.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(general.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(general.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		cleanup = func() { f.Close() }
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), cleanup, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the default config, workspace and recipient file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}

			workspace := config.ExpandPath(cfg.General.Workspace)
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			recipients := config.ExpandPath(cfg.Recipients.Path)
			if _, err := os.Stat(recipients); os.IsNotExist(err) {
				if err := recipient.NewFileSource(recipients).Save(nil); err != nil {
					return fmt.Errorf("create recipient file: %w", err)
				}
			}

			logger.Info("initialized", "config", cfgPath, "workspace", workspace, "recipients", recipients)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, pending recipients and finished surveys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loaded := loadOrDefaults()
			logger.Info("config", "path", resolveConfigPath(), "loaded", loaded)
			logger.Info("survey", "channel", cfg.Survey.Channel,
				"reminder", cfg.Survey.ReminderWindow(), "timeout", cfg.Survey.TimeoutWindow())

			pending, err := recipient.NewFileSource(cfg.Recipients.Path).Load()
			if err != nil {
				logger.Warn("recipients", "path", cfg.Recipients.Path, "err", err)
			} else {
				logger.Info("recipients", "path", cfg.Recipients.Path, "pending", len(pending))
			}

			if !cfg.Results.Enabled {
				logger.Info("results", "enabled", false)
				return nil
			}
			if _, err := os.Stat(cfg.Results.DBPath); err != nil {
				logger.Info("results", "db", cfg.Results.DBPath, "exists", false)
				return nil
			}
			store, err := results.NewSQLiteStore(cfg.Results.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			counts, err := store.CountByOutcome(ctx)
			if err != nil {
				return err
			}
			attrs := []any{"db", cfg.Results.DBPath}
			for outcome, n := range counts {
				attrs = append(attrs, string(outcome), n)
			}
			logger.Info("results", attrs...)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. survey.timeoutSeconds)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. survey.channel telegram)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.ListPaths(config.Sanitize(cfg)), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
