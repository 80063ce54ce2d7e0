package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"surveybot/internal/survey"
)

// Config is the root configuration for surveybot.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Survey     SurveyConfig     `json:"survey"`
	Recipients RecipientsConfig `json:"recipients"`
	Channels   ChannelsConfig   `json:"channels"`
	Results    ResultsConfig    `json:"results"`
	Metrics    MetricsConfig    `json:"metrics"`
	Server     ServerConfig     `json:"server"`
}

type GeneralConfig struct {
	Workspace string `json:"workspace"`
	LogLevel  string `json:"logLevel"`
	LogFile   string `json:"logFile,omitempty"` // optional log file path
}

// SurveyConfig controls the survey flow.
type SurveyConfig struct {
	Channel             string          `json:"channel"`                  // transport the survey runs on
	DefinitionFile      string          `json:"definitionFile,omitempty"` // YAML questions; empty = built-in survey
	PollIntervalSeconds int             `json:"pollIntervalSeconds"`
	ReminderSeconds     int             `json:"reminderSeconds"`
	TimeoutSeconds      int             `json:"timeoutSeconds"`
	BranchThreshold     int             `json:"branchThreshold"`
	CompletionThreshold int             `json:"completionThreshold"`
	ScoreQuestionID     int             `json:"scoreQuestionId"`
	ReviewLink          string          `json:"reviewLink"`
	ReviewMediaPath     string          `json:"reviewMediaPath,omitempty"`
	SendRetries         int             `json:"sendRetries"`
	SendTimeoutSeconds  int             `json:"sendTimeoutSeconds"`
	Workers             int             `json:"workers"`
	Messages            survey.Messages `json:"messages"`
}

func (s SurveyConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

func (s SurveyConfig) ReminderWindow() time.Duration {
	return time.Duration(s.ReminderSeconds) * time.Second
}

func (s SurveyConfig) TimeoutWindow() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (s SurveyConfig) SendTimeout() time.Duration {
	return time.Duration(s.SendTimeoutSeconds) * time.Second
}

type RecipientsConfig struct {
	Path string `json:"path"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
	CLI      CLIConfig      `json:"cli"`
}

type WhatsAppConfig struct {
	AccessToken   string `json:"accessToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	AppSecret     string `json:"appSecret,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	WebhookPath   string `json:"webhookPath,omitempty"`
	APIBase       string `json:"apiBase,omitempty"` // Graph API base including version
}

type TelegramConfig struct {
	Token     string `json:"token,omitempty"`
	ParseMode string `json:"parseMode"`
}

type DiscordConfig struct {
	Token string `json:"token,omitempty"`
}

type SlackConfig struct {
	BotToken string `json:"botToken,omitempty"`
	AppToken string `json:"appToken,omitempty"` // required for Socket Mode
}

type CLIConfig struct {
	// DefaultChatID receives lines typed without an "@chatID " prefix.
	DefaultChatID string `json:"defaultChatId"`
}

// ResultsConfig configures the record of finished surveys.
type ResultsConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// ServerConfig is the HTTP listener for the WhatsApp webhook, metrics and health.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Channels lists the transports a survey can run on.
var Channels = []string{"whatsapp", "telegram", "discord", "slack", "cli"}

// DefaultConfigDir returns the default config directory (~/.surveybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".surveybot"
	}
	return filepath.Join(home, ".surveybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Survey.DefinitionFile = ExpandPath(cfg.Survey.DefinitionFile)
	cfg.Survey.ReviewMediaPath = ExpandPath(cfg.Survey.ReviewMediaPath)
	cfg.Recipients.Path = ExpandPath(cfg.Recipients.Path)
	cfg.Results.DBPath = ExpandPath(cfg.Results.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset ${VAR}
// without default is left as is.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	// The file holds channel credentials.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	s := cfg.Survey
	if !isChannel(s.Channel) {
		errs = append(errs, fmt.Sprintf("survey.channel must be one of: %s", strings.Join(Channels, ", ")))
	}
	if s.PollIntervalSeconds < 1 {
		errs = append(errs, "survey.pollIntervalSeconds must be >= 1")
	}
	if s.ReminderSeconds < 1 {
		errs = append(errs, "survey.reminderSeconds must be >= 1")
	}
	if s.TimeoutSeconds < 1 {
		errs = append(errs, "survey.timeoutSeconds must be >= 1")
	}
	if s.ReminderSeconds >= s.TimeoutSeconds {
		errs = append(errs, "survey.reminderSeconds must be less than survey.timeoutSeconds")
	}
	if s.SendRetries < 0 {
		errs = append(errs, "survey.sendRetries must be >= 0")
	}
	if s.SendTimeoutSeconds < 1 {
		errs = append(errs, "survey.sendTimeoutSeconds must be >= 1")
	}
	if s.Workers < 1 || s.Workers > 64 {
		errs = append(errs, "survey.workers must be between 1 and 64")
	}

	if strings.TrimSpace(cfg.Recipients.Path) == "" {
		errs = append(errs, "recipients.path is required")
	}
	if cfg.Results.Enabled && strings.TrimSpace(cfg.Results.DBPath) == "" {
		errs = append(errs, "results.dbPath is required when results are enabled")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	ch := cfg.Channels
	switch s.Channel {
	case "whatsapp":
		if ch.WhatsApp.AccessToken == "" || ch.WhatsApp.PhoneNumberID == "" {
			errs = append(errs, "channels.whatsapp: accessToken and phoneNumberId are required")
		}
		if !strings.HasPrefix(ch.WhatsApp.WebhookPath, "/") {
			errs = append(errs, "channels.whatsapp.webhookPath must start with /")
		}
	case "telegram":
		if ch.Telegram.Token == "" {
			errs = append(errs, "channels.telegram.token is required")
		}
	case "discord":
		if ch.Discord.Token == "" {
			errs = append(errs, "channels.discord.token is required")
		}
	case "slack":
		if ch.Slack.BotToken == "" || ch.Slack.AppToken == "" {
			errs = append(errs, "channels.slack: botToken and appToken are required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isChannel(name string) bool {
	for _, c := range Channels {
		if c == name {
			return true
		}
	}
	return false
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
