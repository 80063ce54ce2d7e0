package config

import "surveybot/internal/survey"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace: "~/.surveybot/workspace",
			LogLevel:  "info",
		},
		Survey: SurveyConfig{
			Channel:             "cli",
			PollIntervalSeconds: 30,
			ReminderSeconds:     int(survey.DefaultReminderWindow.Seconds()),
			TimeoutSeconds:      int(survey.DefaultTimeoutWindow.Seconds()),
			BranchThreshold:     survey.DefaultBranchThreshold,
			CompletionThreshold: survey.DefaultCompletionThreshold,
			ScoreQuestionID:     survey.DefaultScoreQuestionID,
			SendRetries:         1,
			SendTimeoutSeconds:  30,
			Workers:             4,
			Messages:            survey.DefaultMessages(),
		},
		Recipients: RecipientsConfig{
			Path: "~/.surveybot/recipients.txt",
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				WebhookPath: "/webhook/whatsapp",
				APIBase:     "https://graph.facebook.com/v21.0",
			},
			Telegram: TelegramConfig{
				ParseMode: "Markdown",
			},
			CLI: CLIConfig{
				DefaultChatID: "cli",
			},
		},
		Results: ResultsConfig{
			Enabled: true,
			DBPath:  "~/.surveybot/results.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
	}
}
