package domain

import "context"

// Channel is the interface for a messaging transport (WhatsApp, Telegram, CLI, ...).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, chatID string, content string) error
	// SendMedia attaches the file at path to the conversation, with an optional caption.
	SendMedia(ctx context.Context, chatID string, path string, caption string) error
}
