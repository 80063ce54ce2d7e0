package domain

import (
	"context"
	"time"
)

// Recipient is one line of the recipient source: a conversation to enroll.
type Recipient struct {
	ConversationID string `json:"conversation_id"`
	Name           string `json:"name"`
}

type SurveyOutcome string

const (
	OutcomeCompleted SurveyOutcome = "completed"
	OutcomeTimedOut  SurveyOutcome = "timed_out"
)

// SurveyResult is the record of a finished survey conversation.
type SurveyResult struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	RecipientName  string         `json:"recipient_name"`
	Outcome        SurveyOutcome  `json:"outcome"`
	Answers        map[int]string `json:"answers"`
	ReviewSent     bool           `json:"review_sent"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        time.Time      `json:"ended_at"`
}

// ResultStore persists finished surveys.
type ResultStore interface {
	RecordResult(ctx context.Context, result SurveyResult) error
	ListResults(ctx context.Context, limit int) ([]SurveyResult, error)
	CountByOutcome(ctx context.Context) (map[SurveyOutcome]int, error)
	Close() error
}
