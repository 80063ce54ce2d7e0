package metrics

import (
	"time"

	"surveybot/internal/bus"
)

// SurveyMetrics are the counters and gauges fed by survey events.
type SurveyMetrics struct {
	Enrolled             *Counter
	Completed            *Counter
	TimedOut             *Counter
	AnswersRecorded      *Counter
	AnswersInvalid       *Counter
	FollowUps            *Counter
	Reminders            *Counter
	ReviewLinks          *Counter
	UnknownConversations *Counter
	SendFailuresText     *Counter
	SendFailuresMedia    *Counter
	SourceErrors         *Counter
	ActiveConversations  *Gauge
	Duration             *Histogram
}

// NewSurveyMetrics registers the survey metrics on c.
func NewSurveyMetrics(c *MetricsCollector) *SurveyMetrics {
	return &SurveyMetrics{
		Enrolled:             c.Counter("surveybot_surveys_enrolled_total", "Surveys started", ""),
		Completed:            c.Counter("surveybot_surveys_finished_total", "Surveys finished by outcome", `outcome="completed"`),
		TimedOut:             c.Counter("surveybot_surveys_finished_total", "Surveys finished by outcome", `outcome="timed_out"`),
		AnswersRecorded:      c.Counter("surveybot_answers_recorded_total", "Valid answers recorded", ""),
		AnswersInvalid:       c.Counter("surveybot_answers_invalid_total", "Answers rejected as invalid", ""),
		FollowUps:            c.Counter("surveybot_follow_ups_total", "Follow-up questions sent", ""),
		Reminders:            c.Counter("surveybot_reminders_total", "Inactivity reminders sent", ""),
		ReviewLinks:          c.Counter("surveybot_review_links_total", "Review links sent on completion", ""),
		UnknownConversations: c.Counter("surveybot_unknown_conversation_messages_total", "Messages from identifiers with no active survey", ""),
		SendFailuresText:     c.Counter("surveybot_send_failures_total", "Sends that failed after all retries", `kind="text"`),
		SendFailuresMedia:    c.Counter("surveybot_send_failures_total", "Sends that failed after all retries", `kind="media"`),
		SourceErrors:         c.Counter("surveybot_recipient_source_errors_total", "Recipient polls skipped because the source was unreadable", ""),
		ActiveConversations:  c.Gauge("surveybot_active_conversations", "Surveys in progress", ""),
		Duration: c.Histogram("surveybot_survey_duration_seconds", "Time from enrollment to completion or timeout", "",
			[]float64{30, 60, 120, 300, 600, 1800, 3600}),
	}
}

// Subscribe updates m from events emitted on eb until the returned func is called.
func (m *SurveyMetrics) Subscribe(eb *bus.EventBus) (unsubscribe func()) {
	return eb.On(bus.AllEvents, m.observe)
}

func (m *SurveyMetrics) observe(e bus.Event) {
	switch e.Type {
	case bus.EventSurveyEnrolled:
		m.Enrolled.Inc()
		m.ActiveConversations.Inc()
	case bus.EventSurveyCompleted:
		m.Completed.Inc()
		m.finished(e)
	case bus.EventSurveyTimedOut:
		m.TimedOut.Inc()
		m.finished(e)
	case bus.EventAnswerRecorded:
		m.AnswersRecorded.Inc()
	case bus.EventAnswerInvalid:
		m.AnswersInvalid.Inc()
	case bus.EventFollowUpSent:
		m.FollowUps.Inc()
	case bus.EventReminderSent:
		m.Reminders.Inc()
	case bus.EventReviewSent:
		m.ReviewLinks.Inc()
	case bus.EventUnknownConversation:
		m.UnknownConversations.Inc()
	case bus.EventSendFailed:
		if kind, _ := e.Payload["kind"].(string); kind == "media" {
			m.SendFailuresMedia.Inc()
		} else {
			m.SendFailuresText.Inc()
		}
	case bus.EventRecipientSourceError:
		m.SourceErrors.Inc()
	}
}

func (m *SurveyMetrics) finished(e bus.Event) {
	m.ActiveConversations.Dec()
	if d, ok := e.Payload["duration"].(time.Duration); ok {
		m.Duration.Observe(d.Seconds())
	}
}
