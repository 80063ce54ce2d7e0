package survey

import (
	"strconv"
	"strings"
	"time"
)

// Messages holds the fixed texts the engine sends around the questions.
// Templates use {name}, {salutation}, {min}, {max} and {link} placeholders.
type Messages struct {
	Greeting  string `yaml:"greeting" json:"greeting"`
	Morning   string `yaml:"morning" json:"morning"`
	Afternoon string `yaml:"afternoon" json:"afternoon"`
	Evening   string `yaml:"evening" json:"evening"`
	Reminder  string `yaml:"reminder" json:"reminder"`
	Timeout   string `yaml:"timeout" json:"timeout"`
	Invalid   string `yaml:"invalid" json:"invalid"`
	Review    string `yaml:"review" json:"review"`
	Closing   string `yaml:"closing" json:"closing"`
}

// DefaultMessages returns the built-in Spanish texts.
func DefaultMessages() Messages {
	return Messages{
		Greeting:  "*¡{salutation}, {name}! 🌞*\n\nSoy *Valeria* del *Hospital IMG* 🏥.\n",
		Morning:   "Buenos días",
		Afternoon: "Buenas tardes",
		Evening:   "Buenas noches",
		Reminder:  "¿Aún estás ahí? Por favor, responde para continuar con la encuesta.",
		Timeout:   "Hemos finalizado el chat por falta de respuesta. ¡Hasta luego!",
		Invalid:   "Por favor, responde con un número entre {min} y {max}.",
		Review:    "¡Gracias por tu respuesta! Completa nuestra encuesta escaneando el código QR o usando este enlace: {link}.",
		Closing:   "Gracias por completar la encuesta. ¡Hasta luego!",
	}
}

// WithDefaults fills empty fields from DefaultMessages.
func (m Messages) WithDefaults() Messages {
	d := DefaultMessages()
	fill := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	fill(&m.Greeting, d.Greeting)
	fill(&m.Morning, d.Morning)
	fill(&m.Afternoon, d.Afternoon)
	fill(&m.Evening, d.Evening)
	fill(&m.Reminder, d.Reminder)
	fill(&m.Timeout, d.Timeout)
	fill(&m.Invalid, d.Invalid)
	fill(&m.Review, d.Review)
	fill(&m.Closing, d.Closing)
	return m
}

// Salutation picks the time-of-day word: morning from 06:00, afternoon from
// 12:00, evening from 18:00 until 06:00.
func (m Messages) Salutation(now time.Time) string {
	switch h := now.Hour(); {
	case h >= 6 && h < 12:
		return m.Morning
	case h >= 12 && h < 18:
		return m.Afternoon
	default:
		return m.Evening
	}
}

// GreetingFor renders the greeting that precedes the first question.
func (m Messages) GreetingFor(name string, now time.Time) string {
	return strings.NewReplacer(
		"{salutation}", m.Salutation(now),
		"{name}", name,
	).Replace(m.Greeting)
}

// InvalidFor renders the validation error restating the accepted bounds.
func (m Messages) InvalidFor(r Range) string {
	return strings.NewReplacer(
		"{min}", strconv.Itoa(r.Min),
		"{max}", strconv.Itoa(r.Max),
	).Replace(m.Invalid)
}

// ReviewFor renders the review-link message.
func (m Messages) ReviewFor(link string) string {
	return strings.ReplaceAll(m.Review, "{link}", link)
}
