// Package survey implements the per-conversation survey state machine:
// question sequencing, answer validation, conditional follow-ups, idle
// reminders and hard timeouts, and completion with the review-link gate.
package survey

import (
	"errors"
	"fmt"
	"strings"
)

// Range is an inclusive bound on a numeric answer.
type Range struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// Question is one survey item. A follow-up carries its parent's ID so that the
// primary and follow-up answers are recorded together as "<primary>-<follow-up>".
type Question struct {
	ID       int       `yaml:"id" json:"id"`
	Prompt   string    `yaml:"prompt" json:"prompt"`
	Range    Range     `yaml:"range" json:"range"`
	FollowUp *Question `yaml:"followUp,omitempty" json:"followUp,omitempty"`
}

// QuestionBank is the fixed, ordered question sequence of a survey.
// It is never mutated after construction.
type QuestionBank struct {
	questions []Question
}

// NewQuestionBank copies and validates the given questions. Follow-ups without
// an explicit ID inherit their parent's.
func NewQuestionBank(questions []Question) (*QuestionBank, error) {
	qs := make([]Question, len(questions))
	for i, q := range questions {
		qs[i] = q
		if q.FollowUp != nil {
			fu := *q.FollowUp
			if fu.ID == 0 {
				fu.ID = q.ID
			}
			qs[i].FollowUp = &fu
		}
	}
	b := &QuestionBank{questions: qs}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// At returns the question at index i. An out-of-range index is a programming error.
func (b *QuestionBank) At(i int) Question {
	if i < 0 || i >= len(b.questions) {
		panic(fmt.Sprintf("survey: question index %d out of range [0,%d)", i, len(b.questions)))
	}
	return b.questions[i]
}

// Len returns the number of primary questions.
func (b *QuestionBank) Len() int { return len(b.questions) }

// Validate checks the bank invariants: at least one question, unique IDs,
// non-empty prompts, min <= max, and follow-ups that share the parent ID and
// are not nested further.
func (b *QuestionBank) Validate() error {
	if len(b.questions) == 0 {
		return errors.New("survey: question bank is empty")
	}
	var errs []string
	seen := make(map[int]bool, len(b.questions))
	for i, q := range b.questions {
		if seen[q.ID] {
			errs = append(errs, fmt.Sprintf("question %d: duplicate id %d", i, q.ID))
		}
		seen[q.ID] = true
		errs = append(errs, checkQuestion(fmt.Sprintf("question %d", i), q)...)

		if fu := q.FollowUp; fu != nil {
			label := fmt.Sprintf("question %d follow-up", i)
			if fu.ID != q.ID {
				errs = append(errs, fmt.Sprintf("%s: id %d must match parent id %d", label, fu.ID, q.ID))
			}
			if fu.FollowUp != nil {
				errs = append(errs, label+": follow-ups cannot be nested")
			}
			errs = append(errs, checkQuestion(label, *fu)...)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("survey: invalid question bank:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkQuestion(label string, q Question) []string {
	var errs []string
	if strings.TrimSpace(q.Prompt) == "" {
		errs = append(errs, label+": prompt is empty")
	}
	if q.Range.Min > q.Range.Max {
		errs = append(errs, fmt.Sprintf("%s: range min %d > max %d", label, q.Range.Min, q.Range.Max))
	}
	return errs
}

// DefaultQuestions is the built-in hospital satisfaction survey.
func DefaultQuestions() []Question {
	return []Question{
		{
			ID: 1,
			Prompt: "Basándose en esta experiencia, ¿qué probabilidad hay de que recomiendes al Hospital IMG a un amigo o familiar, " +
				"donde 0 equivale a Nada probable y 10 a Muy probable? \nResponde de un rango de (0-10)",
			Range: Range{Min: 0, Max: 10},
		},
		{
			ID: 2,
			Prompt: "¿Qué tan satisfecho te encuentras con los siguientes aspectos?\n\n" +
				"Responde de 1 a 5 según tu experiencia:\n \n" +
				"1️⃣ Muy Insatisfecho 😠\n" +
				"2️⃣ Insatisfecho 😟\n" +
				"3️⃣ Neutral 😐\n" +
				"4️⃣ Satisfecho 🙂\n" +
				"5️⃣ Muy Satisfecho 😄\n\n" +
				" *A.) TIEMPO DE ATENCION* ⏱️ \nResponde de un rango de (1-5)",
			Range: Range{Min: 1, Max: 5},
		},
		{
			ID:     3,
			Prompt: "*B.) CALIDAD DE LA COMIDA* 🥗 \nResponde de un rango de (1-5)",
			Range:  Range{Min: 1, Max: 5},
		},
		{
			ID:     4,
			Prompt: "*C.1.) SERVICIO AL CLIENTE* 🛎️ \nResponde de un rango de (1-5)",
			Range:  Range{Min: 1, Max: 5},
			FollowUp: &Question{
				ID: 4,
				Prompt: "*C.2.) ¿Por qué no te encuentras tan satisfecho con el servicio al cliente?* ⏱️:\n\n" +
					"1️⃣ Velocidad en el servicio\n" +
					"2️⃣ Amabilidad de los empleados\n" +
					"\nResponde de un rango de (1-2)",
				Range: Range{Min: 1, Max: 2},
			},
		},
		{
			ID:     5,
			Prompt: "*D.) FACTURACION* 💳📄 \nResponde de un rango de (1-5)",
			Range:  Range{Min: 1, Max: 5},
		},
		{
			ID:     6,
			Prompt: "*E.1.) AMABILIDAD DE EMPLEADOS* 🛎️ \nResponde de un rango de (1-5)",
			Range:  Range{Min: 1, Max: 5},
			FollowUp: &Question{
				ID: 6,
				Prompt: "*E.2.) ¿Por qué no te encuentras tan satisfecho con la amabilidad de los empleados?* ⏱️\n\n" +
					"1️⃣ Empleados estaba distraído\n" +
					"2️⃣ Empleados tenía pocas habilidades de comunicación\n" +
					"3️⃣ Empleados no sonreía y no me miraba a los ojos\n" +
					"4️⃣ Empleado fue grosero y descortés\n" +
					"\nResponde de un rango de (1-4):",
				Range: Range{Min: 1, Max: 4},
			},
		},
		{
			ID:     7,
			Prompt: "*F.1.) AMABILIDAD DE LOS DOCTORES* 🛎️ \nResponde de un rango de (1-5)",
			Range:  Range{Min: 1, Max: 5},
			FollowUp: &Question{
				ID: 7,
				Prompt: "*F.2.) ¿Por qué no te encuentras tan satisfecho con la amabilidad de los doctores?* ⏱️\n\n" +
					"1️⃣ Doctor no me escuchaba mi real necesidad\n" +
					"2️⃣ Doctor tenía pocas habilidades de comunicación\n" +
					"3️⃣ Doctor no sonreía y no me miraba a los ojos\n" +
					"4️⃣ Doctor fue grosero y descortés\n" +
					"5️⃣ Doctor no me resolvió el motivo de consulta\n" +
					"\nResponde de un rango de (1-5):",
				Range: Range{Min: 1, Max: 5},
			},
		},
	}
}

// DefaultQuestionBank returns the built-in survey as a QuestionBank.
func DefaultQuestionBank() *QuestionBank {
	b, err := NewQuestionBank(DefaultQuestions())
	if err != nil {
		panic(err)
	}
	return b
}
