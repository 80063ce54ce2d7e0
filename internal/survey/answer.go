package survey

import (
	"strconv"
	"strings"
)

// parseAnswer accepts a whole integer within r, surrounding whitespace allowed.
func parseAnswer(text string, r Range) (int, error) {
	text = strings.TrimSpace(text)
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, &ValidationError{Input: text, Range: r, NotANumber: true}
	}
	if !r.Contains(v) {
		return 0, &ValidationError{Input: text, Range: r}
	}
	return v, nil
}

// scoreOf reads the primary value of a recorded answer, ignoring any
// "-<follow-up>" suffix.
func scoreOf(answers map[int]string, questionID int) (int, bool) {
	raw, ok := answers[questionID]
	if !ok {
		return 0, false
	}
	primary, _, _ := strings.Cut(raw, "-")
	v, err := strconv.Atoi(primary)
	if err != nil {
		return 0, false
	}
	return v, true
}
