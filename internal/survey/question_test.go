package survey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultQuestionBank(t *testing.T) {
	b := DefaultQuestionBank()
	require.Equal(t, 7, b.Len())

	withFollowUp := map[int]Range{}
	for i := range b.Len() {
		q := b.At(i)
		require.Equal(t, i+1, q.ID)
		if q.FollowUp != nil {
			require.Equal(t, q.ID, q.FollowUp.ID)
			withFollowUp[q.ID] = q.FollowUp.Range
		}
	}
	require.Equal(t, map[int]Range{
		4: {Min: 1, Max: 2},
		6: {Min: 1, Max: 4},
		7: {Min: 1, Max: 5},
	}, withFollowUp)
	require.Equal(t, Range{Min: 0, Max: 10}, b.At(0).Range)
}

func TestQuestionBankAtOutOfRangePanics(t *testing.T) {
	b := DefaultQuestionBank()
	require.Panics(t, func() { b.At(7) })
	require.Panics(t, func() { b.At(-1) })
}

func TestNewQuestionBankInheritsFollowUpID(t *testing.T) {
	b, err := NewQuestionBank([]Question{{
		ID:       3,
		Prompt:   "Rate us",
		Range:    Range{Min: 1, Max: 5},
		FollowUp: &Question{Prompt: "Why?", Range: Range{Min: 1, Max: 3}},
	}})
	require.NoError(t, err)
	require.Equal(t, 3, b.At(0).FollowUp.ID)
}

func TestNewQuestionBankCopiesInput(t *testing.T) {
	qs := []Question{{ID: 1, Prompt: "a", Range: Range{Min: 0, Max: 1}}}
	b, err := NewQuestionBank(qs)
	require.NoError(t, err)
	qs[0].Prompt = "changed"
	require.Equal(t, "a", b.At(0).Prompt)
}

func TestQuestionBankValidate(t *testing.T) {
	tests := []struct {
		name string
		qs   []Question
		want string
	}{
		{"empty", nil, "question bank is empty"},
		{"duplicate id", []Question{
			{ID: 1, Prompt: "a", Range: Range{Max: 1}},
			{ID: 1, Prompt: "b", Range: Range{Max: 1}},
		}, "duplicate id 1"},
		{"empty prompt", []Question{{ID: 1, Prompt: " ", Range: Range{Max: 1}}}, "prompt is empty"},
		{"inverted range", []Question{{ID: 1, Prompt: "a", Range: Range{Min: 5, Max: 1}}}, "range min 5 > max 1"},
		{"follow-up id mismatch", []Question{{
			ID: 1, Prompt: "a", Range: Range{Max: 1},
			FollowUp: &Question{ID: 2, Prompt: "b", Range: Range{Max: 1}},
		}}, "must match parent id 1"},
		{"nested follow-up", []Question{{
			ID: 1, Prompt: "a", Range: Range{Max: 1},
			FollowUp: &Question{Prompt: "b", Range: Range{Max: 1},
				FollowUp: &Question{Prompt: "c", Range: Range{Max: 1}}},
		}}, "cannot be nested"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewQuestionBank(tt.qs)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRange(t *testing.T) {
	r := Range{Min: 1, Max: 5}
	require.True(t, r.Contains(1))
	require.True(t, r.Contains(5))
	require.False(t, r.Contains(0))
	require.False(t, r.Contains(6))
	require.Equal(t, "1-5", r.String())
}

func TestParseAnswer(t *testing.T) {
	r := Range{Min: 0, Max: 10}

	v, err := parseAnswer(" 10 ", r)
	require.NoError(t, err)
	require.Equal(t, 10, v)

	_, err = parseAnswer("3abc", r)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.True(t, verr.NotANumber)

	_, err = parseAnswer("11", r)
	require.ErrorAs(t, err, &verr)
	require.False(t, verr.NotANumber)
	require.ErrorIs(t, err, ErrInvalidAnswer)
}

func TestScoreOf(t *testing.T) {
	answers := map[int]string{1: "7", 4: "2-1", 9: "x"}

	v, ok := scoreOf(answers, 1)
	require.True(t, ok)
	require.Equal(t, 7, v)

	v, ok = scoreOf(answers, 4)
	require.True(t, ok)
	require.Equal(t, 2, v)

	_, ok = scoreOf(answers, 2)
	require.False(t, ok)
	_, ok = scoreOf(answers, 9)
	require.False(t, ok)
}
