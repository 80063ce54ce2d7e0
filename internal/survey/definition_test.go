package survey

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleDefinition = `
name: clinic
questions:
  - id: 1
    prompt: "How likely are you to recommend us? (0-10)"
    range: {min: 0, max: 10}
  - id: 2
    prompt: "How was the waiting time? (1-5)"
    range: {min: 1, max: 5}
    followUp:
      prompt: "What went wrong? (1-3)"
      range: {min: 1, max: 3}
messages:
  closing: "Thanks!"
`

func TestParseDefinition(t *testing.T) {
	bank, msgs, err := ParseDefinition([]byte(sampleDefinition))
	require.NoError(t, err)
	require.Equal(t, 2, bank.Len())

	q := bank.At(1)
	require.NotNil(t, q.FollowUp)
	require.Equal(t, 2, q.FollowUp.ID)
	require.Equal(t, Range{Min: 1, Max: 3}, q.FollowUp.Range)

	require.Equal(t, "Thanks!", msgs.Closing)
	require.Equal(t, DefaultMessages().Reminder, msgs.Reminder)
}

func TestParseDefinitionInvalid(t *testing.T) {
	_, _, err := ParseDefinition([]byte("questions: [}"))
	require.ErrorContains(t, err, "parse survey definition")

	_, _, err = ParseDefinition([]byte("name: empty\n"))
	require.ErrorContains(t, err, "question bank is empty")
}

func TestLoadDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDefinition), 0o600))

	bank, _, err := LoadDefinition(path)
	require.NoError(t, err)
	require.Equal(t, 2, bank.Len())

	_, _, err = LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
