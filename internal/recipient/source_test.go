package recipient

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"surveybot/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestParseRecipients(t *testing.T) {
	in := " 5215550001 , Ana López \n\n5215550002,Luis\n3,Pérez, Juan\n4,\n"
	got, err := ParseRecipients(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, []domain.Recipient{
		{ConversationID: "5215550001", Name: "Ana López"},
		{ConversationID: "5215550002", Name: "Luis"},
		{ConversationID: "3", Name: "Pérez, Juan"},
		{ConversationID: "4", Name: ""},
	}, got)
}

func TestParseRecipientsMalformed(t *testing.T) {
	for _, in := range []string{"1,Ana\nno-comma\n", ",Ana\n"} {
		_, err := ParseRecipients(strings.NewReader(in))
		require.ErrorIs(t, err, ErrMalformedRecord, "input %q", in)
	}

	_, err := ParseRecipients(strings.NewReader("1,Ana\nbroken\n"))
	require.ErrorContains(t, err, "line 2")
}

func TestFileSourceMissingIsEmpty(t *testing.T) {
	s := NewFileSource(filepath.Join(t.TempDir(), "none.txt"))
	got, err := s.Load()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestFileSourceEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	got, err := NewFileSource(path).Load()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestFileSourceSaveReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "r.txt")
	s := NewFileSource(path)

	require.NoError(t, s.Save([]domain.Recipient{{ConversationID: "1", Name: "Ana"}, {ConversationID: "2", Name: "Luis"}}))
	require.NoError(t, s.Save([]domain.Recipient{{ConversationID: "2", Name: "Luis"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "2,Luis\n", string(data))

	require.NoError(t, s.Save(nil))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Empty(t, data)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileSourceAppend(t *testing.T) {
	s := NewFileSource(filepath.Join(t.TempDir(), "r.txt"))
	require.NoError(t, s.Append(domain.Recipient{ConversationID: "1", Name: "Ana"}))
	require.NoError(t, s.Append(domain.Recipient{ConversationID: "2", Name: "Luis"}))

	got, err := s.Load()
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "2", got[1].ConversationID)

	require.ErrorIs(t, s.Append(domain.Recipient{ConversationID: "a,b", Name: "x"}), ErrMalformedRecord)
	require.ErrorIs(t, s.Append(domain.Recipient{ConversationID: " ", Name: "x"}), ErrMalformedRecord)
	require.ErrorIs(t, s.Append(domain.Recipient{ConversationID: "3", Name: "x\ny"}), ErrMalformedRecord)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
