// Package recipient reads the list of people waiting to be surveyed and feeds
// them to the survey engine.
package recipient

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"surveybot/internal/domain"
)

// ErrMalformedRecord is returned when a line is not "conversationId,name".
var ErrMalformedRecord = errors.New("recipient: malformed record")

// Source is a persisted list of recipients not yet enrolled.
type Source interface {
	Load() ([]domain.Recipient, error)
	// Save replaces the whole list.
	Save([]domain.Recipient) error
}

// FileSource is a line-oriented text file with one "conversationId,name"
// record per line. A missing file is an empty list.
type FileSource struct {
	path string
	mu   sync.Mutex
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the file backing the source.
func (s *FileSource) Path() string { return s.path }

func (s *FileSource) Load() ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileSource) load() ([]domain.Recipient, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open recipients: %w", err)
	}
	defer f.Close()
	return ParseRecipients(f)
}

// Save writes the list to a temporary file and renames it over the source.
func (s *FileSource) Save(recipients []domain.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(recipients)
}

func (s *FileSource) save(recipients []domain.Recipient) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create recipients dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".recipients-*")
	if err != nil {
		return fmt.Errorf("create temp recipients file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := FormatRecipients(tmp, recipients); err != nil {
		tmp.Close()
		return fmt.Errorf("write recipients: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write recipients: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace recipients: %w", err)
	}
	return nil
}

// Append adds records to the end of the source.
func (s *FileSource) Append(recipients ...domain.Recipient) error {
	for _, r := range recipients {
		if err := Validate(r); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.load()
	if err != nil {
		return err
	}
	return s.save(append(existing, recipients...))
}

// Validate checks that r can be written as a single record.
func Validate(r domain.Recipient) error {
	switch {
	case strings.TrimSpace(r.ConversationID) == "":
		return fmt.Errorf("%w: empty conversation id", ErrMalformedRecord)
	case strings.ContainsAny(r.ConversationID, ",\r\n"):
		return fmt.Errorf("%w: conversation id %q contains a comma or newline", ErrMalformedRecord, r.ConversationID)
	case strings.ContainsAny(r.Name, "\r\n"):
		return fmt.Errorf("%w: name %q contains a newline", ErrMalformedRecord, r.Name)
	}
	return nil
}

// ParseRecipients reads "conversationId,name" lines. Fields are trimmed and
// blank lines skipped; the name may itself contain commas.
func ParseRecipients(r io.Reader) ([]domain.Recipient, error) {
	var out []domain.Recipient
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, name, ok := strings.Cut(line, ",")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedRecord, n, line)
		}
		out = append(out, domain.Recipient{ConversationID: id, Name: strings.TrimSpace(name)})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read recipients: %w", err)
	}
	return out, nil
}

// FormatRecipients writes one "conversationId,name" line per record.
func FormatRecipients(w io.Writer, recipients []domain.Recipient) error {
	bw := bufio.NewWriter(w)
	for _, r := range recipients {
		if _, err := fmt.Fprintf(bw, "%s,%s\n", r.ConversationID, r.Name); err != nil {
			return err
		}
	}
	return bw.Flush()
}
