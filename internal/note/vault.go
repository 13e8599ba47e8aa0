package note

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"calnote/internal/model"
)

// Vault is the document store the merge engine writes through. The
// filesystem implementation below is the default; tests substitute an
// in-memory one.
type Vault interface {
	Read(path string) (string, error)
	Write(path string, content string) error
	Exists(path string) bool
}

// FSVault stores notes as files under Root, creating parent folders as
// needed.
type FSVault struct {
	Root string
}

func (v *FSVault) abs(path string) string {
	return filepath.Join(v.Root, filepath.FromSlash(path))
}

func (v *FSVault) Read(path string) (string, error) {
	data, err := os.ReadFile(v.abs(path))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (v *FSVault) Write(path string, content string) error {
	full := v.abs(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(content), 0o600)
}

func (v *FSVault) Exists(path string) bool {
	_, err := os.Stat(v.abs(path))
	return err == nil
}

// Store binds a Vault to the date→path template and runs whole-note
// operations. One note per calendar date; a note is read, rewritten and
// written back as one unit.
type Store struct {
	vault    Vault
	template string
}

// NewStore builds a Store. pathTemplate supports the {year}, {month} and
// {day} tokens, e.g. "{year}-{month}-{day}.md".
func NewStore(vault Vault, pathTemplate string) *Store {
	if pathTemplate == "" {
		pathTemplate = "{year}-{month}-{day}.md"
	}
	return &Store{vault: vault, template: pathTemplate}
}

// PathFor resolves the note path for a calendar date.
func (s *Store) PathFor(date time.Time) string {
	r := strings.NewReplacer(
		"{year}", date.Format("2006"),
		"{month}", date.Format("01"),
		"{day}", date.Format("02"),
	)
	return r.Replace(s.template)
}

// load returns the note content for a date, creating it from the
// template first when it does not exist yet.
func (s *Store) load(date time.Time) (string, string, error) {
	path := s.PathFor(date)
	if !s.vault.Exists(path) {
		content := Template(date)
		if err := s.vault.Write(path, content); err != nil {
			return "", "", fmt.Errorf("note: create %s: %w", path, err)
		}
		return path, content, nil
	}
	content, err := s.vault.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return path, Template(date), nil
		}
		return "", "", fmt.Errorf("note: read %s: %w", path, err)
	}
	return path, content, nil
}

// SyncDay merges the incoming events into the date's note. The note is
// created from the template first when missing. The write is skipped when
// the merge changed nothing.
func (s *Store) SyncDay(date time.Time, events []model.CalendarEvent) error {
	path, doc, err := s.load(date)
	if err != nil {
		return err
	}
	merged := Merge(doc, events)
	if merged == doc {
		return nil
	}
	if err := s.vault.Write(path, merged); err != nil {
		return fmt.Errorf("note: write %s: %w", path, err)
	}
	return nil
}

// ReadDay returns the note content for a date without creating it.
// A missing note reads as empty.
func (s *Store) ReadDay(date time.Time) (string, error) {
	path := s.PathFor(date)
	if !s.vault.Exists(path) {
		return "", nil
	}
	content, err := s.vault.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("note: read %s: %w", path, err)
	}
	return content, nil
}
