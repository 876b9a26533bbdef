// Package usercontext manages the context.md document describing the
// user's interests. The evaluator consumes it verbatim.
package usercontext

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// RequiredSections are the four canonical headings the document must carry.
var RequiredSections = []string{
	"## High Priority Topics",
	"## Medium Priority Topics",
	"## Low Priority Topics",
	"## Not Interested",
}

// DefaultDocument seeds a fresh installation.
const DefaultDocument = `# What I Care About

## High Priority Topics
- (add the topics you always want to see)

## Medium Priority Topics
- (topics worth a look when there is time)

## Low Priority Topics
- (topics to skim occasionally)

## Not Interested
- (topics to filter out entirely)
`

// Store reads and writes the context document.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store for the document at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the document, falling back to the default template when the
// file does not exist yet.
func (s *Store) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return DefaultDocument, nil
	}
	if err != nil {
		return "", model.Wrap(model.KindStorage, err, "read context document")
	}
	return string(data), nil
}

// Save validates and writes the document atomically.
func (s *Store) Save(content string) error {
	if err := Validate(content); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return model.Wrap(model.KindStorage, err, "create context dir")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return model.Wrap(model.KindStorage, err, "write context document")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return model.Wrap(model.KindStorage, err, "replace context document")
	}
	return nil
}

// Validate checks that all four canonical sections are present.
func Validate(content string) error {
	var missing []string
	for _, section := range RequiredSections {
		if !strings.Contains(content, section) {
			missing = append(missing, section)
		}
	}
	if len(missing) > 0 {
		return model.E(model.KindValidation, "context document is missing sections: %s", strings.Join(missing, ", "))
	}
	return nil
}

// WithLearnedInterests appends a machine-built section of recently flagged
// titles. The evaluator sees it as additional signal; the file on disk is
// never modified.
func WithLearnedInterests(doc string, titles []string) string {
	if len(titles) == 0 {
		return doc
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(doc, "\n"))
	b.WriteString("\n\n## Learned Interests (from recent feedback)\n")
	for _, t := range titles {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	return b.String()
}
