// Package corpus loads the FAQ document corpus from a GitHub repository.
//
// The corpus is a set of markdown files fetched via the Git trees API.
// Callers select which documents enter the index with a FilterFunc; see
// internal/index for the indexing side.
package corpus

import (
	"errors"
	"strings"
)

// ErrSourceUnavailable indicates the corpus repository could not be
// reached or read. Check with errors.Is().
var ErrSourceUnavailable = errors.New("corpus source unavailable")

// Document is one corpus file. Immutable once loaded.
type Document struct {
	// Filename is the path of the file within the repository.
	Filename string `json:"filename"`
	// Content is the decoded file content.
	Content string `json:"content"`
	// Metadata carries provenance (path, sha, size, html_url, ref).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FilterFunc decides whether a document enters the index.
// An error means the document could not be evaluated; the indexer skips
// it and keeps going (see index.Build).
type FilterFunc func(Document) (bool, error)

// FilenameContains returns a filter keeping documents whose filename
// contains substr. An empty substr keeps everything.
func FilenameContains(substr string) FilterFunc {
	return func(doc Document) (bool, error) {
		return strings.Contains(doc.Filename, substr), nil
	}
}
