package corpus

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/faqgent/faqgent/internal/log"
)

const (
	// defaultTimeout bounds each GitHub API request.
	defaultTimeout = 30 * time.Second

	// DefaultMaxFileBytes is the per-file size cap. Blobs above it are
	// skipped rather than fetched.
	DefaultMaxFileBytes int64 = 1 << 20

	// requestsPerSecond throttles GitHub API calls. The unauthenticated
	// REST limit is 60/hour, authenticated 5000/hour; this keeps bursts
	// polite either way.
	requestsPerSecond = 5
	requestBurst      = 10
)

// treeSource is the slice of the GitHub API the loader needs.
// Production uses go-github; unit tests supply a fake.
type treeSource interface {
	GetTree(ctx context.Context, owner, repo, ref string) (*gh.Tree, error)
	GetBlob(ctx context.Context, owner, repo, sha string) (*gh.Blob, error)
}

// githubSource adapts *gh.Client to treeSource.
type githubSource struct {
	client *gh.Client
}

func (s githubSource) GetTree(ctx context.Context, owner, repo, ref string) (*gh.Tree, error) {
	tree, _, err := s.client.Git.GetTree(ctx, owner, repo, ref, true)
	return tree, err
}

func (s githubSource) GetBlob(ctx context.Context, owner, repo, sha string) (*gh.Blob, error) {
	blob, _, err := s.client.Git.GetBlob(ctx, owner, repo, sha)
	return blob, err
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// Token is an optional GitHub access token. Unauthenticated access
	// works for public repositories at a much lower rate limit.
	Token string
	// Ref is the git ref to read (default "main").
	Ref string
	// MaxFileBytes caps individual file size (default DefaultMaxFileBytes).
	MaxFileBytes int64
	// Logger receives skip/progress events. Required.
	Logger log.Logger
}

// Loader fetches markdown documents from a GitHub repository.
type Loader struct {
	source       treeSource
	ref          string
	maxFileBytes int64
	limiter      *rate.Limiter
	logger       log.Logger
}

// NewLoader creates a Loader backed by the GitHub API.
func NewLoader(ctx context.Context, cfg LoaderConfig) *Loader {
	httpClient := &http.Client{Timeout: defaultTimeout}
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(ctx, ts)
		httpClient.Timeout = defaultTimeout
	}

	return newLoader(githubSource{client: gh.NewClient(httpClient)}, cfg)
}

// newLoader wires a Loader around any treeSource. Used by tests.
func newLoader(source treeSource, cfg LoaderConfig) *Loader {
	ref := cfg.Ref
	if ref == "" {
		ref = "main"
	}
	maxBytes := cfg.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}

	return &Loader{
		source:       source,
		ref:          ref,
		maxFileBytes: maxBytes,
		limiter:      rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		logger:       cfg.Logger,
	}
}

// Load lists the repository tree recursively and returns one Document per
// markdown file, with decoded content and provenance metadata.
//
// A reachable but empty repository yields an empty slice and nil error.
// API or network failures wrap ErrSourceUnavailable.
func (l *Loader) Load(ctx context.Context, owner, repo string) ([]Document, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	tree, err := l.source.GetTree(ctx, owner, repo, l.ref)
	if err != nil {
		return nil, fmt.Errorf("%w: get tree %s/%s@%s: %v", ErrSourceUnavailable, owner, repo, l.ref, err)
	}

	docs := make([]Document, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}

		filePath := entry.GetPath()
		if !isMarkdown(filePath) {
			continue
		}

		if size := int64(entry.GetSize()); size > l.maxFileBytes {
			l.logger.Warn("skipping oversized file",
				"path", filePath,
				"size", size,
				"max", l.maxFileBytes)
			continue
		}

		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		blob, err := l.source.GetBlob(ctx, owner, repo, entry.GetSHA())
		if err != nil {
			return nil, fmt.Errorf("%w: get blob %s: %v", ErrSourceUnavailable, filePath, err)
		}

		content, err := decodeBlob(blob)
		if err != nil {
			l.logger.Warn("skipping undecodable file", "path", filePath, "error", err)
			continue
		}

		docs = append(docs, Document{
			Filename: filePath,
			Content:  content,
			Metadata: map[string]string{
				"path": filePath,
				"sha":  entry.GetSHA(),
				"size": fmt.Sprintf("%d", entry.GetSize()),
				"ref":  l.ref,
				"html_url": fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s",
					owner, repo, l.ref, filePath),
			},
		})
	}

	l.logger.Info("corpus loaded",
		"repo", owner+"/"+repo,
		"ref", l.ref,
		"documents", len(docs))

	return docs, nil
}

// decodeBlob returns the blob content as text, decoding base64 when the
// API marks it so.
func decodeBlob(blob *gh.Blob) (string, error) {
	if blob.GetEncoding() != "base64" {
		return blob.GetContent(), nil
	}

	// The API wraps base64 content in newlines.
	raw := strings.ReplaceAll(blob.GetContent(), "\n", "")
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("decode base64 blob: %w", err)
	}
	return string(decoded), nil
}

// isMarkdown reports whether the path looks like a markdown document.
func isMarkdown(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".md", ".mdx", ".markdown":
		return true
	default:
		return false
	}
}
