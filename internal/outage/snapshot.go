package outage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ParagraphSeparator joins paragraphs in the content normal form.
const ParagraphSeparator = "\n\n"

// Snapshot is one immutable fetch result for one provider.
type Snapshot struct {
	ID          int64
	Provider    string
	SourceURL   string
	Content     string
	ContentHash string
	FetchedAt   time.Time
	Metadata    map[string]string
}

// NewSnapshot builds a snapshot and derives its content hash.
func NewSnapshot(provider, sourceURL, content string, fetchedAt time.Time) Snapshot {
	return Snapshot{
		Provider:    provider,
		SourceURL:   sourceURL,
		Content:     content,
		ContentHash: Digest(content),
		FetchedAt:   fetchedAt,
	}
}

// RestoreSnapshot rebuilds a stored snapshot. The hash is recomputed from
// content; a stored hash that disagrees is reported as ErrCorruptSnapshot.
func RestoreSnapshot(id int64, provider, sourceURL, content, storedHash string, fetchedAt time.Time, meta map[string]string) (Snapshot, error) {
	s := NewSnapshot(provider, sourceURL, content, fetchedAt)
	s.ID = id
	s.Metadata = meta
	if storedHash != "" && storedHash != s.ContentHash {
		return Snapshot{}, fmt.Errorf("snapshot %d: %w", id, ErrCorruptSnapshot)
	}
	return s, nil
}

// Digest is the change and dedup key of a content string (SHA-256, hex).
func Digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Paragraphs returns the non-empty trimmed text blocks of the content in order.
func (s Snapshot) Paragraphs() []string {
	return SplitParagraphs(s.Content)
}

// Empty reports whether the snapshot carries no paragraphs at all.
func (s Snapshot) Empty() bool {
	return strings.TrimSpace(s.Content) == ""
}

var reBlankLine = regexp.MustCompile(`\r?\n[ \t]*\r?\n`)

// SplitParagraphs splits text on blank-line separators, trims each block and
// drops empty ones.
func SplitParagraphs(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := reBlankLine.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinParagraphs renders paragraphs in the content normal form.
func JoinParagraphs(ps []string) string {
	return strings.Join(ps, ParagraphSeparator)
}
