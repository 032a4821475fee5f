// Package abc parses ABC music notation out of crawled documents. The input
// is whatever a fetch stored, so the parser tolerates HTML wrapping, mixed
// prose and truncated tunes, and works line by line with heuristics rather
// than a strict grammar.
package abc

import (
	"regexp"
	"strings"

	"github.com/tunedex/tunecrawler/internal/store"
)

// Limits that keep a single hostile or malformed page from dominating a
// parse assignment.
const (
	MaxTuneChars    = 10000
	MaxTuneLines    = 300
	MaxVoices       = 4
	MaxTunesPerPage = 500
)

var (
	htmlTagPattern   = regexp.MustCompile(`<[^>]+>`)
	tuneStartPattern = regexp.MustCompile(`(?m)^X:\s*\d+`)
	titlePattern     = regexp.MustCompile(`(?m)^T:`)
	keyPattern       = regexp.MustCompile(`(?m)^K:`)
	tuneSplitPattern = regexp.MustCompile(`(?m)^X:`)
)

// ParseDocument extracts the tunes from one stored document. A document with
// no recognizable ABC content yields an empty slice, not an error; the
// pipeline records it as parsed with has_abc false.
func ParseDocument(document []byte) []store.Tune {
	content := string(document)
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	// Flatten markup so X: headers behind a <br> or inside a <div> land at
	// the start of a line.
	content = htmlTagPattern.ReplaceAllString(content, "\n")

	// X: followed by digits filters out minified JS and prose that happens
	// to contain "X:".
	if !tuneStartPattern.MatchString(content) {
		return nil
	}
	// Real ABC books carry T: or K: headers or plenty of bar lines.
	if !titlePattern.MatchString(content) && !keyPattern.MatchString(content) &&
		strings.Count(content, "|") <= 5 {
		return nil
	}

	parts := tuneSplitPattern.Split(content, -1)
	if len(parts) > MaxTunesPerPage+1 {
		parts = parts[:MaxTunesPerPage+1]
	}

	var tunes []store.Tune
	for _, part := range parts[1:] {
		tune, headerCount := parseTune("X:" + part)
		if tune.Status != StatusSkipped || headerCount > 1 {
			tunes = append(tunes, tune)
		}
	}
	return tunes
}
