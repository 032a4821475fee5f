package abc

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tunedex/tunecrawler/internal/store"
)

// Tune statuses recorded on parsed rows.
const (
	StatusParsed  = "parsed"
	StatusSkipped = "skipped"
)

var (
	headerPattern  = regexp.MustCompile(`^([A-Z]):\s*(.*)$`)
	commentPattern = regexp.MustCompile(`%.*`)
	voicePattern   = regexp.MustCompile(`(?m)^V:\s*`)
	abcCharPattern = regexp.MustCompile(`[a-gA-Gz0-9/|\[\]()_^=,'~]`)

	chordSymbolPattern  = regexp.MustCompile(`"[^"]*"`)
	inlineHeaderPattern = regexp.MustCompile(`\[?[A-Z]:[^ \n|\]]*\]?`)
	notePattern         = regexp.MustCompile(`([_^=]?)([a-gA-G])([,']*)`)
)

// junkWords mark navigation chrome and prose that slips through the markup
// flattening. A body line containing any of them is dropped.
var junkWords = []string{
	"tune", "next", "previous", "sheet", "music", "rendered", "last",
	"updated", "october", "henrik", "norbeck", "cookies", "adsense",
	"adverts", "consent", "using", "site",
}

// headerFields maps ABC information field keys onto Tune columns.
var headerFields = map[string]func(*store.Tune, string){
	"X": func(t *store.Tune, v string) { t.ReferenceNumber = v },
	"T": func(t *store.Tune, v string) { t.Title = v },
	"C": func(t *store.Tune, v string) { t.Composer = v },
	"O": func(t *store.Tune, v string) { t.Origin = v },
	"A": func(t *store.Tune, v string) { t.Area = v },
	"M": func(t *store.Tune, v string) { t.Meter = v },
	"L": func(t *store.Tune, v string) { t.UnitNoteLength = v },
	"Q": func(t *store.Tune, v string) { t.Tempo = v },
	"P": func(t *store.Tune, v string) { t.Parts = v },
	"Z": func(t *store.Tune, v string) { t.Transcription = v },
	"N": func(t *store.Tune, v string) { t.Notes = v },
	"G": func(t *store.Tune, v string) { t.Group = v },
	"H": func(t *store.Tune, v string) { t.History = v },
	"K": func(t *store.Tune, v string) { t.Key = v },
	"R": func(t *store.Tune, v string) { t.Rhythm = v },
	"B": func(t *store.Tune, v string) { t.Book = v },
	"D": func(t *store.Tune, v string) { t.Discography = v },
	"S": func(t *store.Tune, v string) { t.Source = v },
	"I": func(t *store.Tune, v string) { t.Instruction = v },
}

// parseTune parses one X:-delimited block. Oversized or overly complex blocks
// keep their headers but skip body parsing. The header count lets the caller
// decide whether a skipped tune is still worth keeping.
func parseTune(raw string) (store.Tune, int) {
	tune := store.Tune{Title: "Untitled", Status: StatusParsed}

	switch {
	case len(raw) > MaxTuneChars:
		tune.Status = StatusSkipped
	case strings.Count(raw, "\n")+1 > MaxTuneLines:
		tune.Status = StatusSkipped
	case len(voicePattern.FindAllString(raw, -1)) > MaxVoices:
		tune.Status = StatusSkipped
	}

	var bodyLines []string
	headerCount := 0
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			value := strings.TrimSpace(commentPattern.ReplaceAllString(m[2], ""))
			if set, known := headerFields[m[1]]; known {
				if m[1] == "T" && tune.Title != "Untitled" {
					// Keep the first of multiple T: lines.
					headerCount++
					continue
				}
				set(&tune, value)
				headerCount++
			}
			continue
		}
		if tune.Status == StatusSkipped || strings.HasPrefix(line, "%") {
			continue
		}
		if isBodyLine(line) {
			bodyLines = append(bodyLines, line)
		}
	}

	if tune.Status == StatusSkipped {
		return tune, headerCount
	}

	tune.TuneBody = strings.Join(bodyLines, "\n")
	tune.Pitches = joinPitches(extractPitches(strings.Join(bodyLines, " ")))
	return tune, headerCount
}

// isBodyLine decides whether a non-header line is music rather than prose.
// A music line carries none of the common navigation words found on tune
// collection sites and is either more than 80 % ABC characters or contains a
// bar line with more than two non-space characters.
func isBodyLine(line string) bool {
	lower := strings.ToLower(line)
	for _, word := range junkWords {
		if strings.Contains(lower, word) {
			return false
		}
	}
	total := len(strings.ReplaceAll(line, " ", ""))
	if total == 0 {
		return false
	}
	abcChars := len(abcCharPattern.FindAllString(line, -1))
	if float64(abcChars)/float64(total) > 0.8 {
		return true
	}
	return strings.Contains(line, "|") && total > 2
}

// extractPitches scans a tune body for notes and maps each onto its MIDI
// pitch. Chord symbols and inline header fields are stripped first so their
// letters do not read as notes.
func extractPitches(body string) []int {
	body = commentPattern.ReplaceAllString(body, "")
	body = chordSymbolPattern.ReplaceAllString(body, " ")
	body = inlineHeaderPattern.ReplaceAllString(body, " ")

	matches := notePattern.FindAllStringSubmatch(body, -1)
	pitches := make([]int, 0, len(matches))
	for _, m := range matches {
		pitches = append(pitches, noteToMIDI(m[1], m[2], m[3]))
	}
	return pitches
}

// baseMIDI places uppercase notes in the C4 octave and lowercase in C5,
// following the ABC octave convention.
var baseMIDI = map[string]int{
	"C": 60, "D": 62, "E": 64, "F": 65, "G": 67, "A": 69, "B": 71,
	"c": 72, "d": 74, "e": 76, "f": 77, "g": 79, "a": 81, "b": 83,
}

func noteToMIDI(accidental, letter, octaveMarks string) int {
	pitch, ok := baseMIDI[letter]
	if !ok {
		pitch = 60
	}
	switch accidental {
	case "^":
		pitch++
	case "_":
		pitch--
	}
	pitch += 12 * strings.Count(octaveMarks, "'")
	pitch -= 12 * strings.Count(octaveMarks, ",")
	return pitch
}

func joinPitches(pitches []int) string {
	if len(pitches) == 0 {
		return ""
	}
	parts := make([]string, len(pitches))
	for i, p := range pitches {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
