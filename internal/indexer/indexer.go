// Package indexer computes transposition-invariant interval fingerprints
// from tune pitch sequences. The interval vector is what the similarity
// index is built on, so two renditions of the same melody in different keys
// produce the same fingerprint.
package indexer

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/protocol"
	"github.com/tunedex/tunecrawler/internal/store"
)

const (
	// MaxInterval clips melodic leaps; anything wider than an octave carries
	// no extra similarity signal.
	MaxInterval = 12
	// WindowLength is the fixed vector length fed to the similarity index.
	WindowLength = 32
	// WindowStride is the hop between overlapping windows of a long tune.
	WindowStride = 4
)

// Intervals converts a comma-separated pitch sequence into its interval
// vector. Consecutive repeated pitches collapse first so held notes do not
// flood the vector with zeros; fewer than two distinct pitches yield nil.
func Intervals(pitchesCSV string) []int {
	var pitches []int
	for _, field := range strings.Split(pitchesCSV, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		p, err := strconv.Atoi(field)
		if err != nil {
			return nil
		}
		pitches = append(pitches, p)
	}

	var collapsed []int
	for _, p := range pitches {
		if n := len(collapsed); n == 0 || collapsed[n-1] != p {
			collapsed = append(collapsed, p)
		}
	}
	if len(collapsed) < 2 {
		return nil
	}

	intervals := make([]int, len(collapsed)-1)
	for i := range intervals {
		intervals[i] = clip(collapsed[i+1]-collapsed[i], -MaxInterval, MaxInterval)
	}
	return intervals
}

// Windows slices an interval vector into fixed-length overlapping windows.
// A vector shorter than WindowLength is zero-padded into a single window.
func Windows(intervals []int) [][]float32 {
	if len(intervals) == 0 {
		return nil
	}
	if len(intervals) <= WindowLength {
		return [][]float32{padWindow(intervals)}
	}
	var windows [][]float32
	for i := 0; i+WindowLength <= len(intervals); i += WindowStride {
		windows = append(windows, padWindow(intervals[i:i+WindowLength]))
	}
	return windows
}

func padWindow(intervals []int) []float32 {
	vec := make([]float32, WindowLength)
	for i, v := range intervals {
		vec[i] = float32(v)
	}
	return vec
}

func clip(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Executor fingerprints the tunes of one tunebook per assignment.
type Executor struct {
	logger *zap.Logger
}

// New builds an Executor.
func New(logger *zap.Logger) *Executor {
	return &Executor{logger: logger}
}

// Role identifies the executor to the dispatcher.
func (e *Executor) Role() string { return protocol.RoleIndexer }

// Execute computes an interval vector per tune. Tunes without enough pitch
// material still get an entry so they are marked processed and never
// re-claimed.
func (e *Executor) Execute(_ context.Context, assign *protocol.Assign) protocol.Outcome {
	byTune := make(map[int64]string, len(assign.Payload.Tunes))
	for _, tune := range assign.Payload.Tunes {
		byTune[tune.ID] = joinIntervals(Intervals(tune.Pitches))
	}
	e.logger.Debug("tunebook indexed",
		zap.Int64("tunebook_id", assign.Payload.TunebookID),
		zap.Int("tunes", len(byTune)))
	return protocol.Outcome{Index: &store.IndexOutcome{IntervalsByTune: byTune}}
}

func joinIntervals(intervals []int) string {
	if len(intervals) == 0 {
		return ""
	}
	parts := make([]string, len(intervals))
	for i, v := range intervals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
