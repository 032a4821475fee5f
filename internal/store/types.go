// Package store declares the domain types and errors shared by the crawl
// pipeline: URLs, hosts, tunebooks, tunes, and the outcome payloads workers
// report back to the dispatcher.
package store

import (
	"errors"
	"time"
)

// ErrNoWork signals that no eligible row exists for a claim right now.
var ErrNoWork = errors.New("no eligible work")

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrUnavailable wraps transient store failures. Callers may retry with
// backoff; the wrapped cause is preserved.
type ErrUnavailable struct {
	Err error
}

func (e *ErrUnavailable) Error() string { return "store unavailable: " + e.Err.Error() }

func (e *ErrUnavailable) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is a transient store failure.
func IsUnavailable(err error) bool {
	var u *ErrUnavailable
	return errors.As(err, &u)
}

// URLStatus mirrors the urls.status column. The empty string marks a URL that
// has never been dispatched.
type URLStatus string

// URL statuses persisted in urls.status.
const (
	StatusNew        URLStatus = ""
	StatusDispatched URLStatus = "dispatched"
	StatusFetched    URLStatus = "fetched"
	StatusParsing    URLStatus = "parsing"
	StatusParsed     URLStatus = "parsed"
	StatusIndexing   URLStatus = "indexing"
	StatusIndexed    URLStatus = "indexed"
	StatusError      URLStatus = "error"
)

// InFlight reports whether the status marks a claimed, unfinished URL.
func (s URLStatus) InFlight() bool {
	return s == StatusDispatched || s == StatusParsing || s == StatusIndexing
}

// QueueablePredecessor returns the status an in-flight URL reverts to when
// its claim is released.
func (s URLStatus) QueueablePredecessor() URLStatus {
	switch s {
	case StatusDispatched:
		return StatusNew
	case StatusParsing:
		return StatusFetched
	case StatusIndexing:
		return StatusParsed
	default:
		return s
	}
}

// TunebookStatus mirrors the tunebooks.status column.
type TunebookStatus string

// Tunebook statuses persisted in tunebooks.status.
const (
	TunebookNew      TunebookStatus = ""
	TunebookIndexing TunebookStatus = "indexing"
	TunebookIndexed  TunebookStatus = "indexed"
	TunebookError    TunebookStatus = "error"
)

// Host disable reasons persisted in hosts.disabled_reason.
const (
	DisableReasonDNS     = "dns"
	DisableReasonTimeout = "timeout"
	DisableReasonManual  = "manual"
)

// DocumentErased is the tombstone the purger writes over document payloads
// that carried no tunes.
const DocumentErased = "erased"

// MaxRetries is the retry ceiling after which a URL becomes StatusError.
const MaxRetries = 3

// URL models one row of the urls table.
type URL struct {
	ID           int64
	URL          string
	Host         string
	CreatedAt    time.Time
	Status       URLStatus
	Retries      int
	DispatchedAt *time.Time
	DownloadedAt *time.Time
	MimeType     string
	HTTPStatus   *int
	SizeBytes    int64
	Document     []byte
	HasABC       bool
	URLExtension string
	LinkDistance int
}

// Host models one row of the hosts table.
type Host struct {
	Host           string
	LastAccess     *time.Time
	LastHTTPStatus *int
	Downloads      int64
	Disabled       bool
	DisabledReason string
	DisabledAt     *time.Time
}

// Tunebook groups the tunes parsed out of one source URL.
type Tunebook struct {
	ID           int64
	URL          string
	CreatedAt    time.Time
	Status       TunebookStatus
	DispatchedAt *time.Time
}

// Tune is one piece within a tunebook. Header fields map 1:1 onto the ABC
// information fields of the source document.
type Tune struct {
	ID              int64
	TunebookID      int64
	ReferenceNumber string
	Title           string
	Composer        string
	Origin          string
	Area            string
	Meter           string
	UnitNoteLength  string
	Tempo           string
	Parts           string
	Transcription   string
	Notes           string
	Group           string
	History         string
	Key             string
	Rhythm          string
	Book            string
	Discography     string
	Source          string
	Instruction     string
	TuneBody        string
	// Pitches is a comma-separated MIDI pitch sequence.
	Pitches string
	// Intervals is a comma-separated semitone difference vector, written by
	// the indexer.
	Intervals string
	Status    string
}

// FetchErrorKind classifies fetch failures for the retry ladder and host
// policy.
type FetchErrorKind string

// Fetch error kinds reported in results.
const (
	FetchErrNone       FetchErrorKind = ""
	FetchErrTimeout    FetchErrorKind = "timeout"
	FetchErrDNS        FetchErrorKind = "dns"
	FetchErrConnection FetchErrorKind = "connection"
	FetchErrHTTP       FetchErrorKind = "http"
	FetchErrOther      FetchErrorKind = "other"
)

// Transient reports whether the failure should ride the retry ladder rather
// than terminate the URL outright.
func (k FetchErrorKind) Transient() bool {
	switch k {
	case FetchErrTimeout, FetchErrConnection, FetchErrOther, FetchErrDNS:
		return true
	default:
		return false
	}
}

// FetchOutcome is what a fetcher reports for one assignment.
type FetchOutcome struct {
	HTTPStatus  int
	MimeType    string
	SizeBytes   int64
	Body        []byte
	Links       []string
	ErrorKind   FetchErrorKind
	ErrorDetail string
}

// Failed reports whether the outcome rides the failure path: an explicit
// error kind, an HTTP status of 400 or above, or no HTTP status at all.
func (o FetchOutcome) Failed() bool {
	return o.ErrorKind != FetchErrNone || o.HTTPStatus >= 400 || o.HTTPStatus == 0
}

// ParseOutcome is what a parser reports: the tunes found in one document, or
// a failure.
type ParseOutcome struct {
	Tunes       []Tune
	ErrorDetail string
	Failed      bool
}

// ErasableDocument is a parsed, tune-free URL whose payload is still stored.
// The purger archives the payload before overwriting it with the tombstone.
type ErasableDocument struct {
	ID       int64
	URL      string
	Document []byte
}

// IndexOutcome is what an indexer reports for one tunebook claim.
type IndexOutcome struct {
	// IntervalsByTune maps tune id to its comma-separated interval vector.
	IntervalsByTune map[int64]string
	ErrorDetail     string
	Failed          bool
}
