// Package protocol defines the length-framed JSON messages exchanged between
// the dispatcher and its workers over the TCP socket.
//
// Every frame is a 4-byte big-endian payload length followed by a JSON
// envelope {v, type, payload}. A connection carries exactly one worker role,
// declared by the first message, and at most one in-flight assignment.
package protocol

import (
	"github.com/tunedex/tunecrawler/internal/store"
)

// Version is the wire protocol version carried in every envelope.
const Version = 1

// Worker roles declared in HELLO.
const (
	RoleFetcher = "fetcher"
	RoleParser  = "parser"
	RoleIndexer = "indexer"
)

// ValidRole reports whether the HELLO role is one the dispatcher serves.
func ValidRole(role string) bool {
	return role == RoleFetcher || role == RoleParser || role == RoleIndexer
}

// Work kinds carried in ASSIGN.
const (
	KindFetch = "fetch"
	KindParse = "parse"
	KindIndex = "index"
)

// Message type tags.
const (
	TypeHello    = "HELLO"
	TypeRequest  = "REQUEST"
	TypeResult   = "RESULT"
	TypePing     = "PING"
	TypeAssign   = "ASSIGN"
	TypeIdle     = "IDLE"
	TypeShutdown = "SHUTDOWN"
)

// Message is one decoded protocol message.
type Message interface {
	messageType() string
}

// Hello declares the connection's role and worker identity.
type Hello struct {
	Role string `json:"role"`
	ID   string `json:"id"`
}

func (Hello) messageType() string { return TypeHello }

// Request asks for the next assignment.
type Request struct{}

func (Request) messageType() string { return TypeRequest }

// Ping is a keepalive. The dispatcher replies with nothing; it only refreshes
// the connection's last-seen time.
type Ping struct{}

func (Ping) messageType() string { return TypePing }

// TuneRef is one tune handed to an indexer: id plus its pitch sequence.
type TuneRef struct {
	ID      int64  `json:"id"`
	Pitches string `json:"pitches"`
}

// AssignPayload carries the work item. Fetch assignments fill URLID, URL and
// LinkDistance. Parse assignments fill URLID and URL; the parser re-reads the
// document from the store. Index assignments fill TunebookID and Tunes.
type AssignPayload struct {
	URLID        int64     `json:"url_id,omitempty"`
	URL          string    `json:"url,omitempty"`
	LinkDistance int       `json:"link_distance,omitempty"`
	TunebookID   int64     `json:"tunebook_id,omitempty"`
	Tunes        []TuneRef `json:"tunes,omitempty"`
}

// Assign hands one work item to a worker.
type Assign struct {
	AssignmentID string        `json:"assignment_id"`
	Kind         string        `json:"kind"`
	Payload      AssignPayload `json:"payload"`
}

func (Assign) messageType() string { return TypeAssign }

// Outcome is the result payload; exactly one field is set, matching the
// assignment kind.
type Outcome struct {
	Fetch *store.FetchOutcome `json:"fetch,omitempty"`
	Parse *store.ParseOutcome `json:"parse,omitempty"`
	Index *store.IndexOutcome `json:"index,omitempty"`
}

// Result reports the outcome of the most recent assignment on this
// connection.
type Result struct {
	AssignmentID string  `json:"assignment_id"`
	Outcome      Outcome `json:"outcome"`
}

func (Result) messageType() string { return TypeResult }

// Idle tells a worker no eligible work exists right now.
type Idle struct {
	BackoffMs int `json:"backoff_ms"`
}

func (Idle) messageType() string { return TypeIdle }

// Shutdown tells a worker to exit. Terminal for the connection.
type Shutdown struct{}

func (Shutdown) messageType() string { return TypeShutdown }
