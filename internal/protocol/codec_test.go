package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tunedex/tunecrawler/internal/store"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, NewCodec(&buf).Write(msg))

	got, err := NewCodec(&buf).Read()
	require.NoError(t, err)
	return got
}

func TestCodecRoundTripsHello(t *testing.T) {
	t.Parallel()

	got := roundTrip(t, Hello{Role: RoleFetcher, ID: "0190b7a2-worker"})
	hello, ok := got.(*Hello)
	require.True(t, ok, "expected *Hello, got %T", got)
	require.Equal(t, RoleFetcher, hello.Role)
	require.Equal(t, "0190b7a2-worker", hello.ID)
}

func TestCodecRoundTripsAssign(t *testing.T) {
	t.Parallel()

	got := roundTrip(t, Assign{
		AssignmentID: "a-1",
		Kind:         KindFetch,
		Payload: AssignPayload{
			URLID:        42,
			URL:          "http://tunes.example.com/jigs.abc",
			LinkDistance: 2,
		},
	})
	assign, ok := got.(*Assign)
	require.True(t, ok, "expected *Assign, got %T", got)
	require.Equal(t, "a-1", assign.AssignmentID)
	require.Equal(t, KindFetch, assign.Kind)
	require.Equal(t, int64(42), assign.Payload.URLID)
	require.Equal(t, 2, assign.Payload.LinkDistance)
}

func TestCodecRoundTripsResultWithFetchOutcome(t *testing.T) {
	t.Parallel()

	got := roundTrip(t, Result{
		AssignmentID: "a-2",
		Outcome: Outcome{
			Fetch: &store.FetchOutcome{
				HTTPStatus: 200,
				MimeType:   "text/vnd.abc",
				SizeBytes:  128,
				Body:       []byte("X:1\nT:Test\nK:D\nDEF|"),
				Links:      []string{"http://tunes.example.com/reels.abc"},
			},
		},
	})
	result, ok := got.(*Result)
	require.True(t, ok, "expected *Result, got %T", got)
	require.Equal(t, "a-2", result.AssignmentID)
	require.NotNil(t, result.Outcome.Fetch)
	require.Nil(t, result.Outcome.Parse)
	require.Equal(t, 200, result.Outcome.Fetch.HTTPStatus)
	require.Equal(t, []byte("X:1\nT:Test\nK:D\nDEF|"), result.Outcome.Fetch.Body)
}

func TestCodecRoundTripsIndexAssignment(t *testing.T) {
	t.Parallel()

	got := roundTrip(t, Assign{
		AssignmentID: "a-3",
		Kind:         KindIndex,
		Payload: AssignPayload{
			TunebookID: 7,
			Tunes: []TuneRef{
				{ID: 70, Pitches: "60,62,64"},
				{ID: 71, Pitches: "67,69"},
			},
		},
	})
	assign := got.(*Assign)
	require.Equal(t, int64(7), assign.Payload.TunebookID)
	require.Len(t, assign.Payload.Tunes, 2)
	require.Equal(t, "60,62,64", assign.Payload.Tunes[0].Pitches)
}

func TestCodecRoundTripsEmptyMessages(t *testing.T) {
	t.Parallel()

	for _, msg := range []Message{Request{}, Ping{}, Shutdown{}, Idle{BackoffMs: 750}} {
		got := roundTrip(t, msg)
		require.Equal(t, msg.messageType(), got.messageType())
	}
}

func TestCodecRejectsOversizedFrame(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameBytes+1)
	buf.Write(header[:])

	_, err := NewCodec(&buf).Read()
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestCodecRejectsUnknownType(t *testing.T) {
	t.Parallel()

	body, err := json.Marshal(envelope{V: Version, Type: "GOSSIP"})
	require.NoError(t, err)

	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	buf.Write(header[:])
	buf.Write(body)

	_, err = NewCodec(&buf).Read()
	require.ErrorContains(t, err, "unknown message type")
}

func TestCodecRejectsVersionMismatch(t *testing.T) {
	t.Parallel()

	body, err := json.Marshal(envelope{V: 2, Type: TypeRequest})
	require.NoError(t, err)

	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	buf.Write(header[:])
	buf.Write(body)

	_, err = NewCodec(&buf).Read()
	require.ErrorContains(t, err, "unsupported protocol version")
}

func TestCodecReportsEOFOnClosedPeer(t *testing.T) {
	t.Parallel()

	_, err := NewCodec(&bytes.Buffer{}).Read()
	require.ErrorIs(t, err, io.EOF)
}

func TestCodecStreamsMultipleFrames(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewCodec(&buf)
	require.NoError(t, w.Write(Hello{Role: RoleParser, ID: "p-1"}))
	require.NoError(t, w.Write(Request{}))

	r := NewCodec(&buf)
	first, err := r.Read()
	require.NoError(t, err)
	require.IsType(t, &Hello{}, first)

	second, err := r.Read()
	require.NoError(t, err)
	require.IsType(t, &Request{}, second)
}
