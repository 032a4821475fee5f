package parserworker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/protocol"
	"github.com/tunedex/tunecrawler/internal/store"
)

type fakeDocs struct {
	body []byte
	url  string
	err  error
}

func (f *fakeDocs) GetDocument(_ context.Context, _ int64) ([]byte, string, error) {
	return f.body, f.url, f.err
}

func assignFor(id int64) *protocol.Assign {
	return &protocol.Assign{
		AssignmentID: "a-1",
		Kind:         protocol.KindParse,
		Payload:      protocol.AssignPayload{URLID: id, URL: "http://example.org/tunes.abc"},
	}
}

func TestExecuteParsesStoredDocument(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{
		body: []byte("X:1\nT:A Reel\nK:D\nCDEF|GABc|\n"),
		url:  "http://example.org/tunes.abc",
	}
	exec := New(docs, zap.NewNop())
	outcome := exec.Execute(context.Background(), assignFor(5))

	require.NotNil(t, outcome.Parse)
	require.False(t, outcome.Parse.Failed)
	require.Len(t, outcome.Parse.Tunes, 1)
	require.Equal(t, "A Reel", outcome.Parse.Tunes[0].Title)
}

func TestExecuteReportsEmptyTunesForNonABC(t *testing.T) {
	t.Parallel()
	docs := &fakeDocs{body: []byte("<html>just a regular page</html>")}
	exec := New(docs, zap.NewNop())
	outcome := exec.Execute(context.Background(), assignFor(6))

	require.NotNil(t, outcome.Parse)
	require.False(t, outcome.Parse.Failed)
	require.Empty(t, outcome.Parse.Tunes)
}

func TestExecuteFailsWhenDocumentMissing(t *testing.T) {
	t.Parallel()
	exec := New(&fakeDocs{err: store.ErrNotFound}, zap.NewNop())
	outcome := exec.Execute(context.Background(), assignFor(7))

	require.NotNil(t, outcome.Parse)
	require.True(t, outcome.Parse.Failed)
	require.Equal(t, "document not found", outcome.Parse.ErrorDetail)
}

func TestExecuteFailsOnErasedDocument(t *testing.T) {
	t.Parallel()
	exec := New(&fakeDocs{body: []byte(store.DocumentErased)}, zap.NewNop())
	outcome := exec.Execute(context.Background(), assignFor(8))

	require.True(t, outcome.Parse.Failed)
}
