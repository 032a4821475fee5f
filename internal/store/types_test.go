package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestURLStatusInFlight(t *testing.T) {
	t.Parallel()
	inFlight := []URLStatus{StatusDispatched, StatusParsing, StatusIndexing}
	for _, s := range inFlight {
		require.True(t, s.InFlight(), string(s))
	}
	settled := []URLStatus{StatusNew, StatusFetched, StatusParsed, StatusIndexed, StatusError}
	for _, s := range settled {
		require.False(t, s.InFlight(), string(s))
	}
}

func TestQueueablePredecessor(t *testing.T) {
	t.Parallel()
	cases := map[URLStatus]URLStatus{
		StatusDispatched: StatusNew,
		StatusParsing:    StatusFetched,
		StatusIndexing:   StatusParsed,
		StatusFetched:    StatusFetched,
		StatusError:      StatusError,
	}
	for from, want := range cases {
		require.Equal(t, want, from.QueueablePredecessor(), string(from))
	}
}

func TestFetchErrorKindTransient(t *testing.T) {
	t.Parallel()
	require.True(t, FetchErrTimeout.Transient())
	require.True(t, FetchErrConnection.Transient())
	require.True(t, FetchErrDNS.Transient())
	require.True(t, FetchErrOther.Transient())
	require.False(t, FetchErrHTTP.Transient())
	require.False(t, FetchErrNone.Transient())
}

func TestFetchOutcomeFailed(t *testing.T) {
	t.Parallel()
	require.True(t, FetchOutcome{}.Failed())
	require.True(t, FetchOutcome{HTTPStatus: 404}.Failed())
	require.True(t, FetchOutcome{HTTPStatus: 200, ErrorKind: FetchErrTimeout}.Failed())
	require.False(t, FetchOutcome{HTTPStatus: 200}.Failed())
	require.False(t, FetchOutcome{HTTPStatus: 301}.Failed())
}

func TestIsUnavailable(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection reset")
	err := &ErrUnavailable{Err: cause}
	require.True(t, IsUnavailable(err))
	require.True(t, IsUnavailable(fmt.Errorf("claim: %w", err)))
	require.ErrorIs(t, err, cause)
	require.False(t, IsUnavailable(cause))
	require.False(t, IsUnavailable(ErrNoWork))
}
