package worker

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/protocol"
	"github.com/tunedex/tunecrawler/internal/store"
)

// scriptedDispatcher accepts worker connections and replies to each REQUEST
// with the next scripted message. Results and hellos are recorded for
// assertions.
type scriptedDispatcher struct {
	t        *testing.T
	listener net.Listener

	mu      sync.Mutex
	script  []protocol.Message
	hellos  []protocol.Hello
	results []protocol.Result
	accepts int
	drops   int
}

func newScriptedDispatcher(t *testing.T, script ...protocol.Message) *scriptedDispatcher {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &scriptedDispatcher{t: t, listener: ln, script: script}
	t.Cleanup(func() { ln.Close() }) //nolint:errcheck // teardown
	go s.acceptLoop()
	return s
}

func (s *scriptedDispatcher) addr() string { return s.listener.Addr().String() }

func (s *scriptedDispatcher) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepts++
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *scriptedDispatcher) serve(conn net.Conn) {
	defer func() {
		conn.Close() //nolint:errcheck // teardown
		s.mu.Lock()
		s.drops++
		s.mu.Unlock()
	}()
	codec := protocol.NewCodec(conn)

	first, err := codec.Read()
	if err != nil {
		return
	}
	hello, ok := first.(*protocol.Hello)
	if !ok {
		return
	}
	s.mu.Lock()
	s.hellos = append(s.hellos, *hello)
	s.mu.Unlock()

	for {
		msg, err := codec.Read()
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case *protocol.Request:
			reply := s.nextReply()
			if reply == nil {
				// Script exhausted; drop the connection to force a
				// reconnect in the worker.
				return
			}
			if err := codec.Write(reply); err != nil {
				return
			}
		case *protocol.Result:
			s.mu.Lock()
			s.results = append(s.results, *m)
			s.mu.Unlock()
		case *protocol.Ping:
		}
	}
}

func (s *scriptedDispatcher) nextReply() protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) == 0 {
		return nil
	}
	reply := s.script[0]
	s.script = s.script[1:]
	return reply
}

func (s *scriptedDispatcher) recordedResults() []protocol.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Result(nil), s.results...)
}

func (s *scriptedDispatcher) recordedHellos() []protocol.Hello {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Hello(nil), s.hellos...)
}

func (s *scriptedDispatcher) acceptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepts
}

func (s *scriptedDispatcher) dropCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}

func (s *scriptedDispatcher) extendScript(msgs ...protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, msgs...)
}

// fakeExecutor records the assignments it receives and returns canned
// fetch outcomes.
type fakeExecutor struct {
	mu       sync.Mutex
	executed []protocol.Assign
	block    chan struct{}
}

func (e *fakeExecutor) Role() string { return protocol.RoleFetcher }

func (e *fakeExecutor) Execute(_ context.Context, assign *protocol.Assign) protocol.Outcome {
	e.mu.Lock()
	e.executed = append(e.executed, *assign)
	e.mu.Unlock()
	if e.block != nil {
		<-e.block
	}
	return protocol.Outcome{Fetch: &store.FetchOutcome{HTTPStatus: 200, SizeBytes: 64}}
}

func (e *fakeExecutor) executedAssigns() []protocol.Assign {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]protocol.Assign(nil), e.executed...)
}

func runWorker(t *testing.T, exec Executor, cfg Config) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := New(exec, cfg, zap.NewNop())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errc
}

func waitDone(t *testing.T, errc <-chan error) {
	t.Helper()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop in time")
	}
}

func TestWorkerExecutesAssignmentAndReportsResult(t *testing.T) {
	t.Parallel()
	disp := newScriptedDispatcher(t,
		protocol.Assign{
			AssignmentID: "a-1",
			Kind:         protocol.KindFetch,
			Payload:      protocol.AssignPayload{URLID: 7, URL: "http://example.org/tunes.abc"},
		},
		protocol.Shutdown{},
	)
	exec := &fakeExecutor{}
	_, errc := runWorker(t, exec, Config{Addr: disp.addr(), ID: "w-1"})
	waitDone(t, errc)

	executed := exec.executedAssigns()
	require.Len(t, executed, 1)
	require.Equal(t, "a-1", executed[0].AssignmentID)
	require.Equal(t, int64(7), executed[0].Payload.URLID)

	results := disp.recordedResults()
	require.Len(t, results, 1)
	require.Equal(t, "a-1", results[0].AssignmentID)
	require.NotNil(t, results[0].Outcome.Fetch)
	require.Equal(t, 200, results[0].Outcome.Fetch.HTTPStatus)
}

func TestWorkerSendsHelloWithRoleAndID(t *testing.T) {
	t.Parallel()
	disp := newScriptedDispatcher(t, protocol.Shutdown{})
	_, errc := runWorker(t, &fakeExecutor{}, Config{Addr: disp.addr(), ID: "fetcher-42"})
	waitDone(t, errc)

	hellos := disp.recordedHellos()
	require.Len(t, hellos, 1)
	require.Equal(t, protocol.RoleFetcher, hellos[0].Role)
	require.Equal(t, "fetcher-42", hellos[0].ID)
}

func TestWorkerHonorsIdleBackoff(t *testing.T) {
	t.Parallel()
	disp := newScriptedDispatcher(t,
		protocol.Idle{BackoffMs: 150},
		protocol.Shutdown{},
	)
	_, errc := runWorker(t, &fakeExecutor{}, Config{Addr: disp.addr(), ID: "w-1"})

	start := time.Now()
	waitDone(t, errc)
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestWorkerStopsOnShutdown(t *testing.T) {
	t.Parallel()
	disp := newScriptedDispatcher(t, protocol.Shutdown{})
	_, errc := runWorker(t, &fakeExecutor{}, Config{Addr: disp.addr(), ID: "w-1"})
	waitDone(t, errc)
	require.Equal(t, 1, disp.acceptCount())
}

func TestWorkerReconnectsAfterConnectionDrop(t *testing.T) {
	t.Parallel()
	// First session ends when the script runs dry; the worker must dial
	// again and run the remaining script to completion.
	disp := newScriptedDispatcher(t,
		protocol.Idle{BackoffMs: 10},
		// Script exhausted here drops the first connection.
	)
	exec := &fakeExecutor{}
	_, errc := runWorker(t, exec, Config{Addr: disp.addr(), ID: "w-1", BackoffMax: 2 * time.Second})

	require.Eventually(t, func() bool { return disp.dropCount() >= 1 }, 2*time.Second, 10*time.Millisecond)
	disp.extendScript(
		protocol.Assign{AssignmentID: "a-2", Kind: protocol.KindFetch, Payload: protocol.AssignPayload{URLID: 9}},
		protocol.Shutdown{},
	)

	waitDone(t, errc)
	require.GreaterOrEqual(t, disp.acceptCount(), 2)
	require.Len(t, exec.executedAssigns(), 1)
	require.Len(t, disp.recordedResults(), 1)
}

func TestWorkerFinishesInFlightWorkOnCancel(t *testing.T) {
	t.Parallel()
	disp := newScriptedDispatcher(t,
		protocol.Assign{AssignmentID: "a-3", Kind: protocol.KindFetch, Payload: protocol.AssignPayload{URLID: 3}},
		protocol.Shutdown{},
	)
	exec := &fakeExecutor{block: make(chan struct{})}
	cancel, errc := runWorker(t, exec, Config{Addr: disp.addr(), ID: "w-1"})

	require.Eventually(t, func() bool { return len(exec.executedAssigns()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	close(exec.block)

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop in time")
	}
	// The fake dispatcher records the RESULT on its own goroutine; wait for it.
	require.Eventually(t, func() bool { return len(disp.recordedResults()) >= 1 }, 2*time.Second, 10*time.Millisecond)
	results := disp.recordedResults()
	require.Len(t, results, 1)
	require.Equal(t, "a-3", results[0].AssignmentID)
}

func TestWorkerStopsWhenContextCancelledWhileIdle(t *testing.T) {
	t.Parallel()
	disp := newScriptedDispatcher(t, protocol.Idle{BackoffMs: 60_000})
	cancel, errc := runWorker(t, &fakeExecutor{}, Config{Addr: disp.addr(), ID: "w-1"})

	require.Eventually(t, func() bool { return disp.acceptCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	waitDone(t, errc)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	cfg.applyDefaults()
	require.Equal(t, "127.0.0.1:8888", cfg.Addr)
	require.Equal(t, 30*time.Second, cfg.BackoffMax)
	require.Equal(t, 15*time.Second, cfg.PingInterval)
}
