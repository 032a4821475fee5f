// Package worker implements the shared runtime every worker role runs on:
// connect to the dispatcher, declare a role, then loop requesting
// assignments and reporting results.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/protocol"
)

// Executor performs one kind of assignment. Implementations live in the
// fetcher, parser and indexer packages.
type Executor interface {
	Role() string
	Execute(ctx context.Context, assign *protocol.Assign) protocol.Outcome
}

// Config controls Worker behavior.
type Config struct {
	Addr         string
	ID           string
	BackoffMax   time.Duration
	PingInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8888"
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
}

// errShutdown marks a SHUTDOWN message from the dispatcher.
var errShutdown = errors.New("dispatcher requested shutdown")

// Worker drives one connection to the dispatcher.
type Worker struct {
	cfg    Config
	exec   Executor
	logger *zap.Logger
}

// New constructs a Worker around an executor.
func New(exec Executor, cfg Config, logger *zap.Logger) *Worker {
	cfg.applyDefaults()
	return &Worker{cfg: cfg, exec: exec, logger: logger}
}

// Run blocks until the context finishes or the dispatcher sends SHUTDOWN.
// Transport errors trigger reconnects with exponential backoff capped at
// BackoffMax. An in-flight assignment is always finished and reported before
// a context cancellation takes effect.
func (w *Worker) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := w.session(ctx)
		switch {
		case errors.Is(err, errShutdown):
			w.logger.Info("dispatcher sent SHUTDOWN, exiting")
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			w.logger.Warn("session ended, reconnecting",
				zap.Duration("backoff", backoff), zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff *= 2
			if backoff > w.cfg.BackoffMax {
				backoff = w.cfg.BackoffMax
			}
		default:
			backoff = time.Second
		}
	}
}

// session runs one connection: HELLO, then the REQUEST/ASSIGN/RESULT loop.
func (w *Worker) session(ctx context.Context) error {
	var dialer net.Dialer
	netConn, err := dialer.DialContext(ctx, "tcp", w.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial dispatcher: %w", err)
	}
	defer netConn.Close() //nolint:errcheck // teardown

	go func() {
		<-ctx.Done()
		// Unblock a pending read; an in-flight Execute below is unaffected.
		netConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)) //nolint:errcheck
	}()

	sc := &sessionConn{codec: protocol.NewCodec(netConn)}
	if err := sc.write(protocol.Hello{Role: w.exec.Role(), ID: w.cfg.ID}); err != nil {
		return err
	}
	w.logger.Info("connected to dispatcher",
		zap.String("addr", w.cfg.Addr), zap.String("role", w.exec.Role()))

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := sc.write(protocol.Request{}); err != nil {
			return err
		}
		msg, err := sc.codec.Read()
		if err != nil {
			return fmt.Errorf("read reply: %w", err)
		}

		switch m := msg.(type) {
		case *protocol.Assign:
			if err := w.handleAssign(ctx, sc, m); err != nil {
				return err
			}
		case *protocol.Idle:
			if !sleepCtx(ctx, time.Duration(m.BackoffMs)*time.Millisecond) {
				return nil
			}
		case *protocol.Shutdown:
			return errShutdown
		default:
			return fmt.Errorf("unexpected message %T from dispatcher", msg)
		}
	}
}

// handleAssign executes the assignment and reports the result. Cancellation
// does not abort the work; executors carry their own deadlines, and the
// result write survives SIGTERM so finished work is never lost.
func (w *Worker) handleAssign(ctx context.Context, sc *sessionConn, assign *protocol.Assign) error {
	w.logger.Debug("assignment received",
		zap.String("assignment_id", assign.AssignmentID),
		zap.String("kind", assign.Kind))

	done := make(chan struct{})
	go w.keepalive(sc, done)
	outcome := w.exec.Execute(context.WithoutCancel(ctx), assign)
	close(done)

	if err := sc.write(protocol.Result{AssignmentID: assign.AssignmentID, Outcome: outcome}); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// keepalive pings the dispatcher while an assignment runs so a slow fetch is
// not mistaken for a dead worker.
func (w *Worker) keepalive(sc *sessionConn, done <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := sc.write(protocol.Ping{}); err != nil {
				return
			}
		}
	}
}

// sessionConn serializes codec writes between the main loop and the
// keepalive goroutine.
type sessionConn struct {
	mu    sync.Mutex
	codec *protocol.Codec
}

func (s *sessionConn) write(msg protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec.Write(msg)
}

// sleepCtx sleeps for d, returning false if the context finished first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
