// Package dispatcher implements the pipeline orchestrator: the single writer
// for claim and release transitions, the TCP endpoint workers connect to, and
// the maintenance sweeps that keep the URL state machine healthy.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/hostpolicy"
	"github.com/tunedex/tunecrawler/internal/metrics"
	"github.com/tunedex/tunecrawler/internal/protocol"
	"github.com/tunedex/tunecrawler/internal/store"
)

// Store is the slice of the pipeline store the dispatcher drives.
type Store interface {
	ClaimNextFetch(ctx context.Context, now time.Time, cooldown time.Duration, abcExt string) (*store.URL, error)
	ClaimNextParse(ctx context.Context, now time.Time) (*store.URL, error)
	ClaimNextTunebook(ctx context.Context, now time.Time) (*store.Tunebook, error)
	TunesForTunebook(ctx context.Context, tunebookID int64) ([]store.Tune, error)
	ApplyFetchResult(ctx context.Context, id int64, outcome store.FetchOutcome, now time.Time, linkDistance int) (store.URLStatus, error)
	ApplyParseResult(ctx context.Context, id int64, outcome store.ParseOutcome, now time.Time) error
	ApplyIndexResult(ctx context.Context, tunebookID int64, outcome store.IndexOutcome) (store.URLStatus, error)
	DisableHost(ctx context.Context, host, reason string, now time.Time) error
	ReleaseStuck(ctx context.Context, now time.Time, ttl time.Duration) (int64, error)
	ResetOnStartup(ctx context.Context) (int64, error)
}

// Publisher pushes pipeline events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Config controls Dispatcher behavior.
type Config struct {
	Addr             string
	Cooldown         time.Duration
	InflightTTL      time.Duration
	SweepInterval    time.Duration
	LogScanInterval  time.Duration
	LogScanPath      string
	ABCPriorityExt   string
	TimeoutStreak    int
	IdleBackoffMinMs int
	IdleBackoffMaxMs int
	Topic            string
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8888"
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.InflightTTL <= 0 {
		c.InflightTTL = 120 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 20 * time.Second
	}
	if c.LogScanInterval <= 0 {
		c.LogScanInterval = 60 * time.Second
	}
	if c.ABCPriorityExt == "" {
		c.ABCPriorityExt = ".abc"
	}
	if c.TimeoutStreak <= 0 {
		c.TimeoutStreak = hostpolicy.DefaultBlockStreak
	}
	if c.IdleBackoffMinMs <= 0 {
		c.IdleBackoffMinMs = 500
	}
	if c.IdleBackoffMaxMs < c.IdleBackoffMinMs {
		c.IdleBackoffMaxMs = 2000
	}
}

// abcExtension strips the leading dot the config carries; the store compares
// against the bare extension column.
func (c Config) abcExtension() string {
	return strings.TrimPrefix(c.ABCPriorityExt, ".")
}

// Dispatcher owns the scheduler loop and the worker socket.
type Dispatcher struct {
	cfg     Config
	store   Store
	pub     Publisher
	clock   Clock
	streaks *hostpolicy.StreakTracker
	scanner *logScanner
	logger  *zap.Logger

	commands chan command
	nextID   uint64

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// New constructs a Dispatcher. The publisher may be nil when no topic is
// configured.
func New(st Store, pub Publisher, clock Clock, cfg Config, logger *zap.Logger) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		cfg:      cfg,
		store:    st,
		pub:      pub,
		clock:    clock,
		streaks:  hostpolicy.NewStreakTracker(cfg.TimeoutStreak),
		scanner:  newLogScanner(cfg.LogScanPath),
		logger:   logger,
		commands: make(chan command, 64),
		conns:    make(map[*conn]struct{}),
	}
}

// Run recovers stale claims, opens the worker socket, and blocks in the
// scheduler loop until the context finishes. On shutdown the listener closes,
// every connected worker receives SHUTDOWN, and pending results are drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	released, err := d.store.ResetOnStartup(ctx)
	if err != nil {
		return fmt.Errorf("reset on startup: %w", err)
	}
	if released > 0 {
		d.logger.Info("recovered stale claims on startup", zap.Int64("released", released))
	}

	ln, err := net.Listen("tcp", d.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.cfg.Addr, err)
	}
	d.logger.Info("dispatcher listening", zap.String("addr", ln.Addr().String()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.acceptLoop(ctx, ln)
	}()

	d.schedulerLoop(ctx)

	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		d.logger.Warn("close listener", zap.Error(err))
	}
	d.shutdownConns()
	wg.Wait()
	return nil
}

func (d *Dispatcher) acceptLoop(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		ln.Close() //nolint:errcheck // unblocks Accept
	}()
	for {
		netConn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			d.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		go d.serveConn(ctx, netConn)
	}
}

func (d *Dispatcher) shutdownConns() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.conns {
		c.raw.SetWriteDeadline(time.Now().Add(time.Second)) //nolint:errcheck
		_ = c.send(protocol.Shutdown{})
		c.close()
	}
	d.conns = map[*conn]struct{}{}
}

func (d *Dispatcher) trackConn(c *conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[c] = struct{}{}
}

func (d *Dispatcher) forgetConn(c *conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conns, c)
}

func (d *Dispatcher) publish(ctx context.Context, event string, fields map[string]any) {
	if d.pub == nil || d.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"event": event,
		"ts":    d.clock.Now().Format(time.RFC3339),
	}
	for k, v := range fields {
		payload[k] = v
	}
	if _, err := d.pub.Publish(ctx, d.cfg.Topic, payload); err != nil {
		d.logger.Warn("publish event failed", zap.String("event", event), zap.Error(err))
	}
}

// DisableHostManually flips a host off on operator request and records the
// event. Exposed to the supervisor API.
func (d *Dispatcher) DisableHostManually(ctx context.Context, host string) error {
	now := d.clock.Now()
	if err := d.store.DisableHost(ctx, host, store.DisableReasonManual, now); err != nil {
		return fmt.Errorf("disable host %s: %w", host, err)
	}
	metrics.ObserveHostDisabled(store.DisableReasonManual)
	d.publish(ctx, "host.disabled", map[string]any{"host": host, "reason": store.DisableReasonManual})
	return nil
}
