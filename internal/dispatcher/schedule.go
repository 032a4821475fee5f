package dispatcher

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/metrics"
	"github.com/tunedex/tunecrawler/internal/protocol"
	"github.com/tunedex/tunecrawler/internal/store"
)

// schedulerLoop serializes every claim and result application. Connection
// goroutines never touch the store directly.
func (d *Dispatcher) schedulerLoop(ctx context.Context) {
	sweep := time.NewTicker(d.cfg.SweepInterval)
	defer sweep.Stop()
	logScan := time.NewTicker(d.cfg.LogScanInterval)
	defer logScan.Stop()

	for {
		select {
		case <-ctx.Done():
			d.drainCommands(ctx)
			return
		case cmd := <-d.commands:
			d.handleCommand(ctx, cmd)
		case <-sweep.C:
			d.runSweep(ctx)
		case <-logScan.C:
			d.runLogScan(ctx)
		}
	}
}

// drainCommands applies results already in the channel so finished work is
// not thrown away on SIGTERM. Requests are answered with SHUTDOWN.
func (d *Dispatcher) drainCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-d.commands:
			if cmd.kind != cmdMessage {
				d.handleCommand(ctx, cmd)
				continue
			}
			switch msg := cmd.msg.(type) {
			case *protocol.Result:
				d.handleResult(context.WithoutCancel(ctx), cmd.c, msg)
			case *protocol.Request:
				if err := cmd.c.send(protocol.Shutdown{}); err != nil {
					cmd.c.close()
				}
			}
		default:
			return
		}
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdRegister:
		d.registerConn(cmd.c)
	case cmdUnregister:
		d.unregisterConn(cmd.c)
	case cmdMessage:
		cmd.c.lastSeen = d.clock.Now()
		switch msg := cmd.msg.(type) {
		case *protocol.Request:
			d.handleRequest(ctx, cmd.c)
		case *protocol.Result:
			d.handleResult(ctx, cmd.c, msg)
		case *protocol.Ping:
			// lastSeen already refreshed.
		default:
			d.logger.Warn("unexpected message from worker",
				zap.String("worker_id", cmd.c.workerID))
		}
	}
}

func (d *Dispatcher) handleRequest(ctx context.Context, c *conn) {
	if c.inflight != nil {
		d.logger.Warn("REQUEST with assignment still in flight",
			zap.String("worker_id", c.workerID),
			zap.String("assignment_id", c.inflight.id))
		d.sendIdle(c)
		return
	}

	var (
		asn *assignment
		msg *protocol.Assign
		err error
	)
	switch c.role {
	case protocol.RoleFetcher:
		asn, msg, err = d.claimFetch(ctx)
	case protocol.RoleParser:
		asn, msg, err = d.claimParse(ctx)
	case protocol.RoleIndexer:
		asn, msg, err = d.claimIndex(ctx)
	}

	switch {
	case errors.Is(err, store.ErrNoWork):
		metrics.ObserveClaim(c.role, "nowork")
		d.sendIdle(c)
		return
	case err != nil:
		metrics.ObserveClaim(c.role, "error")
		d.logger.Error("claim failed", zap.String("role", c.role), zap.Error(err))
		d.sendIdle(c)
		return
	}

	metrics.ObserveClaim(c.role, "claimed")
	asn.startedAt = d.clock.Now()
	if err := c.send(msg); err != nil {
		// The claim stays in the store for the liveness sweep; closing the
		// connection keeps the lost-assignment accounting in one place.
		d.logger.Warn("send ASSIGN failed",
			zap.String("worker_id", c.workerID), zap.Error(err))
		c.inflight = asn
		metrics.AssignmentStarted()
		c.close()
		return
	}
	c.inflight = asn
	metrics.AssignmentStarted()
}

func (d *Dispatcher) claimFetch(ctx context.Context) (*assignment, *protocol.Assign, error) {
	now := d.clock.Now()
	u, err := d.store.ClaimNextFetch(ctx, now, d.cfg.Cooldown, d.cfg.abcExtension())
	if err != nil {
		return nil, nil, err
	}
	asn := &assignment{
		id:       d.newAssignmentID(),
		kind:     protocol.KindFetch,
		urlID:    u.ID,
		url:      u.URL,
		host:     u.Host,
		distance: u.LinkDistance,
	}
	return asn, &protocol.Assign{
		AssignmentID: asn.id,
		Kind:         protocol.KindFetch,
		Payload: protocol.AssignPayload{
			URLID:        u.ID,
			URL:          u.URL,
			LinkDistance: u.LinkDistance,
		},
	}, nil
}

func (d *Dispatcher) claimParse(ctx context.Context) (*assignment, *protocol.Assign, error) {
	u, err := d.store.ClaimNextParse(ctx, d.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	asn := &assignment{
		id:    d.newAssignmentID(),
		kind:  protocol.KindParse,
		urlID: u.ID,
		url:   u.URL,
		host:  u.Host,
	}
	return asn, &protocol.Assign{
		AssignmentID: asn.id,
		Kind:         protocol.KindParse,
		Payload: protocol.AssignPayload{
			URLID: u.ID,
			URL:   u.URL,
		},
	}, nil
}

func (d *Dispatcher) claimIndex(ctx context.Context) (*assignment, *protocol.Assign, error) {
	tb, err := d.store.ClaimNextTunebook(ctx, d.clock.Now())
	if err != nil {
		return nil, nil, err
	}
	tunes, err := d.store.TunesForTunebook(ctx, tb.ID)
	if err != nil {
		return nil, nil, err
	}
	refs := make([]protocol.TuneRef, 0, len(tunes))
	for _, t := range tunes {
		refs = append(refs, protocol.TuneRef{ID: t.ID, Pitches: t.Pitches})
	}
	asn := &assignment{
		id:         d.newAssignmentID(),
		kind:       protocol.KindIndex,
		tunebookID: tb.ID,
		url:        tb.URL,
	}
	return asn, &protocol.Assign{
		AssignmentID: asn.id,
		Kind:         protocol.KindIndex,
		Payload: protocol.AssignPayload{
			TunebookID: tb.ID,
			Tunes:      refs,
		},
	}, nil
}

func (d *Dispatcher) handleResult(ctx context.Context, c *conn, res *protocol.Result) {
	if c.inflight == nil || c.inflight.id != res.AssignmentID {
		d.logger.Warn("RESULT for unknown assignment",
			zap.String("worker_id", c.workerID),
			zap.String("assignment_id", res.AssignmentID))
		return
	}
	asn := c.inflight
	c.inflight = nil
	metrics.AssignmentResolved(asn.kind, d.clock.Now().Sub(asn.startedAt))

	var err error
	switch asn.kind {
	case protocol.KindFetch:
		err = d.applyFetch(ctx, asn, res.Outcome.Fetch)
	case protocol.KindParse:
		err = d.applyParse(ctx, asn, res.Outcome.Parse)
	case protocol.KindIndex:
		err = d.applyIndex(ctx, asn, res.Outcome.Index)
	}
	if err != nil {
		metrics.ObserveResult(asn.kind, "store_error")
		d.logger.Error("apply result failed",
			zap.String("assignment_id", asn.id),
			zap.String("kind", asn.kind),
			zap.Error(err))
	}
}

func (d *Dispatcher) applyFetch(ctx context.Context, asn *assignment, outcome *store.FetchOutcome) error {
	if outcome == nil {
		outcome = &store.FetchOutcome{ErrorKind: store.FetchErrOther, ErrorDetail: "missing fetch outcome"}
	}
	now := d.clock.Now()
	status, err := d.store.ApplyFetchResult(ctx, asn.urlID, *outcome, now, asn.distance)
	if err != nil {
		return err
	}

	if outcome.Failed() {
		metrics.ObserveResult(protocol.KindFetch, string(outcome.ErrorKind))
		d.applyHostPolicy(ctx, asn.host, outcome, now)
		if status == store.StatusError {
			d.publish(ctx, "url.error", map[string]any{
				"url":    asn.url,
				"kind":   string(outcome.ErrorKind),
				"detail": outcome.ErrorDetail,
			})
		}
		return nil
	}

	metrics.ObserveResult(protocol.KindFetch, "ok")
	metrics.ObserveFetchBytes(outcome.SizeBytes)
	d.streaks.RecordOutcome(asn.host)
	return nil
}

// applyHostPolicy reacts to a failed fetch: DNS failures disable the host
// outright (the store already flipped it; this records the event), timeout
// streaks disable it here.
func (d *Dispatcher) applyHostPolicy(ctx context.Context, host string, outcome *store.FetchOutcome, now time.Time) {
	switch outcome.ErrorKind {
	case store.FetchErrDNS:
		d.streaks.RecordOutcome(host)
		metrics.ObserveHostDisabled(store.DisableReasonDNS)
		d.publish(ctx, "host.disabled", map[string]any{
			"host":   host,
			"reason": store.DisableReasonDNS,
		})
	case store.FetchErrTimeout:
		if d.streaks.RecordTimeout(host) {
			if err := d.store.DisableHost(ctx, host, store.DisableReasonTimeout, now); err != nil {
				d.logger.Error("disable host failed",
					zap.String("host", host), zap.Error(err))
				return
			}
			metrics.ObserveHostDisabled(store.DisableReasonTimeout)
			d.publish(ctx, "host.disabled", map[string]any{
				"host":   host,
				"reason": store.DisableReasonTimeout,
			})
		}
	default:
		d.streaks.RecordOutcome(host)
	}
}

func (d *Dispatcher) applyParse(ctx context.Context, asn *assignment, outcome *store.ParseOutcome) error {
	if outcome == nil {
		outcome = &store.ParseOutcome{Failed: true, ErrorDetail: "missing parse outcome"}
	}
	if err := d.store.ApplyParseResult(ctx, asn.urlID, *outcome, d.clock.Now()); err != nil {
		return err
	}
	if outcome.Failed {
		metrics.ObserveResult(protocol.KindParse, "failed")
	} else {
		metrics.ObserveResult(protocol.KindParse, "ok")
	}
	return nil
}

func (d *Dispatcher) applyIndex(ctx context.Context, asn *assignment, outcome *store.IndexOutcome) error {
	if outcome == nil {
		outcome = &store.IndexOutcome{Failed: true, ErrorDetail: "missing index outcome"}
	}
	status, err := d.store.ApplyIndexResult(ctx, asn.tunebookID, *outcome)
	if err != nil {
		return err
	}
	if outcome.Failed {
		metrics.ObserveResult(protocol.KindIndex, "failed")
		return nil
	}
	metrics.ObserveResult(protocol.KindIndex, "ok")
	if status == store.StatusIndexed {
		d.publish(ctx, "url.indexed", map[string]any{"url": asn.url})
	}
	return nil
}

func (d *Dispatcher) sendIdle(c *conn) {
	backoff := d.cfg.IdleBackoffMinMs
	if span := d.cfg.IdleBackoffMaxMs - d.cfg.IdleBackoffMinMs; span > 0 {
		backoff += rand.Intn(span + 1)
	}
	if err := c.send(protocol.Idle{BackoffMs: backoff}); err != nil {
		c.close()
	}
}

func (d *Dispatcher) runSweep(ctx context.Context) {
	released, err := d.store.ReleaseStuck(ctx, d.clock.Now(), d.cfg.InflightTTL)
	if err != nil {
		d.logger.Error("liveness sweep failed", zap.Error(err))
		return
	}
	if released > 0 {
		metrics.ObserveStuckReleased(released)
		d.logger.Warn("liveness sweep released stuck claims",
			zap.Int64("released", released))
	}
}

func (d *Dispatcher) newAssignmentID() string {
	d.nextID++
	return "a-" + strconv.FormatUint(d.nextID, 10)
}
