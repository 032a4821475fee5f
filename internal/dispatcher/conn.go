package dispatcher

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/metrics"
	"github.com/tunedex/tunecrawler/internal/protocol"
)

type cmdKind int

const (
	cmdRegister cmdKind = iota
	cmdUnregister
	cmdMessage
)

type command struct {
	kind cmdKind
	c    *conn
	msg  protocol.Message
}

// assignment tracks the single in-flight work item on one connection.
type assignment struct {
	id         string
	kind       string
	urlID      int64
	url        string
	host       string
	distance   int
	tunebookID int64
	startedAt  time.Time
}

// conn is one worker connection. The scheduler goroutine is the only writer;
// the read loop only reads frames and forwards them as commands.
type conn struct {
	workerID string
	role     string
	codec    *protocol.Codec
	raw      net.Conn
	inflight *assignment
	lastSeen time.Time

	closeOnce sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.raw.Close() //nolint:errcheck // teardown
	})
}

// send writes one message to the worker. Called only from the scheduler
// goroutine.
func (c *conn) send(msg protocol.Message) error {
	return c.codec.Write(msg)
}

// serveConn performs the HELLO handshake, registers the connection with the
// scheduler, and pumps subsequent frames into the command channel.
func (d *Dispatcher) serveConn(ctx context.Context, netConn net.Conn) {
	codec := protocol.NewCodec(netConn)

	first, err := codec.Read()
	if err != nil {
		netConn.Close() //nolint:errcheck // handshake failed
		return
	}
	hello, ok := first.(*protocol.Hello)
	if !ok || !protocol.ValidRole(hello.Role) {
		d.logger.Warn("rejecting connection without valid HELLO",
			zap.String("remote", netConn.RemoteAddr().String()))
		netConn.Close() //nolint:errcheck // protocol violation
		return
	}

	c := &conn{
		workerID: hello.ID,
		role:     hello.Role,
		codec:    codec,
		raw:      netConn,
	}
	d.trackConn(c)
	if !d.dispatchCommand(ctx, command{kind: cmdRegister, c: c}) {
		c.close()
		d.forgetConn(c)
		return
	}

	for {
		msg, err := codec.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				d.logger.Warn("worker read failed",
					zap.String("worker_id", c.workerID), zap.Error(err))
			}
			break
		}
		if !d.dispatchCommand(ctx, command{kind: cmdMessage, c: c, msg: msg}) {
			break
		}
	}

	d.dispatchCommand(ctx, command{kind: cmdUnregister, c: c})
	c.close()
	d.forgetConn(c)
}

func (d *Dispatcher) dispatchCommand(ctx context.Context, cmd command) bool {
	select {
	case d.commands <- cmd:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Dispatcher) registerConn(c *conn) {
	c.lastSeen = d.clock.Now()
	metrics.WorkerConnected(c.role, 1)
	d.logger.Info("worker connected",
		zap.String("role", c.role), zap.String("worker_id", c.workerID))
}

func (d *Dispatcher) unregisterConn(c *conn) {
	metrics.WorkerConnected(c.role, -1)
	if c.inflight != nil {
		// The claim stays dispatched in the store; the liveness sweep
		// reclaims it after the TTL, never immediately.
		metrics.AssignmentAbandoned()
		d.logger.Warn("worker disconnected with assignment in flight",
			zap.String("worker_id", c.workerID),
			zap.String("assignment_id", c.inflight.id))
		c.inflight = nil
	} else {
		d.logger.Info("worker disconnected",
			zap.String("role", c.role), zap.String("worker_id", c.workerID))
	}
}
