package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameBytes caps a single frame's JSON payload. Only fetch results carry a
// document body, so anything larger is a corrupt or hostile peer.
const MaxFrameBytes = 16 << 20

// ErrFrameTooLarge is returned when a peer announces a frame above
// MaxFrameBytes.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Codec reads and writes protocol messages over one connection. It is not
// safe for concurrent use on the same side; callers serialize writes.
type Codec struct {
	r *bufio.Reader
	w *bufio.Writer
}

// NewCodec wraps a stream in a message codec.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{
		r: bufio.NewReader(rw),
		w: bufio.NewWriter(rw),
	}
}

// Write frames and flushes one message.
func (c *Codec) Write(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msg.messageType(), err)
	}
	env, err := json.Marshal(envelope{V: Version, Type: msg.messageType(), Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if len(env) > MaxFrameBytes {
		return ErrFrameTooLarge
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(env)))
	if _, err := c.w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := c.w.Write(env); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}

// Read blocks for the next message and decodes it.
func (c *Codec) Read() (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.V != Version {
		return nil, fmt.Errorf("unsupported protocol version %d", env.V)
	}

	msg, err := decodePayload(env.Type, env.Payload)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decodePayload(typ string, payload json.RawMessage) (Message, error) {
	unmarshal := func(into Message) (Message, error) {
		if len(payload) == 0 {
			return into, nil
		}
		if err := json.Unmarshal(payload, into); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", typ, err)
		}
		return into, nil
	}

	switch typ {
	case TypeHello:
		return unmarshal(&Hello{})
	case TypeRequest:
		return unmarshal(&Request{})
	case TypeResult:
		return unmarshal(&Result{})
	case TypePing:
		return unmarshal(&Ping{})
	case TypeAssign:
		return unmarshal(&Assign{})
	case TypeIdle:
		return unmarshal(&Idle{})
	case TypeShutdown:
		return unmarshal(&Shutdown{})
	default:
		return nil, fmt.Errorf("unknown message type %q", typ)
	}
}
