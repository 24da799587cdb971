package transport

import (
	"context"
	"errors"
	"time"

	"github.com/st-keller/charsync/encode"
)

var (
	// ErrNotConnected is returned by Stream.Send when no socket is open.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned once a channel has been closed.
	ErrClosed = errors.New("channel closed")
)

// FailureClass says why a delivery failed; the engine maps it to a status.
type FailureClass int

const (
	FailureNone         FailureClass = iota
	FailureNetwork                   // no response obtained
	FailureRejected                  // response obtained, not a success
	FailureDisconnected              // no connection to send on
)

func (c FailureClass) String() string {
	switch c {
	case FailureNone:
		return "none"
	case FailureNetwork:
		return "network"
	case FailureRejected:
		return "rejected"
	case FailureDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Send.
type Result struct {
	OK         bool
	StatusCode int // 0 when there was no response (and always 0 for Stream)
	Class      FailureClass
	Err        error
	Latency    time.Duration
}

// Channel delivers one payload at a time. A Channel is owned by a single engine.
type Channel interface {
	Send(ctx context.Context, p *encode.Payload) Result
	// Endpoint identifies the remote for stats and logs.
	Endpoint() string
	Close() error
}

// Connector is implemented by channels that hold a connection open.
type Connector interface {
	Connect(ctx context.Context) error
}

// Reconnector rebuilds a torn-down connection, re-authenticating before any payload.
type Reconnector interface {
	Connector
	Reconnect(ctx context.Context) error
}

func failed(class FailureClass, statusCode int, err error, latency time.Duration) Result {
	return Result{Class: class, StatusCode: statusCode, Err: err, Latency: latency}
}

func delivered(statusCode int, latency time.Duration) Result {
	return Result{OK: true, StatusCode: statusCode, Latency: latency}
}
