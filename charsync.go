// Package charsync pushes only the changed values of a character stat block to a remote endpoint.
//
// The engine is driven by the caller's own loop and has three parts:
//  1. Field tracking - per-field last-sent values, diffed on every Tick
//  2. Delivery - one payload in flight at a time; overlapping ticks are dropped, not queued
//  3. Retry/status - a failed payload is resent verbatim on the next idle Tick,
//     and the outcome is exposed through Status
//
// Transport is pluggable: ModeRequest posts each payload over HTTP, ModeStream
// writes frames to one authenticated WebSocket.
package charsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/st-keller/charsync/backoff"
	"github.com/st-keller/charsync/connectivity"
	"github.com/st-keller/charsync/encode"
	"github.com/st-keller/charsync/eventlog"
	"github.com/st-keller/charsync/schema"
	"github.com/st-keller/charsync/transport"
	"github.com/st-keller/charsync/types"
)

// MaxReconnectBackoff caps the delay between stream reconnect attempts.
const MaxReconnectBackoff = 59 * time.Second

// Option customizes New.
type Option func(*options)

type options struct {
	channel  transport.Channel
	metadata encode.Metadata
	logs     *eventlog.Recent
	backoff  *backoff.Backoff
}

// WithChannel injects a delivery channel instead of building one from Config.Mode.
func WithChannel(ch transport.Channel) Option {
	return func(o *options) { o.channel = ch }
}

// WithMetadata overrides the metadata appended to every payload.
func WithMetadata(m encode.Metadata) Option {
	return func(o *options) { o.metadata = m }
}

// WithLogs uses an existing event log.
func WithLogs(l *eventlog.Recent) Option {
	return func(o *options) { o.logs = l }
}

// WithReconnectBackoff replaces the reconnect pacing.
func WithReconnectBackoff(b *backoff.Backoff) Option {
	return func(o *options) { o.backoff = b }
}

// Engine observes states of type S and delivers their changes.
type Engine[S types.State] struct {
	config   Config
	tracker  *schema.Tracker[S]
	channel  transport.Channel
	metadata encode.Metadata

	logs         *eventlog.Recent
	connectivity *connectivity.Tracker
	reconnect    *backoff.Backoff

	// Sync state. Tick, the delivery completion, Connect and Close are the only writers.
	mu      sync.Mutex
	status  Status
	sending bool
	pending *encode.Payload // nil = no retry pending
	closed  bool

	inflight sync.WaitGroup
}

// New creates an engine for the schema. Nothing is sent until the first Tick;
// in stream mode call Connect first.
func New[S types.State](config Config, sch *schema.Schema[S], opts ...Option) (*Engine[S], error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if sch == nil {
		return nil, fmt.Errorf("schema required")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.channel == nil {
		ch, err := buildChannel(config)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s channel: %w", config.Mode, err)
		}
		o.channel = ch
	}
	if o.metadata == nil {
		o.metadata = metadataFor(config)
	}
	if o.logs == nil {
		o.logs = eventlog.New(config.LogEntries)
	}
	if o.backoff == nil {
		o.backoff = backoff.New(MaxReconnectBackoff)
	}

	e := &Engine[S]{
		config:       config,
		tracker:      schema.NewTracker(sch),
		channel:      o.channel,
		metadata:     o.metadata,
		logs:         o.logs,
		connectivity: connectivity.NewTracker(),
		reconnect:    o.backoff,
		status:       StatusConnecting,
	}

	e.logs.Info(eventlog.EventStarted, "Sync engine initialized", eventlog.Fields{
		"mode":     config.Mode.String(),
		"endpoint": e.channel.Endpoint(),
		"fields":   sch.Len(),
	})

	return e, nil
}

func buildChannel(config Config) (transport.Channel, error) {
	switch config.Mode {
	case ModeStream:
		tlsConfig, err := transport.LoadTLSConfig(config.tlsFiles())
		if err != nil {
			return nil, err
		}
		return transport.NewStream(config.Endpoint, config.APIKey, transport.StreamOptions{
			HandshakeTimeout: config.HandshakeTimeout,
			WriteTimeout:     config.WriteTimeout,
			TLS:              tlsConfig,
		}), nil
	default:
		client, err := transport.BuildHTTPClient(config.tlsFiles(), config.RequestTimeout)
		if err != nil {
			return nil, err
		}
		return transport.NewRequest(config.Endpoint, client), nil
	}
}

func metadataFor(config Config) encode.Metadata {
	if config.Mode == ModeStream {
		return encode.StreamMetadata()
	}
	return encode.RequestMetadata(config.APIKey)
}

// Connect opens the channel's connection, if it has one.
// On failure the status becomes Disconnected; a later failed Tick retries via reconnect.
func (e *Engine[S]) Connect(ctx context.Context) error {
	conn, ok := e.channel.(transport.Connector)
	if !ok {
		return nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return transport.ErrClosed
	}
	e.mu.Unlock()

	err := conn.Connect(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return transport.ErrClosed
	}
	if err != nil {
		e.reconnect.Failure()
		e.setStatusLocked(StatusDisconnected, eventlog.EventConnectFailed, "connect failed", eventlog.Fields{
			"error": err.Error(),
		})
		return fmt.Errorf("connect %s: %w", e.channel.Endpoint(), err)
	}

	e.reconnect.Success()
	if e.status == StatusDisconnected || e.status == StatusLost {
		e.setStatusLocked(StatusConnecting, eventlog.EventConnected, "connected", eventlog.Fields{
			"endpoint": e.channel.Endpoint(),
		})
	}
	return nil
}

// Tick diffs state and starts a delivery if there is something to send.
// It never blocks on the network and never fails; see Status for the outcome.
// Ticks that arrive while a delivery is in flight are dropped.
func (e *Engine[S]) Tick(state S) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.sending {
		return
	}

	if changes := e.tracker.Diff(state); len(changes) > 0 {
		p, err := encode.Encode(changes, e.metadata(state))
		if err != nil {
			e.logs.Error(eventlog.EventEncodeFailed, "Failed to encode payload", eventlog.Fields{
				"error":   err.Error(),
				"changes": len(changes),
			})
		} else {
			// Fresher state supersedes anything still pending.
			e.pending = p
		}
	}
	if e.pending == nil {
		return
	}
	payload := e.pending

	e.sending = true
	e.inflight.Add(1)
	go e.deliver(payload)
}

// deliver runs one Send and records the outcome. sending is cleared on every path.
func (e *Engine[S]) deliver(payload *encode.Payload) {
	defer e.inflight.Done()
	defer func() {
		e.mu.Lock()
		e.sending = false
		e.mu.Unlock()
	}()

	result := e.channel.Send(context.Background(), payload)

	if result.OK {
		e.connectivity.TrackSuccess(e.channel.Endpoint(), result.Latency)
	} else {
		e.connectivity.TrackFailure(e.channel.Endpoint(), result.Latency, errString(result.Err))
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if result.OK {
		e.pending = nil
		e.reconnect.Success()
		e.setStatusLocked(StatusOk, eventlog.EventDelivered, "payload delivered", eventlog.Fields{
			"bytes":      payload.Len(),
			"latency_ms": result.Latency.Milliseconds(),
		})
		e.mu.Unlock()
		return
	}

	e.setStatusLocked(statusFor(result.Class), eventlog.EventDeliveryFailed, "delivery failed", eventlog.Fields{
		"class":      result.Class.String(),
		"status":     result.StatusCode,
		"error":      errString(result.Err),
		"checksum":   payload.Checksum(),
		"latency_ms": result.Latency.Milliseconds(),
	})
	e.mu.Unlock()

	if result.Class == transport.FailureNetwork || result.Class == transport.FailureDisconnected {
		e.tryReconnect()
	}
}

// tryReconnect rebuilds a stream connection, paced by the backoff.
// Runs inside the delivery goroutine, so no payload can be sent meanwhile.
func (e *Engine[S]) tryReconnect() {
	rc, ok := e.channel.(transport.Reconnector)
	if !ok {
		return
	}
	if !e.reconnect.Ready() {
		e.logs.Debug(eventlog.EventReconnectDeferred, "Reconnect deferred by backoff", eventlog.Fields{
			"endpoint": e.channel.Endpoint(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.reconnectTimeout())
	defer cancel()
	err := rc.Reconnect(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if err != nil {
		delay := e.reconnect.Failure()
		e.setStatusLocked(StatusDisconnected, eventlog.EventReconnectFailed, "reconnect failed", eventlog.Fields{
			"error":    err.Error(),
			"retry_in": delay.String(),
		})
		return
	}

	e.reconnect.Success()
	e.setStatusLocked(StatusConnecting, eventlog.EventReconnected, "reconnected", eventlog.Fields{
		"endpoint": e.channel.Endpoint(),
	})
}

func (e *Engine[S]) reconnectTimeout() time.Duration {
	if e.config.HandshakeTimeout > 0 {
		return e.config.HandshakeTimeout + e.config.WriteTimeout
	}
	return 15 * time.Second
}

// setStatusLocked records a transition. Caller holds mu.
func (e *Engine[S]) setStatusLocked(next Status, event eventlog.Event, reason string, fields eventlog.Fields) {
	prev := e.status
	e.status = next

	fields["from"] = prev.String()
	fields["to"] = next.String()
	switch {
	case next == StatusOk && prev == StatusOk:
		e.logs.Debug(event, reason, fields)
	case next == StatusOk || next == StatusConnecting:
		e.logs.Info(event, reason, fields)
	default:
		e.logs.Warn(event, reason, fields)
	}
}

// Status returns the current status without blocking on delivery.
// After a stream write fails and the reconnect succeeds, it reads Connecting
// while the failed payload is still pending; check Pending to tell the two apart.
func (e *Engine[S]) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Pending reports whether a failed payload is waiting to be resent.
func (e *Engine[S]) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}

// Sending reports whether a delivery is in flight.
func (e *Engine[S]) Sending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sending
}

// Wait blocks until no delivery is in flight.
func (e *Engine[S]) Wait() {
	e.inflight.Wait()
}

// Stats summarizes deliveries over the last hour.
func (e *Engine[S]) Stats() connectivity.Stats {
	return e.connectivity.Stats()
}

// Logs returns the engine's event log.
func (e *Engine[S]) Logs() *eventlog.Recent {
	return e.logs
}

// Close shuts the channel down. It does not wait for, or cancel, an in-flight
// delivery; that delivery no longer changes the status. Idempotent.
func (e *Engine[S]) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.setStatusLocked(StatusDisconnected, eventlog.EventClosed, "sync engine closed", eventlog.Fields{
		"pending": e.pending != nil,
	})
	e.mu.Unlock()

	if err := e.channel.Close(); err != nil {
		return fmt.Errorf("close channel: %w", err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
