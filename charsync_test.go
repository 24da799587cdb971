package charsync

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/st-keller/charsync/backoff"
	"github.com/st-keller/charsync/character"
	"github.com/st-keller/charsync/encode"
	"github.com/st-keller/charsync/eventlog"
	"github.com/st-keller/charsync/schema"
	"github.com/st-keller/charsync/transport"
	"github.com/st-keller/charsync/types"
)

// fakeChannel records payloads and replays scripted results (then succeeds).
type fakeChannel struct {
	mu       sync.Mutex
	sent     []string
	results  []transport.Result
	gate     chan struct{} // when set, Send blocks until it receives
	closed   int
	connects int
}

func (f *fakeChannel) Send(_ context.Context, p *encode.Payload) transport.Result {
	f.mu.Lock()
	f.sent = append(f.sent, p.String())
	gate := f.gate
	var res transport.Result
	if len(f.results) > 0 {
		res = f.results[0]
		f.results = f.results[1:]
	} else {
		res = transport.Result{OK: true, StatusCode: http.StatusOK}
	}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return res
}

func (f *fakeChannel) Endpoint() string { return "fake://sync" }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeChannel) script(results ...transport.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, results...)
}

func (f *fakeChannel) payloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// fakeStream is a fakeChannel that also holds a connection.
type fakeStream struct {
	fakeChannel
	connectErr   error
	reconnectErr error
	reconnects   int
}

func (f *fakeStream) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeStream) Reconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return f.reconnectErr
}

func networkErr() transport.Result {
	return transport.Result{Class: transport.FailureNetwork, Err: errors.New("connection refused")}
}

func rejected(code int) transport.Result {
	return transport.Result{Class: transport.FailureRejected, StatusCode: code, Err: errors.New("rejected")}
}

func testConfig() Config {
	return Config{Endpoint: "https://sync.example/api/character", APIKey: "secret", Mode: ModeRequest}
}

type testStats struct {
	Name      string
	Level     int
	Hitpoints int
	Gold      int
	Time      int64
}

func (s testStats) Identity() string { return s.Name }
func (s testStats) Elapsed() int64   { return s.Time }

func testSchema() *schema.Schema[testStats] {
	return schema.MustNew(
		schema.Track("level", func(s testStats) int { return s.Level }),
		schema.Track("hitpoints", func(s testStats) int { return s.Hitpoints }),
		schema.Track("gold", func(s testStats) int { return s.Gold }),
	)
}

func newTestEngine(t *testing.T, ch transport.Channel, opts ...Option) *Engine[testStats] {
	t.Helper()
	opts = append([]Option{WithChannel(ch), WithLogs(eventlog.New(50).Quiet())}, opts...)
	e, err := New(testConfig(), testSchema(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func tick(e *Engine[testStats], s testStats) {
	e.Tick(s)
	e.Wait()
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{}, testSchema())
	assert.ErrorContains(t, err, "invalid config")

	_, err = New[testStats](testConfig(), nil)
	assert.ErrorContains(t, err, "schema required")
}

func TestNewBuildsChannelForMode(t *testing.T) {
	e, err := New(testConfig(), testSchema(), WithLogs(eventlog.New(10).Quiet()))
	require.NoError(t, err)
	_, ok := e.channel.(*transport.Request)
	assert.True(t, ok)

	cfg := testConfig()
	cfg.Mode = ModeStream
	cfg.Endpoint = "ws://127.0.0.1:1/stream"
	e, err = New(cfg, testSchema(), WithLogs(eventlog.New(10).Quiet()))
	require.NoError(t, err)
	_, ok = e.channel.(*transport.Stream)
	assert.True(t, ok)
}

func TestInitialStatusIsConnecting(t *testing.T) {
	e := newTestEngine(t, &fakeChannel{})
	assert.Equal(t, StatusConnecting, e.Status())
	assert.False(t, e.Pending())
	assert.False(t, e.Sending())
}

func TestScenarioOnlyChangedFieldsAreSent(t *testing.T) {
	ch := &fakeChannel{}
	e := newTestEngine(t, ch)

	tick(e, testStats{Name: "Kashya", Level: 1, Hitpoints: 50, Time: 0})
	tick(e, testStats{Name: "Kashya", Level: 1, Hitpoints: 45, Time: 5000})

	assert.Equal(t, []string{
		`{"level":1,"hitpoints":50,"gold":0,"playtime":0,"apiKey":"secret","name":"Kashya"}`,
		`{"hitpoints":45,"playtime":5,"apiKey":"secret","name":"Kashya"}`,
	}, ch.payloads())
	assert.Equal(t, StatusOk, e.Status())
}

func TestNoChangeIsIdempotent(t *testing.T) {
	ch := &fakeChannel{}
	e := newTestEngine(t, ch)
	st := testStats{Name: "Akara", Level: 3}

	tick(e, st)
	tick(e, st)
	tick(e, st)

	assert.Len(t, ch.payloads(), 1)
}

func TestMinimalDiff(t *testing.T) {
	ch := &fakeChannel{}
	e := newTestEngine(t, ch)

	tick(e, testStats{Level: 1, Hitpoints: 50, Gold: 10})
	tick(e, testStats{Level: 1, Hitpoints: 50, Gold: 25})

	sent := ch.payloads()
	require.Len(t, sent, 2)
	assert.JSONEq(t, `{"gold":25,"playtime":0,"apiKey":"secret","name":""}`, sent[1])
}

func TestAtMostOneInFlight(t *testing.T) {
	ch := &fakeChannel{gate: make(chan struct{})}
	e := newTestEngine(t, ch)

	e.Tick(testStats{Level: 1})
	require.Eventually(t, func() bool { return len(ch.payloads()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, e.Sending())

	// Dropped: a send is outstanding.
	e.Tick(testStats{Level: 2})
	e.Tick(testStats{Level: 3})
	assert.Len(t, ch.payloads(), 1)

	ch.gate <- struct{}{}
	e.Wait()

	assert.False(t, e.Sending())
	assert.Equal(t, StatusOk, e.Status())
	assert.Len(t, ch.payloads(), 1)

	// The dropped ticks never touched the tracker; the next diff catches up.
	ch.mu.Lock()
	ch.gate = nil
	ch.mu.Unlock()
	tick(e, testStats{Level: 3})
	sent := ch.payloads()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1], `"level":3`)
}

func TestScenarioRetryAfterNetworkFailure(t *testing.T) {
	ch := &fakeChannel{}
	ch.script(networkErr())
	e := newTestEngine(t, ch)
	st := testStats{Name: "Gheed", Gold: 100}

	tick(e, st)
	assert.Equal(t, StatusLost, e.Status())
	assert.Equal(t, "lost", e.Status().String())
	assert.True(t, e.Pending())

	tick(e, st)

	sent := ch.payloads()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0], sent[1], "retry must resend the original bytes")
	assert.Equal(t, StatusOk, e.Status())
	assert.False(t, e.Pending())

	// Delivered: nothing left to send.
	tick(e, st)
	assert.Len(t, ch.payloads(), 2)
}

func TestRetryIsVerbatimEvenWhenElapsedMoves(t *testing.T) {
	ch := &fakeChannel{}
	ch.script(networkErr())
	e := newTestEngine(t, ch)

	tick(e, testStats{Gold: 100, Time: 1000})
	tick(e, testStats{Gold: 100, Time: 9000})

	sent := ch.payloads()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0], sent[1])
	assert.Contains(t, sent[1], `"playtime":1`)
}

func TestRetrySupersededByNewData(t *testing.T) {
	ch := &fakeChannel{}
	ch.script(networkErr())
	e := newTestEngine(t, ch)

	tick(e, testStats{Level: 1, Hitpoints: 50})
	tick(e, testStats{Level: 1, Hitpoints: 50, Gold: 7})

	sent := ch.payloads()
	require.Len(t, sent, 2)
	assert.Equal(t, `{"gold":7,"playtime":0,"apiKey":"secret","name":""}`, sent[1])
	assert.Equal(t, StatusOk, e.Status())
	assert.False(t, e.Pending())
}

func TestRejectionIsInvalidAndStillRetried(t *testing.T) {
	ch := &fakeChannel{}
	ch.script(rejected(http.StatusUnauthorized), rejected(http.StatusUnauthorized))
	e := newTestEngine(t, ch)
	st := testStats{Level: 9}

	tick(e, st)
	assert.Equal(t, StatusInvalid, e.Status())

	// Invalid does not heal on its own; each idle tick resends.
	tick(e, st)
	assert.Equal(t, StatusInvalid, e.Status())

	tick(e, st)
	assert.Equal(t, StatusOk, e.Status())
	assert.Len(t, ch.payloads(), 3)
}

func TestIdleTickWithNothingPendingSendsNothing(t *testing.T) {
	ch := &fakeChannel{}
	e := newTestEngine(t, ch)

	tick(e, testStats{})
	tick(e, testStats{})

	assert.Len(t, ch.payloads(), 1)
}

func TestEncodeFailureSendsNothing(t *testing.T) {
	ch := &fakeChannel{}
	e := newTestEngine(t, ch, WithMetadata(func(types.State) []encode.Pair {
		return []encode.Pair{{Key: "bad", Value: make(chan int)}}
	}))

	tick(e, testStats{Level: 1})

	assert.Empty(t, ch.payloads())
	assert.Equal(t, 1, e.Logs().Counts()[eventlog.LevelError])
	assert.Equal(t, 1, e.Logs().Occurrences()[eventlog.EventEncodeFailed])
}

func TestEncodeFailureStillResendsPending(t *testing.T) {
	ch := &fakeChannel{}
	ch.script(networkErr())
	broken := false
	e := newTestEngine(t, ch, WithMetadata(func(types.State) []encode.Pair {
		if broken {
			return []encode.Pair{{Key: "bad", Value: func() {}}}
		}
		return []encode.Pair{{Key: "ok", Value: true}}
	}))

	tick(e, testStats{Gold: 1})
	require.True(t, e.Pending())

	broken = true
	tick(e, testStats{Gold: 2})

	sent := ch.payloads()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0], sent[1])
	assert.Equal(t, StatusOk, e.Status())
	assert.False(t, e.Pending())
}

type lootStats struct {
	Gold      int
	MagicFind float64
}

func (lootStats) Identity() string { return "Atma" }
func (lootStats) Elapsed() int64   { return 0 }

func TestNaNFieldDoesNotStallSync(t *testing.T) {
	sch := schema.MustNew(
		schema.Track("gold", func(s lootStats) int { return s.Gold }),
		schema.Track("mf", func(s lootStats) float64 { return s.MagicFind }),
	)
	ch := &fakeChannel{}
	ch.script(networkErr())
	e, err := New(testConfig(), sch, WithChannel(ch), WithLogs(eventlog.New(20).Quiet()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	step := func(s lootStats) {
		e.Tick(s)
		e.Wait()
	}

	step(lootStats{Gold: 1, MagicFind: 1.5})
	require.Equal(t, StatusLost, e.Status())

	step(lootStats{Gold: 1, MagicFind: math.NaN()})
	step(lootStats{Gold: 2, MagicFind: math.NaN()})
	step(lootStats{Gold: 2, MagicFind: math.NaN()})

	sent := ch.payloads()
	require.Len(t, sent, 3)
	assert.Equal(t, `{"mf":null,"playtime":0,"apiKey":"secret","name":"Atma"}`, sent[1])
	assert.Equal(t, `{"gold":2,"playtime":0,"apiKey":"secret","name":"Atma"}`, sent[2])
	assert.Equal(t, StatusOk, e.Status())
	assert.False(t, e.Pending())
}

func TestStatsFollowDeliveries(t *testing.T) {
	ch := &fakeChannel{}
	ch.script(networkErr())
	e := newTestEngine(t, ch)

	tick(e, testStats{Gold: 1})
	tick(e, testStats{Gold: 1})

	stats := e.Stats()
	require.Len(t, stats.Endpoints, 1)
	assert.Equal(t, "fake://sync", stats.Endpoints[0].URL)
	assert.Equal(t, 2, stats.Endpoints[0].TotalCalls)
	assert.Equal(t, []string{"connection refused"}, stats.Endpoints[0].RecentErrors)
}

func TestCloseIsIdempotentAndStopsTicks(t *testing.T) {
	ch := &fakeChannel{}
	e := newTestEngine(t, ch)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	assert.Equal(t, 1, ch.closed)
	assert.Equal(t, StatusDisconnected, e.Status())

	tick(e, testStats{Level: 1})
	assert.Empty(t, ch.payloads())
}

func TestCloseDoesNotWaitForInFlight(t *testing.T) {
	ch := &fakeChannel{gate: make(chan struct{})}
	e := newTestEngine(t, ch)

	e.Tick(testStats{Level: 1})
	require.Eventually(t, func() bool { return len(ch.payloads()) == 1 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = e.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on in-flight delivery")
	}

	ch.gate <- struct{}{}
	e.Wait()
	assert.Equal(t, StatusDisconnected, e.Status())
}

func TestConnectWithoutConnectorIsNoop(t *testing.T) {
	e := newTestEngine(t, &fakeChannel{})
	require.NoError(t, e.Connect(context.Background()))
	assert.Equal(t, StatusConnecting, e.Status())
}

func TestConnectFailureDisconnects(t *testing.T) {
	ch := &fakeStream{connectErr: errors.New("dial refused")}
	e := newTestEngine(t, ch)

	err := e.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial refused")
	assert.Equal(t, StatusDisconnected, e.Status())

	ch.mu.Lock()
	ch.connectErr = nil
	ch.mu.Unlock()
	require.NoError(t, e.Connect(context.Background()))
	assert.Equal(t, StatusConnecting, e.Status())
}

func TestNetworkFailureOnStreamReconnects(t *testing.T) {
	ch := &fakeStream{}
	ch.script(networkErr())
	e := newTestEngine(t, ch)
	require.NoError(t, e.Connect(context.Background()))

	tick(e, testStats{Gold: 5})

	assert.Equal(t, 1, ch.reconnects)
	assert.Equal(t, StatusConnecting, e.Status())
	assert.True(t, e.Pending())

	tick(e, testStats{Gold: 5})
	sent := ch.payloads()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0], sent[1])
	assert.Equal(t, StatusOk, e.Status())
}

func TestRejectionOnStreamDoesNotReconnect(t *testing.T) {
	ch := &fakeStream{}
	ch.script(rejected(0))
	e := newTestEngine(t, ch)

	tick(e, testStats{Gold: 5})

	assert.Zero(t, ch.reconnects)
	assert.Equal(t, StatusInvalid, e.Status())
}

func TestReconnectIsPacedByBackoff(t *testing.T) {
	now := time.Unix(5000, 0)
	b := backoff.New(time.Minute).WithClock(func() time.Time { return now })

	ch := &fakeStream{}
	ch.reconnectErr = errors.New("still down")
	ch.script(
		transport.Result{Class: transport.FailureDisconnected, Err: transport.ErrNotConnected},
		transport.Result{Class: transport.FailureDisconnected, Err: transport.ErrNotConnected},
		transport.Result{Class: transport.FailureDisconnected, Err: transport.ErrNotConnected},
	)
	e := newTestEngine(t, ch, WithReconnectBackoff(b))
	st := testStats{Gold: 5}

	tick(e, st)
	assert.Equal(t, 1, ch.reconnects)
	assert.Equal(t, StatusDisconnected, e.Status())

	// Within the 1s backoff: payload resent (fails fast), no reconnect.
	tick(e, st)
	assert.Equal(t, 1, ch.reconnects)

	now = now.Add(time.Second)
	tick(e, st)
	assert.Equal(t, 2, ch.reconnects)
	assert.Len(t, ch.payloads(), 3)
}

func TestDeliveryResetsReconnectPacing(t *testing.T) {
	now := time.Unix(5000, 0)
	b := backoff.New(time.Minute).WithClock(func() time.Time { return now })

	ch := &fakeStream{}
	ch.reconnectErr = errors.New("still down")
	ch.script(transport.Result{Class: transport.FailureDisconnected, Err: transport.ErrNotConnected})
	e := newTestEngine(t, ch, WithReconnectBackoff(b))

	tick(e, testStats{Gold: 5})
	require.Equal(t, 1, ch.reconnects)
	require.False(t, b.Ready())

	// The resend succeeds while the clock stands still.
	ch.mu.Lock()
	ch.reconnectErr = nil
	ch.mu.Unlock()
	tick(e, testStats{Gold: 5})
	require.Equal(t, StatusOk, e.Status())
	assert.True(t, b.Ready())

	ch.script(networkErr())
	tick(e, testStats{Gold: 6})

	assert.Equal(t, 2, ch.reconnects)
	assert.Equal(t, StatusConnecting, e.Status())
	assert.True(t, e.Pending())

	entry, ok := e.Logs().Last(eventlog.EventReconnected)
	require.True(t, ok)
	assert.Equal(t, "connecting", entry.Fields["to"])
}

func TestCharacterEngineEndToEndPayload(t *testing.T) {
	ch := &fakeChannel{}
	e, err := New(testConfig(), character.RequestSchema(),
		WithChannel(ch), WithLogs(eventlog.New(10).Quiet()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	c := &character.Character{Name: "Flavie", Level: 12, Gold: 300, Time: 61_000}
	e.Tick(c)
	e.Wait()

	c.Gold = 250
	c.Time = 62_500
	e.Tick(c)
	e.Wait()

	sent := ch.payloads()
	require.Len(t, sent, 2)
	assert.Equal(t, `{"gold":250,"playtime":62,"apiKey":"secret","name":"Flavie"}`, sent[1])
}
