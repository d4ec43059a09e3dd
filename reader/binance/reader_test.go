package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"kryptometer/config"
	"kryptometer/internal/channel"
	"kryptometer/models"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Feed.URL = "wss://example.test/ws"
	cfg.Feed.RequestsPerMinute = 6000
	cfg.Feed.ReconnectAttempts = 2
	cfg.Feed.ReconnectInterval = 10 * time.Millisecond
	cfg.Feed.WriteTimeout = time.Second
	return cfg
}

// fakeConn feeds scripted inbound messages and records outbound ones.
type fakeConn struct {
	inbound  chan []byte
	outbound chan models.TickerRequest
	closed   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan []byte, 16),
		outbound: make(chan models.TickerRequest, 16),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg, ok := <-c.inbound:
		if !ok {
			return 0, nil, errors.New("connection reset")
		}
		return 1, msg, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	req, ok := v.(models.TickerRequest)
	if !ok {
		return fmt.Errorf("unexpected outbound type %T", v)
	}
	select {
	case c.outbound <- req:
	default:
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

// stampedConn records the wall-clock time of every outbound write.
type stampedConn struct {
	*fakeConn
	writes chan time.Time
}

func (c *stampedConn) WriteJSON(v interface{}) error {
	select {
	case c.writes <- time.Now():
	default:
	}
	return c.fakeConn.WriteJSON(v)
}

// deadlineErrConn fails every SetWriteDeadline call.
type deadlineErrConn struct {
	*fakeConn
}

func (c *deadlineErrConn) SetWriteDeadline(time.Time) error {
	return errors.New("deadline not supported")
}

func response(status int, pairs ...[2]string) []byte {
	resp := models.TickerResponse{ID: "req-1", Status: status}
	for _, p := range pairs {
		resp.Result = append(resp.Result, models.SymbolPrice{Symbol: p[0], Price: p[1]})
	}
	data, _ := json.Marshal(resp)
	return data
}

func TestHandleMessageFoldsLaterEntries(t *testing.T) {
	ch := channel.NewChannels(1, 4, 1)
	r := NewStreamReader(testConfig(), ch, []string{"BTCUSDT"})
	r.ctx = context.Background()

	msg := response(200, [2]string{"BTCUSDT", "50000"}, [2]string{"ETHUSDT", "1900"}, [2]string{"BTCUSDT", "50001"})
	if err := r.handleMessage(msg); err != nil {
		t.Fatalf("handleMessage failed: %v", err)
	}

	batch := <-ch.Ticks
	if batch.Prices["BTCUSDT"] != "50001" {
		t.Errorf("expected later entry to win, got %s", batch.Prices["BTCUSDT"])
	}
	if batch.Prices["ETHUSDT"] != "1900" {
		t.Errorf("unexpected ETHUSDT price: %s", batch.Prices["ETHUSDT"])
	}
}

func TestHandleMessageRateLimitIsTerminal(t *testing.T) {
	ch := channel.NewChannels(1, 1, 1)
	r := NewStreamReader(testConfig(), ch, []string{"BTCUSDT"})
	r.ctx = context.Background()

	for _, status := range []int{429, 418} {
		if err := r.handleMessage(response(status)); !errors.Is(err, errRateLimited) {
			t.Errorf("status %d: expected errRateLimited, got %v", status, err)
		}
	}
}

func TestHandleMessageIgnoresRejectionsAndGarbage(t *testing.T) {
	ch := channel.NewChannels(1, 1, 1)
	r := NewStreamReader(testConfig(), ch, []string{"BTCUSDT"})
	r.ctx = context.Background()

	if err := r.handleMessage(response(400)); err != nil {
		t.Errorf("rejection should not kill the session: %v", err)
	}
	if err := r.handleMessage([]byte("not json")); err != nil {
		t.Errorf("garbage should not kill the session: %v", err)
	}
	if len(ch.Ticks) != 0 {
		t.Error("no batch should have been published")
	}
}

func TestSessionRequestsUseUpdatedSymbols(t *testing.T) {
	ch := channel.NewChannels(1, 4, 1)
	cfg := testConfig()
	r := NewStreamReader(cfg, ch, []string{"BTCUSDT"})

	conn := newFakeConn()
	r.dial = func(ctx context.Context, url string) (Conn, error) {
		return conn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	first := <-conn.outbound
	if len(first.Params.Symbols) != 1 || first.Params.Symbols[0] != "BTCUSDT" {
		t.Fatalf("unexpected first request: %v", first.Params.Symbols)
	}
	if first.Method != "ticker.price" {
		t.Errorf("unexpected method %q", first.Method)
	}
	if first.ID == "" {
		t.Error("request id missing")
	}

	r.SetSymbols([]string{"BTCUSDT", "ETHUSDT"})

	deadline := time.After(2 * time.Second)
	for {
		var req models.TickerRequest
		select {
		case req = <-conn.outbound:
		case <-deadline:
			t.Fatal("request with updated symbols never sent")
		}
		if len(req.Params.Symbols) == 2 {
			break
		}
	}

	cancel()
	conn.Close()
	r.Stop()
}

func TestRequestPacingHonorsCeiling(t *testing.T) {
	ch := channel.NewChannels(1, 4, 1)
	cfg := testConfig()
	cfg.Feed.RequestsPerMinute = 600 // one request per 100ms

	r := NewStreamReader(cfg, ch, []string{"BTCUSDT"})

	conn := &stampedConn{fakeConn: newFakeConn(), writes: make(chan time.Time, 16)}
	r.dial = func(ctx context.Context, url string) (Conn, error) {
		return conn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var stamps [2]time.Time
	for i := range stamps {
		select {
		case stamps[i] = <-conn.writes:
		case <-time.After(2 * time.Second):
			t.Fatalf("request %d never sent", i+1)
		}
	}

	// The first token is available immediately; the second only after
	// the full refill interval, so consecutive sends keep their spacing.
	if gap := stamps[1].Sub(stamps[0]); gap < 80*time.Millisecond {
		t.Fatalf("consecutive requests %v apart, want at least ~100ms", gap)
	}

	cancel()
	conn.Close()
	r.Stop()
}

func TestRequestLoopSurfacesDeadlineFailure(t *testing.T) {
	ch := channel.NewChannels(1, 1, 1)
	r := NewStreamReader(testConfig(), ch, []string{"BTCUSDT"})

	conn := &deadlineErrConn{fakeConn: newFakeConn()}
	writeErr := make(chan error, 1)

	// Returns after the first failed send attempt.
	r.requestLoop(context.Background(), conn, writeErr)

	select {
	case err := <-writeErr:
		if err == nil {
			t.Fatal("expected deadline error")
		}
	default:
		t.Fatal("deadline failure not surfaced")
	}

	select {
	case <-conn.closed:
	default:
		t.Error("connection left open after deadline failure")
	}
}

func TestRunExhaustsAttemptsThenWaitsForReconnect(t *testing.T) {
	ch := channel.NewChannels(1, 1, 1)
	cfg := testConfig()
	r := NewStreamReader(cfg, ch, []string{"BTCUSDT"})

	dials := make(chan struct{}, 16)
	r.dial = func(ctx context.Context, url string) (Conn, error) {
		dials <- struct{}{}
		return nil, errors.New("connection refused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Two attempts, then the reader parks with a terminal error.
	<-dials
	<-dials

	deadline := time.After(2 * time.Second)
	for {
		st := r.Status()
		if st.State == models.FeedClosed && st.LastError != "" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("reader never surfaced terminal error, status %+v", r.Status())
		case <-time.After(5 * time.Millisecond):
		}
	}

	// A manual reconnect starts a fresh attempt cycle.
	r.Reconnect()
	select {
	case <-dials:
	case <-time.After(2 * time.Second):
		t.Fatal("manual reconnect did not trigger a new dial")
	}

	cancel()
	r.Stop()
}

func TestBanParksConnectionUntilReconnect(t *testing.T) {
	ch := channel.NewChannels(1, 1, 1)
	cfg := testConfig()
	r := NewStreamReader(cfg, ch, []string{"BTCUSDT"})

	conns := make(chan *fakeConn, 4)
	r.dial = func(ctx context.Context, url string) (Conn, error) {
		c := newFakeConn()
		c.inbound <- response(429)
		conns <- c
		return c, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	<-conns
	deadline := time.After(2 * time.Second)
	for {
		st := r.Status()
		if st.State == models.FeedClosed && st.LastError != "" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("ban never surfaced, status %+v", r.Status())
		case <-time.After(5 * time.Millisecond):
		}
	}

	// No automatic redial while banned.
	select {
	case <-conns:
		t.Fatal("reader reconnected on its own after a ban")
	case <-time.After(50 * time.Millisecond):
	}

	r.Reconnect()
	select {
	case <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("manual reconnect did not trigger a new dial")
	}

	cancel()
	r.Stop()
}
