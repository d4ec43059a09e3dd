package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"kryptometer/config"
	"kryptometer/internal/channel"
	"kryptometer/internal/metrics"
	"kryptometer/logger"
	"kryptometer/models"
)

// errRateLimited marks a 429/418 response from the feed endpoint. The
// connection is closed and no further requests are sent until an
// explicit Reconnect.
var errRateLimited = errors.New("rate limited by feed endpoint")

// Status is a point-in-time view of the feed connection for the
// dashboard.
type Status struct {
	State     models.FeedState `json:"state"`
	LastError string           `json:"lastError,omitempty"`
}

// StreamReader owns the single persistent connection to the price feed.
// It issues ticker.price requests for the current symbol set, paced by a
// token bucket at the configured per-minute ceiling, and publishes each
// response as a tick batch. Connection failures reconnect up to a
// bounded number of attempts at a fixed interval; a rate-limit or ban
// response is terminal for the connection and requires a manual
// Reconnect.
type StreamReader struct {
	config   *config.Config
	channels *channel.Channels
	log      *logger.Log
	dial     Dialer
	limiter  *rate.Limiter

	mu        sync.RWMutex
	running   bool
	state     models.FeedState
	lastError string
	symbols   []string

	ctx         context.Context
	wg          sync.WaitGroup
	reconnectCh chan struct{}
}

func NewStreamReader(cfg *config.Config, ch *channel.Channels, symbols []string) *StreamReader {
	ceiling := cfg.Feed.RequestsPerMinute
	if ceiling <= 0 {
		ceiling = 60
	}

	r := &StreamReader{
		config:      cfg,
		channels:    ch,
		log:         logger.GetLogger(),
		dial:        NewDialer(cfg.Feed.HandshakeTimeout),
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(ceiling)), 1),
		state:       models.FeedConnecting,
		symbols:     append([]string(nil), symbols...),
		reconnectCh: make(chan struct{}, 1),
	}

	r.log.WithComponent("feed_reader").WithFields(logger.Fields{
		"endpoint":            cfg.Feed.URL,
		"requests_per_minute": ceiling,
		"reconnect_attempts":  cfg.Feed.ReconnectAttempts,
		"reconnect_interval":  cfg.Feed.ReconnectInterval,
	}).Info("feed reader initialized")

	return r
}

// Start launches the connection loop.
func (r *StreamReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("feed reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run()

	r.log.WithComponent("feed_reader").Info("feed reader started")
	return nil
}

// Stop waits for the connection loop to exit. The context passed to
// Start must be cancelled first.
func (r *StreamReader) Stop() {
	r.mu.Lock()
	r.running = false
	if r.state == models.FeedOpen {
		r.state = models.FeedClosing
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.setState(models.FeedClosed, "")
	r.log.WithComponent("feed_reader").Info("feed reader stopped")
}

// SetSymbols swaps the subscribed symbol set without tearing down the
// connection. The next scheduled request uses the updated set.
func (r *StreamReader) SetSymbols(symbols []string) {
	r.mu.Lock()
	r.symbols = append([]string(nil), symbols...)
	r.mu.Unlock()
}

// Reconnect clears a terminal error and triggers a new connection
// attempt cycle. Used after a rate-limit ban or exhausted retries.
func (r *StreamReader) Reconnect() {
	select {
	case r.reconnectCh <- struct{}{}:
	default:
	}
}

// Status reports the connection state and the last surfaced error.
func (r *StreamReader) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{State: r.state, LastError: r.lastError}
}

func (r *StreamReader) setState(state models.FeedState, errMsg string) {
	r.mu.Lock()
	r.state = state
	r.lastError = errMsg
	r.mu.Unlock()
}

func (r *StreamReader) currentSymbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.symbols...)
}

func (r *StreamReader) run() {
	defer r.wg.Done()
	log := r.log.WithComponent("feed_reader").WithFields(logger.Fields{"worker": "connection_loop"})

	attempts := 0
	for {
		if r.ctx.Err() != nil {
			return
		}

		r.setState(models.FeedConnecting, "")
		conn, err := r.dial(r.ctx, r.config.Feed.URL)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			attempts++
			logger.IncrementRetryCount()
			metrics.IncrementFeedReconnect()
			log.WithError(err).WithFields(logger.Fields{
				"attempt":      attempts,
				"max_attempts": r.config.Feed.ReconnectAttempts,
			}).Warn("failed to connect to feed")

			if attempts >= r.config.Feed.ReconnectAttempts {
				msg := fmt.Sprintf("connection failed after %d attempts", attempts)
				r.setState(models.FeedClosed, msg)
				log.Error("reconnect attempts exhausted, waiting for manual reconnect")
				if !r.awaitReconnect() {
					return
				}
				attempts = 0
			} else {
				select {
				case <-time.After(r.config.Feed.ReconnectInterval):
				case <-r.ctx.Done():
					return
				}
			}
			continue
		}

		attempts = 0
		r.setState(models.FeedOpen, "")
		log.Info("feed connection established")

		err = r.session(conn)
		conn.Close()

		if r.ctx.Err() != nil {
			return
		}

		if errors.Is(err, errRateLimited) {
			r.setState(models.FeedClosed, err.Error())
			log.WithError(err).Error("feed connection banned, waiting for manual reconnect")
			if !r.awaitReconnect() {
				return
			}
			continue
		}

		logger.IncrementRetryCount()
		metrics.IncrementFeedReconnect()
		log.WithError(err).Warn("feed connection lost, reconnecting")
		select {
		case <-time.After(r.config.Feed.ReconnectInterval):
		case <-r.ctx.Done():
			return
		}
	}
}

// session drives one connection: a paced request loop plus the read
// loop. Returns when either side fails or the response signals a ban.
func (r *StreamReader) session(conn Conn) error {
	sessionCtx, cancel := context.WithCancel(r.ctx)
	defer cancel()

	writeErr := make(chan error, 1)
	go r.requestLoop(sessionCtx, conn, writeErr)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			// Prefer the write-side error when it caused the close.
			select {
			case werr := <-writeErr:
				return werr
			default:
			}
			return fmt.Errorf("read failed: %w", err)
		}
		if err := r.handleMessage(msg); err != nil {
			return err
		}
	}
}

// requestLoop issues ticker.price requests at the throttled rate. A
// write failure closes the connection, which unblocks the read loop.
func (r *StreamReader) requestLoop(ctx context.Context, conn Conn, writeErr chan<- error) {
	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}

		symbols := r.currentSymbols()
		if len(symbols) == 0 {
			continue
		}

		req := models.TickerRequest{
			ID:     uuid.NewString(),
			Method: "ticker.price",
			Params: models.TickerParams{Symbols: symbols},
		}

		if wt := r.config.Feed.WriteTimeout; wt > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(wt)); err != nil {
				select {
				case writeErr <- fmt.Errorf("set write deadline: %w", err):
				default:
				}
				conn.Close()
				return
			}
		}
		if err := conn.WriteJSON(req); err != nil {
			select {
			case writeErr <- fmt.Errorf("write failed: %w", err):
			default:
			}
			conn.Close()
			return
		}
	}
}

// handleMessage parses one inbound envelope. Result entries are folded
// into a price map, later entries overwriting earlier ones for the same
// symbol, and published as a single batch.
func (r *StreamReader) handleMessage(msg []byte) error {
	log := r.log.WithComponent("feed_reader")

	var resp models.TickerResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		log.WithError(err).Debug("failed to decode feed message")
		return nil
	}

	switch resp.Status {
	case 429, 418:
		metrics.IncrementFeedRateLimited()
		return fmt.Errorf("%w: status %d", errRateLimited, resp.Status)
	}
	if resp.Status != 0 && resp.Status != 200 {
		log.WithFields(logger.Fields{"status": resp.Status, "request_id": resp.ID}).Warn("feed request rejected")
		return nil
	}

	for _, rl := range resp.RateLimits {
		if rl.Limit > 0 && rl.Count >= rl.Limit {
			log.WithFields(logger.Fields{
				"limit_type": rl.RateLimitType,
				"count":      rl.Count,
				"limit":      rl.Limit,
			}).Warn("feed rate limit reached")
		}
	}

	if len(resp.Result) == 0 {
		return nil
	}

	prices := make(map[string]string, len(resp.Result))
	for _, p := range resp.Result {
		prices[p.Symbol] = p.Price
	}
	r.channels.SendTicks(models.TickBatch{Prices: prices, ReceivedAt: time.Now()})
	return nil
}

func (r *StreamReader) awaitReconnect() bool {
	select {
	case <-r.reconnectCh:
		return true
	case <-r.ctx.Done():
		return false
	}
}
