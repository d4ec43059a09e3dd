package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"kryptometer/config"
	"kryptometer/internal/channel"
	"kryptometer/logger"
	"kryptometer/models"
)

// SnapshotReader fetches 24h ticker statistics for a symbol set. Each
// Load is a one-shot fetch; the result is delivered as an event on the
// snapshot channel together with the generation it was issued for, so
// the engine can discard results that were superseded by a registry
// change.
type SnapshotReader struct {
	config      *config.Config
	client      *binance.Client
	channels    *channel.Channels
	log         *logger.Log
	wg          sync.WaitGroup
	weightLimit int64
}

func NewSnapshotReader(cfg *config.Config, ch *channel.Channels) *SnapshotReader {
	log := logger.GetLogger()

	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: cfg.Snapshot.Timeout,
	}

	client := binance.NewClient("", "")
	client.HTTPClient = httpClient
	client.SetApiEndpoint(cfg.Snapshot.URL)

	log.WithComponent("snapshot_reader").WithFields(logger.Fields{
		"endpoint": cfg.Snapshot.URL,
		"timeout":  cfg.Snapshot.Timeout,
	}).Info("snapshot reader initialized")

	return &SnapshotReader{
		config:   cfg,
		client:   client,
		channels: ch,
		log:      log,
	}
}

// Start discovers the exchange's REQUEST_WEIGHT ceiling so subsequent
// loads can report how much of it they consume.
func (sr *SnapshotReader) Start(ctx context.Context) {
	log := sr.log.WithComponent("snapshot_reader")

	if limit, err := fetchRequestWeightLimit(ctx, sr.client); err == nil {
		sr.weightLimit = limit
		log.WithFields(logger.Fields{"weight_limit": limit}).Info("discovered request weight limit")
	} else {
		log.WithError(err).Warn("failed to fetch request weight limit")
	}
}

// Stop waits for any in-flight load to finish.
func (sr *SnapshotReader) Stop() {
	sr.wg.Wait()
	sr.log.WithComponent("snapshot_reader").Info("snapshot reader stopped")
}

// Load fetches statistics for the symbol set in the background and
// delivers the outcome, success or failure, on the snapshot channel.
func (sr *SnapshotReader) Load(ctx context.Context, generation uint64, symbols []string) {
	sr.wg.Add(1)
	go func() {
		defer sr.wg.Done()

		stats, err := sr.fetch(ctx, symbols)
		result := models.SnapshotResult{Generation: generation, Stats: stats, Err: err}
		if ctx.Err() != nil {
			return
		}
		sr.channels.SendSnapshot(result)
	}()
}

func (sr *SnapshotReader) fetch(ctx context.Context, symbols []string) ([]models.SnapshotStats, error) {
	log := sr.log.WithComponent("snapshot_reader").WithFields(logger.Fields{
		"operation": "fetch_snapshot",
		"symbols":   symbols,
	})

	if len(symbols) == 0 {
		return nil, nil
	}

	encoded, err := json.Marshal(symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to encode symbol list: %w", err)
	}

	reqURL := fmt.Sprintf("%s/api/v3/ticker/24hr?symbols=%s",
		sr.config.Snapshot.URL, url.QueryEscape(string(encoded)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot request: %w", err)
	}

	start := time.Now()
	resp, err := sr.client.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer resp.Body.Close()
	logger.LogPerformanceEntry(sr.log.WithComponent("snapshot_reader"), "snapshot_reader", "api_request", time.Since(start), logger.Fields{
		"symbol_count": len(symbols),
	})

	sr.reportUsedWeight(resp.Header)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot endpoint returned status %d", resp.StatusCode)
	}

	var stats []models.SnapshotStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	log.WithFields(logger.Fields{"returned": len(stats)}).Info("snapshot loaded")
	logger.IncrementSnapshotLoad(len(stats))
	return stats, nil
}

// reportUsedWeight parses the used weight from the response headers and
// emits a gauge against the discovered per-minute ceiling.
func (sr *SnapshotReader) reportUsedWeight(header http.Header) {
	usedStr := header.Get("X-MBX-USED-WEIGHT-1m")
	if usedStr == "" {
		return
	}
	used, _ := strconv.ParseInt(usedStr, 10, 64)
	sr.log.LogMetric("snapshot_reader", "used_weight", used, "gauge", logger.Fields{
		"weight_limit": fmt.Sprintf("%d", sr.weightLimit),
	})
}

// fetchRequestWeightLimit queries the exchangeInfo endpoint for the
// REQUEST_WEIGHT per minute limit. Returns 0 when it cannot be
// determined.
func fetchRequestWeightLimit(ctx context.Context, client *binance.Client) (int64, error) {
	info, err := client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, rl := range info.RateLimits {
		if rl.RateLimitType == "REQUEST_WEIGHT" && rl.Interval == "MINUTE" {
			return rl.Limit, nil
		}
	}
	return 0, nil
}
