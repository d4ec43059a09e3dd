package channel

import (
	"context"
	"sync"
	"time"

	"kryptometer/logger"
	"kryptometer/models"
)

type Stats struct {
	SnapshotsSent      int64
	TickBatchesSent    int64
	HistorySent        int64
	SnapshotsDropped   int64
	TickBatchesDropped int64
	HistoryDropped     int64
}

// Channels carries data between the readers, the engine and the history
// writer. All channels are buffered; senders drop on a full buffer rather
// than block the read loops.
type Channels struct {
	Snapshots chan models.SnapshotResult
	Ticks     chan models.TickBatch
	History   chan []models.TickRecord

	stats       Stats
	statsMutex  sync.RWMutex
	log         *logger.Log
	statsTicker *time.Ticker
}

func NewChannels(snapshotBuffer, tickBuffer, historyBuffer int) *Channels {
	log := logger.GetLogger()

	c := &Channels{
		Snapshots: make(chan models.SnapshotResult, snapshotBuffer),
		Ticks:     make(chan models.TickBatch, tickBuffer),
		History:   make(chan []models.TickRecord, historyBuffer),
		log:       log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"snapshot_buffer": snapshotBuffer,
		"tick_buffer":     tickBuffer,
		"history_buffer":  historyBuffer,
	}).Info("channels initialized")

	return c
}

// SendSnapshot delivers a snapshot result to the engine, dropping it when
// the buffer is full. A dropped snapshot is recovered by the next load.
func (c *Channels) SendSnapshot(result models.SnapshotResult) bool {
	select {
	case c.Snapshots <- result:
		c.statsMutex.Lock()
		c.stats.SnapshotsSent++
		c.statsMutex.Unlock()
		return true
	default:
		c.statsMutex.Lock()
		c.stats.SnapshotsDropped++
		c.statsMutex.Unlock()
		c.log.WithComponent("channels").Warn("snapshot channel full, dropping result")
		return false
	}
}

// SendTicks delivers a tick batch to the engine, dropping it when the
// buffer is full. Each price carries the full current value so a dropped
// batch is superseded by the next one.
func (c *Channels) SendTicks(batch models.TickBatch) bool {
	select {
	case c.Ticks <- batch:
		c.statsMutex.Lock()
		c.stats.TickBatchesSent++
		c.statsMutex.Unlock()
		logger.IncrementTickRead(len(batch.Prices))
		return true
	default:
		c.statsMutex.Lock()
		c.stats.TickBatchesDropped++
		c.statsMutex.Unlock()
		c.log.WithComponent("channels").Warn("tick channel full, dropping batch")
		return false
	}
}

// SendHistory forwards applied tick records to the history writer.
func (c *Channels) SendHistory(records []models.TickRecord) bool {
	select {
	case c.History <- records:
		c.statsMutex.Lock()
		c.stats.HistorySent++
		c.statsMutex.Unlock()
		return true
	default:
		c.statsMutex.Lock()
		c.stats.HistoryDropped++
		c.statsMutex.Unlock()
		c.log.WithComponent("channels").Warn("history channel full, dropping records")
		return false
	}
}

func (c *Channels) StartStatsReporting(ctx context.Context) {
	c.statsTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.statsTicker.Stop()
				return
			case <-c.statsTicker.C:
				c.logStats()
			}
		}
	}()
}

func (c *Channels) logStats() {
	stats := c.GetStats()

	c.log.WithComponent("channels").WithFields(logger.Fields{
		"snapshots_sent":       stats.SnapshotsSent,
		"tick_batches_sent":    stats.TickBatchesSent,
		"history_sent":         stats.HistorySent,
		"snapshots_dropped":    stats.SnapshotsDropped,
		"tick_batches_dropped": stats.TickBatchesDropped,
		"history_dropped":      stats.HistoryDropped,
		"snapshot_channel_len": len(c.Snapshots),
		"snapshot_channel_cap": cap(c.Snapshots),
		"tick_channel_len":     len(c.Ticks),
		"tick_channel_cap":     cap(c.Ticks),
		"history_channel_len":  len(c.History),
		"history_channel_cap":  cap(c.History),
	}).Info("channel statistics")
}

func (c *Channels) Close() {
	if c.statsTicker != nil {
		c.statsTicker.Stop()
	}

	close(c.Snapshots)
	close(c.Ticks)
	close(c.History)

	c.log.WithComponent("channels").Info("all channels closed")
}

func (c *Channels) GetStats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
