package writer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kryptometer/config"
	"kryptometer/internal/channel"
	"kryptometer/models"
)

func historyConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.History.Enabled = true
	cfg.History.Directory = t.TempDir()
	cfg.History.FlushInterval = time.Hour
	return cfg
}

func countParquetFiles(t *testing.T, dir string) int {
	t.Helper()
	count := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".parquet" {
			count++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walking history dir failed: %v", err)
	}
	return count
}

func TestFlushWritesPerSymbolFiles(t *testing.T) {
	cfg := historyConfig(t)
	ch := channel.NewChannels(1, 1, 4)

	w, err := NewHistoryWriter(cfg, ch)
	if err != nil {
		t.Fatalf("NewHistoryWriter failed: %v", err)
	}

	now := time.Now()
	w.addRecords([]models.TickRecord{
		{Symbol: "BTCUSDT", Price: 50000, Change: 10, At: now},
		{Symbol: "BTCUSDT", Price: 50010, Change: 10, At: now},
		{Symbol: "ETHUSDT", Price: 1900, Change: -1, At: now},
	})
	w.flushBuffers("test")

	if got := countParquetFiles(t, cfg.History.Directory); got != 2 {
		t.Errorf("expected 2 parquet files, got %d", got)
	}

	// The buffer is drained, a second flush writes nothing new.
	w.flushBuffers("test")
	if got := countParquetFiles(t, cfg.History.Directory); got != 2 {
		t.Errorf("expected no additional files, got %d", got)
	}
}

func TestWorkerFlushesOnShutdown(t *testing.T) {
	cfg := historyConfig(t)
	ch := channel.NewChannels(1, 1, 4)

	w, err := NewHistoryWriter(cfg, ch)
	if err != nil {
		t.Fatalf("NewHistoryWriter failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ch.SendHistory([]models.TickRecord{{Symbol: "BTCUSDT", Price: 50000, At: time.Now()}})

	// Give the worker a moment to drain the channel, then shut down.
	deadline := time.After(2 * time.Second)
	for {
		w.mu.Lock()
		buffered := len(w.buffer)
		w.mu.Unlock()
		if buffered > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker never buffered the records")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	w.Stop()

	if got := countParquetFiles(t, cfg.History.Directory); got != 1 {
		t.Errorf("expected shutdown flush to write 1 file, got %d", got)
	}
}
