package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"kryptometer/config"
	"kryptometer/internal/channel"
	"kryptometer/internal/metadata"
	"kryptometer/logger"
	"kryptometer/models"
)

// HistoryRecord is the parquet row layout for applied ticks.
type HistoryRecord struct {
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Change    float64 `parquet:"name=change, type=DOUBLE"`
}

// HistoryWriter drains applied tick records from the history channel,
// buffers them per symbol and periodically flushes each buffer to a
// parquet file under the history directory, partitioned by symbol and
// date. When the S3 archive is enabled each flushed file is also
// uploaded.
type HistoryWriter struct {
	config      *config.Config
	channels    *channel.Channels
	archive     *S3Archiver
	meta        *metadata.Generator
	ctx         context.Context
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
	log         *logger.Log
	buffer      map[string][]models.TickRecord
	flushTicker *time.Ticker
}

func NewHistoryWriter(cfg *config.Config, ch *channel.Channels) (*HistoryWriter, error) {
	log := logger.GetLogger()

	if err := os.MkdirAll(cfg.History.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	w := &HistoryWriter{
		config:   cfg,
		channels: ch,
		log:      log,
		buffer:   make(map[string][]models.TickRecord),
		meta:     metadata.NewGenerator(cfg.History.Directory, "ticks"),
	}

	if cfg.History.S3.Enabled {
		archive, err := NewS3Archiver(cfg)
		if err != nil {
			log.WithComponent("history_writer").WithError(err).Warn("s3 archive unavailable, keeping history local only")
		} else {
			w.archive = archive
		}
	}

	log.WithComponent("history_writer").WithFields(logger.Fields{
		"directory":      cfg.History.Directory,
		"flush_interval": cfg.History.FlushInterval,
		"s3_archive":     w.archive != nil,
	}).Info("history writer initialized")

	return w, nil
}

func (w *HistoryWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("history writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	interval := w.config.History.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	w.flushTicker = time.NewTicker(interval)

	w.wg.Add(1)
	go w.worker()

	w.log.WithComponent("history_writer").Info("history writer started")
	return nil
}

func (w *HistoryWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	w.log.WithComponent("history_writer").Info("stopping history writer")
	w.wg.Wait()
	w.log.WithComponent("history_writer").Info("history writer stopped")
}

func (w *HistoryWriter) worker() {
	defer w.wg.Done()

	log := w.log.WithComponent("history_writer").WithFields(logger.Fields{"worker": "flush"})

	for {
		select {
		case <-w.ctx.Done():
			w.flushBuffers("shutdown")
			log.Info("worker stopped due to context cancellation")
			return
		case records, ok := <-w.channels.History:
			if !ok {
				w.flushBuffers("channel closed")
				return
			}
			w.addRecords(records)
		case <-w.flushTicker.C:
			w.flushBuffers("interval")
		}
	}
}

func (w *HistoryWriter) addRecords(records []models.TickRecord) {
	w.mu.Lock()
	for _, r := range records {
		w.buffer[r.Symbol] = append(w.buffer[r.Symbol], r)
	}
	w.mu.Unlock()
}

func (w *HistoryWriter) flushBuffers(reason string) {
	w.mu.Lock()
	buffers := w.buffer
	w.buffer = make(map[string][]models.TickRecord)
	w.mu.Unlock()

	if len(buffers) == 0 {
		return
	}

	w.log.WithComponent("history_writer").WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing history buffers")

	for symbol, records := range buffers {
		if len(records) == 0 {
			continue
		}
		if err := w.writeFile(symbol, records); err != nil {
			w.log.WithComponent("history_writer").WithError(err).WithFields(logger.Fields{
				"symbol": symbol,
			}).Error("failed to write history file")
		}
	}
}

// filePath partitions by symbol and date, one file per flush.
func (w *HistoryWriter) filePath(symbol string, ts time.Time) string {
	return filepath.Join(
		w.config.History.Directory,
		fmt.Sprintf("symbol=%s", symbol),
		ts.UTC().Format("2006-01-02"),
		fmt.Sprintf("ticks_%s_%s.parquet", symbol, ts.UTC().Format("20060102150405")),
	)
}

func (w *HistoryWriter) writeFile(symbol string, records []models.TickRecord) error {
	now := time.Now()
	path := w.filePath(symbol, now)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create partition directory: %w", err)
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(HistoryRecord), 2)
	if err != nil {
		fw.Close()
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range records {
		rec := HistoryRecord{
			Symbol:    r.Symbol,
			Timestamp: r.At.UnixMilli(),
			Price:     r.Price,
			Change:    r.Change,
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close parquet file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat parquet file: %w", err)
	}

	w.log.WithComponent("history_writer").WithFields(logger.Fields{
		"symbol":    symbol,
		"records":   len(records),
		"file_size": info.Size(),
		"path":      path,
	}).Info("history file written")
	logger.IncrementHistoryWrite(info.Size())

	if err := w.meta.AddFile(metadata.DataFile{
		Path:        path,
		FileSize:    info.Size(),
		RecordCount: int64(len(records)),
		Partition: map[string]any{
			"symbol": symbol,
			"date":   now.UTC().Format("2006-01-02"),
		},
		Timestamp: now,
	}); err != nil {
		w.log.WithComponent("history_writer").WithError(err).Warn("failed to update table metadata")
	}

	if w.archive != nil {
		key, err := filepath.Rel(w.config.History.Directory, path)
		if err != nil {
			key = filepath.Base(path)
		}
		if err := w.archive.Upload(w.ctx, filepath.ToSlash(key), path); err != nil {
			w.log.WithComponent("history_writer").WithError(err).Warn("failed to archive history file")
		}
	}
	return nil
}
