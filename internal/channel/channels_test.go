package channel

import (
	"testing"
	"time"

	"kryptometer/models"
)

func TestSendTicksDropsWhenFull(t *testing.T) {
	c := NewChannels(1, 1, 1)

	batch := models.TickBatch{Prices: map[string]string{"BTCUSDT": "50000.00"}, ReceivedAt: time.Now()}
	if !c.SendTicks(batch) {
		t.Fatal("first send should succeed")
	}
	if c.SendTicks(batch) {
		t.Fatal("second send should drop on full buffer")
	}

	stats := c.GetStats()
	if stats.TickBatchesSent != 1 {
		t.Errorf("expected 1 batch sent, got %d", stats.TickBatchesSent)
	}
	if stats.TickBatchesDropped != 1 {
		t.Errorf("expected 1 batch dropped, got %d", stats.TickBatchesDropped)
	}
}

func TestSendSnapshot(t *testing.T) {
	c := NewChannels(2, 1, 1)

	if !c.SendSnapshot(models.SnapshotResult{Generation: 1}) {
		t.Fatal("send should succeed")
	}

	got := <-c.Snapshots
	if got.Generation != 1 {
		t.Errorf("unexpected generation: %d", got.Generation)
	}
}
