package channel

import (
	"context"
	"testing"
	"time"

	"binancefeed/models"
)

func TestSendEnvelope(t *testing.T) {
	c := NewChannels(2, 2)
	ctx := context.Background()

	env := models.Envelope{Symbol: "BTCUSDT", ReceivedAt: time.Now()}
	if !c.SendEnvelope(ctx, env) {
		t.Fatal("send failed with free buffer")
	}

	got := <-c.Envelopes
	if got.Symbol != "BTCUSDT" {
		t.Errorf("received %+v", got)
	}

	stats := c.GetStats()
	if stats.EnvelopesSent != 1 || stats.EnvelopesDropped != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSendEnvelopeDropsWhenFull(t *testing.T) {
	c := NewChannels(1, 1)
	ctx := context.Background()

	if !c.SendEnvelope(ctx, models.Envelope{Symbol: "BTCUSDT"}) {
		t.Fatal("first send failed")
	}
	if c.SendEnvelope(ctx, models.Envelope{Symbol: "ETHUSDT"}) {
		t.Fatal("second send should drop on full buffer")
	}

	stats := c.GetStats()
	if stats.EnvelopesSent != 1 || stats.EnvelopesDropped != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSendBatches(t *testing.T) {
	c := NewChannels(1, 1)
	ctx := context.Background()

	if !c.SendDepth(ctx, models.DepthBatch{Symbol: "BTCUSDT"}) {
		t.Fatal("depth send failed")
	}
	if !c.SendTrades(ctx, models.TradeBatch{Symbol: "BTCUSDT"}) {
		t.Fatal("trade send failed")
	}
	if !c.SendTickers(ctx, models.TickerBatch{Symbol: "BNBUSDT"}) {
		t.Fatal("ticker send failed")
	}
	// Each batch channel has capacity 1, so a second depth batch drops.
	if c.SendDepth(ctx, models.DepthBatch{Symbol: "ETHUSDT"}) {
		t.Fatal("second depth send should drop")
	}

	stats := c.GetStats()
	if stats.BatchesSent != 3 || stats.BatchesDropped != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSendCancelledContext(t *testing.T) {
	c := NewChannels(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Fill the buffer so the send cannot take the fast path.
	c.Envelopes <- models.Envelope{}
	if c.SendEnvelope(ctx, models.Envelope{}) {
		t.Fatal("send succeeded on cancelled context with full buffer")
	}
}
