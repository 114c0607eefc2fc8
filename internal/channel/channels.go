// Package channel wires the pipeline stages together: envelopes from the
// stream supervisor in, flattened batches out to the writers.
package channel

import (
	"context"
	"sync"

	"binancefeed/logger"
	"binancefeed/models"
)

type ChannelStats struct {
	EnvelopesSent    int64
	EnvelopesDropped int64
	BatchesSent      int64
	BatchesDropped   int64
}

type Channels struct {
	Envelopes chan models.Envelope
	Depth     chan models.DepthBatch
	Trades    chan models.TradeBatch
	Tickers   chan models.TickerBatch

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(rawBufferSize, batchBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Envelopes: make(chan models.Envelope, rawBufferSize),
		Depth:     make(chan models.DepthBatch, batchBufferSize),
		Trades:    make(chan models.TradeBatch, batchBufferSize),
		Tickers:   make(chan models.TickerBatch, batchBufferSize),
		log:       log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"raw_buffer_size":   rawBufferSize,
		"batch_buffer_size": batchBufferSize,
	}).Info("pipeline channels initialized")

	return c
}

// Close closes every channel. Call only after all senders have stopped.
func (c *Channels) Close() {
	close(c.Envelopes)
	close(c.Depth)
	close(c.Trades)
	close(c.Tickers)
	c.log.WithComponent("channels").Info("pipeline channels closed")
}

func (c *Channels) incrementEnvelopesSent() {
	c.statsMutex.Lock()
	c.stats.EnvelopesSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementEnvelopesDropped() {
	c.statsMutex.Lock()
	c.stats.EnvelopesDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementBatchesSent() {
	c.statsMutex.Lock()
	c.stats.BatchesSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementBatchesDropped() {
	c.statsMutex.Lock()
	c.stats.BatchesDropped++
	c.statsMutex.Unlock()
}

// SendEnvelope hands one decoded message to the processor without
// blocking. A full buffer drops the message and reports false.
func (c *Channels) SendEnvelope(ctx context.Context, env models.Envelope) bool {
	select {
	case c.Envelopes <- env:
		c.incrementEnvelopesSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementEnvelopesDropped()
		c.log.WithComponent("channels").WithFields(logger.Fields{
			"symbol": env.Symbol,
		}).Warn("envelope channel full, dropping message")
		return false
	}
}

func (c *Channels) SendDepth(ctx context.Context, batch models.DepthBatch) bool {
	select {
	case c.Depth <- batch:
		c.incrementBatchesSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementBatchesDropped()
		return false
	}
}

func (c *Channels) SendTrades(ctx context.Context, batch models.TradeBatch) bool {
	select {
	case c.Trades <- batch:
		c.incrementBatchesSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementBatchesDropped()
		return false
	}
}

func (c *Channels) SendTickers(ctx context.Context, batch models.TickerBatch) bool {
	select {
	case c.Tickers <- batch:
		c.incrementBatchesSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementBatchesDropped()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
