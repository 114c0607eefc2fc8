// Package processor flattens decoded stream messages into row batches
// ready for the writers.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appconfig "binancefeed/config"
	"binancefeed/internal/channel"
	"binancefeed/logger"
	"binancefeed/models"
)

// Flattener turns envelopes into DepthRow, TradeRow and TickerRow batches,
// grouped per symbol, flushed on size or timeout.
type Flattener struct {
	config  *appconfig.Config
	chans   *channel.Channels
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	// Batching
	depthBatches  map[string]*models.DepthBatch
	tradeBatches  map[string]*models.TradeBatch
	tickerBatches map[string]*models.TickerBatch
	lastFlush     map[string]time.Time

	// Metrics
	messagesProcessed int64
	batchesProcessed  int64
	errorsCount       int64
	rowsProcessed     int64
}

func NewFlattener(cfg *appconfig.Config, chans *channel.Channels) *Flattener {
	return &Flattener{
		config:        cfg,
		chans:         chans,
		wg:            &sync.WaitGroup{},
		log:           logger.GetLogger(),
		depthBatches:  make(map[string]*models.DepthBatch),
		tradeBatches:  make(map[string]*models.TradeBatch),
		tickerBatches: make(map[string]*models.TickerBatch),
		lastFlush:     make(map[string]time.Time),
	}
}

func (f *Flattener) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("flattener already running")
	}
	f.running = true
	f.ctx = ctx
	f.mu.Unlock()

	log := f.log.WithComponent("flattener").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting flattener")

	numWorkers := f.config.Processor.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	log.WithFields(logger.Fields{"workers": numWorkers}).Info("starting flattener workers")

	for i := 0; i < numWorkers; i++ {
		f.wg.Add(1)
		go f.worker(i)
	}

	f.wg.Add(1)
	go f.batchFlusher()

	go f.metricsReporter(ctx)

	log.Info("flattener started successfully")
	return nil
}

func (f *Flattener) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.log.WithComponent("flattener").Info("stopping flattener")

	f.flushAllBatches()

	f.wg.Wait()
	f.log.WithComponent("flattener").Info("flattener stopped")
}

func (f *Flattener) worker(workerID int) {
	defer f.wg.Done()

	log := f.log.WithComponent("flattener").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "flattener",
	})

	log.Info("starting flattener worker")

	for {
		select {
		case <-f.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case env, ok := <-f.chans.Envelopes:
			if !ok {
				log.Info("envelope channel closed, worker stopping")
				return
			}

			start := time.Now()
			rows := f.processEnvelope(env)
			duration := time.Since(start)

			f.mu.Lock()
			f.messagesProcessed++
			f.rowsProcessed += int64(rows)
			f.mu.Unlock()

			logger.LogPerformanceEntry(log, "flattener", "process_envelope", duration, logger.Fields{
				"worker_id":      workerID,
				"symbol":         env.Symbol,
				"rows_processed": rows,
			})
		}
	}
}

// processEnvelope flattens one envelope and adds the rows to the matching
// batch. It returns the number of rows produced.
func (f *Flattener) processEnvelope(env models.Envelope) int {
	log := f.log.WithComponent("flattener").WithFields(logger.Fields{
		"symbol":    env.Symbol,
		"operation": "process_envelope",
	})

	switch msg := env.Message.(type) {
	case models.PartialDepth:
		if env.Symbol == "" {
			f.mu.Lock()
			f.errorsCount++
			f.mu.Unlock()
			log.Warn("depth snapshot without symbol attribution, dropping")
			return 0
		}
		rows := flattenDepth(env, msg)
		if len(rows) == 0 {
			log.Warn("no rows flattened from depth snapshot")
			return 0
		}
		f.addDepthRows(env.Symbol, rows)
		logger.LogDataFlowEntry(log, "envelope_channel", "depth_batch", len(rows), "depth_rows")
		return len(rows)

	case models.AggTrade:
		row := models.TradeRow{
			Symbol:        env.Symbol,
			TradeID:       msg.TradeID,
			Price:         msg.Price.String(),
			Quantity:      msg.Quantity.String(),
			FirstTradeID:  msg.FirstTradeID,
			LastTradeID:   msg.LastTradeID,
			EventTime:     msg.EventTime,
			TradeTime:     msg.TradeTime,
			IsMarketMaker: msg.IsMarketMaker,
			ReceivedTime:  env.ReceivedAt.UnixMilli(),
		}
		f.addTradeRow(env.Symbol, row)
		return 1

	case models.BookTicker:
		row := models.TickerRow{
			Symbol:       env.Symbol,
			UpdateID:     msg.UpdateID,
			BestBidPrice: msg.BestBidPrice.String(),
			BestBidQty:   msg.BestBidQty.String(),
			BestAskPrice: msg.BestAskPrice.String(),
			BestAskQty:   msg.BestAskQty.String(),
			ReceivedTime: env.ReceivedAt.UnixMilli(),
		}
		f.addTickerRow(env.Symbol, row)
		return 1

	default:
		f.mu.Lock()
		f.errorsCount++
		f.mu.Unlock()
		log.WithFields(logger.Fields{"type": fmt.Sprintf("%T", env.Message)}).Warn("unexpected message type in pipeline")
		return 0
	}
}

// flattenDepth produces one row per book level and side. Empty levels are
// skipped.
func flattenDepth(env models.Envelope, depth models.PartialDepth) []models.DepthRow {
	rows := make([]models.DepthRow, 0, len(depth.Bids)+len(depth.Asks))
	received := env.ReceivedAt.UnixMilli()

	for level, bid := range depth.Bids {
		if bid.Price.IsZero() || bid.Quantity.IsZero() {
			continue
		}
		rows = append(rows, models.DepthRow{
			Symbol:       env.Symbol,
			LastUpdateID: depth.LastUpdateID,
			Side:         "bid",
			Price:        bid.Price.String(),
			Quantity:     bid.Quantity.String(),
			Level:        level + 1,
			ReceivedTime: received,
		})
	}

	for level, ask := range depth.Asks {
		if ask.Price.IsZero() || ask.Quantity.IsZero() {
			continue
		}
		rows = append(rows, models.DepthRow{
			Symbol:       env.Symbol,
			LastUpdateID: depth.LastUpdateID,
			Side:         "ask",
			Price:        ask.Price.String(),
			Quantity:     ask.Quantity.String(),
			Level:        level + 1,
			ReceivedTime: received,
		})
	}

	return rows
}

func (f *Flattener) addDepthRows(symbol string, rows []models.DepthRow) {
	f.mu.Lock()
	defer f.mu.Unlock()

	batchKey := "depth_" + symbol
	batch, exists := f.depthBatches[batchKey]
	if !exists {
		batch = &models.DepthBatch{
			BatchID:     uuid.New().String(),
			Symbol:      symbol,
			Rows:        make([]models.DepthRow, 0, f.config.Processor.BatchSize),
			ProcessedAt: time.Now(),
		}
		f.depthBatches[batchKey] = batch
		f.lastFlush[batchKey] = time.Now()
	}

	batch.Rows = append(batch.Rows, rows...)
	batch.RecordCount = len(batch.Rows)

	if batch.RecordCount >= f.config.Processor.BatchSize {
		f.flushBatch(batchKey)
	}
}

func (f *Flattener) addTradeRow(symbol string, row models.TradeRow) {
	f.mu.Lock()
	defer f.mu.Unlock()

	batchKey := "trades_" + symbol
	batch, exists := f.tradeBatches[batchKey]
	if !exists {
		batch = &models.TradeBatch{
			BatchID:     uuid.New().String(),
			Symbol:      symbol,
			Rows:        make([]models.TradeRow, 0, f.config.Processor.BatchSize),
			ProcessedAt: time.Now(),
		}
		f.tradeBatches[batchKey] = batch
		f.lastFlush[batchKey] = time.Now()
	}

	batch.Rows = append(batch.Rows, row)
	batch.RecordCount = len(batch.Rows)

	if batch.RecordCount >= f.config.Processor.BatchSize {
		f.flushBatch(batchKey)
	}
}

func (f *Flattener) addTickerRow(symbol string, row models.TickerRow) {
	f.mu.Lock()
	defer f.mu.Unlock()

	batchKey := "tickers_" + symbol
	batch, exists := f.tickerBatches[batchKey]
	if !exists {
		batch = &models.TickerBatch{
			BatchID:     uuid.New().String(),
			Symbol:      symbol,
			Rows:        make([]models.TickerRow, 0, f.config.Processor.BatchSize),
			ProcessedAt: time.Now(),
		}
		f.tickerBatches[batchKey] = batch
		f.lastFlush[batchKey] = time.Now()
	}

	batch.Rows = append(batch.Rows, row)
	batch.RecordCount = len(batch.Rows)

	if batch.RecordCount >= f.config.Processor.BatchSize {
		f.flushBatch(batchKey)
	}
}

func (f *Flattener) batchFlusher() {
	defer f.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.flushTimedOutBatches()
		}
	}
}

func (f *Flattener) flushTimedOutBatches() {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	for batchKey, lastFlush := range f.lastFlush {
		if now.Sub(lastFlush) >= f.config.Processor.BatchTimeout {
			f.flushBatch(batchKey)
		}
	}
}

// flushBatch hands one batch to its output channel. Callers must hold mu.
func (f *Flattener) flushBatch(batchKey string) {
	log := f.log.WithComponent("flattener").WithFields(logger.Fields{
		"batch_key": batchKey,
		"operation": "flush_batch",
	})

	sent := false
	recordCount := 0

	if batch, ok := f.depthBatches[batchKey]; ok {
		if batch.RecordCount == 0 {
			return
		}
		recordCount = batch.RecordCount
		if sent = f.chans.SendDepth(f.ctx, *batch); sent {
			delete(f.depthBatches, batchKey)
		}
	} else if batch, ok := f.tradeBatches[batchKey]; ok {
		if batch.RecordCount == 0 {
			return
		}
		recordCount = batch.RecordCount
		if sent = f.chans.SendTrades(f.ctx, *batch); sent {
			delete(f.tradeBatches, batchKey)
		}
	} else if batch, ok := f.tickerBatches[batchKey]; ok {
		if batch.RecordCount == 0 {
			return
		}
		recordCount = batch.RecordCount
		if sent = f.chans.SendTickers(f.ctx, *batch); sent {
			delete(f.tickerBatches, batchKey)
		}
	} else {
		return
	}

	if !sent {
		log.Warn("batch channel is full, batch not sent")
		return
	}

	delete(f.lastFlush, batchKey)
	f.batchesProcessed++
	logger.LogDataFlowEntry(log, "flattener", "batch_channel", recordCount, "batch")
}

func (f *Flattener) flushAllBatches() {
	f.mu.Lock()
	defer f.mu.Unlock()

	log := f.log.WithComponent("flattener").WithFields(logger.Fields{"operation": "flush_all_batches"})
	log.Info("flushing all remaining batches")

	for batchKey := range f.depthBatches {
		f.flushBatch(batchKey)
	}
	for batchKey := range f.tradeBatches {
		f.flushBatch(batchKey)
	}
	for batchKey := range f.tickerBatches {
		f.flushBatch(batchKey)
	}
}

func (f *Flattener) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.reportMetrics()
		}
	}
}

func (f *Flattener) reportMetrics() {
	f.mu.RLock()
	messagesProcessed := f.messagesProcessed
	batchesProcessed := f.batchesProcessed
	errorsCount := f.errorsCount
	rowsProcessed := f.rowsProcessed
	activeBatches := len(f.depthBatches) + len(f.tradeBatches) + len(f.tickerBatches)
	f.mu.RUnlock()

	errorRate := float64(0)
	if messagesProcessed+errorsCount > 0 {
		errorRate = float64(errorsCount) / float64(messagesProcessed+errorsCount)
	}

	avgRowsPerMessage := float64(0)
	if messagesProcessed > 0 {
		avgRowsPerMessage = float64(rowsProcessed) / float64(messagesProcessed)
	}

	log := f.log.WithComponent("flattener")
	log.LogMetric("flattener", "messages_processed", messagesProcessed, "counter", logger.Fields{})
	log.LogMetric("flattener", "batches_processed", batchesProcessed, "counter", logger.Fields{})
	log.LogMetric("flattener", "rows_processed", rowsProcessed, "counter", logger.Fields{})
	log.LogMetric("flattener", "errors_count", errorsCount, "counter", logger.Fields{})
	log.LogMetric("flattener", "error_rate", errorRate, "gauge", logger.Fields{})
	log.LogMetric("flattener", "active_batches", activeBatches, "gauge", logger.Fields{})

	log.WithFields(logger.Fields{
		"messages_processed":   messagesProcessed,
		"batches_processed":    batchesProcessed,
		"rows_processed":       rowsProcessed,
		"errors_count":         errorsCount,
		"error_rate":           errorRate,
		"active_batches":       activeBatches,
		"avg_rows_per_message": avgRowsPerMessage,
		"envelope_channel_len": len(f.chans.Envelopes),
		"envelope_channel_cap": cap(f.chans.Envelopes),
	}).Info("flattener metrics")
}
