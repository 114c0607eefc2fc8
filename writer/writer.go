// Package writer drains flattened batches from the pipeline channels,
// encodes them as parquet and lands them in S3 under hive-style
// partitions.
package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "binancefeed/config"
	"binancefeed/internal/channel"
	"binancefeed/internal/metadata"
	"binancefeed/logger"
	"binancefeed/models"
)

const (
	datasetDepth   = "depth"
	datasetTrades  = "trades"
	datasetTickers = "tickers"
)

type batchWriter struct {
	config   *appconfig.Config
	chans    *channel.Channels
	s3Client *s3.Client
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	depthBuf  map[string][]models.DepthRow
	tradeBuf  map[string][]models.TradeRow
	tickerBuf map[string][]models.TickerRow

	flushTicker *time.Ticker
	metaGens    map[string]*metadata.Generator
}

// BatchWriter is an exported alias for batchWriter allowing external
// packages to interact with the writer while keeping the underlying
// implementation private.
type BatchWriter = batchWriter

// NewBatchWriter constructs a writer backed by the configured S3 bucket.
func NewBatchWriter(cfg *appconfig.Config, chans *channel.Channels) (*BatchWriter, error) {
	log := logger.GetLogger()

	s3Client, err := newS3Client(context.Background(), cfg)
	if err != nil {
		log.WithComponent("s3_writer").WithError(err).Warn("failed to configure S3 client")
		return nil, err
	}

	metaDir, err := os.MkdirTemp("", "lakemeta")
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}
	metaGens := make(map[string]*metadata.Generator, 3)
	for _, dataset := range []string{datasetDepth, datasetTrades, datasetTickers} {
		metaGens[dataset] = metadata.NewGenerator(filepath.Join(metaDir, dataset), dataset)
	}

	w := &batchWriter{
		config:   cfg,
		chans:    chans,
		s3Client: s3Client,
		wg:       &sync.WaitGroup{},
		log:      log,
		metaGens: metaGens,
	}

	log.WithComponent("s3_writer").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("s3 writer initialized")

	return w, nil
}

func (w *batchWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("s3 writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.depthBuf = make(map[string][]models.DepthRow)
	w.tradeBuf = make(map[string][]models.TradeRow)
	w.tickerBuf = make(map[string][]models.TickerRow)
	w.flushTicker = time.NewTicker(w.config.Writer.Buffer.FlushInterval)
	w.mu.Unlock()

	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{"operation": "start"})

	numWorkers := w.config.Writer.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	log.WithFields(logger.Fields{"workers": numWorkers}).Info("starting s3 writer workers")

	for i := 0; i < numWorkers; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}

	w.wg.Add(1)
	go w.flushWorker()

	log.Info("s3 writer started successfully")
	return nil
}

func (w *batchWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	w.log.WithComponent("s3_writer").Info("stopping s3 writer")
	w.wg.Wait()
	w.log.WithComponent("s3_writer").Info("s3 writer stopped")
}

func (w *batchWriter) worker(workerID int) {
	defer w.wg.Done()

	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"worker_id": workerID,
	})
	log.Info("starting s3 writer worker")

	for {
		select {
		case <-w.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case batch, ok := <-w.chans.Depth:
			if !ok {
				log.Info("depth channel closed, worker stopping")
				return
			}
			w.addDepth(batch)
		case batch, ok := <-w.chans.Trades:
			if !ok {
				log.Info("trade channel closed, worker stopping")
				return
			}
			w.addTrades(batch)
		case batch, ok := <-w.chans.Tickers:
			if !ok {
				log.Info("ticker channel closed, worker stopping")
				return
			}
			w.addTickers(batch)
		}
	}
}

func (w *batchWriter) addDepth(batch models.DepthBatch) {
	w.mu.Lock()
	w.depthBuf[batch.Symbol] = append(w.depthBuf[batch.Symbol], batch.Rows...)
	w.mu.Unlock()
}

func (w *batchWriter) addTrades(batch models.TradeBatch) {
	w.mu.Lock()
	w.tradeBuf[batch.Symbol] = append(w.tradeBuf[batch.Symbol], batch.Rows...)
	w.mu.Unlock()
}

func (w *batchWriter) addTickers(batch models.TickerBatch) {
	w.mu.Lock()
	w.tickerBuf[batch.Symbol] = append(w.tickerBuf[batch.Symbol], batch.Rows...)
	w.mu.Unlock()
}

func (w *batchWriter) flushWorker() {
	defer w.wg.Done()

	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-w.ctx.Done():
			w.flushBuffers("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-w.flushTicker.C:
			w.flushBuffers("interval")
		}
	}
}

func (w *batchWriter) flushBuffers(reason string) {
	w.mu.Lock()
	depth := w.depthBuf
	trades := w.tradeBuf
	tickers := w.tickerBuf
	w.depthBuf = make(map[string][]models.DepthRow)
	w.tradeBuf = make(map[string][]models.TradeRow)
	w.tickerBuf = make(map[string][]models.TickerRow)
	w.mu.Unlock()

	total := len(depth) + len(trades) + len(tickers)
	if total == 0 {
		return
	}

	w.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"flushed_buffers": total,
		"reason":          reason,
	}).Info("flushing buffers")

	now := time.Now()
	for symbol, rows := range depth {
		w.writeDepth(symbol, rows, now)
	}
	for symbol, rows := range trades {
		w.writeTrades(symbol, rows, now)
	}
	for symbol, rows := range tickers {
		w.writeTickers(symbol, rows, now)
	}
}

func (w *batchWriter) writeDepth(symbol string, rows []models.DepthRow, ts time.Time) {
	if len(rows) == 0 {
		return
	}
	records := make([]interface{}, 0, len(rows))
	for _, r := range rows {
		records = append(records, DepthParquetRow{
			Symbol:       r.Symbol,
			LastUpdateID: r.LastUpdateID,
			Side:         r.Side,
			Price:        r.Price,
			Quantity:     r.Quantity,
			Level:        int32(r.Level),
			ReceivedTime: r.ReceivedTime,
		})
	}
	w.writeDataset(datasetDepth, symbol, new(DepthParquetRow), records, ts)
}

func (w *batchWriter) writeTrades(symbol string, rows []models.TradeRow, ts time.Time) {
	if len(rows) == 0 {
		return
	}
	records := make([]interface{}, 0, len(rows))
	for _, r := range rows {
		records = append(records, TradeParquetRow{
			Symbol:        r.Symbol,
			TradeID:       r.TradeID,
			Price:         r.Price,
			Quantity:      r.Quantity,
			FirstTradeID:  r.FirstTradeID,
			LastTradeID:   r.LastTradeID,
			EventTime:     r.EventTime,
			TradeTime:     r.TradeTime,
			IsMarketMaker: r.IsMarketMaker,
			ReceivedTime:  r.ReceivedTime,
		})
	}
	w.writeDataset(datasetTrades, symbol, new(TradeParquetRow), records, ts)
}

func (w *batchWriter) writeTickers(symbol string, rows []models.TickerRow, ts time.Time) {
	if len(rows) == 0 {
		return
	}
	records := make([]interface{}, 0, len(rows))
	for _, r := range rows {
		records = append(records, TickerParquetRow{
			Symbol:       r.Symbol,
			UpdateID:     r.UpdateID,
			BestBidPrice: r.BestBidPrice,
			BestBidQty:   r.BestBidQty,
			BestAskPrice: r.BestAskPrice,
			BestAskQty:   r.BestAskQty,
			ReceivedTime: r.ReceivedTime,
		})
	}
	w.writeDataset(datasetTickers, symbol, new(TickerParquetRow), records, ts)
}

func (w *batchWriter) writeDataset(dataset, symbol string, schema interface{}, records []interface{}, ts time.Time) {
	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"batch_id":     uuid.New().String(),
		"dataset":      dataset,
		"symbol":       symbol,
		"record_count": len(records),
		"operation":    "write_dataset",
	})

	data, err := encodeParquet(schema, records, w.config.Writer.Compression)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	s3Key := generateS3Key(dataset, symbol, ts)
	log = log.WithFields(logger.Fields{"s3_key": s3Key, "file_size": len(data)})

	if err := w.uploadToS3(s3Key, data); err != nil {
		log.WithError(err).Error("failed to upload to S3")
		return
	}

	log.Info("batch written and uploaded successfully")

	df := metadata.DataFile{
		Path:        fmt.Sprintf("s3://%s/%s", w.config.Storage.S3.Bucket, s3Key),
		FileSize:    int64(len(data)),
		RecordCount: int64(len(records)),
		Partition: map[string]any{
			"feed":   dataset,
			"symbol": symbol,
			"date":   ts.UTC().Format("2006-01-02"),
		},
		Timestamp: ts,
	}
	if err := w.metaGens[dataset].AddFile(df); err != nil {
		log.WithError(err).Warn("failed to update table metadata")
	}
}
