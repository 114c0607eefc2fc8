package processor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	appconfig "binancefeed/config"
	"binancefeed/internal/channel"
	"binancefeed/internal/symbols"
	"binancefeed/models"
)

func testConfig(batchSize int) *appconfig.Config {
	return &appconfig.Config{
		Processor: appconfig.ProcessorConfig{
			MaxWorkers:   1,
			BatchSize:    batchSize,
			BatchTimeout: time.Minute,
		},
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func depthEnvelope(symbol string) models.Envelope {
	return models.Envelope{
		Symbol:     symbol,
		ReceivedAt: time.Now(),
		Message: models.PartialDepth{
			LastUpdateID: 55130421061,
			Bids: []models.PriceLevel{
				{Price: dec("98655.99"), Quantity: dec("7.22497")},
				{Price: dec("98655.98"), Quantity: dec("0")},
			},
			Asks: []models.PriceLevel{
				{Price: dec("98656.00"), Quantity: dec("0.00892")},
			},
		},
	}
}

func TestFlattenDepth(t *testing.T) {
	rows := flattenDepth(depthEnvelope("BTCUSDT"), depthEnvelope("BTCUSDT").Message.(models.PartialDepth))
	// The zero-quantity bid level is skipped.
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Side != "bid" || rows[0].Level != 1 || rows[0].Price != "98655.99" {
		t.Errorf("bid row = %+v", rows[0])
	}
	if rows[1].Side != "ask" || rows[1].Level != 1 || rows[1].Quantity != "0.00892" {
		t.Errorf("ask row = %+v", rows[1])
	}
	if rows[0].LastUpdateID != 55130421061 {
		t.Errorf("lastUpdateId = %d", rows[0].LastUpdateID)
	}
}

func TestFlattenerFlushesOnBatchSize(t *testing.T) {
	chans := channel.NewChannels(10, 10)
	f := NewFlattener(testConfig(2), chans)

	ctx, cancel := context.WithCancel(context.Background())
	if err := f.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.Stop()
	defer cancel()

	chans.Envelopes <- depthEnvelope("BTCUSDT")

	select {
	case batch := <-chans.Depth:
		if batch.Symbol != "BTCUSDT" || batch.RecordCount != 2 {
			t.Errorf("batch = %+v", batch)
		}
		if batch.BatchID == "" {
			t.Error("batch id not set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no depth batch flushed")
	}
}

func TestFlattenerRoutesTradesAndTickers(t *testing.T) {
	chans := channel.NewChannels(10, 10)
	f := NewFlattener(testConfig(1), chans)

	ctx, cancel := context.WithCancel(context.Background())
	if err := f.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.Stop()
	defer cancel()

	chans.Envelopes <- models.Envelope{
		Symbol:     "BTCUSDT",
		ReceivedAt: time.Now(),
		Message: models.AggTrade{
			TradeID:  424951,
			Symbol:   symbols.BTCUSDT,
			Price:    dec("9643.5"),
			Quantity: dec("2"),
		},
	}
	chans.Envelopes <- models.Envelope{
		Symbol:     "BNBUSDT",
		ReceivedAt: time.Now(),
		Message: models.BookTicker{
			UpdateID:     400900217,
			Symbol:       symbols.BNBUSDT,
			BestBidPrice: dec("25.3519"),
			BestBidQty:   dec("31.21"),
			BestAskPrice: dec("25.3652"),
			BestAskQty:   dec("40.66"),
		},
	}

	select {
	case batch := <-chans.Trades:
		if batch.Symbol != "BTCUSDT" || batch.Rows[0].Price != "9643.5" {
			t.Errorf("trade batch = %+v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no trade batch flushed")
	}

	select {
	case batch := <-chans.Tickers:
		if batch.Symbol != "BNBUSDT" || batch.Rows[0].BestAskQty != "40.66" {
			t.Errorf("ticker batch = %+v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no ticker batch flushed")
	}
}

func TestFlushAllBatches(t *testing.T) {
	chans := channel.NewChannels(10, 10)
	f := NewFlattener(testConfig(1000), chans)
	f.ctx = context.Background()

	f.processEnvelope(models.Envelope{
		Symbol:     "BTCUSDT",
		ReceivedAt: time.Now(),
		Message:    models.AggTrade{TradeID: 1, Price: dec("1.5"), Quantity: dec("3")},
	})

	// Well under the batch size, so only the final flush delivers it.
	f.flushAllBatches()

	select {
	case batch := <-chans.Trades:
		if batch.RecordCount != 1 {
			t.Errorf("batch = %+v", batch)
		}
	default:
		t.Fatal("partial batch not flushed")
	}
}

func TestFlattenerDropsUnattributedDepth(t *testing.T) {
	chans := channel.NewChannels(10, 10)
	f := NewFlattener(testConfig(1), chans)

	env := depthEnvelope("")
	if rows := f.processEnvelope(env); rows != 0 {
		t.Fatalf("processed %d rows from unattributed depth", rows)
	}
}
