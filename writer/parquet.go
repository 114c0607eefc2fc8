package writer

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// Prices and quantities are stored as the exact decimal strings received
// from the exchange. DOUBLE columns would silently round them.

// DepthParquetRow is the parquet schema for flattened order book levels.
type DepthParquetRow struct {
	Symbol       string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastUpdateID int64  `parquet:"name=last_update_id, type=INT64"`
	Side         string `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price        string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8"`
	Quantity     string `parquet:"name=quantity, type=BYTE_ARRAY, convertedtype=UTF8"`
	Level        int32  `parquet:"name=level, type=INT32"`
	ReceivedTime int64  `parquet:"name=received_time, type=INT64"`
}

// TradeParquetRow is the parquet schema for aggregate trades.
type TradeParquetRow struct {
	Symbol        string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	TradeID       int64  `parquet:"name=trade_id, type=INT64"`
	Price         string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8"`
	Quantity      string `parquet:"name=quantity, type=BYTE_ARRAY, convertedtype=UTF8"`
	FirstTradeID  int64  `parquet:"name=first_trade_id, type=INT64"`
	LastTradeID   int64  `parquet:"name=last_trade_id, type=INT64"`
	EventTime     int64  `parquet:"name=event_time, type=INT64"`
	TradeTime     int64  `parquet:"name=trade_time, type=INT64"`
	IsMarketMaker bool   `parquet:"name=is_market_maker, type=BOOLEAN"`
	ReceivedTime  int64  `parquet:"name=received_time, type=INT64"`
}

// TickerParquetRow is the parquet schema for best bid/ask updates.
type TickerParquetRow struct {
	Symbol       string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	UpdateID     int64  `parquet:"name=update_id, type=INT64"`
	BestBidPrice string `parquet:"name=best_bid_price, type=BYTE_ARRAY, convertedtype=UTF8"`
	BestBidQty   string `parquet:"name=best_bid_qty, type=BYTE_ARRAY, convertedtype=UTF8"`
	BestAskPrice string `parquet:"name=best_ask_price, type=BYTE_ARRAY, convertedtype=UTF8"`
	BestAskQty   string `parquet:"name=best_ask_qty, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReceivedTime int64  `parquet:"name=received_time, type=INT64"`
}

// memoryFileWriter implements source.ParquetFile over a byte buffer so
// files are assembled in memory before the upload.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

// Seek only reports the current length. The parquet writer appends
// sequentially so no repositioning is needed.
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "lzo":
		return parquet.CompressionCodec_LZO
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// encodeParquet writes rows into an in-memory parquet file. schema must be
// a pointer to the row struct and every element of rows an instance of it.
func encodeParquet(schema interface{}, rows []interface{}, compression string) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := writer.NewParquetWriter(fw, schema, 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
