package models

import "time"

// Envelope wraps one decoded stream message with receive-side metadata.
// The depth snapshot payload carries no symbol of its own, so the reader
// stamps the subscription's symbol here before handing the message on.
type Envelope struct {
	Symbol     string
	Stream     string
	Message    Message
	ReceivedAt time.Time
}

// DepthRow is a single flattened order book level, one row per side and
// level. Prices and quantities stay as decimal strings so no precision is
// lost between the wire and storage.
type DepthRow struct {
	Symbol       string `json:"symbol"`
	LastUpdateID int64  `json:"last_update_id"`
	Side         string `json:"side"` // "bid" or "ask"
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	Level        int    `json:"level"` // 1 = best, 2 = second best, etc.
	ReceivedTime int64  `json:"received_time"`
}

// DepthBatch groups flattened depth rows for one symbol before writing.
type DepthBatch struct {
	BatchID     string     `json:"batch_id"`
	Symbol      string     `json:"symbol"`
	Rows        []DepthRow `json:"rows"`
	RecordCount int        `json:"record_count"`
	ProcessedAt time.Time  `json:"processed_at"`
}

// TradeRow is a single flattened aggregate trade.
type TradeRow struct {
	Symbol        string `json:"symbol"`
	TradeID       int64  `json:"trade_id"`
	Price         string `json:"price"`
	Quantity      string `json:"quantity"`
	FirstTradeID  int64  `json:"first_trade_id"`
	LastTradeID   int64  `json:"last_trade_id"`
	EventTime     int64  `json:"event_time"`
	TradeTime     int64  `json:"trade_time"`
	IsMarketMaker bool   `json:"is_market_maker"`
	ReceivedTime  int64  `json:"received_time"`
}

// TradeBatch groups flattened trades for one symbol before writing.
type TradeBatch struct {
	BatchID     string     `json:"batch_id"`
	Symbol      string     `json:"symbol"`
	Rows        []TradeRow `json:"rows"`
	RecordCount int        `json:"record_count"`
	ProcessedAt time.Time  `json:"processed_at"`
}

// TickerRow is a single flattened best bid/ask update.
type TickerRow struct {
	Symbol       string `json:"symbol"`
	UpdateID     int64  `json:"update_id"`
	BestBidPrice string `json:"best_bid_price"`
	BestBidQty   string `json:"best_bid_qty"`
	BestAskPrice string `json:"best_ask_price"`
	BestAskQty   string `json:"best_ask_qty"`
	ReceivedTime int64  `json:"received_time"`
}

// TickerBatch groups flattened ticker updates for one symbol before writing.
type TickerBatch struct {
	BatchID     string      `json:"batch_id"`
	Symbol      string      `json:"symbol"`
	Rows        []TickerRow `json:"rows"`
	RecordCount int         `json:"record_count"`
	ProcessedAt time.Time   `json:"processed_at"`
}
