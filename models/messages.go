package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"binancefeed/internal/symbols"
)

// Message is one decoded inbound event from the market-data stream.
// Concrete types are AggTrade, PartialDepth, BookTicker and SubscribeAck.
type Message interface {
	isMessage()
}

func (AggTrade) isMessage()     {}
func (PartialDepth) isMessage() {}
func (BookTicker) isMessage()   {}
func (SubscribeAck) isMessage() {}

// DecodeError reports a payload that could not be classified or parsed.
// It is recoverable: the reader logs it and moves on to the next frame.
type DecodeError struct {
	Reason  string
	Payload []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %s: %s", e.Reason, truncate(e.Payload, 256))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// AggTrade carries trade information aggregated for a single taker order.
// Prices and quantities arrive as JSON strings and are kept as exact
// decimals end to end.
type AggTrade struct {
	Event         string          `json:"e"`
	EventTime     int64           `json:"E"`
	TradeID       int64           `json:"a"`
	Symbol        symbols.Symbol  `json:"s"`
	Price         decimal.Decimal `json:"p"`
	Quantity      decimal.Decimal `json:"q"`
	FirstTradeID  int64           `json:"f"`
	LastTradeID   int64           `json:"l"`
	TradeTime     int64           `json:"T"`
	IsMarketMaker bool            `json:"m"`
}

// PriceLevel is one [price, quantity] pair of an order book side. On the
// wire it is a two-element array of decimal strings.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// UnmarshalJSON accepts the ["98655.99000000","7.22497000"] wire form.
func (l *PriceLevel) UnmarshalJSON(data []byte) error {
	var pair []decimal.Decimal
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("price level has %d elements, want 2", len(pair))
	}
	l.Price = pair[0]
	l.Quantity = pair[1]
	return nil
}

// MarshalJSON emits the same two-element array form Binance uses.
func (l PriceLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{l.Price.String(), l.Quantity.String()})
}

// PartialDepth is a top-N snapshot of the order book. The payload carries
// no symbol; attribution to a subscription happens downstream.
type PartialDepth struct {
	LastUpdateID int64        `json:"lastUpdateId"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// BookTicker is a realtime update of the best bid and ask for one symbol.
type BookTicker struct {
	UpdateID     int64           `json:"u"`
	Symbol       symbols.Symbol  `json:"s"`
	BestBidPrice decimal.Decimal `json:"b"`
	BestBidQty   decimal.Decimal `json:"B"`
	BestAskPrice decimal.Decimal `json:"a"`
	BestAskQty   decimal.Decimal `json:"A"`
}

// SubscribeAck confirms a SUBSCRIBE or UNSUBSCRIBE request. Result is null
// on success, so any non-nil value is surfaced for the caller to inspect.
type SubscribeAck struct {
	Result *string `json:"result"`
	ID     int64   `json:"id"`
}

// Decode classifies one text frame and parses it into a concrete Message.
//
// The event shapes share no envelope, so classification probes the top
// level fields directly: an "e" event tag wins, then the depth snapshot's
// "lastUpdateId", then the book ticker's characteristic u/s/b/B/a/A set,
// then an ack's "id". Anything else is a DecodeError.
func Decode(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &DecodeError{Reason: "not a JSON object", Payload: data}
	}

	if raw, ok := fields["e"]; ok {
		var event string
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, &DecodeError{Reason: "event tag is not a string", Payload: data}
		}
		switch event {
		case "aggTrade":
			var m AggTrade
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, &DecodeError{Reason: "malformed aggTrade: " + err.Error(), Payload: data}
			}
			return m, nil
		default:
			return nil, &DecodeError{Reason: "unknown event " + event, Payload: data}
		}
	}

	if _, ok := fields["lastUpdateId"]; ok {
		var m PartialDepth
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &DecodeError{Reason: "malformed depth snapshot: " + err.Error(), Payload: data}
		}
		return m, nil
	}

	if hasAll(fields, "u", "s", "b", "B", "a", "A") {
		var m BookTicker
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &DecodeError{Reason: "malformed book ticker: " + err.Error(), Payload: data}
		}
		return m, nil
	}

	if _, ok := fields["id"]; ok {
		var m SubscribeAck
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &DecodeError{Reason: "malformed ack: " + err.Error(), Payload: data}
		}
		return m, nil
	}

	return nil, &DecodeError{Reason: "unrecognized payload", Payload: data}
}

func hasAll(fields map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if _, ok := fields[k]; !ok {
			return false
		}
	}
	return true
}
