// Package feed models the named market-data channels exposed by the
// Binance websocket API and their wire tokens.
package feed

import (
	"fmt"

	"binancefeed/internal/symbols"
)

type kind int

const (
	kindAggTrade kind = iota + 1
	kindTrade
	kindBookTicker
	kindPartialDepth
	kindFullDepth
)

// DepthLevels is the number of price levels carried by a partial depth
// stream. Binance supports 5, 10 and 20.
type DepthLevels int

const (
	Depth5  DepthLevels = 5
	Depth10 DepthLevels = 10
	Depth20 DepthLevels = 20
)

// UpdateInterval is the server-side refresh interval of a partial depth
// stream.
type UpdateInterval int

const (
	Interval100ms  UpdateInterval = 100
	Interval1000ms UpdateInterval = 1000
)

// Feed identifies one channel variant. The zero value is invalid; use the
// exported constructors and constants.
type Feed struct {
	kind     kind
	levels   DepthLevels
	interval UpdateInterval
}

var (
	// AggTrade streams aggregated trade information for single taker orders.
	AggTrade = Feed{kind: kindAggTrade}

	// Trade streams raw trades, each with a unique buyer and seller.
	Trade = Feed{kind: kindTrade}

	// BookTicker streams every update to the best bid or ask in real time.
	BookTicker = Feed{kind: kindBookTicker}

	// FullDepth is the incremental order-book diff stream. It has no wire
	// token here; subscribing to it is unsupported.
	FullDepth = Feed{kind: kindFullDepth}
)

// PartialDepth returns the top-N order book snapshot feed. Levels and
// interval are validated at construction so unknown combinations never
// reach the wire.
func PartialDepth(levels DepthLevels, interval UpdateInterval) (Feed, error) {
	switch levels {
	case Depth5, Depth10, Depth20:
	default:
		return Feed{}, fmt.Errorf("invalid depth levels %d: must be 5, 10 or 20", levels)
	}
	switch interval {
	case Interval100ms, Interval1000ms:
	default:
		return Feed{}, fmt.Errorf("invalid depth interval %dms: must be 100 or 1000", interval)
	}
	return Feed{kind: kindPartialDepth, levels: levels, interval: interval}, nil
}

// MustPartialDepth is PartialDepth for compile-time-known arguments.
func MustPartialDepth(levels DepthLevels, interval UpdateInterval) Feed {
	f, err := PartialDepth(levels, interval)
	if err != nil {
		panic(err)
	}
	return f
}

// IsPartialDepth reports whether f is a partial depth feed.
func (f Feed) IsPartialDepth() bool {
	return f.kind == kindPartialDepth
}

// Token returns the lowercase wire token for the feed, e.g. "aggTrade" or
// "depth5@100ms". The 1000ms depth interval carries no suffix on the wire;
// only 100ms is spelled out. Token panics on FullDepth and on the zero
// Feed: asking for a token that does not exist is a programming error,
// not a runtime condition.
func (f Feed) Token() string {
	switch f.kind {
	case kindAggTrade:
		return "aggTrade"
	case kindTrade:
		return "trade"
	case kindBookTicker:
		return "bookTicker"
	case kindPartialDepth:
		if f.interval == Interval100ms {
			return fmt.Sprintf("depth%d@100ms", f.levels)
		}
		return fmt.Sprintf("depth%d", f.levels)
	case kindFullDepth:
		panic("feed: FullDepth has no wire token")
	default:
		panic("feed: Token called on zero Feed")
	}
}

func (f Feed) String() string {
	if f.kind == kindFullDepth {
		return "fullDepth"
	}
	return f.Token()
}

// Subscription pairs one symbol with one feed. It is the unit passed to
// subscribe and unsubscribe requests; callers own the slice.
type Subscription struct {
	Symbol symbols.Symbol
	Feed   Feed
}

// StreamName returns the "<symbol>@<token>" parameter Binance expects in
// SUBSCRIBE requests. Stream names use the lowercase symbol form.
func (s Subscription) StreamName() string {
	return s.Symbol.Lower() + "@" + s.Feed.Token()
}
