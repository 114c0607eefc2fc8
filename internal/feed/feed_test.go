package feed

import (
	"testing"

	"binancefeed/internal/symbols"
)

func TestTokens(t *testing.T) {
	tests := []struct {
		name string
		feed Feed
		want string
	}{
		{"agg trade", AggTrade, "aggTrade"},
		{"raw trade", Trade, "trade"},
		{"book ticker", BookTicker, "bookTicker"},
		{"depth5 100ms", MustPartialDepth(Depth5, Interval100ms), "depth5@100ms"},
		{"depth5 1000ms", MustPartialDepth(Depth5, Interval1000ms), "depth5"},
		{"depth10 100ms", MustPartialDepth(Depth10, Interval100ms), "depth10@100ms"},
		{"depth20 1000ms", MustPartialDepth(Depth20, Interval1000ms), "depth20"},
	}
	for _, tc := range tests {
		if got := tc.feed.Token(); got != tc.want {
			t.Errorf("%s: Token() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestPartialDepthValidation(t *testing.T) {
	if _, err := PartialDepth(7, Interval100ms); err == nil {
		t.Error("expected error for 7 levels")
	}
	if _, err := PartialDepth(Depth5, 250); err == nil {
		t.Error("expected error for 250ms interval")
	}
	if _, err := PartialDepth(Depth10, Interval1000ms); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFullDepthTokenPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Token() on FullDepth should panic")
		}
	}()
	_ = FullDepth.Token()
}

func TestZeroFeedTokenPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Token() on zero Feed should panic")
		}
	}()
	var f Feed
	_ = f.Token()
}

func TestStreamName(t *testing.T) {
	tests := []struct {
		sub  Subscription
		want string
	}{
		{Subscription{symbols.BTCUSDT, AggTrade}, "btcusdt@aggTrade"},
		{Subscription{symbols.ETHUSDT, MustPartialDepth(Depth5, Interval100ms)}, "ethusdt@depth5@100ms"},
		{Subscription{symbols.BNBUSDT, BookTicker}, "bnbusdt@bookTicker"},
	}
	for _, tc := range tests {
		if got := tc.sub.StreamName(); got != tc.want {
			t.Errorf("StreamName() = %q, want %q", got, tc.want)
		}
	}
}
