package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"binancefeed/internal/feed"
	"binancefeed/internal/symbols"
	"binancefeed/models"
)

const aggTradeFrame = `{"e":"aggTrade","E":1591261134288,"a":424951,"s":"BTCUSDT","p":"9643.5","q":"2","f":606073,"l":606073,"T":1591261134199,"m":false}`

func TestSubscribeRequestShape(t *testing.T) {
	srv := newMockServer()
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	subs := []feed.Subscription{
		{Symbol: symbols.BTCUSDT, Feed: feed.AggTrade},
		{Symbol: symbols.BTCUSDT, Feed: feed.MustPartialDepth(feed.Depth5, feed.Interval100ms)},
	}
	if err := c.Subscribe(subs, 0); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	waitFor(t, time.Second, "subscribe frame", func() bool {
		return len(srv.receivedMessages()) == 1
	})

	var req struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int64    `json:"id"`
	}
	if err := json.Unmarshal(srv.receivedMessages()[0], &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if req.Method != "SUBSCRIBE" {
		t.Errorf("method = %q", req.Method)
	}
	if req.ID != 1 {
		t.Errorf("id = %d, want default 1", req.ID)
	}
	want := []string{"btcusdt@aggTrade", "btcusdt@depth5@100ms"}
	if len(req.Params) != len(want) {
		t.Fatalf("params = %v", req.Params)
	}
	for i := range want {
		if req.Params[i] != want[i] {
			t.Errorf("params[%d] = %q, want %q", i, req.Params[i], want[i])
		}
	}
}

func TestSubscribeEmptyIsNoop(t *testing.T) {
	srv := newMockServer()
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.Subscribe(nil, 1); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.Unsubscribe(nil); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := len(srv.receivedMessages()); n != 0 {
		t.Errorf("server received %d frames, want 0", n)
	}
}

func TestUnsubscribeRequestMethod(t *testing.T) {
	srv := newMockServer()
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	subs := []feed.Subscription{{Symbol: symbols.ETHUSDT, Feed: feed.BookTicker}}
	if err := c.Unsubscribe(subs); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	waitFor(t, time.Second, "unsubscribe frame", func() bool {
		return len(srv.receivedMessages()) == 1
	})

	var req struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int64    `json:"id"`
	}
	if err := json.Unmarshal(srv.receivedMessages()[0], &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if req.Method != "UNSUBSCRIBE" || req.ID != 1 || len(req.Params) != 1 || req.Params[0] != "ethusdt@bookTicker" {
		t.Errorf("request = %+v", req)
	}
}

func TestUnsubscribeDisconnectedIsSilentNoop(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1")
	subs := []feed.Subscription{{Symbol: symbols.ETHUSDT, Feed: feed.BookTicker}}
	if err := c.Unsubscribe(subs); err != nil {
		t.Fatalf("unsubscribe while disconnected: %v", err)
	}
}

func TestNextDecodesMessage(t *testing.T) {
	srv := newMockServer()
	defer srv.Close()
	srv.queue([]byte(aggTradeFrame))

	c := NewClient(srv.URL)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	msg, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	trade, ok := msg.(models.AggTrade)
	if !ok {
		t.Fatalf("got %T, want AggTrade", msg)
	}
	if trade.Symbol != symbols.BTCUSDT || trade.TradeID != 424951 {
		t.Errorf("trade = %+v", trade)
	}
}

func TestNextSkipsMalformedPayloads(t *testing.T) {
	srv := newMockServer()
	defer srv.Close()
	srv.queue([]byte(`this is not json`))
	srv.queue([]byte(`{"e":"kline","E":1}`))
	srv.queue([]byte(aggTradeFrame))

	c := NewClient(srv.URL)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	msg, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if _, ok := msg.(models.AggTrade); !ok {
		t.Fatalf("got %T, want AggTrade after skipping junk", msg)
	}
}

func TestNextBinaryFrameIsProtocolViolation(t *testing.T) {
	srv := newMockServer()
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	waitFor(t, time.Second, "server side connection", func() bool {
		return srv.lastConn() != nil
	})
	if err := srv.lastConn().WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("server write: %v", err)
	}

	_, err := c.Next(context.Background())
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("err = %v, want ErrProtocolViolation", err)
	}
}

func TestNextServerCloseEndsStream(t *testing.T) {
	srv := newMockServer()
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	waitFor(t, time.Second, "server side connection", func() bool {
		return srv.lastConn() != nil
	})
	frame := websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")
	_ = srv.lastConn().WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second))
	srv.lastConn().Close()

	_, err := c.Next(context.Background())
	if !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("err = %v, want ErrStreamEnded", err)
	}
}

func TestNextNotConnected(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1")
	if _, err := c.Next(context.Background()); !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("err = %v, want ErrStreamEnded", err)
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	srv := newMockServer()
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	waitFor(t, time.Second, "server side connection", func() bool {
		return srv.lastConn() != nil
	})

	// Next must be pumping reads for the control handler to run.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = c.Next(ctx) }()

	if err := srv.lastConn().WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("server ping: %v", err)
	}

	waitFor(t, 2*time.Second, "pong from client", func() bool {
		return len(srv.pongPayloads()) == 1
	})
	if got := srv.pongPayloads()[0]; got != "keepalive" {
		t.Errorf("pong payload = %q, want original ping payload", got)
	}
}

func TestPongAnsweredWithPing(t *testing.T) {
	srv := newMockServer()
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	waitFor(t, time.Second, "server side connection", func() bool {
		return srv.lastConn() != nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = c.Next(ctx) }()

	if err := srv.lastConn().WriteControl(websocket.PongMessage, []byte("ka"), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("server pong: %v", err)
	}

	waitFor(t, 2*time.Second, "ping from client", func() bool {
		return len(srv.pingPayloads()) == 1
	})
	if got := srv.pingPayloads()[0]; got != "ka" {
		t.Errorf("ping payload = %q, want original pong payload", got)
	}
}

func TestSendNotConnected(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1")
	if err := c.Send([]byte("{}")); !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("err = %v, want ErrStreamEnded", err)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1")
	c.Disconnect()
	c.Disconnect()
}
