// Package stream maintains the websocket connection to the Binance
// market-data endpoint: connect and subscribe, decode inbound frames,
// answer keep-alive probes and reconnect when the link drops.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"binancefeed/internal/feed"
	"binancefeed/logger"
	"binancefeed/models"
)

// DefaultURL is the public Binance spot market-data endpoint.
const DefaultURL = "wss://stream.binance.com:9443/ws"

const writeWait = 10 * time.Second

// Client is a single websocket connection to the market-data endpoint.
// It starts disconnected; call Connect before Subscribe or Next. Client
// is not safe for concurrent Next calls, but Send and the control-frame
// handlers may run alongside one reader.
type Client struct {
	url string
	log *logger.Log

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewClient returns a disconnected client for the given endpoint. An
// empty url selects DefaultURL.
func NewClient(url string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url: url,
		log: logger.GetLogger(),
	}
}

// Connect dials the endpoint and installs the keep-alive handlers. A
// second Connect replaces the previous connection.
func (c *Client) Connect(ctx context.Context) error {
	log := c.log.WithComponent("stream_client").WithFields(logger.Fields{"url": c.url})
	log.Info("connecting to market data endpoint")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: status %d: %w", c.url, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	conn.SetPingHandler(func(payload string) error {
		log.Debug("ping received, answering with pong")
		return c.writeControl(conn, websocket.PongMessage, []byte(payload))
	})
	conn.SetPongHandler(func(payload string) error {
		// The server keeps the link alive with unsolicited pongs; answer
		// each one with a ping carrying the same payload.
		log.Debug("pong received, answering with ping")
		return c.writeControl(conn, websocket.PingMessage, []byte(payload))
	})

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	log.Info("connected")
	return nil
}

// Disconnect sends a normal close frame and drops the connection. It does
// nothing when not connected, and the close handshake is best effort.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}

	frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Normal")
	_ = conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
	_ = conn.Close()
	c.log.WithComponent("stream_client").Info("disconnected")
}

// Next blocks until the next decodable message arrives. Payloads that do
// not decode are logged and skipped. A binary frame ends the stream with
// ErrProtocolViolation; any transport or close error ends it with
// ErrStreamEnded wrapping the cause.
func (c *Client) Next(ctx context.Context) (models.Message, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("%w: not connected", ErrStreamEnded)
	}

	log := c.log.WithComponent("stream_client")
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStreamEnded, err)
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				log.WithFields(logger.Fields{"code": closeErr.Code, "reason": closeErr.Text}).
					Warn("close frame received from server")
			}
			return nil, fmt.Errorf("%w: %w", ErrStreamEnded, err)
		}

		if msgType == websocket.BinaryMessage {
			log.Error("binary frame received on market data stream")
			return nil, fmt.Errorf("%w: binary frame received", ErrProtocolViolation)
		}

		msg, err := models.Decode(data)
		if err != nil {
			logger.IncrementDecodeSkip()
			log.WithError(err).Warn("could not parse message, skipping")
			continue
		}
		logger.IncrementStreamRead(len(data))
		return msg, nil
	}
}

// subscribeRequest is the wire form of SUBSCRIBE and UNSUBSCRIBE calls.
type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// Subscribe requests the given streams in one batched frame. The server
// answers with a SubscribeAck on the message stream; Subscribe does not
// wait for it. An empty subscription list logs a warning and is a no-op.
//
// Binance rate limits inbound requests, so batch all subscriptions into
// one call where possible.
func (c *Client) Subscribe(subs []feed.Subscription, id int64) error {
	return c.sendRequest("SUBSCRIBE", subs, id)
}

// Unsubscribe requests removal of the given streams with a fixed request
// id. Like Subscribe it is a no-op for an empty list. Without an active
// connection there is nothing to remove, so it silently does nothing.
func (c *Client) Unsubscribe(subs []feed.Subscription) error {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.sendRequest("UNSUBSCRIBE", subs, 1)
}

func (c *Client) sendRequest(method string, subs []feed.Subscription, id int64) error {
	log := c.log.WithComponent("stream_client").WithFields(logger.Fields{"method": method})
	if len(subs) == 0 {
		log.Warn("no subscriptions provided, nothing to send")
		return nil
	}
	if id == 0 {
		id = 1
	}

	params := make([]string, 0, len(subs))
	for _, s := range subs {
		params = append(params, s.StreamName())
	}

	payload, err := json.Marshal(subscribeRequest{Method: method, Params: params, ID: id})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	log.WithFields(logger.Fields{"streams": params, "id": id}).Info("sending stream request")
	return c.Send(payload)
}

// Send writes one text frame. Writes are serialized across goroutines.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", ErrStreamEnded)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) writeControl(conn *websocket.Conn, msgType int, payload []byte) error {
	return conn.WriteControl(msgType, payload, time.Now().Add(writeWait))
}
