package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"binancefeed/internal/feed"
	"binancefeed/logger"
	"binancefeed/models"
)

const (
	// DefaultReconnectDelay is the pause between reconnect attempts.
	DefaultReconnectDelay = 5 * time.Second

	// DefaultMaxReconnectAttempts is how many delayed retries follow the
	// first connect failure before the supervisor gives up.
	DefaultMaxReconnectAttempts = 12

	// DefaultRefreshInterval forces a reconnect once a day. Binance drops
	// connections after 24 hours, so refreshing on our own schedule keeps
	// the cut from landing mid-burst.
	DefaultRefreshInterval = 24 * time.Hour
)

// SupervisorConfig configures one supervised connection.
type SupervisorConfig struct {
	URL                  string
	Subscriptions        []feed.Subscription
	SubscribeID          int64
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	RefreshInterval      time.Duration
}

// Supervisor owns a Client for the lifetime of a Run call. It keeps the
// message flow alive across connection drops and the daily forced
// refresh, re-subscribing after every reconnect.
type Supervisor struct {
	client *Client
	cfg    SupervisorConfig
	log    *logger.Log

	// depthSymbol attributes symbol-less depth snapshots to a stream.
	// Empty when the subscription set makes attribution ambiguous.
	depthSymbol string
}

// NewSupervisor builds a supervisor with defaults filled in.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.SubscribeID == 0 {
		cfg.SubscribeID = 1
	}
	return &Supervisor{
		client:      NewClient(cfg.URL),
		cfg:         cfg,
		log:         logger.GetLogger(),
		depthSymbol: depthSymbol(cfg.Subscriptions),
	}
}

// depthSymbol returns the single symbol all partial depth subscriptions
// share, or "" when there is none or more than one.
func depthSymbol(subs []feed.Subscription) string {
	sym := ""
	for _, s := range subs {
		if !s.Feed.IsPartialDepth() {
			continue
		}
		if sym != "" && sym != s.Symbol.String() {
			return ""
		}
		sym = s.Symbol.String()
	}
	return sym
}

type readResult struct {
	msg models.Message
	err error
}

// Run connects, subscribes and pumps envelopes into out until ctx is
// cancelled or an unrecoverable error occurs. Dropped connections are
// retried with the configured delay and attempt budget; the refresh
// interval forces a clean reconnect. A refresh tick that fires while a
// reconnect is already in progress is coalesced into it, not queued.
func (s *Supervisor) Run(ctx context.Context, out chan<- models.Envelope) error {
	log := s.log.WithComponent("stream_supervisor")

	if err := s.client.Connect(ctx); err != nil {
		return err
	}
	defer s.client.Disconnect()

	if err := s.client.Subscribe(s.cfg.Subscriptions, s.cfg.SubscribeID); err != nil {
		return fmt.Errorf("initial subscribe: %w", err)
	}

	refresh := time.NewTimer(s.cfg.RefreshInterval)
	defer refresh.Stop()

	results := s.startReader(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res := <-results:
			if res.err != nil {
				if errors.Is(res.err, ErrProtocolViolation) {
					return res.err
				}
				log.WithError(res.err).Info("stream disconnected, trying to reconnect")
				if err := s.reconnect(ctx); err != nil {
					return err
				}
				results = s.startReader(ctx)
				continue
			}
			env, ok := s.envelope(res.msg)
			if !ok {
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return ctx.Err()
			}

		case <-refresh.C:
			log.Info("refresh interval elapsed, reconnecting")
			if err := s.reconnect(ctx); err != nil {
				return err
			}
			results = s.startReader(ctx)
			refresh.Reset(s.cfg.RefreshInterval)
		}
	}
}

// startReader pumps Next into a fresh channel. The goroutine exits on the
// first error; a reader stranded by a forced refresh parks its final
// ErrStreamEnded in the buffer and goes away.
func (s *Supervisor) startReader(ctx context.Context) <-chan readResult {
	results := make(chan readResult, 1)
	go func() {
		for {
			msg, err := s.client.Next(ctx)
			select {
			case results <- readResult{msg: msg, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return results
}

// envelope stamps a decoded message with its symbol and receive time.
// Acks are logged and consumed here rather than forwarded.
func (s *Supervisor) envelope(msg models.Message) (models.Envelope, bool) {
	now := time.Now()
	switch m := msg.(type) {
	case models.SubscribeAck:
		entry := s.log.WithComponent("stream_supervisor").WithFields(logger.Fields{"id": m.ID})
		if m.Result != nil {
			entry.WithFields(logger.Fields{"result": *m.Result}).Warn("stream request rejected")
		} else {
			entry.Info("successfully subscribed")
		}
		return models.Envelope{}, false
	case models.AggTrade:
		return models.Envelope{Symbol: m.Symbol.String(), Message: m, ReceivedAt: now}, true
	case models.BookTicker:
		return models.Envelope{Symbol: m.Symbol.String(), Message: m, ReceivedAt: now}, true
	case models.PartialDepth:
		return models.Envelope{Symbol: s.depthSymbol, Message: m, ReceivedAt: now}, true
	default:
		return models.Envelope{Symbol: "", Message: msg, ReceivedAt: now}, true
	}
}

// reconnect closes the current connection and dials until it succeeds or
// the attempt budget runs out. Every failure waits ReconnectDelay before
// the next try; after MaxReconnectAttempts delayed retries the loop stops
// with ErrReconnectTimeout.
func (s *Supervisor) reconnect(ctx context.Context) error {
	log := s.log.WithComponent("stream_supervisor")

	// Sending on a closed connection is not allowed, so drop it first.
	s.client.Disconnect()

	attempts := 0
	for {
		err := s.client.Connect(ctx)
		if err == nil {
			break
		}
		attempts++
		logger.IncrementReconnect()
		log.WithError(err).WithFields(logger.Fields{"attempt": attempts}).Error("reconnection attempt failed")
		if attempts > s.cfg.MaxReconnectAttempts {
			return fmt.Errorf("%w: giving up after %d attempts: %v", ErrReconnectTimeout, attempts, err)
		}
		select {
		case <-time.After(s.cfg.ReconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	log.Info("successfully reconnected, subscribing")
	if err := s.client.Subscribe(s.cfg.Subscriptions, s.cfg.SubscribeID); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}
	return nil
}
