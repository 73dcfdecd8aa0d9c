package cacheversion

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// event is the minimal shape read off the bus; unknown fields are ignored.
type event struct {
	Tenant string `json:"tenant"`
}

// Subscriber listens on a Redis pub/sub channel for mutation events and
// bumps the matching tenant's cache version. It never terminates the
// process on failure: subscription errors and malformed payloads are
// logged and the connection is retried with exponential backoff.
type Subscriber struct {
	rdb     *redis.Client
	counter *Counter
	channel string
	logger  *slog.Logger
}

// NewSubscriber creates a Subscriber bound to channel on rdb, bumping counter.
func NewSubscriber(rdb *redis.Client, counter *Counter, channel string, logger *slog.Logger) *Subscriber {
	return &Subscriber{rdb: rdb, counter: counter, channel: channel, logger: logger}
}

// Run subscribes and processes messages until ctx is cancelled, reconnecting
// with exponential backoff whenever the subscription drops.
func (s *Subscriber) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry forever; ctx cancellation is the only exit

	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.subscribeOnce(ctx); err != nil {
			wait := bo.NextBackOff()
			s.logger.Warn("cache-version subscriber disconnected, retrying",
				"error", err, "channel", s.channel, "retry_in", wait)

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		// subscribeOnce returned nil only because ctx was cancelled.
		return
	}
}

func (s *Subscriber) subscribeOnce(ctx context.Context) error {
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			s.handle(msg.Payload)
		}
	}
}

func (s *Subscriber) handle(payload string) {
	var e event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		s.logger.Warn("cache-version subscriber: malformed payload", "error", err)
		return
	}
	if e.Tenant == "" {
		return
	}
	s.counter.Increment(e.Tenant)
}
