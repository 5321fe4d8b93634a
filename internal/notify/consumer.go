package notify

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"

	"flightplan-gateway/internal/events"
)

const (
	consumerName    = "gateway-notifier"
	consumerSubject = "gateway.*.invitation.>"
)

// Consumer pulls invitation events from JetStream and hands them to a Notifier.
type Consumer struct {
	js       nats.JetStreamContext
	notifier *Notifier
	sub      *nats.Subscription
}

func NewConsumer(js nats.JetStreamContext, notifier *Notifier) *Consumer {
	return &Consumer{js: js, notifier: notifier}
}

// Start begins consuming events from JetStream.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.js.PullSubscribe(
		consumerSubject,
		consumerName,
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
		nats.MaxDeliver(5),
		nats.MaxAckPending(256),
	)
	if err != nil {
		return err
	}
	c.sub = sub

	go c.consumeLoop(ctx)
	log.Println("INFO notify: consumer started")
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	batch := newFetchSize(32, 4, 256)
	retry := newFetchBackoff()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.sub.Fetch(batch.size, nats.MaxWait(5*time.Second))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			if ctx.Err() != nil || !c.sub.IsValid() {
				return
			}
			wait := retry.NextBackOff()
			log.Printf("WARN notify: fetch (retry in %s): %v", wait, err)
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}
		retry.Reset()
		batch.observe(len(msgs))

		for _, msg := range msgs {
			switch c.process(ctx, msg.Data) {
			case outcomeAck:
				_ = msg.Ack()
			case outcomeTerm:
				_ = msg.Term()
			case outcomeRetry:
				_ = msg.NakWithDelay(5 * time.Second)
			}
		}
	}
}

// newFetchBackoff paces retries while JetStream is unreachable.
func newFetchBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.Reset()
	return b
}

// sleepCtx waits for d and reports false when ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeTerm
	outcomeRetry
)

func (c *Consumer) process(ctx context.Context, data []byte) outcome {
	ev, err := events.Decode(data)
	if err != nil {
		log.Printf("ERROR notify: unmarshal (terminating): %v", err)
		return outcomeTerm
	}
	if err := c.notifier.Handle(ctx, ev); err != nil {
		log.Printf("WARN notify: deliver type=%s invitation=%s: %v", ev.Type, ev.InvitationID, err)
		return outcomeRetry
	}
	return outcomeAck
}

// Stop gracefully stops the consumer.
func (c *Consumer) Stop() error {
	if c.sub != nil {
		return c.sub.Drain()
	}
	return nil
}

// fetchSize grows the batch after consecutive full fetches and shrinks it
// after consecutive empty ones.
type fetchSize struct {
	size, min, max int
	full, empty    int
}

func newFetchSize(initial, min, max int) *fetchSize {
	return &fetchSize{size: initial, min: min, max: max}
}

func (f *fetchSize) observe(got int) {
	switch {
	case got == 0:
		f.empty++
		f.full = 0
		if f.empty >= 3 && f.size > f.min {
			f.size /= 2
			if f.size < f.min {
				f.size = f.min
			}
			f.empty = 0
		}
	case got == f.size:
		f.full++
		f.empty = 0
		if f.full >= 3 && f.size < f.max {
			f.size *= 2
			if f.size > f.max {
				f.size = f.max
			}
			f.full = 0
		}
	default:
		f.full = 0
		f.empty = 0
	}
}
