package kv

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// queueSource abstracts the storage side of the durable queue so the bbolt
// and memory stores share one delivery loop.
type queueSource interface {
	// peek returns the oldest queued message without removing it.
	peek(ctx context.Context) (seq uint64, msg []byte, ok bool, err error)
	// ack removes a delivered message.
	ack(ctx context.Context, seq uint64) error
	// wakeup signals that new messages may be available.
	wakeup() <-chan struct{}
}

const (
	queueBackoffBase = 50 * time.Millisecond
	queueBackoffCap  = 5 * time.Second
	queuePollEvery   = time.Second
)

// listen drives at-least-once FIFO delivery: the head message is handed to
// fn until it succeeds, then acknowledged. Redelivery backoff scales with
// the attempt count plus jitter.
func listen(ctx context.Context, src queueSource, fn func(context.Context, []byte) error, log *slog.Logger) error {
	var (
		lastSeq  uint64
		attempts int
	)
	for {
		seq, msg, ok, err := src.peek(ctx)
		if err != nil {
			return err
		}
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-src.wakeup():
			case <-time.After(queuePollEvery):
			}
			continue
		}

		if seq != lastSeq {
			lastSeq = seq
			attempts = 0
		}
		attempts++

		if err := fn(ctx, msg); err != nil {
			if log != nil {
				log.Warn("queue delivery failed, will redeliver",
					"seq", seq,
					"attempt", attempts,
					"error", err,
				)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff(attempts)):
			}
			continue
		}

		if err := src.ack(ctx, seq); err != nil {
			return err
		}
	}
}

// retryBackoff returns a randomized delay that grows with the attempt number.
func retryBackoff(attempt int) time.Duration {
	d := time.Duration(attempt) * queueBackoffBase
	d += time.Duration(rand.Int63n(int64(queueBackoffBase)))
	if d > queueBackoffCap {
		d = queueBackoffCap
	}
	return d
}
