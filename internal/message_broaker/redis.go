package message_broaker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	processingSuffix   = ":processing"
	defaultPollTimeout = time.Second
)

// RedisBroker implements a reliable queue on Redis lists. Publish pushes to the
// head of the list; a consumer atomically moves the tail element into a
// per-queue processing list and removes it from there on Ack.
type RedisBroker struct {
	client      redis.UniversalClient
	pollTimeout time.Duration
}

func NewRedisBroker(client redis.UniversalClient) *RedisBroker {
	return &RedisBroker{client: client, pollTimeout: defaultPollTimeout}
}

func processingList(queue string) string {
	return queue + processingSuffix
}

func (r *RedisBroker) Publish(ctx context.Context, queue string, message []byte) error {
	return r.client.LPush(ctx, queue, message).Err()
}

func (r *RedisBroker) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)

		for ctx.Err() == nil {
			body, err := r.client.BRPopLPush(ctx, queue, processingList(queue), r.pollTimeout).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				log.WithField("queue", queue).Errorf("redis consume: %v", err)
				select {
				case <-time.After(r.pollTimeout):
				case <-ctx.Done():
				}
				continue
			}

			d := r.delivery(queue, body)
			select {
			case out <- d:
			case <-ctx.Done():
				if err := d.Nack(true); err != nil {
					log.WithField("queue", queue).Errorf("redis requeue: %v", err)
				}
				return
			}
		}
	}()

	return out, nil
}

func (r *RedisBroker) delivery(queue string, body []byte) Delivery {
	ack := func() error {
		return r.client.LRem(context.Background(), processingList(queue), 1, body).Err()
	}
	nack := func(requeue bool) error {
		ctx := context.Background()
		pipe := r.client.TxPipeline()
		pipe.LRem(ctx, processingList(queue), 1, body)
		if requeue {
			// back to the tail, so it is the next one popped
			pipe.RPush(ctx, queue, body)
		}
		_, err := pipe.Exec(ctx)
		return err
	}
	return NewDelivery(body, ack, nack)
}

// RecoverProcessing moves messages left in the processing list by a crashed
// consumer back to the queue and returns how many were moved.
func (r *RedisBroker) RecoverProcessing(ctx context.Context, queue string) (int, error) {
	moved := 0
	for {
		err := r.client.RPopLPush(ctx, processingList(queue), queue).Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

// Durable depends on the persistence settings of the Redis server; lists are
// kept across restarts when AOF or RDB snapshots are enabled.
func (r *RedisBroker) Durable() bool {
	return true
}

func (r *RedisBroker) Close() error {
	return r.client.Close()
}
