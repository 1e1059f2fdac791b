package message_broaker

import (
	"context"
	"errors"
)

var ErrBrokerClosed = errors.New("message broker is closed")

// MessageBroker moves opaque task messages between the submitting side and the workers.
// Consumers must Ack or Nack every Delivery they receive.
type MessageBroker interface {
	Publish(ctx context.Context, queue string, message []byte) error
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)
	// Durable reports whether published messages survive a broker restart.
	Durable() bool
	Close() error
}

// Delivery is one received message together with its settlement callbacks.
type Delivery struct {
	Body []byte

	ack  func() error
	nack func(requeue bool) error
}

func NewDelivery(body []byte, ack func() error, nack func(requeue bool) error) Delivery {
	return Delivery{Body: body, ack: ack, nack: nack}
}

// Ack removes the message from the broker.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack gives the message back. With requeue it is delivered again, otherwise it is dropped.
func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}
