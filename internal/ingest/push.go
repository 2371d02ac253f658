package ingest

import (
	"context"
	"errors"
)

var ErrQueueFull = errors.New("ingest queue is full")

// PushQueue buffers notifications posted to the inbound webhook until the
// next ingestion run picks them up.
type PushQueue struct {
	ch chan Email
}

func NewPushQueue(size int) *PushQueue {
	if size <= 0 {
		size = 256
	}
	return &PushQueue{ch: make(chan Email, size)}
}

func (q *PushQueue) Name() string { return SourceWebhook }

// Push never blocks.
func (q *PushQueue) Push(e Email) error {
	e.Source = SourceWebhook
	e = withMessageID(e)
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *PushQueue) Len() int { return len(q.ch) }

// Fetch drains what is queued right now.
func (q *PushQueue) Fetch(ctx context.Context) ([]Email, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Email
	for {
		select {
		case e := <-q.ch:
			out = append(out, e)
		default:
			return out, nil
		}
	}
}

func (q *PushQueue) Ack(context.Context, Email) error { return nil }
