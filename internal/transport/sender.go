package transport

import (
	"context"
	"io"

	"github.com/1ureka/uip/internal/protocol"
	"github.com/1ureka/uip/internal/util"
)

// sendQueueSize is the capacity of the outbound frame queue. Enqueueing
// blocks once it is full.
const sendQueueSize = 10

// sender is a goroutine-based frame writer that serializes all writes to a
// single connection.
type sender struct {
	inbox chan *protocol.Frame
}

// newSender creates a sender and starts the background loop. The loop exits
// when ctx is cancelled or a write fails; onError receives the write error.
func newSender(ctx context.Context, w io.Writer, onError func(error)) *sender {
	s := &sender{
		inbox: make(chan *protocol.Frame, sendQueueSize),
	}

	go s.loop(ctx, w, onError)

	return s
}

// loop is the single-writer goroutine. Each frame is encoded into a reused
// buffer and written with one Write call.
func (s *sender) loop(ctx context.Context, w io.Writer, onError func(error)) {
	var buf []byte
	for {
		select {
		case f := <-s.inbox:
			var err error
			buf, err = protocol.Append(buf[:0], f)
			if err != nil {
				onError(err)
				return
			}

			if _, err := w.Write(buf); err != nil {
				onError(err)
				return
			}

			if f.Type == protocol.TypeData {
				util.Stats.AddSent(len(buf))
			}
		case <-ctx.Done():
			return
		}
	}
}

// send enqueues a frame for transmission. It blocks while the queue is full
// and returns ErrClosed once the transport is torn down, or the caller's
// context error if that ends first.
func (s *sender) send(ctx, transportCtx context.Context, f *protocol.Frame) error {
	if transportCtx.Err() != nil {
		return ErrClosed
	}

	select {
	case s.inbox <- f:
		return nil
	case <-transportCtx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
