package rendezvous

import (
	"context"
	"sync"
)

// Link is an in-process connection between a Rendezvous and a remote handler.
// The Rendezvous side uses Channels; the remote side reads Requests and answers
// with Reply. Closing the link disconnects both directions.
type Link[Req, Resp any] struct {
	requests chan Envelope[Req]
	replies  chan Envelope[Resp]
	done     chan struct{}
	once     sync.Once
}

// NewLink creates an open link. Requests are buffered one deep, matching the
// single-outstanding-request contract.
func NewLink[Req, Resp any]() *Link[Req, Resp] {
	return &Link[Req, Resp]{
		requests: make(chan Envelope[Req], 1),
		replies:  make(chan Envelope[Resp], 1),
		done:     make(chan struct{}),
	}
}

// Channels returns the Rendezvous-side halves of the link.
func (l *Link[Req, Resp]) Channels() Channels[Req, Resp] {
	return Channels[Req, Resp]{
		Outbound: linkOutbound[Req, Resp]{l},
		Inbound:  linkInbound[Req, Resp]{l},
	}
}

// Requests is the remote handler's inbound channel.
func (l *Link[Req, Resp]) Requests() <-chan Envelope[Req] {
	return l.requests
}

// Done is closed when the link is closed.
func (l *Link[Req, Resp]) Done() <-chan struct{} {
	return l.done
}

// Reply delivers a reply to the waiting Rendezvous.
func (l *Link[Req, Resp]) Reply(env Envelope[Resp]) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.replies <- env:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// Close disconnects the link. A blocked Send returns a disconnection error.
func (l *Link[Req, Resp]) Close() {
	l.once.Do(func() { close(l.done) })
}

type linkOutbound[Req, Resp any] struct{ l *Link[Req, Resp] }

func (o linkOutbound[Req, Resp]) Post(env Envelope[Req]) error {
	select {
	case <-o.l.done:
		return ErrClosed
	default:
	}
	select {
	case o.l.requests <- env:
		return nil
	case <-o.l.done:
		return ErrClosed
	}
}

type linkInbound[Req, Resp any] struct{ l *Link[Req, Resp] }

func (i linkInbound[Req, Resp]) Recv() (Envelope[Resp], error) {
	// A reply already delivered wins over a concurrent close.
	select {
	case env := <-i.l.replies:
		return env, nil
	default:
	}
	select {
	case env := <-i.l.replies:
		return env, nil
	case <-i.l.done:
		return Envelope[Resp]{}, ErrClosed
	}
}

// FromChannel adapts a plain receive channel to Inbound. A closed channel
// reads as disconnection.
func FromChannel[Resp any](ch <-chan Envelope[Resp]) Inbound[Resp] {
	return chanInbound[Resp](ch)
}

type chanInbound[Resp any] <-chan Envelope[Resp]

func (c chanInbound[Resp]) Recv() (Envelope[Resp], error) {
	env, ok := <-c
	if !ok {
		return Envelope[Resp]{}, ErrClosed
	}
	return env, nil
}

// ToChannel adapts a plain send channel to Outbound. The channel must not be
// closed while Post may be called; use a Link when the remote side can go away.
func ToChannel[Req any](ch chan<- Envelope[Req]) Outbound[Req] {
	return chanOutbound[Req](ch)
}

type chanOutbound[Req any] chan<- Envelope[Req]

func (c chanOutbound[Req]) Post(env Envelope[Req]) error {
	c <- env
	return nil
}

// HandlerFunc answers one request.
type HandlerFunc[Req, Resp any] func(ctx context.Context, req Req) Resp

// Serve runs the remote handler loop: every accepted request is answered
// exactly once with its identifier echoed. Serve returns when ctx ends or the
// link is closed.
func Serve[Req, Resp any](ctx context.Context, link *Link[Req, Resp], handle HandlerFunc[Req, Resp]) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-link.done:
			return nil
		case env := <-link.requests:
			resp := handle(ctx, env.Payload)
			if err := link.Reply(Envelope[Resp]{ID: env.ID, Payload: resp}); err != nil {
				return nil
			}
		}
	}
}
