// Package rendezvous implements a blocking, correlated request/reply exchange
// between a thread that cannot yield (the engine thread) and a remote handler
// running on another goroutine (typically the UI loop).
//
// Each request is tagged with the next value of an instance-owned counter. The
// caller blocks until a reply arrives, and the reply must echo the request's
// identifier. A mismatch is a protocol fault and panics; it is never resynced.
// Only one request may be outstanding per Rendezvous.
package rendezvous

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/emusync/emusync/pkg/faults"
	"github.com/emusync/emusync/pkg/telemetry"
)

// ErrDisconnected is matched (via errors.Is) by errors returned when either
// side of the exchange has gone away.
var ErrDisconnected = &faults.Error{Class: faults.ClassDisconnected}

// ErrClosed is returned by the in-process Link once it has been closed.
var ErrClosed = errors.New("rendezvous: link closed")

// Envelope carries a payload with its correlation identifier.
type Envelope[T any] struct {
	ID      uint64
	Payload T
}

// Outbound delivers requests to the remote handler.
type Outbound[Req any] interface {
	// Post hands env to the remote handler. It returns an error if the
	// remote side is no longer accepting requests.
	Post(env Envelope[Req]) error
}

// Inbound yields replies from the remote handler.
type Inbound[Resp any] interface {
	// Recv blocks until the next reply. It returns an error once the remote
	// side will produce no more replies.
	Recv() (Envelope[Resp], error)
}

// Channels are the two halves a Rendezvous is built from. Cleanup hands them
// back so the owner can build the next Rendezvous from the same pair.
type Channels[Req, Resp any] struct {
	Outbound Outbound[Req]
	Inbound  Inbound[Resp]
}

// Rendezvous sends requests and blocks for their replies.
type Rendezvous[Req, Resp any] struct {
	nextID   atomic.Uint64
	outbound Outbound[Req]
	inbound  Inbound[Resp]

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	kindOf  func(Req) string
}

// Option configures a Rendezvous.
type Option func(*options)

type options struct {
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	kindOf  func(any) string
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *telemetry.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithKind sets the function naming a request for logs and metrics labels.
func WithKind(kindOf func(any) string) Option {
	return func(o *options) { o.kindOf = kindOf }
}

// New creates a Rendezvous over the given halves. The identifier counter
// starts at zero.
func New[Req, Resp any](ch Channels[Req, Resp], opts ...Option) *Rendezvous[Req, Resp] {
	o := options{
		logger:  telemetry.NopLogger(),
		metrics: telemetry.NopMetrics(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	kindOf := func(req Req) string { return fmt.Sprintf("%T", req) }
	if o.kindOf != nil {
		custom := o.kindOf
		kindOf = func(req Req) string { return custom(req) }
	}

	return &Rendezvous[Req, Resp]{
		outbound: ch.Outbound,
		inbound:  ch.Inbound,
		logger:   o.logger,
		metrics:  o.metrics,
		kindOf:   kindOf,
	}
}

// Send posts payload and blocks until its reply arrives. It must not be called
// concurrently on the same Rendezvous.
//
// Send returns an error matching ErrDisconnected if the request cannot be
// delivered or the reply source closes. A reply whose identifier differs from
// the request's raises a *faults.Fault of class protocol.
func (r *Rendezvous[Req, Resp]) Send(payload Req) (Resp, error) {
	var zero Resp

	id := r.nextID.Add(1) - 1
	kind := r.kindOf(payload)
	timer := telemetry.NewTimer()

	if err := r.outbound.Post(Envelope[Req]{ID: id, Payload: payload}); err != nil {
		r.metrics.RecordRequest(kind, "disconnected", timer.Duration())
		return zero, faults.NewDisconnectedError("remote handler is not accepting requests", err).
			WithOperation(kind).
			WithDetail("request_id", id)
	}

	reply, err := r.inbound.Recv()
	if err != nil {
		r.metrics.RecordRequest(kind, "disconnected", timer.Duration())
		return zero, faults.NewDisconnectedError("reply channel closed", err).
			WithOperation(kind).
			WithDetail("request_id", id)
	}

	if reply.ID != id {
		r.metrics.RecordFault(string(faults.ClassProtocol))
		r.logger.WithFields(map[string]interface{}{
			"request_id": id,
			"reply_id":   reply.ID,
			"kind":       kind,
		}).Error("Reply does not correspond to request")
		faults.RaiseWith(&faults.Fault{
			Class:   faults.ClassProtocol,
			Message: fmt.Sprintf("reply %d does not correspond to request %d (%s)", reply.ID, id, kind),
			Details: map[string]interface{}{"request_id": id, "reply_id": reply.ID},
		})
	}

	r.metrics.RecordRequest(kind, "ok", timer.Duration())
	r.logger.Tracef("request %d (%s) answered in %s", id, kind, timer.Duration().Round(time.Microsecond))
	return reply.Payload, nil
}

// Cleanup dismantles the Rendezvous and returns its halves. It is only valid
// when no request is outstanding.
func (r *Rendezvous[Req, Resp]) Cleanup() Channels[Req, Resp] {
	return Channels[Req, Resp]{
		Outbound: r.outbound,
		Inbound:  r.inbound,
	}
}
