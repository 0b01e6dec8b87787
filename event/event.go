// Package event provides functionality for publish/subscribe of events.
//
// Events carry the trace ID and organization ID of the publisher context, so handlers of
// a [Subscription] log with the same trace ID as the request that originated the event.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/birdie-ai/httptrace/slog"
	"github.com/birdie-ai/httptrace/tracing"
	"gocloud.dev/pubsub"
)

type (
	// Publisher represents a publisher of events of type T.
	// The publisher guarantees that the events conform to our basic schema for events.
	Publisher[T any] struct {
		name  string
		topic *pubsub.Topic
	}

	// Body represents the general structure of the body of events.
	Body[T any] struct {
		TraceID string `json:"trace_id"`
		OrgID   string `json:"organization_id"`
		Name    string `json:"name"`
		Event   T      `json:"event"`
	}

	// Metadata is the metadata delivered with a message, independent of its body.
	Metadata struct {
		// ID is the broker assigned ID of the message, it may be empty.
		ID         string
		Attributes map[string]string
	}

	// Message is a message as received from a subscription.
	Message struct {
		Body     []byte
		Metadata Metadata
	}

	// Handler is responsible for handling events from a [Subscription].
	// The context carries the trace ID of the event and a logger with it.
	Handler[T any] func(context.Context, T) error

	// HandlerWithMetadata is a [Handler] that also gets the [Metadata] of the event message.
	HandlerWithMetadata[T any] func(context.Context, T, Metadata) error

	// Subscription is a subscription for events of type T with a specific name.
	Subscription[T any] struct {
		name string
		raw  *RawSubscription
	}

	// RawSubscription represents a subscription that delivers messages as is.
	// No assumptions are made about the message contents. This should rarely be used in favor of [Subscription].
	RawSubscription struct {
		sub            *pubsub.Subscription
		maxConcurrency int
	}

	// RawMessageHandler is responsible for handling raw messages from a subscription.
	RawMessageHandler func(Message) error
)

// NewPublisher creates a new event publisher for the given event name and topic.
func NewPublisher[T any](name string, t *pubsub.Topic) *Publisher[T] {
	return &Publisher[T]{
		name:  name,
		topic: t,
	}
}

// Publish will publish the given event.
// The trace ID and organization ID of ctx, if any, are published with the event.
func (p *Publisher[T]) Publish(ctx context.Context, event T) error {
	return p.PublishWithAttrs(ctx, event, nil)
}

// PublishWithAttrs will publish the given event with the given message attributes.
func (p *Publisher[T]) PublishWithAttrs(ctx context.Context, event T, attrs map[string]string) error {
	encBody, err := serializeEvent(ctx, p.name, event)
	if err != nil {
		return err
	}

	sample := publishSampler()
	err = p.topic.Send(ctx, &pubsub.Message{
		Body:     encBody,
		Metadata: attrs,
	})
	sample(p.name, len(encBody), err)
	if err != nil {
		return fmt.Errorf("event: publishing %q: %w", p.name, err)
	}
	return nil
}

// Shutdown shuts down the publisher topic, flushing pending events.
func (p *Publisher[T]) Shutdown(ctx context.Context) error {
	return p.topic.Shutdown(ctx)
}

// NewSubscription creates a new subscription for events with the given name.
// Messages with a different event name are acknowledged and discarded.
// See [NewRawSubscription] for details on url and maxConcurrency.
func NewSubscription[T any](name, url string, maxConcurrency int) (*Subscription[T], error) {
	raw, err := NewRawSubscription(url, maxConcurrency)
	if err != nil {
		return nil, err
	}
	return &Subscription[T]{name: name, raw: raw}, nil
}

// Serve will start serving all events from the subscription calling handler for each event.
// It has the same semantics as [RawSubscription.Serve].
func (s *Subscription[T]) Serve(handler Handler[T]) error {
	return s.ServeWithMetadata(func(ctx context.Context, event T, _ Metadata) error {
		return handler(ctx, event)
	})
}

// ServeWithMetadata is like [Subscription.Serve] but the handler also gets the message [Metadata].
//
// The handler context has the trace ID and organization ID the event was published with.
// Events published without a trace ID get a new one, so their processing can still be correlated.
func (s *Subscription[T]) ServeWithMetadata(handler HandlerWithMetadata[T]) error {
	return s.raw.Serve(SampledMessageHandler(s.name, func(msg Message) error {
		var body Body[T]
		if err := json.Unmarshal(msg.Body, &body); err != nil {
			// Redelivering a malformed event will never succeed.
			slog.Error("event: discarding malformed event", "error", err, "event", s.name,
				"message_id", msg.Metadata.ID, "message_body", string(msg.Body))
			return nil
		}
		if body.Name != s.name {
			slog.Warn("event: discarding event with unexpected name", "event", s.name,
				"got_event", body.Name, "message_id", msg.Metadata.ID)
			return nil
		}

		ctx, log := eventContext(context.Background(), body)
		start := time.Now()

		err := handler(ctx, body.Event, msg.Metadata)
		if err != nil {
			log.Error("event: handling event", "error", err, "duration", time.Since(start).String())
			return err
		}
		log.Debug("event: event handled", "duration", time.Since(start).String())
		return nil
	}))
}

// Shutdown will shutdown the subscription, see [RawSubscription.Shutdown].
func (s *Subscription[T]) Shutdown(ctx context.Context) error {
	return s.raw.Shutdown(ctx)
}

// NewRawSubscription creates a new raw subscription. It provides messages in a
// service like manner (serve) and manages concurrent execution, each message
// is processed in its own goroutines respecting the given maxConcurrency.
func NewRawSubscription(url string, maxConcurrency int) (*RawSubscription, error) {
	if maxConcurrency <= 0 {
		return nil, fmt.Errorf("max concurrency must be > 0: %d", maxConcurrency)
	}
	// We dont want the subscription to expire, so we use the background context.
	sub, err := pubsub.OpenSubscription(context.Background(), url)
	if err != nil {
		return nil, err
	}
	return &RawSubscription{
		sub:            sub,
		maxConcurrency: maxConcurrency,
	}, nil
}

// Serve will start serving all messages from the subscription calling handler for each
// message. It will run until [RawSubscription.Shutdown] is called.
// If the error is nil Ack is sent.
// If a non-nil error is returned by the handler, or it panics, Nack will be sent.
// Serve may be called multiple times, each time will start a new serving service that will
// run up to "maxConcurrency" goroutines. Serve only returns after all handlers it started are done.
func (r *RawSubscription) Serve(handler RawMessageHandler) error {
	semaphore := make(chan struct{}, r.maxConcurrency)
	for {
		semaphore <- struct{}{}
		msg, err := r.sub.Receive(context.Background())
		if err != nil {
			<-semaphore
			for range r.maxConcurrency {
				semaphore <- struct{}{}
			}
			// From: https://pkg.go.dev/gocloud.dev@v0.30.0/pubsub#example-Subscription.Receive-Concurrent
			// Errors from Receive indicate that Receive will no longer succeed.
			return fmt.Errorf("receive from subscription failed, stopping serving: %w", err)
		}
		go func() {
			defer func() {
				<-semaphore
			}()
			handle(handler, msg)
		}()
	}
}

// Shutdown will shutdown the subscriber, stopping any calls to [RawSubscription.Serve].
// The subscription should not be used after this method is called.
func (r *RawSubscription) Shutdown(ctx context.Context) error {
	return r.sub.Shutdown(ctx)
}

func handle(handler RawMessageHandler, msg *pubsub.Message) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("event: panic handling message", "panic", fmt.Sprint(p), "message_id", msg.LoggableID)
			msg.Nack()
		}
	}()

	err := handler(Message{
		Body: msg.Body,
		Metadata: Metadata{
			ID:         msg.LoggableID,
			Attributes: msg.Metadata,
		},
	})
	if err == nil {
		msg.Ack()
	} else {
		msg.Nack()
	}
}

func serializeEvent[T any](ctx context.Context, name string, event T) ([]byte, error) {
	body := Body[T]{
		Name:  name,
		Event: event,
	}
	body.TraceID, _ = tracing.CtxGetTraceID(ctx)
	body.OrgID, _ = tracing.CtxGetOrgID(ctx)

	encBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("event: serializing %q: %w", name, err)
	}
	return encBody, nil
}

func eventContext[T any](ctx context.Context, body Body[T]) (context.Context, *slog.Logger) {
	traceID := body.TraceID
	if traceID == "" {
		traceID = tracing.NewID()
	}
	ctx = tracing.CtxWithTraceID(ctx, traceID)
	log := slog.FromCtx(ctx).With("trace_id", traceID, "event", body.Name)

	if body.OrgID != "" {
		ctx = tracing.CtxWithOrgID(ctx, body.OrgID)
		log = log.With("organization_id", body.OrgID)
	}
	return slog.NewContext(ctx, log), log
}
