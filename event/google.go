package event

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// OrderedGooglePublisher is an ordered google publisher.
type OrderedGooglePublisher[T any] struct {
	eventName  string
	client     *pubsub.Client
	ownsClient bool
	topic      *pubsub.Topic
}

// NewOrderedGooglePublisher creates a new ordered Google Cloud event publisher for the given project/topic/event name.
// We need a specific Google publisher because ordering doesn't generalize well.
// All ordered publishers should implement the same interface.
func NewOrderedGooglePublisher[T any](ctx context.Context, project, topicName, eventName string) (*OrderedGooglePublisher[T], error) {
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	p := NewOrderedGooglePublisherFromClient[T](client, topicName, eventName)
	p.ownsClient = true
	return p, nil
}

// NewOrderedGooglePublisherFromClient is like [NewOrderedGooglePublisher] but uses the given client.
// The client is not closed by [OrderedGooglePublisher.Shutdown].
func NewOrderedGooglePublisherFromClient[T any](client *pubsub.Client, topicName, eventName string) *OrderedGooglePublisher[T] {
	topic := client.Topic(topicName)
	topic.EnableMessageOrdering = true
	return &OrderedGooglePublisher[T]{eventName: eventName, client: client, topic: topic}
}

// Publish will publish the given event with the given ordering key.
// As with [Publisher], the trace ID and organization ID of ctx are published with the event.
// After a failure, publishing with the same ordering key fails until [OrderedGooglePublisher.Resume] is called.
func (p *OrderedGooglePublisher[T]) Publish(ctx context.Context, event T, orderingKey string) error {
	encBody, err := serializeEvent(ctx, p.eventName, event)
	if err != nil {
		return err
	}

	sample := publishSampler()
	res := p.topic.Publish(ctx, &pubsub.Message{
		OrderingKey: orderingKey,
		Data:        encBody,
	})
	_, err = res.Get(ctx)
	sample(p.eventName, len(encBody), err)

	return err
}

// Resume resumes publishing for the given ordering key after a failed publish.
func (p *OrderedGooglePublisher[T]) Resume(_ context.Context, orderingKey string) error {
	p.topic.ResumePublish(orderingKey)
	return nil
}

// Shutdown sends all pending events and stops the publisher.
func (p *OrderedGooglePublisher[T]) Shutdown(context.Context) error {
	p.topic.Stop()
	if p.ownsClient {
		return p.client.Close()
	}
	return nil
}
