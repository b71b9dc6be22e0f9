// Package events publishes estimate lifecycle events.
package events

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"

	"github.com/homefit-remodel/api/internal/services"
)

// PubSubEventPublisher publishes estimate events to a single Pub/Sub topic. Consumers
// route on the eventType attribute.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	newID   func() string
}

var _ services.EventPublisher = (*PubSubEventPublisher)(nil)

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
		newID: func() string {
			return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
		},
	}, nil
}

// PublishEstimateCalculated emits estimate.calculated.
func (p *PubSubEventPublisher) PublishEstimateCalculated(ctx context.Context, event services.EstimateCalculatedEvent) error {
	attrs := map[string]string{"grade": string(event.Grade)}
	setAttr(attrs, "estimateId", event.EstimateID)
	setAttr(attrs, "outputHash", event.OutputHash)
	_, err := p.publish(ctx, services.EventEstimateCalculated, event, attrs)
	return err
}

// PublishReproducibilityMismatch emits estimate.reproducibility_mismatch.
func (p *PubSubEventPublisher) PublishReproducibilityMismatch(ctx context.Context, event services.ReproducibilityMismatchEvent) error {
	attrs := map[string]string{}
	setAttr(attrs, "source", event.Source)
	setAttr(attrs, "inputHash", event.InputHash)
	_, err := p.publish(ctx, services.EventEstimateReproducibilityFailed, event, attrs)
	return err
}

func (p *PubSubEventPublisher) publish(ctx context.Context, eventType string, payload any, attrs map[string]string) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}
	data, err := p.marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", eventType, err)
	}
	attrs["eventType"] = eventType
	attrs["eventId"] = p.newID()

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", eventType, err)
	}
	return id, nil
}

// Ping confirms the topic exists.
func (p *PubSubEventPublisher) Ping(ctx context.Context) error {
	ok, err := p.topic.Exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pubsub topic %s not found", p.topic.ID())
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubEventPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
