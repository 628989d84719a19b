package enums

import "fmt"

// OutboxAggregateType identifies the entity an outbox event describes.
type OutboxAggregateType string

const (
	AggregatePaymentIntent OutboxAggregateType = "payment_intent"
)

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	return a == AggregatePaymentIntent
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventPaymentIntentSucceeded OutboxEventType = "payment_intent_succeeded"
	EventPaymentIntentFailed    OutboxEventType = "payment_intent_failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPaymentIntentSucceeded,
	EventPaymentIntentFailed,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
