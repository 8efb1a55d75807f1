package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName scopes the relay meter.
const InstrumentationName = "github.com/louisbranch/babel.chat/relay"

const (
	messagesRelayedName     = "chat.message.relayed"
	persistFailuresName     = "chat.message.persist_failures"
	translationFailuresName = "chat.translation.failures"
	assistantFailuresName   = "chat.assistant.failures"
)

// Relay records relay outcomes. A nil *Relay drops every measurement.
type Relay struct {
	relayed             metric.Int64Counter
	persistFailures     metric.Int64Counter
	translationFailures metric.Int64Counter
	assistantFailures   metric.Int64Counter
}

// NewRelay creates the relay counters on meter. A nil meter uses the global
// provider.
func NewRelay(meter metric.Meter) (*Relay, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}
	relayed, err := meter.Int64Counter(messagesRelayedName,
		metric.WithDescription("Translated messages broadcast to a room."),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", messagesRelayedName, err)
	}
	persistFailures, err := meter.Int64Counter(persistFailuresName,
		metric.WithDescription("Relayed messages that could not be stored."),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", persistFailuresName, err)
	}
	translationFailures, err := meter.Int64Counter(translationFailuresName,
		metric.WithDescription("Translation requests that failed."),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", translationFailuresName, err)
	}
	assistantFailures, err := meter.Int64Counter(assistantFailuresName,
		metric.WithDescription("Help assistant requests that failed."),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", assistantFailuresName, err)
	}
	return &Relay{
		relayed:             relayed,
		persistFailures:     persistFailures,
		translationFailures: translationFailures,
		assistantFailures:   assistantFailures,
	}, nil
}

// MessageRelayed counts one broadcast in roomKind ("private" or "shared").
func (r *Relay) MessageRelayed(ctx context.Context, roomKind string) {
	if r == nil {
		return
	}
	r.relayed.Add(ctx, 1, metric.WithAttributes(attribute.String("room.kind", roomKind)))
}

// PersistFailed counts one message lost from history.
func (r *Relay) PersistFailed(ctx context.Context) {
	if r == nil {
		return
	}
	r.persistFailures.Add(ctx, 1)
}

// TranslationFailed counts one failed translation, labelled by error code.
func (r *Relay) TranslationFailed(ctx context.Context, code string) {
	if r == nil {
		return
	}
	r.translationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("error.code", code)))
}

// AssistantFailed counts one failed help request.
func (r *Relay) AssistantFailed(ctx context.Context) {
	if r == nil {
		return
	}
	r.assistantFailures.Add(ctx, 1)
}
