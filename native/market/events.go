package market

import (
	"sharemarket/core/events"
	"sharemarket/core/types"
)

const (
	// EventTypeTrade is emitted for every settled buy or sell.
	EventTypeTrade = "market.trade"
	// EventTypeParamsUpdated is emitted when the owner changes fee configuration.
	EventTypeParamsUpdated = "market.params.updated"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

// TradeEvent returns the structured payload describing a settled trade.
func TradeEvent(receipt *TradeReceipt, trader, subject string) *types.Event {
	direction := "sell"
	if receipt.IsBuy {
		direction = "buy"
	}
	return &types.Event{
		Type: EventTypeTrade,
		Attributes: map[string]string{
			"id":          receipt.ID,
			"trader":      trader,
			"subject":     subject,
			"direction":   direction,
			"amount":      receipt.Amount.String(),
			"basePrice":   receipt.BasePrice.String(),
			"protocolFee": receipt.ProtocolFee.String(),
			"subjectFee":  receipt.SubjectFee.String(),
			"supply":      receipt.Supply.String(),
			"multiplier":  receipt.Multiplier.String(),
		},
	}
}

// ParamsUpdatedEvent captures an administrative fee-configuration change.
func ParamsUpdatedEvent(field, value string) *types.Event {
	return &types.Event{
		Type: EventTypeParamsUpdated,
		Attributes: map[string]string{
			"field": field,
			"value": value,
		},
	}
}
