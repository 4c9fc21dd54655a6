package broker

import (
	"context"
	"encoding/json"
	"testing"

	"shop-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMessageRoutesPaymentConfirmed(t *testing.T) {
	eh := NewEventHandler()

	var got *models.PaymentConfirmedEvent
	eh.OnPaymentConfirmed(func(ctx context.Context, event *models.PaymentConfirmedEvent) error {
		got = event
		return nil
	})

	payload, err := json.Marshal(models.PaymentConfirmedEvent{
		BaseEvent:     models.BaseEvent{EventID: "e1", EventType: models.EventTypePaymentConfirmed},
		Reference:     "ref-1",
		Amount:        50000,
		ProviderTxnID: "txn-77",
	})
	require.NoError(t, err)

	err = eh.HandleMessage(context.Background(), kafka.Message{Value: payload})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ref-1", got.Reference)
	assert.Equal(t, int64(50000), got.Amount)
}

func TestHandleMessageRoutesPaymentFailed(t *testing.T) {
	eh := NewEventHandler()

	var got *models.PaymentFailedEvent
	eh.OnPaymentFailed(func(ctx context.Context, event *models.PaymentFailedEvent) error {
		got = event
		return nil
	})

	payload, err := json.Marshal(models.PaymentFailedEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypePaymentFailed},
		Reference: "ref-1",
		Reason:    "card declined",
	})
	require.NoError(t, err)

	err = eh.HandleMessage(context.Background(), kafka.Message{Value: payload})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "card declined", got.Reason)
}

func TestHandleMessageIgnoresUnknownEventType(t *testing.T) {
	eh := NewEventHandler()

	payload, err := json.Marshal(models.BaseEvent{EventID: "e3", EventType: "SOMETHING_ELSE"})
	require.NoError(t, err)

	assert.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: payload}))
}

func TestHandleMessageRejectsMalformedPayload(t *testing.T) {
	eh := NewEventHandler()
	assert.Error(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("{not json")}))
}
