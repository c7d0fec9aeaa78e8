package ws

import (
	"batchable/internal/history"
)

// Subscription methods served only over WebSocket
const (
	MethodSubscribe   = "batch_subscribe"
	MethodUnsubscribe = "batch_unsubscribe"
)

// DeliveryParams is the params object of a batch_delivery notification
type DeliveryParams struct {
	Subscription string         `json:"subscription"`
	Result       history.Record `json:"result"`
}
