package target

import (
	"time"

	"batchable/internal/batcher"
)

// Target is a batch handler backed by an external destination
type Target interface {
	batcher.Handler
	// Type returns the configured target type
	Type() string
	// Close releases connections held by the target
	Close() error
}

// Payload is the JSON document sent to http and kafka targets
type Payload struct {
	Handler   string    `json:"handler"`
	BatchID   string    `json:"batchId"`
	Trigger   string    `json:"trigger"`
	CreatedAt time.Time `json:"createdAt"`
	Items     []any     `json:"items"`
}

// NewPayload builds the payload of batch
func NewPayload(batch *batcher.Batch) Payload {
	return Payload{
		Handler:   string(batch.Key),
		BatchID:   batch.ID,
		Trigger:   string(batch.Trigger),
		CreatedAt: batch.CreatedAt,
		Items:     batch.Items,
	}
}
