package events

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the JSON shape of an event delivered outside the process.
type Envelope struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
}

// NewEnvelope renders evt for delivery. It returns false for events without a
// canonical form.
func NewEnvelope(evt Event, now time.Time) (Envelope, bool) {
	canonical := Canonical(evt)
	if canonical == nil {
		return Envelope{}, false
	}
	attrs := make(map[string]string, len(canonical.Attributes))
	for k, v := range canonical.Attributes {
		attrs[k] = v
	}
	return Envelope{
		ID:         uuid.NewString(),
		Type:       canonical.Type,
		Attributes: attrs,
		EmittedAt:  now.UTC(),
	}, true
}
