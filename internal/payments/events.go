package payments

import (
	"fmt"

	"github.com/google/uuid"
)

// EventType names an asynchronous gateway notification about a hold.
type EventType string

const (
	EventHoldSucceeded    EventType = "hold_succeeded"
	EventHoldFailed       EventType = "hold_failed"
	EventHoldCancelled    EventType = "hold_cancelled"
	EventCaptureSucceeded EventType = "capture_succeeded"
)

// IsValid reports whether the value is a known EventType.
func (e EventType) IsValid() bool {
	switch e {
	case EventHoldSucceeded, EventHoldFailed, EventHoldCancelled, EventCaptureSucceeded:
		return true
	}
	return false
}

// ParseEventType converts raw input into an EventType.
func ParseEventType(value string) (EventType, error) {
	e := EventType(value)
	if !e.IsValid() {
		return "", fmt.Errorf("invalid payment event type %q", value)
	}
	return e, nil
}

// Event is a gateway callback already mapped onto a deposit.
type Event struct {
	Type       EventType
	DepositID  uuid.UUID
	PaymentRef string
	Reason     string
}
