package enums

import "fmt"

// PaymentStatus tracks where a deposit's funds sit with the payment gateway.
type PaymentStatus string

const (
	PaymentStatusPending      PaymentStatus = "pending"
	PaymentStatusProcessing   PaymentStatus = "processing"
	PaymentStatusCompleted    PaymentStatus = "completed"
	PaymentStatusCaptured     PaymentStatus = "captured"
	PaymentStatusFailed       PaymentStatus = "failed"
	PaymentStatusCancelled    PaymentStatus = "cancelled"
	PaymentStatusRefunded     PaymentStatus = "refunded"
	PaymentStatusRefundFailed PaymentStatus = "refund_failed"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusProcessing,
	PaymentStatusCompleted,
	PaymentStatusCaptured,
	PaymentStatusFailed,
	PaymentStatusCancelled,
	PaymentStatusRefunded,
	PaymentStatusRefundFailed,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// HoldsFunds reports whether the gateway still holds or has taken the deposit amount.
func (p PaymentStatus) HoldsFunds() bool {
	return p == PaymentStatusCompleted || p == PaymentStatusCaptured
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
