package enums

import "fmt"

// DepositStatus is the lifecycle position of a deposit.
type DepositStatus string

const (
	DepositStatusCreated        DepositStatus = "created"
	DepositStatusPendingPayment DepositStatus = "pending_payment"
	DepositStatusActive         DepositStatus = "active"
	DepositStatusFulfilled      DepositStatus = "fulfilled"
	DepositStatusExpired        DepositStatus = "expired"
	DepositStatusCancelled      DepositStatus = "cancelled"
)

var validDepositStatuses = []DepositStatus{
	DepositStatusCreated,
	DepositStatusPendingPayment,
	DepositStatusActive,
	DepositStatusFulfilled,
	DepositStatusExpired,
	DepositStatusCancelled,
}

// String implements fmt.Stringer.
func (d DepositStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DepositStatus.
func (d DepositStatus) IsValid() bool {
	for _, candidate := range validDepositStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no time-driven transition applies to the status.
func (d DepositStatus) IsTerminal() bool {
	switch d {
	case DepositStatusFulfilled, DepositStatusExpired, DepositStatusCancelled:
		return true
	}
	return false
}

// ParseDepositStatus converts raw input into a DepositStatus.
func ParseDepositStatus(value string) (DepositStatus, error) {
	for _, candidate := range validDepositStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid deposit status %q", value)
}
