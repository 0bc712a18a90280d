package enums

import "fmt"

// NotificationType selects the message template used for a deposit notification.
type NotificationType string

const (
	NotificationTypeExpired       NotificationType = "expired"
	NotificationTypeExpiringSoon  NotificationType = "expiring_soon"
	NotificationTypePaymentFailed NotificationType = "payment_failed"
	NotificationTypeFulfilled     NotificationType = "fulfilled"
	NotificationTypeTest          NotificationType = "test"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeExpired,
	NotificationTypeExpiringSoon,
	NotificationTypePaymentFailed,
	NotificationTypeFulfilled,
	NotificationTypeTest,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// PreferenceKey returns the deposit preference that gates this type. Types
// without a preference are always sent.
func (n NotificationType) PreferenceKey() string {
	switch n {
	case NotificationTypeExpired:
		return "expiration"
	case NotificationTypeExpiringSoon:
		return "expiring_soon"
	case NotificationTypePaymentFailed:
		return "payment_failed"
	case NotificationTypeFulfilled:
		return "fulfillment"
	}
	return ""
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

// NotificationStatus is the delivery outcome of a notification attempt.
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// IsValid reports whether the value is a known NotificationStatus.
func (n NotificationStatus) IsValid() bool {
	switch n {
	case NotificationStatusPending, NotificationStatusSent, NotificationStatusFailed:
		return true
	}
	return false
}
