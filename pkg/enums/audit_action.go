package enums

import "fmt"

// AuditAction names the kind of change recorded in the audit trail.
type AuditAction string

const (
	AuditActionStatusOverride        AuditAction = "status_override"
	AuditActionPaymentStatusOverride AuditAction = "payment_status_override"
	AuditActionManualRestitution     AuditAction = "manual_restitution"
	AuditActionManualCapture         AuditAction = "manual_capture"
	AuditActionManualCancellation    AuditAction = "manual_cancellation"
	AuditActionAdminIntervention     AuditAction = "admin_intervention"
	AuditActionNotificationSent      AuditAction = "notification_sent"
	AuditActionAutoExpire            AuditAction = "auto_expire"
	AuditActionAutoRefund            AuditAction = "auto_refund"
)

var validAuditActions = []AuditAction{
	AuditActionStatusOverride,
	AuditActionPaymentStatusOverride,
	AuditActionManualRestitution,
	AuditActionManualCapture,
	AuditActionManualCancellation,
	AuditActionAdminIntervention,
	AuditActionNotificationSent,
	AuditActionAutoExpire,
	AuditActionAutoRefund,
}

// IsValid reports whether the value is a known AuditAction.
func (a AuditAction) IsValid() bool {
	for _, candidate := range validAuditActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAuditAction converts raw input into an AuditAction.
func ParseAuditAction(value string) (AuditAction, error) {
	for _, candidate := range validAuditActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit action %q", value)
}
