package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/safetransit/pkg/enums"
)

// AuditLog is an immutable record of a change applied to a deposit.
type AuditLog struct {
	ID                    uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	DepositID             uuid.UUID           `gorm:"column:deposit_id;type:uuid;not null" json:"deposit_id"`
	Action                enums.AuditAction   `gorm:"column:action;type:text;not null" json:"action"`
	PreviousStatus        enums.DepositStatus `gorm:"column:previous_status;type:text" json:"previous_status"`
	NewStatus             enums.DepositStatus `gorm:"column:new_status;type:text" json:"new_status"`
	PreviousPaymentStatus enums.PaymentStatus `gorm:"column:previous_payment_status;type:text" json:"previous_payment_status"`
	NewPaymentStatus      enums.PaymentStatus `gorm:"column:new_payment_status;type:text" json:"new_payment_status"`
	Actor                 string              `gorm:"column:actor;type:text;not null" json:"actor"`
	Reason                string              `gorm:"column:reason;type:text" json:"reason,omitempty"`
	Metadata              map[string]any      `gorm:"column:metadata;serializer:json" json:"metadata,omitempty"`
	Timestamp             time.Time           `gorm:"column:timestamp;not null" json:"timestamp"`
}

func (AuditLog) TableName() string { return "audit_logs" }
