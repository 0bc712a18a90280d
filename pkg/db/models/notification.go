package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/safetransit/pkg/enums"
)

// NotificationRecord tracks one attempt to tell a deposit party about a lifecycle event.
type NotificationRecord struct {
	ID         uuid.UUID                `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	DepositID  uuid.UUID                `gorm:"column:deposit_id;type:uuid;not null" json:"deposit_id"`
	Type       enums.NotificationType   `gorm:"column:type;type:text;not null" json:"type"`
	Recipient  string                   `gorm:"column:recipient;type:text;not null" json:"recipient"`
	Subject    string                   `gorm:"column:subject;type:text;not null" json:"subject"`
	Message    string                   `gorm:"column:message;type:text;not null" json:"message"`
	Channel    string                   `gorm:"column:channel;type:text;not null" json:"channel"`
	Status     enums.NotificationStatus `gorm:"column:status;type:text;not null" json:"status"`
	Error      *string                  `gorm:"column:error;type:text" json:"error,omitempty"`
	Timestamp  time.Time                `gorm:"column:timestamp;not null" json:"timestamp"`
	ArchivedAt *time.Time               `gorm:"column:archived_at" json:"archived_at,omitempty"`
}

func (NotificationRecord) TableName() string { return "notification_records" }
