package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/safetransit/pkg/enums"
)

// Deposit is an escrow commitment: funds held against a requirement that must be
// fulfilled before TimeLimit.
type Deposit struct {
	ID                      uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Amount                  decimal.Decimal     `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Requirement             string              `gorm:"column:requirement;type:text;not null" json:"requirement"`
	TimeLimit               time.Time           `gorm:"column:time_limit;not null" json:"time_limit"`
	CreatorID               string              `gorm:"column:creator_id;type:text;not null" json:"creator_id"`
	ReceiverID              string              `gorm:"column:receiver_id;type:text;not null" json:"receiver_id"`
	CreatorEmail            *string             `gorm:"column:creator_email;type:text" json:"creator_email,omitempty"`
	ReceiverEmail           *string             `gorm:"column:receiver_email;type:text" json:"receiver_email,omitempty"`
	Status                  enums.DepositStatus `gorm:"column:status;type:text;not null" json:"status"`
	PaymentStatus           enums.PaymentStatus `gorm:"column:payment_status;type:text;not null" json:"payment_status"`
	ExternalPaymentRef      *string             `gorm:"column:external_payment_ref;type:text" json:"external_payment_ref,omitempty"`
	NotificationPreferences map[string]bool     `gorm:"column:notification_preferences;serializer:json" json:"notification_preferences"`
	Version                 int64               `gorm:"column:version;not null;default:1" json:"-"`
	CreatedAt               time.Time           `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
	UpdatedAt               time.Time           `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
}

func (Deposit) TableName() string { return "deposits" }

// Clone returns a deep copy so callers can mutate without touching shared state.
func (d *Deposit) Clone() *Deposit {
	if d == nil {
		return nil
	}
	out := *d
	out.CreatorEmail = cloneString(d.CreatorEmail)
	out.ReceiverEmail = cloneString(d.ReceiverEmail)
	out.ExternalPaymentRef = cloneString(d.ExternalPaymentRef)
	if d.NotificationPreferences != nil {
		out.NotificationPreferences = make(map[string]bool, len(d.NotificationPreferences))
		for k, v := range d.NotificationPreferences {
			out.NotificationPreferences[k] = v
		}
	}
	return &out
}

// WantsNotification reports whether the deposit has opted into the given preference.
// Unknown or empty keys default to true.
func (d *Deposit) WantsNotification(key string) bool {
	if d == nil || key == "" || d.NotificationPreferences == nil {
		return true
	}
	enabled, ok := d.NotificationPreferences[key]
	if !ok {
		return true
	}
	return enabled
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
