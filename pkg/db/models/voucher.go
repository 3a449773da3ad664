package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/pkg/enums"
)

// Voucher is a discount code scoped to a single event. Codes are stored
// uppercased so the per-event uniqueness and lookups are case-insensitive.
// DiscountValue is cents for fixed vouchers and whole percent for percentage
// vouchers. Usage is always derived by counting orders that reference the
// voucher, never stored as a counter.
type Voucher struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Code          string             `gorm:"column:code;not null;uniqueIndex:ux_vouchers_event_code"`
	EventID       uuid.UUID          `gorm:"column:event_id;type:uuid;not null;index;uniqueIndex:ux_vouchers_event_code"`
	DiscountType  enums.DiscountType `gorm:"column:discount_type;type:text;not null"`
	DiscountValue int64              `gorm:"column:discount_value;not null"`
	UsageLimit    int                `gorm:"column:usage_limit;not null"`
	PerUserLimit  int                `gorm:"column:per_user_limit;not null;default:1"`
	MinOrderCents int64              `gorm:"column:min_order_cents;not null;default:0"`
	MinTicketQty  int                `gorm:"column:min_ticket_qty;not null;default:0"`
	Active        bool               `gorm:"column:active;not null;default:true"`
	Public        bool               `gorm:"column:public;not null;default:false"`
	StartsAt      time.Time          `gorm:"column:starts_at;not null"`
	EndsAt        time.Time          `gorm:"column:ends_at;not null"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *Voucher) BeforeCreate(_ *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// ActiveAt reports whether the voucher is switched on and its validity window
// covers ts.
func (v *Voucher) ActiveAt(ts time.Time) bool {
	return v.Active && !ts.Before(v.StartsAt) && !ts.After(v.EndsAt)
}
