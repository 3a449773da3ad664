package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/pkg/enums"
)

// Order is a reservation that progresses toward fulfillment. While unpaid its
// ticket items count advisorily against ticket stock; stock is debited once,
// at fulfillment. Unpaid orders terminate by hard deletion (cancel or sweep).
type Order struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID        uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	Status        enums.OrderStatus `gorm:"column:status;type:text;not null;default:'WAITING_FOR_PAYMENT';index"`
	Currency      enums.Currency    `gorm:"column:currency;type:text;not null;default:'USD'"`
	SubtotalCents int64             `gorm:"column:subtotal_cents;not null"`
	DiscountCents int64             `gorm:"column:discount_cents;not null;default:0"`
	TotalCents    int64             `gorm:"column:total_cents;not null"`
	VoucherID     *uuid.UUID        `gorm:"column:voucher_id;type:uuid;index"`
	PayPalOrderID *string           `gorm:"column:paypal_order_id;index"`
	ExpiredAt     *time.Time        `gorm:"column:expired_at;index"`
	FulfilledAt   *time.Time        `gorm:"column:fulfilled_at"`
	Items         []TicketItem      `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payments      []Payment         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(_ *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// Expired reports whether the order's hold has lapsed at ts.
func (o *Order) Expired(ts time.Time) bool {
	return o.ExpiredAt != nil && o.ExpiredAt.Before(ts)
}
