package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/pkg/enums"
)

// Payment records one provider-side order/capture for an order. It is created
// when the provider approves the checkout and updated in place when the
// capture webhook delivers the settlement breakdown. Rows are never deleted.
type Payment struct {
	ID              uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID      `gorm:"column:order_id;type:uuid;not null;index"`
	Provider        string         `gorm:"column:provider;not null;default:'paypal'"`
	ProviderOrderID string         `gorm:"column:provider_order_id;not null;index"`
	PayerID         *string        `gorm:"column:payer_id"`
	PayerEmail      *string        `gorm:"column:payer_email"`
	CaptureID       *string        `gorm:"column:capture_id;index"`
	Fulfilled       bool           `gorm:"column:fulfilled;not null;default:false"`
	GrossCents      int64          `gorm:"column:gross_cents;not null;default:0"`
	FeeCents        int64          `gorm:"column:fee_cents;not null;default:0"`
	NetCents        int64          `gorm:"column:net_cents;not null;default:0"`
	Currency        enums.Currency `gorm:"column:currency;type:text;not null;default:'USD'"`
	CapturedAt      *time.Time     `gorm:"column:captured_at"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
