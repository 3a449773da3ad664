package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/pkg/enums"
)

// Ticket is a sellable ticket class for a show. Stock is the live remaining
// count and is only debited at fulfillment; unpaid reservations hold stock
// advisorily through their ticket items.
type Ticket struct {
	ID           uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	ShowID       uuid.UUID      `gorm:"column:show_id;type:uuid;not null;index"`
	Name         string         `gorm:"column:name;not null"`
	PriceCents   int64          `gorm:"column:price_cents;not null"`
	Currency     enums.Currency `gorm:"column:currency;type:text;not null;default:'USD'"`
	InitialStock int            `gorm:"column:initial_stock;not null"`
	Stock        int            `gorm:"column:stock;not null"`
	Active       bool           `gorm:"column:active;not null;default:true"`
	SalesStart   *time.Time     `gorm:"column:sales_start"`
	SalesEnd     *time.Time     `gorm:"column:sales_end"`
	Description  *string        `gorm:"column:description"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Ticket) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
