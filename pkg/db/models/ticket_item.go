package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TicketItem is a line on an order holding quantity against one ticket class.
// UnitPriceCents is locked in at reservation time and never re-priced.
type TicketItem struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	TicketID       uuid.UUID         `gorm:"column:ticket_id;type:uuid;not null;index"`
	Quantity       int               `gorm:"column:quantity;not null"`
	UnitPriceCents int64             `gorm:"column:unit_price_cents;not null"`
	Ticket         *Ticket           `gorm:"foreignKey:TicketID"`
	Traces         []TicketItemTrace `gorm:"foreignKey:TicketItemID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (ti *TicketItem) BeforeCreate(_ *gorm.DB) error {
	if ti.ID == uuid.Nil {
		ti.ID = uuid.New()
	}
	return nil
}

// TicketItemTrace is an append-only audit record of the order status the item
// passed through.
type TicketItemTrace struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TicketItemID uuid.UUID `gorm:"column:ticket_item_id;type:uuid;not null;index"`
	Status       string    `gorm:"column:status;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (tr *TicketItemTrace) BeforeCreate(_ *gorm.DB) error {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	return nil
}
