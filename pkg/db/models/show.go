package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Show is a single performance of an event. Tickets hang off shows; vouchers
// are scoped to the parent event.
type Show struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	EventID   uuid.UUID `gorm:"column:event_id;type:uuid;not null;index"`
	Name      string    `gorm:"column:name;not null"`
	Venue     string    `gorm:"column:venue"`
	StartsAt  time.Time `gorm:"column:starts_at;not null"`
	Tickets   []Ticket  `gorm:"foreignKey:ShowID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Show) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
