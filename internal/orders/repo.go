package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
)

// Repository is the persistence surface for orders, their items, and their
// payments. Unpaid orders terminate by hard deletion; payments never do.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Order, error)
	FindWaitingByUser(ctx context.Context, userID uuid.UUID) (*models.Order, error)
	Save(ctx context.Context, order *models.Order) error
	DeleteCascade(ctx context.Context, orderID uuid.UUID) error
	ListExpired(ctx context.Context, before time.Time, limit int) ([]models.Order, error)

	AppendTraces(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	SavePayment(ctx context.Context, payment *models.Payment) error
	FindPaymentByProviderOrder(ctx context.Context, providerOrderID string) (*models.Payment, error)
	ListPayments(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)

	EventIDForTickets(ctx context.Context, ticketIDs []uuid.UUID) (uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an order repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Items.Ticket").
		Preload("Payments").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByIDForUpdate locks the order row so status transitions serialize.
// Items are loaded without their ticket associations; callers that mutate
// stock take ticket locks separately.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var order models.Order
	if err := query.Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Where("order_id = ?", id).Find(&order.Items).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("paypal_order_id = ?", providerOrderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindWaitingByUser(ctx context.Context, userID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, enums.OrderStatusWaitingForPayment).
		Order("created_at DESC").
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) Save(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit("Items", "Payments").Save(order).Error
}

// DeleteCascade removes an order with its items and their traces. sqlite in
// tests does not enforce the FK cascade, so children go explicitly first.
func (r *repository) DeleteCascade(ctx context.Context, orderID uuid.UUID) error {
	db := r.db.WithContext(ctx)
	err := db.
		Where("ticket_item_id IN (?)",
			db.Session(&gorm.Session{NewDB: true}).
				Model(&models.TicketItem{}).
				Select("id").
				Where("order_id = ?", orderID)).
		Delete(&models.TicketItemTrace{}).Error
	if err != nil {
		return err
	}
	if err := db.Where("order_id = ?", orderID).Delete(&models.TicketItem{}).Error; err != nil {
		return err
	}
	return db.Delete(&models.Order{}, "id = ?", orderID).Error
}

// ListExpired returns unpaid orders whose hold lapsed before the cutoff.
// Fulfilled and approved orders are never swept.
func (r *repository) ListExpired(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	var expired []models.Order
	err := r.db.WithContext(ctx).
		Where("status IN ?", enums.ActiveHoldStatuses()).
		Where("expired_at IS NOT NULL AND expired_at < ?", before).
		Order("expired_at ASC").
		Limit(limit).
		Find(&expired).Error
	return expired, err
}

// AppendTraces writes one audit row per item recording the status the order
// just entered.
func (r *repository) AppendTraces(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) error {
	var items []models.TicketItem
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Find(&items).Error; err != nil {
		return err
	}
	traces := make([]models.TicketItemTrace, 0, len(items))
	for _, item := range items {
		traces = append(traces, models.TicketItemTrace{
			TicketItemID: item.ID,
			Status:       string(status),
		})
	}
	if len(traces) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&traces).Error
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) SavePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func (r *repository) FindPaymentByProviderOrder(ctx context.Context, providerOrderID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("provider_order_id = ?", providerOrderID).
		Order("created_at DESC").
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListPayments(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&payments).Error
	return payments, err
}

// EventIDForTickets resolves the single event the tickets belong to, via
// their shows. Orders never span events.
func (r *repository) EventIDForTickets(ctx context.Context, ticketIDs []uuid.UUID) (uuid.UUID, error) {
	var eventIDs []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Ticket{}).
		Distinct("shows.event_id").
		Joins("JOIN shows ON shows.id = tickets.show_id").
		Where("tickets.id IN ?", ticketIDs).
		Pluck("shows.event_id", &eventIDs).Error
	if err != nil {
		return uuid.Nil, err
	}
	switch len(eventIDs) {
	case 0:
		return uuid.Nil, gorm.ErrRecordNotFound
	case 1:
		return eventIDs[0], nil
	default:
		return uuid.Nil, ErrMixedEvents
	}
}
