package orders

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
)

// ErrMixedEvents is returned when a reservation references tickets from more
// than one event.
var ErrMixedEvents = errors.New("tickets belong to more than one event")

// ItemInput is one requested line of a reservation.
type ItemInput struct {
	TicketID uuid.UUID `json:"ticket_id" validate:"required"`
	Quantity int       `json:"quantity" validate:"required,gt=0"`
}

// ReservationInput is the payload for creating a reservation. VoucherCode is
// optional and applied atomically with the stock check.
type ReservationInput struct {
	Items       []ItemInput `json:"items" validate:"required,min=1,dive"`
	VoucherCode string      `json:"voucher_code,omitempty"`
}

// PaymentInput asks for a provider checkout on an existing reservation.
type PaymentInput struct {
	OrderID   uuid.UUID `json:"order_id" validate:"required"`
	ReturnURL string    `json:"return_url" validate:"required,url"`
	CancelURL string    `json:"cancel_url" validate:"required,url"`
}

// PaymentIntent is what the buyer needs to continue at the provider.
type PaymentIntent struct {
	OrderID         uuid.UUID      `json:"order_id"`
	ProviderOrderID string         `json:"provider_order_id"`
	ApproveURL      string         `json:"approve_url"`
	AmountCents     int64          `json:"amount_cents"`
	Currency        enums.Currency `json:"currency"`
	ExpiresAt       time.Time      `json:"expires_at"`
}

// ItemView is a reservation line with its locked-in price.
type ItemView struct {
	TicketID       uuid.UUID `json:"ticket_id"`
	TicketName     string    `json:"ticket_name,omitempty"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
}

// OrderView is the order shape returned by the API.
type OrderView struct {
	ID            uuid.UUID         `json:"id"`
	Status        enums.OrderStatus `json:"status"`
	Currency      enums.Currency    `json:"currency"`
	SubtotalCents int64             `json:"subtotal_cents"`
	DiscountCents int64             `json:"discount_cents"`
	TotalCents    int64             `json:"total_cents"`
	VoucherID     *uuid.UUID        `json:"voucher_id,omitempty"`
	ExpiredAt     *time.Time        `json:"expired_at,omitempty"`
	FulfilledAt   *time.Time        `json:"fulfilled_at,omitempty"`
	Items         []ItemView        `json:"items"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewOrderView maps the persistence model to the API shape.
func NewOrderView(order *models.Order) OrderView {
	view := OrderView{
		ID:            order.ID,
		Status:        order.Status,
		Currency:      order.Currency,
		SubtotalCents: order.SubtotalCents,
		DiscountCents: order.DiscountCents,
		TotalCents:    order.TotalCents,
		VoucherID:     order.VoucherID,
		ExpiredAt:     order.ExpiredAt,
		FulfilledAt:   order.FulfilledAt,
		CreatedAt:     order.CreatedAt,
		Items:         make([]ItemView, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		line := ItemView{
			TicketID:       item.TicketID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		}
		if item.Ticket != nil {
			line.TicketName = item.Ticket.Name
		}
		view.Items = append(view.Items, line)
	}
	return view
}

// CheckoutApproval carries what the approval webhook learned about the buyer.
type CheckoutApproval struct {
	ProviderOrderID string
	PayerID         *string
	PayerEmail      *string
}

// CaptureNotice carries the final capture delivered by the payment webhook.
type CaptureNotice struct {
	CaptureID       string
	ProviderOrderID string
	CustomID        string
	CapturedAt      *time.Time
}
