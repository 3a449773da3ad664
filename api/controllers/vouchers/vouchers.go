package vouchers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stagepass/stagepass-backend/api/responses"
	"github.com/stagepass/stagepass-backend/api/validators"
	internalvouchers "github.com/stagepass/stagepass-backend/internal/vouchers"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
)

type createRequest struct {
	Code          string             `json:"code" validate:"required"`
	DiscountType  enums.DiscountType `json:"discount_type" validate:"required"`
	DiscountValue int64              `json:"discount_value" validate:"required,gt=0"`
	UsageLimit    int                `json:"usage_limit" validate:"required,gt=0"`
	PerUserLimit  int                `json:"per_user_limit" validate:"required,gt=0"`
	MinOrderCents int64              `json:"min_order_cents"`
	MinTicketQty  int                `json:"min_ticket_qty"`
	Active        bool               `json:"active"`
	Public        bool               `json:"public"`
	StartsAt      time.Time          `json:"starts_at" validate:"required"`
	EndsAt        time.Time          `json:"ends_at" validate:"required"`
}

type updateRequest struct {
	DiscountType  *enums.DiscountType `json:"discount_type,omitempty"`
	DiscountValue *int64              `json:"discount_value,omitempty"`
	UsageLimit    *int                `json:"usage_limit,omitempty"`
	PerUserLimit  *int                `json:"per_user_limit,omitempty"`
	MinOrderCents *int64              `json:"min_order_cents,omitempty"`
	MinTicketQty  *int                `json:"min_ticket_qty,omitempty"`
	Active        *bool               `json:"active,omitempty"`
	Public        *bool               `json:"public,omitempty"`
	StartsAt      *time.Time          `json:"starts_at,omitempty"`
	EndsAt        *time.Time          `json:"ends_at,omitempty"`
}

// ListByEvent returns every voucher configured for the event.
func ListByEvent(svc internalvouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return list(svc, logg, false)
}

// ListPublic returns only the vouchers an event page may advertise.
func ListPublic(svc internalvouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return list(svc, logg, true)
}

func list(svc internalvouchers.Service, logg *logger.Logger, publicOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, err := parseID(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		vouchers, err := svc.ListByEvent(r.Context(), eventID, publicOnly)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, vouchers)
	}
}

// Create mints a voucher scoped to the event.
func Create(svc internalvouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, err := parseID(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		voucher, err := svc.Create(r.Context(), internalvouchers.CreateInput{
			Code:          body.Code,
			EventID:       eventID,
			DiscountType:  body.DiscountType,
			DiscountValue: body.DiscountValue,
			UsageLimit:    body.UsageLimit,
			PerUserLimit:  body.PerUserLimit,
			MinOrderCents: body.MinOrderCents,
			MinTicketQty:  body.MinTicketQty,
			Active:        body.Active,
			Public:        body.Public,
			StartsAt:      body.StartsAt,
			EndsAt:        body.EndsAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, voucher)
	}
}

// Update edits a voucher that has no fulfilled redemptions yet.
func Update(svc internalvouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		voucherID, eventID, err := parseScopedIDs(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		voucher, err := svc.Update(r.Context(), voucherID, eventID, internalvouchers.UpdateInput{
			DiscountType:  body.DiscountType,
			DiscountValue: body.DiscountValue,
			UsageLimit:    body.UsageLimit,
			PerUserLimit:  body.PerUserLimit,
			MinOrderCents: body.MinOrderCents,
			MinTicketQty:  body.MinTicketQty,
			Active:        body.Active,
			Public:        body.Public,
			StartsAt:      body.StartsAt,
			EndsAt:        body.EndsAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, voucher)
	}
}

// Delete removes a voucher that was never redeemed.
func Delete(svc internalvouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		voucherID, eventID, err := parseScopedIDs(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), voucherID, eventID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// Usage returns the derived redemption counts for a voucher.
func Usage(svc internalvouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		voucherID, eventID, err := parseScopedIDs(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		usage, err := svc.UsageFor(r.Context(), voucherID, eventID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, usage)
	}
}

func parseScopedIDs(r *http.Request) (voucherID, eventID uuid.UUID, err error) {
	voucherID, err = parseID(r, "id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	eventID, err = parseID(r, "eventId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return voucherID, eventID, nil
}

func parseID(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}
