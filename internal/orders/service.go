package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/internal/stock"
	"github.com/stagepass/stagepass-backend/internal/vouchers"
	"github.com/stagepass/stagepass-backend/pkg/config"
	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
	"github.com/stagepass/stagepass-backend/pkg/outbox"
	"github.com/stagepass/stagepass-backend/pkg/paypal"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PaymentGateway is the provider surface the order flow needs.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, params paypal.CreateOrderParams) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, providerOrderID string) (*paypal.Order, error)
	GetOrder(ctx context.Context, providerOrderID string) (*paypal.Order, error)
}

// CurrencyConverter resolves cross-currency amounts at payment time.
type CurrencyConverter interface {
	ConvertCents(ctx context.Context, amountCents int64, from, to enums.Currency) (int64, error)
}

// Service drives the reservation lifecycle: WAITING_FOR_PAYMENT holds stock
// advisorily, PENDING has a provider checkout open, APPROVED is captured, and
// FULFILLED has debited stock. Unpaid orders only ever leave the table by
// deletion.
type Service interface {
	CreateReservation(ctx context.Context, userID uuid.UUID, input ReservationInput) (*models.Order, error)
	CancelReservation(ctx context.Context, userID uuid.UUID) (bool, error)
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
	ListPayments(ctx context.Context, userID, orderID uuid.UUID) ([]models.Payment, error)

	CreatePayment(ctx context.Context, userID uuid.UUID, input PaymentInput) (*PaymentIntent, error)
	ApplyVoucher(ctx context.Context, userID, orderID uuid.UUID, code string) (*models.Order, error)
	RemoveVoucher(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)

	HandleCheckoutApproved(ctx context.Context, approval CheckoutApproval) error
	HandlePaymentCaptured(ctx context.Context, notice CaptureNotice) error
	Fulfill(ctx context.Context, orderID uuid.UUID) error
}

// Deps bundles the service dependencies.
type Deps struct {
	Repo       Repository
	Vouchers   vouchers.Service
	TX         txRunner
	Gateway    PaymentGateway
	Converter  CurrencyConverter
	Outbox     *outbox.Service
	Cfg        config.OrdersConfig
	Settlement enums.Currency
	Logger     *logger.Logger
}

type service struct {
	repo       Repository
	vouchers   vouchers.Service
	tx         txRunner
	gateway    PaymentGateway
	converter  CurrencyConverter
	outbox     *outbox.Service
	cfg        config.OrdersConfig
	settlement enums.Currency
	logg       *logger.Logger
}

func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if deps.Vouchers == nil {
		return nil, fmt.Errorf("voucher service required")
	}
	if deps.TX == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if deps.Converter == nil {
		return nil, fmt.Errorf("currency converter required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if deps.Cfg.ReservationTTL <= 0 {
		deps.Cfg.ReservationTTL = 15 * time.Minute
	}
	if deps.Cfg.PaymentTTL <= 0 {
		deps.Cfg.PaymentTTL = 2 * time.Hour
	}
	if deps.Settlement == "" {
		deps.Settlement = enums.CurrencyUSD
	}
	return &service{
		repo:       deps.Repo,
		vouchers:   deps.Vouchers,
		tx:         deps.TX,
		gateway:    deps.Gateway,
		converter:  deps.Converter,
		outbox:     deps.Outbox,
		cfg:        deps.Cfg,
		settlement: deps.Settlement,
		logg:       deps.Logger,
	}, nil
}

// CreateReservation opens a fresh hold for the user. A user carries at most
// one WAITING_FOR_PAYMENT order; an existing one is dropped first, so the
// latest reservation wins.
func (s *service) CreateReservation(ctx context.Context, userID uuid.UUID, input ReservationInput) (*models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one ticket is required")
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		prior, err := repo.FindWaitingByUser(ctx, userID)
		if err != nil && err != gorm.ErrRecordNotFound {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading existing reservation")
		}
		if prior != nil {
			if err := repo.DeleteCascade(ctx, prior.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replacing existing reservation")
			}
		}

		requests := make([]stock.Request, 0, len(input.Items))
		for _, item := range input.Items {
			requests = append(requests, stock.Request{TicketID: item.TicketID, Quantity: item.Quantity})
		}
		availability, err := stock.Reserve(ctx, tx, requests)
		if err != nil {
			return err
		}

		var subtotal int64
		var quantity int
		var currency enums.Currency
		items := make([]models.TicketItem, 0, len(input.Items))
		for _, req := range input.Items {
			ticket := availability[req.TicketID].Ticket
			if currency == "" {
				currency = ticket.Currency
			} else if currency != ticket.Currency {
				return pkgerrors.New(pkgerrors.CodeValidation, "tickets must share a currency")
			}
			subtotal += int64(req.Quantity) * ticket.PriceCents
			quantity += req.Quantity
			items = append(items, models.TicketItem{
				TicketID:       req.TicketID,
				Quantity:       req.Quantity,
				UnitPriceCents: ticket.PriceCents,
			})
		}

		now := time.Now()
		var voucherID *uuid.UUID
		var discount int64
		if input.VoucherCode != "" {
			ticketIDs := make([]uuid.UUID, 0, len(items))
			for _, item := range items {
				ticketIDs = append(ticketIDs, item.TicketID)
			}
			eventID, err := repo.EventIDForTickets(ctx, ticketIDs)
			if err != nil {
				if err == ErrMixedEvents {
					return pkgerrors.New(pkgerrors.CodeValidation, "tickets must belong to a single event")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolving event for tickets")
			}
			redemption, err := s.vouchers.Redeem(ctx, tx, input.VoucherCode, vouchers.EligibilityInput{
				EventID:       eventID,
				UserID:        userID,
				SubtotalCents: subtotal,
				ItemCount:     quantity,
				Now:           now,
			})
			if err != nil {
				return err
			}
			voucherID = &redemption.Voucher.ID
			discount = redemption.DiscountCents
		}

		expiry := now.Add(s.cfg.ReservationTTL)
		order = &models.Order{
			UserID:        userID,
			Status:        enums.OrderStatusWaitingForPayment,
			Currency:      currency,
			SubtotalCents: subtotal,
			DiscountCents: discount,
			TotalCents:    subtotal - discount,
			VoucherID:     voucherID,
			ExpiredAt:     &expiry,
			Items:         items,
		}
		if err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating reservation")
		}
		if err := repo.AppendTraces(ctx, order.ID, order.Status); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording item traces")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderReserved,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: userID},
			Data: map[string]any{
				"order_id":    order.ID.String(),
				"user_id":     userID.String(),
				"total_cents": order.TotalCents,
				"expires_at":  expiry,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id": order.ID.String(),
		"user_id":  userID.String(),
	}), "reservation created")
	return order, nil
}

// CancelReservation drops the user's unpaid reservation if one exists. The
// returned bool reports whether anything was deleted.
func (s *service) CancelReservation(ctx context.Context, userID uuid.UUID) (bool, error) {
	if userID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	found := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		prior, err := repo.FindWaitingByUser(ctx, userID)
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading reservation")
		}
		if err := repo.DeleteCascade(ctx, prior.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deleting reservation")
		}
		found = true
		return nil
	})
	return found, err
}

func (s *service) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.loadOwned(ctx, s.repo, userID, orderID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) ListPayments(ctx context.Context, userID, orderID uuid.UUID) ([]models.Payment, error) {
	if _, err := s.loadOwned(ctx, s.repo, userID, orderID); err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing payments")
	}
	return payments, nil
}

// CreatePayment opens a provider checkout for the reservation, converts the
// total into the settlement currency, and extends the hold to the payment
// TTL. The order moves to PENDING once the provider order exists.
func (s *service) CreatePayment(ctx context.Context, userID uuid.UUID, input PaymentInput) (*PaymentIntent, error) {
	order, err := s.loadOwned(ctx, s.repo, userID, input.OrderID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePayable(order, time.Now()); err != nil {
		return nil, err
	}

	amount := order.TotalCents
	if order.Currency != s.settlement {
		amount, err = s.converter.ConvertCents(ctx, order.TotalCents, order.Currency, s.settlement)
		if err != nil {
			return nil, err
		}
	}

	providerOrder, err := s.gateway.CreateOrder(ctx, paypal.CreateOrderParams{
		ReferenceID: order.ID.String(),
		CustomID:    order.ID.String(),
		AmountCents: amount,
		Currency:    string(s.settlement),
		ReturnURL:   input.ReturnURL,
		CancelURL:   input.CancelURL,
	})
	if err != nil {
		return nil, err
	}

	var expiry time.Time
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		fresh, err := repo.FindByIDForUpdate(ctx, order.ID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order")
		}
		now := time.Now()
		if err := s.requirePayable(fresh, now); err != nil {
			return err
		}

		providerID := providerOrder.ID
		fresh.PayPalOrderID = &providerID
		expiry = now.Add(s.cfg.PaymentTTL)
		fresh.ExpiredAt = &expiry
		transitioned := fresh.Status == enums.OrderStatusWaitingForPayment
		fresh.Status = enums.OrderStatusPending
		if err := repo.Save(ctx, fresh); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "saving order")
		}
		if transitioned {
			if err := repo.AppendTraces(ctx, fresh.ID, fresh.Status); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording item traces")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":          order.ID.String(),
		"provider_order_id": providerOrder.ID,
	}), "payment intent created")

	return &PaymentIntent{
		OrderID:         order.ID,
		ProviderOrderID: providerOrder.ID,
		ApproveURL:      providerOrder.ApproveLink(),
		AmountCents:     amount,
		Currency:        s.settlement,
		ExpiresAt:       expiry,
	}, nil
}

// ApplyVoucher attaches a voucher to a reservation that has no payment intent
// yet. Amounts are locked once a provider order exists.
func (s *service) ApplyVoucher(ctx context.Context, userID, orderID uuid.UUID, code string) (*models.Order, error) {
	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOwnedForUpdate(ctx, repo, userID, orderID)
		if err != nil {
			return err
		}
		now := time.Now()
		if err := s.requireAmendable(order, now); err != nil {
			return err
		}

		ticketIDs := make([]uuid.UUID, 0, len(order.Items))
		var quantity int
		for _, item := range order.Items {
			ticketIDs = append(ticketIDs, item.TicketID)
			quantity += item.Quantity
		}
		eventID, err := repo.EventIDForTickets(ctx, ticketIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolving event for tickets")
		}

		redemption, err := s.vouchers.Redeem(ctx, tx, code, vouchers.EligibilityInput{
			EventID:       eventID,
			UserID:        userID,
			SubtotalCents: order.SubtotalCents,
			ItemCount:     quantity,
			Now:           now,
		})
		if err != nil {
			return err
		}

		order.VoucherID = &redemption.Voucher.ID
		order.DiscountCents = redemption.DiscountCents
		order.TotalCents = order.SubtotalCents - redemption.DiscountCents
		if err := repo.Save(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "saving order")
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveVoucher detaches the voucher and restores the undiscounted total.
func (s *service) RemoveVoucher(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOwnedForUpdate(ctx, repo, userID, orderID)
		if err != nil {
			return err
		}
		if err := s.requireAmendable(order, time.Now()); err != nil {
			return err
		}

		order.VoucherID = nil
		order.DiscountCents = 0
		order.TotalCents = order.SubtotalCents
		if err := repo.Save(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "saving order")
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// HandleCheckoutApproved settles the buyer's approval: it captures the
// provider order, records the payment, and moves the order to APPROVED.
// Stock is not touched here; that waits for the capture notification.
func (s *service) HandleCheckoutApproved(ctx context.Context, approval CheckoutApproval) error {
	if approval.ProviderOrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider order id required")
	}

	order, err := s.repo.FindByProviderOrderID(ctx, approval.ProviderOrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found for provider order")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order")
	}

	// A payment row for this provider order means the approval was already
	// processed; redeliveries are no-ops.
	if _, err := s.repo.FindPaymentByProviderOrder(ctx, approval.ProviderOrderID); err == nil {
		return nil
	} else if err != gorm.ErrRecordNotFound {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading payment")
	}

	captured, err := s.gateway.CaptureOrder(ctx, approval.ProviderOrderID)
	if err != nil {
		return err
	}

	payerID := approval.PayerID
	payerEmail := approval.PayerEmail
	if captured.Payer != nil {
		if payerID == nil && captured.Payer.PayerID != "" {
			id := captured.Payer.PayerID
			payerID = &id
		}
		if payerEmail == nil && captured.Payer.EmailAddress != "" {
			email := captured.Payer.EmailAddress
			payerEmail = &email
		}
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		fresh, err := repo.FindByIDForUpdate(ctx, order.ID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order")
		}

		payment := &models.Payment{
			OrderID:         fresh.ID,
			Provider:        "paypal",
			ProviderOrderID: approval.ProviderOrderID,
			PayerID:         payerID,
			PayerEmail:      payerEmail,
			Currency:        s.settlement,
		}
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording payment")
		}

		if fresh.Status == enums.OrderStatusWaitingForPayment || fresh.Status == enums.OrderStatusPending {
			fresh.Status = enums.OrderStatusApproved
			if err := repo.Save(ctx, fresh); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "saving order")
			}
			if err := repo.AppendTraces(ctx, fresh.ID, fresh.Status); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording item traces")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":          order.ID.String(),
		"provider_order_id": approval.ProviderOrderID,
	}), "checkout approved")
	return nil
}

// HandlePaymentCaptured fills in the settlement breakdown for the final
// capture and fulfills the order: debit stock, mark FULFILLED. Running both
// in one transaction keeps the payment row and the stock debit consistent.
func (s *service) HandlePaymentCaptured(ctx context.Context, notice CaptureNotice) error {
	if notice.CaptureID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "capture id required")
	}

	orderID, err := s.resolveOrderID(ctx, notice)
	if err != nil {
		return err
	}

	var gross, fee, net int64
	if notice.ProviderOrderID != "" {
		providerOrder, err := s.gateway.GetOrder(ctx, notice.ProviderOrderID)
		if err != nil {
			return err
		}
		if capture, ok := providerOrder.FirstCapture(); ok {
			gross, fee, net = captureAmounts(capture)
		}
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		payment, err := repo.FindPaymentByProviderOrder(ctx, notice.ProviderOrderID)
		if err == gorm.ErrRecordNotFound {
			// Capture notifications can outrun the approval handler.
			payment = &models.Payment{
				OrderID:         orderID,
				Provider:        "paypal",
				ProviderOrderID: notice.ProviderOrderID,
				Currency:        s.settlement,
			}
			if err := repo.CreatePayment(ctx, payment); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording payment")
			}
		} else if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading payment")
		}

		if payment.Fulfilled && payment.CaptureID != nil && *payment.CaptureID == notice.CaptureID {
			return nil
		}

		captureID := notice.CaptureID
		payment.CaptureID = &captureID
		payment.GrossCents = gross
		payment.FeeCents = fee
		payment.NetCents = net
		capturedAt := notice.CapturedAt
		if capturedAt == nil {
			now := time.Now()
			capturedAt = &now
		}
		payment.CapturedAt = capturedAt

		if err := s.fulfillTx(ctx, tx, orderID); err != nil {
			return err
		}

		payment.Fulfilled = true
		if err := repo.SavePayment(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "saving payment")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":   orderID.String(),
		"capture_id": notice.CaptureID,
	}), "payment captured")
	return nil
}

// Fulfill debits stock for the order and marks it FULFILLED. Safe to retry.
func (s *service) Fulfill(ctx context.Context, orderID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.fulfillTx(ctx, tx, orderID)
	})
}

func (s *service) fulfillTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	order, err := repo.FindByIDForUpdate(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// The sweeper may have removed the reservation; there is nothing
			// left to fulfill and retrying will not change that.
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order")
	}
	if order.Status == enums.OrderStatusFulfilled {
		return nil
	}
	if order.Status == enums.OrderStatusWaitingForPayment {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no payment intent")
	}

	ticketIDs := make([]uuid.UUID, 0, len(order.Items))
	for _, item := range order.Items {
		ticketIDs = append(ticketIDs, item.TicketID)
	}
	if _, err := stock.LockAndFetch(ctx, tx, ticketIDs); err != nil {
		return err
	}
	if err := stock.ApplyFulfillment(ctx, tx, order.Items); err != nil {
		return err
	}

	now := time.Now()
	order.Status = enums.OrderStatusFulfilled
	order.FulfilledAt = &now
	if err := repo.Save(ctx, order); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "saving order")
	}
	if err := repo.AppendTraces(ctx, order.ID, order.Status); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording item traces")
	}

	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderFulfilled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: order.UserID},
		Data: map[string]any{
			"order_id":     order.ID.String(),
			"user_id":      order.UserID.String(),
			"total_cents":  order.TotalCents,
			"fulfilled_at": now,
		},
	})
}

// resolveOrderID maps a capture notification back to our order, preferring
// the custom_id we attached at checkout creation.
func (s *service) resolveOrderID(ctx context.Context, notice CaptureNotice) (uuid.UUID, error) {
	if notice.CustomID != "" {
		id, err := uuid.Parse(notice.CustomID)
		if err == nil {
			return id, nil
		}
	}
	if notice.ProviderOrderID != "" {
		order, err := s.repo.FindByProviderOrderID(ctx, notice.ProviderOrderID)
		if err == nil {
			return order.ID, nil
		}
		if err != gorm.ErrRecordNotFound {
			return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order")
		}
	}
	return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found for capture")
}

func (s *service) loadOwned(ctx context.Context, repo Repository, userID, orderID uuid.UUID) (*models.Order, error) {
	if userID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id required")
	}
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order")
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) loadOwnedForUpdate(ctx context.Context, repo Repository, userID, orderID uuid.UUID) (*models.Order, error) {
	if userID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id required")
	}
	order, err := repo.FindByIDForUpdate(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading order")
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) requirePayable(order *models.Order, now time.Time) error {
	if !order.Status.Payable() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not payable").
			WithDetails(map[string]any{"status": order.Status})
	}
	if order.Expired(now) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation has expired")
	}
	return nil
}

// requireAmendable gates voucher changes. This is stricter than allowing any
// unpaid order: a PENDING order has a provider checkout open whose amount was
// fixed at create time, so amendment stops as soon as a provider order exists.
func (s *service) requireAmendable(order *models.Order, now time.Time) error {
	if order.Status != enums.OrderStatusWaitingForPayment || order.PayPalOrderID != nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order amount is locked")
	}
	if order.Expired(now) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation has expired")
	}
	return nil
}

func captureAmounts(capture paypal.Capture) (gross, fee, net int64) {
	breakdown := capture.SellerReceivableBreakdown
	if breakdown != nil {
		if breakdown.GrossAmount != nil {
			gross, _ = breakdown.GrossAmount.Cents()
		}
		if breakdown.PayPalFee != nil {
			fee, _ = breakdown.PayPalFee.Cents()
		}
		if breakdown.NetAmount != nil {
			net, _ = breakdown.NetAmount.Cents()
		}
	}
	if gross == 0 && capture.Amount != nil {
		gross, _ = capture.Amount.Cents()
	}
	if net == 0 && gross != 0 {
		net = gross - fee
	}
	return gross, fee, net
}
