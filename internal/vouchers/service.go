package vouchers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/stagepass/stagepass-backend/pkg/db"
	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CreateInput carries the fields accepted when minting a voucher.
type CreateInput struct {
	Code          string
	EventID       uuid.UUID
	DiscountType  enums.DiscountType
	DiscountValue int64
	UsageLimit    int
	PerUserLimit  int
	MinOrderCents int64
	MinTicketQty  int
	Active        bool
	Public        bool
	StartsAt      time.Time
	EndsAt        time.Time
}

// UpdateInput carries the mutable voucher fields. Nil pointers leave the
// current value untouched.
type UpdateInput struct {
	DiscountType  *enums.DiscountType
	DiscountValue *int64
	UsageLimit    *int
	PerUserLimit  *int
	MinOrderCents *int64
	MinTicketQty  *int
	Active        *bool
	Public        *bool
	StartsAt      *time.Time
	EndsAt        *time.Time
}

// EligibilityInput is the order context a redemption is checked against.
type EligibilityInput struct {
	EventID       uuid.UUID
	UserID        uuid.UUID
	SubtotalCents int64
	ItemCount     int
	Now           time.Time
}

// Redemption is the outcome of applying a voucher to an order subtotal.
type Redemption struct {
	Voucher       *models.Voucher
	DiscountCents int64
}

// Usage is the derived redemption accounting surfaced to event owners.
type Usage struct {
	VoucherID  uuid.UUID `json:"voucher_id"`
	Total      int64     `json:"total"`
	Fulfilled  int64     `json:"fulfilled"`
	InFlight   int64     `json:"in_flight"`
	UsageLimit int       `json:"usage_limit"`
}

// Service defines voucher management plus the redemption check used by the
// reservation flow.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Voucher, error)
	Get(ctx context.Context, id, eventID uuid.UUID) (*models.Voucher, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID, publicOnly bool) ([]models.Voucher, error)
	Update(ctx context.Context, id, eventID uuid.UUID, input UpdateInput) (*models.Voucher, error)
	Delete(ctx context.Context, id, eventID uuid.UUID) error
	UsageFor(ctx context.Context, id, eventID uuid.UUID) (*Usage, error)
	Redeem(ctx context.Context, tx *gorm.DB, code string, eligibility EligibilityInput) (*Redemption, error)
}

type service struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
}

// NewService builds a voucher service with the required dependencies.
func NewService(repo Repository, tx txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("voucher repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tx: tx, logg: logg}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Voucher, error) {
	code := NormalizeCode(input.Code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "voucher code required")
	}
	if input.EventID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	if err := validateDiscount(input.DiscountType, input.DiscountValue); err != nil {
		return nil, err
	}
	if input.UsageLimit <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "usage limit must be positive")
	}
	if input.PerUserLimit <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "per-user limit must be positive")
	}
	if input.MinOrderCents < 0 || input.MinTicketQty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "minimum conditions cannot be negative")
	}
	if !input.EndsAt.After(input.StartsAt) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validity window must end after it starts")
	}

	voucher := &models.Voucher{
		Code:          code,
		EventID:       input.EventID,
		DiscountType:  input.DiscountType,
		DiscountValue: input.DiscountValue,
		UsageLimit:    input.UsageLimit,
		PerUserLimit:  input.PerUserLimit,
		MinOrderCents: input.MinOrderCents,
		MinTicketQty:  input.MinTicketQty,
		Active:        input.Active,
		Public:        input.Public,
		StartsAt:      input.StartsAt,
		EndsAt:        input.EndsAt,
	}
	if err := s.repo.Create(ctx, voucher); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_vouchers_event_code") || dbpkg.IsUniqueViolation(err, "vouchers.code") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "voucher code already exists for this event")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create voucher")
	}
	return voucher, nil
}

func (s *service) Get(ctx context.Context, id, eventID uuid.UUID) (*models.Voucher, error) {
	return s.findScoped(ctx, s.repo, id, eventID)
}

func (s *service) ListByEvent(ctx context.Context, eventID uuid.UUID, publicOnly bool) ([]models.Voucher, error) {
	if eventID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	vouchers, err := s.repo.ListByEvent(ctx, eventID, publicOnly)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list vouchers")
	}
	return vouchers, nil
}

func (s *service) Update(ctx context.Context, id, eventID uuid.UUID, input UpdateInput) (*models.Voucher, error) {
	var updated *models.Voucher
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		voucher, err := s.findScoped(ctx, repo, id, eventID)
		if err != nil {
			return err
		}
		if err := s.requireNoHistoricalUsage(ctx, repo, voucher.ID); err != nil {
			return err
		}

		if input.DiscountType != nil {
			voucher.DiscountType = *input.DiscountType
		}
		if input.DiscountValue != nil {
			voucher.DiscountValue = *input.DiscountValue
		}
		if err := validateDiscount(voucher.DiscountType, voucher.DiscountValue); err != nil {
			return err
		}
		if input.UsageLimit != nil {
			if *input.UsageLimit <= 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "usage limit must be positive")
			}
			voucher.UsageLimit = *input.UsageLimit
		}
		if input.PerUserLimit != nil {
			if *input.PerUserLimit <= 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "per-user limit must be positive")
			}
			voucher.PerUserLimit = *input.PerUserLimit
		}
		if input.MinOrderCents != nil {
			if *input.MinOrderCents < 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "minimum order value cannot be negative")
			}
			voucher.MinOrderCents = *input.MinOrderCents
		}
		if input.MinTicketQty != nil {
			if *input.MinTicketQty < 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "minimum ticket quantity cannot be negative")
			}
			voucher.MinTicketQty = *input.MinTicketQty
		}
		if input.Active != nil {
			voucher.Active = *input.Active
		}
		if input.Public != nil {
			voucher.Public = *input.Public
		}
		if input.StartsAt != nil {
			voucher.StartsAt = *input.StartsAt
		}
		if input.EndsAt != nil {
			voucher.EndsAt = *input.EndsAt
		}
		if !voucher.EndsAt.After(voucher.StartsAt) {
			return pkgerrors.New(pkgerrors.CodeValidation, "validity window must end after it starts")
		}

		if err := repo.Update(ctx, voucher); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update voucher")
		}
		updated = voucher
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) Delete(ctx context.Context, id, eventID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		voucher, err := s.findScoped(ctx, repo, id, eventID)
		if err != nil {
			return err
		}
		if err := s.requireNoHistoricalUsage(ctx, repo, voucher.ID); err != nil {
			return err
		}
		// Unpaid holds still referencing the voucher would be orphaned by the
		// delete; refuse until they resolve or expire.
		total, err := repo.CountUsage(ctx, voucher.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count voucher usage")
		}
		if total > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "voucher is attached to live orders")
		}
		if err := repo.Delete(ctx, voucher.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete voucher")
		}
		return nil
	})
}

func (s *service) UsageFor(ctx context.Context, id, eventID uuid.UUID) (*Usage, error) {
	voucher, err := s.findScoped(ctx, s.repo, id, eventID)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountUsage(ctx, voucher.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count voucher usage")
	}
	fulfilled, err := s.repo.CountFulfilledUsage(ctx, voucher.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count fulfilled usage")
	}
	return &Usage{
		VoucherID:  voucher.ID,
		Total:      total,
		Fulfilled:  fulfilled,
		InFlight:   total - fulfilled,
		UsageLimit: voucher.UsageLimit,
	}, nil
}

// Redeem validates the voucher against the order context inside the caller's
// transaction. The row lock taken by FindByEventAndCodeForUpdate holds until
// that transaction commits, so usage counts cannot be raced past the limits.
// In-flight orders count toward both limits deliberately: counting only
// fulfilled orders would let concurrent checkouts all pass the final use.
func (s *service) Redeem(ctx context.Context, tx *gorm.DB, code string, eligibility EligibilityInput) (*Redemption, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	code = NormalizeCode(code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "voucher code required")
	}
	now := eligibility.Now
	if now.IsZero() {
		now = time.Now()
	}

	repo := s.repo.WithTx(tx)
	voucher, err := repo.FindByEventAndCodeForUpdate(ctx, eligibility.EventID, code)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load voucher")
	}

	if !voucher.ActiveAt(now) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "voucher is not currently valid")
	}
	if eligibility.SubtotalCents < voucher.MinOrderCents {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order total below voucher minimum").
			WithDetails(map[string]any{"min_order_cents": voucher.MinOrderCents})
	}
	if eligibility.ItemCount < voucher.MinTicketQty {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "ticket quantity below voucher minimum").
			WithDetails(map[string]any{"min_ticket_qty": voucher.MinTicketQty})
	}

	total, err := repo.CountUsage(ctx, voucher.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count voucher usage")
	}
	if total >= int64(voucher.UsageLimit) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "voucher usage limit reached")
	}

	byUser, err := repo.CountUsageByUser(ctx, voucher.ID, eligibility.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count per-user usage")
	}
	if byUser >= int64(voucher.PerUserLimit) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "voucher per-user limit reached")
	}

	return &Redemption{
		Voucher:       voucher,
		DiscountCents: DiscountCents(voucher, eligibility.SubtotalCents),
	}, nil
}

func (s *service) findScoped(ctx context.Context, repo Repository, id, eventID uuid.UUID) (*models.Voucher, error) {
	if id == uuid.Nil || eventID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "voucher id and event id required")
	}
	voucher, err := repo.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load voucher")
	}
	if voucher.EventID != eventID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
	}
	return voucher, nil
}

func (s *service) requireNoHistoricalUsage(ctx context.Context, repo Repository, voucherID uuid.UUID) error {
	fulfilled, err := repo.CountFulfilledUsage(ctx, voucherID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count fulfilled usage")
	}
	if fulfilled > 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "voucher has been redeemed and is frozen")
	}
	return nil
}

// NormalizeCode uppercases and trims a voucher code so lookups are
// case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DiscountCents computes the discount a voucher grants on a subtotal. The
// result never exceeds the subtotal.
func DiscountCents(voucher *models.Voucher, subtotalCents int64) int64 {
	var discount int64
	switch voucher.DiscountType {
	case enums.DiscountTypePercentage:
		discount = subtotalCents * voucher.DiscountValue / 100
	case enums.DiscountTypeFixed:
		discount = voucher.DiscountValue
	}
	if discount > subtotalCents {
		discount = subtotalCents
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

func validateDiscount(discountType enums.DiscountType, value int64) error {
	if !discountType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown discount type")
	}
	if value <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "discount value must be positive")
	}
	if discountType == enums.DiscountTypePercentage && value > 100 {
		return pkgerrors.New(pkgerrors.CodeValidation, "percentage discount cannot exceed 100")
	}
	return nil
}
