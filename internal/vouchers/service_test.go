package vouchers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/stagepass/stagepass-backend/pkg/db"
	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
)

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	input := validCreateInput()
	input.Code = "earlybird"
	created, err := svc.Create(ctx, input)
	require.NoError(t, err)
	require.Equal(t, "EARLYBIRD", created.Code, "codes are stored uppercased")

	loaded, err := svc.Get(ctx, created.ID, created.EventID)
	require.NoError(t, err)
	require.Equal(t, created.Code, loaded.Code)

	_, err = svc.Get(ctx, created.ID, uuid.New())
	requireCode(t, err, pkgerrors.CodeNotFound)
}

func TestCreateDuplicateCodeSameEvent(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	input := validCreateInput()
	_, err := svc.Create(ctx, input)
	require.NoError(t, err)

	input.Code = "EarlyBird"
	_, err = svc.Create(ctx, input)
	requireCode(t, err, pkgerrors.CodeConflict)

	// Same code on a different event is fine.
	input.EventID = uuid.New()
	_, err = svc.Create(ctx, input)
	require.NoError(t, err)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"empty code", func(in *CreateInput) { in.Code = " " }},
		{"missing event", func(in *CreateInput) { in.EventID = uuid.Nil }},
		{"bad discount type", func(in *CreateInput) { in.DiscountType = "half-off" }},
		{"zero value", func(in *CreateInput) { in.DiscountValue = 0 }},
		{"percentage over 100", func(in *CreateInput) {
			in.DiscountType = enums.DiscountTypePercentage
			in.DiscountValue = 120
		}},
		{"zero usage limit", func(in *CreateInput) { in.UsageLimit = 0 }},
		{"zero per-user limit", func(in *CreateInput) { in.PerUserLimit = 0 }},
		{"negative minimum order", func(in *CreateInput) { in.MinOrderCents = -1 }},
		{"inverted window", func(in *CreateInput) { in.EndsAt = in.StartsAt.Add(-time.Hour) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validCreateInput()
			tc.mutate(&input)
			_, err := svc.Create(ctx, input)
			requireCode(t, err, pkgerrors.CodeValidation)
		})
	}
}

func TestListPublicOnly(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	input := validCreateInput()
	input.Public = true
	public, err := svc.Create(ctx, input)
	require.NoError(t, err)

	hidden := validCreateInput()
	hidden.EventID = public.EventID
	hidden.Code = "HIDDEN"
	hidden.Public = false
	_, err = svc.Create(ctx, hidden)
	require.NoError(t, err)

	all, err := svc.ListByEvent(ctx, public.EventID, false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	visible, err := svc.ListByEvent(ctx, public.EventID, true)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, public.ID, visible[0].ID)
}

func TestUpdateFrozenAfterRedemption(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	voucher, err := svc.Create(ctx, validCreateInput())
	require.NoError(t, err)

	seedOrderHoldingVoucher(t, db, voucher.ID, uuid.New(), enums.OrderStatusFulfilled)

	active := false
	_, err = svc.Update(ctx, voucher.ID, voucher.EventID, UpdateInput{Active: &active})
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestUpdateFields(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	voucher, err := svc.Create(ctx, validCreateInput())
	require.NoError(t, err)

	limit := 3
	public := true
	updated, err := svc.Update(ctx, voucher.ID, voucher.EventID, UpdateInput{
		UsageLimit: &limit,
		Public:     &public,
	})
	require.NoError(t, err)
	require.Equal(t, 3, updated.UsageLimit)
	require.True(t, updated.Public)
}

func TestDeleteWithLiveHolders(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	voucher, err := svc.Create(ctx, validCreateInput())
	require.NoError(t, err)
	seedOrderHoldingVoucher(t, db, voucher.ID, uuid.New(), enums.OrderStatusWaitingForPayment)

	err = svc.Delete(ctx, voucher.ID, voucher.EventID)
	requireCode(t, err, pkgerrors.CodeConflict)
}

func TestUsageFor(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	input := validCreateInput()
	input.PerUserLimit = 5
	voucher, err := svc.Create(ctx, input)
	require.NoError(t, err)

	seedOrderHoldingVoucher(t, db, voucher.ID, uuid.New(), enums.OrderStatusFulfilled)
	seedOrderHoldingVoucher(t, db, voucher.ID, uuid.New(), enums.OrderStatusWaitingForPayment)

	usage, err := svc.UsageFor(ctx, voucher.ID, voucher.EventID)
	require.NoError(t, err)
	require.Equal(t, int64(2), usage.Total)
	require.Equal(t, int64(1), usage.Fulfilled)
	require.Equal(t, int64(1), usage.InFlight)
}

func TestRedeem(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	input := validCreateInput()
	input.DiscountType = enums.DiscountTypePercentage
	input.DiscountValue = 10
	voucher, err := svc.Create(ctx, input)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		redemption, rerr := svc.Redeem(ctx, tx, "earlybird", EligibilityInput{
			EventID:       voucher.EventID,
			UserID:        uuid.New(),
			SubtotalCents: 10000,
			ItemCount:     2,
		})
		require.NoError(t, rerr)
		require.Equal(t, int64(1000), redemption.DiscountCents)
		return nil
	})
	require.NoError(t, err)
}

func TestRedeemRejections(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	input := validCreateInput()
	input.UsageLimit = 1
	input.MinOrderCents = 5000
	input.MinTicketQty = 2
	voucher, err := svc.Create(ctx, input)
	require.NoError(t, err)

	okEligibility := EligibilityInput{
		EventID:       voucher.EventID,
		UserID:        uuid.New(),
		SubtotalCents: 10000,
		ItemCount:     2,
		Now:           now,
	}

	redeem := func(mutate func(*EligibilityInput), code string) error {
		eligibility := okEligibility
		if mutate != nil {
			mutate(&eligibility)
		}
		return db.Transaction(func(tx *gorm.DB) error {
			_, rerr := svc.Redeem(ctx, tx, code, eligibility)
			return rerr
		})
	}

	t.Run("unknown code", func(t *testing.T) {
		requireCode(t, redeem(nil, "NOPE"), pkgerrors.CodeNotFound)
	})

	t.Run("wrong event", func(t *testing.T) {
		requireCode(t, redeem(func(e *EligibilityInput) { e.EventID = uuid.New() }, voucher.Code), pkgerrors.CodeNotFound)
	})

	t.Run("outside window", func(t *testing.T) {
		requireCode(t, redeem(func(e *EligibilityInput) { e.Now = now.Add(96 * time.Hour) }, voucher.Code), pkgerrors.CodeStateConflict)
	})

	t.Run("inactive", func(t *testing.T) {
		require.NoError(t, db.Model(&models.Voucher{}).Where("id = ?", voucher.ID).Update("active", false).Error)
		requireCode(t, redeem(nil, voucher.Code), pkgerrors.CodeStateConflict)
		require.NoError(t, db.Model(&models.Voucher{}).Where("id = ?", voucher.ID).Update("active", true).Error)
	})

	t.Run("below minimum order", func(t *testing.T) {
		requireCode(t, redeem(func(e *EligibilityInput) { e.SubtotalCents = 1000 }, voucher.Code), pkgerrors.CodeConflict)
	})

	t.Run("below minimum quantity", func(t *testing.T) {
		requireCode(t, redeem(func(e *EligibilityInput) { e.ItemCount = 1 }, voucher.Code), pkgerrors.CodeConflict)
	})

	t.Run("per-user limit", func(t *testing.T) {
		userID := uuid.New()
		limit := 5
		_, err := svc.Update(ctx, voucher.ID, voucher.EventID, UpdateInput{UsageLimit: &limit})
		require.NoError(t, err)
		seedOrderHoldingVoucher(t, db, voucher.ID, userID, enums.OrderStatusWaitingForPayment)
		requireCode(t, redeem(func(e *EligibilityInput) { e.UserID = userID }, voucher.Code), pkgerrors.CodeConflict)
	})

	t.Run("usage limit counts in-flight holds", func(t *testing.T) {
		limit := 1
		_, err := svc.Update(ctx, voucher.ID, voucher.EventID, UpdateInput{UsageLimit: &limit})
		require.NoError(t, err)
		requireCode(t, redeem(nil, voucher.Code), pkgerrors.CodeConflict)
	})
}

func TestDiscountCents(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		voucher  models.Voucher
		subtotal int64
		want     int64
	}{
		{
			name:     "percentage",
			voucher:  models.Voucher{DiscountType: enums.DiscountTypePercentage, DiscountValue: 25},
			subtotal: 10000,
			want:     2500,
		},
		{
			name:     "fixed",
			voucher:  models.Voucher{DiscountType: enums.DiscountTypeFixed, DiscountValue: 500},
			subtotal: 10000,
			want:     500,
		},
		{
			name:     "fixed capped at subtotal",
			voucher:  models.Voucher{DiscountType: enums.DiscountTypeFixed, DiscountValue: 5000},
			subtotal: 2000,
			want:     2000,
		},
		{
			name:     "percentage rounds down",
			voucher:  models.Voucher{DiscountType: enums.DiscountTypePercentage, DiscountValue: 33},
			subtotal: 101,
			want:     33,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DiscountCents(&tc.voucher, tc.subtotal))
		})
	}
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected a domain error, got %v", err)
	require.Equal(t, code, typed.Code())
}

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	dsn := "file:vouchers_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Voucher{}, &models.Order{}))

	logg := logger.New(logger.Options{ServiceName: "vouchers-test"})
	svc, err := NewService(NewRepository(conn), dbpkg.FromConn(conn), logg)
	require.NoError(t, err)
	return svc, conn
}

func validCreateInput() CreateInput {
	now := time.Now()
	return CreateInput{
		Code:          "EARLYBIRD",
		EventID:       uuid.New(),
		DiscountType:  enums.DiscountTypeFixed,
		DiscountValue: 500,
		UsageLimit:    10,
		PerUserLimit:  1,
		Active:        true,
		StartsAt:      now.Add(-time.Hour),
		EndsAt:        now.Add(72 * time.Hour),
	}
}

func seedOrderHoldingVoucher(t *testing.T, db *gorm.DB, voucherID, userID uuid.UUID, status enums.OrderStatus) {
	t.Helper()
	expiry := time.Now().Add(15 * time.Minute)
	order := models.Order{
		UserID:        userID,
		Status:        status,
		Currency:      enums.CurrencyUSD,
		SubtotalCents: 1000,
		TotalCents:    1000,
		VoucherID:     &voucherID,
		ExpiredAt:     &expiry,
	}
	require.NoError(t, db.Create(&order).Error)
}
