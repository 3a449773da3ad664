package stock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
)

func TestReserve(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	show := seedShow(t, db)
	ticketA := seedTicket(t, db, show.ID, 5)
	ticketB := seedTicket(t, db, show.ID, 2)

	err := db.Transaction(func(tx *gorm.DB) error {
		result, terr := Reserve(ctx, tx, []Request{
			{TicketID: ticketA.ID, Quantity: 3},
			{TicketID: ticketB.ID, Quantity: 2},
		})
		if terr != nil {
			return terr
		}
		if got := result[ticketA.ID].Available; got != 5 {
			t.Fatalf("expected 5 available for ticket A, got %d", got)
		}
		if got := result[ticketB.ID].Available; got != 2 {
			t.Fatalf("expected 2 available for ticket B, got %d", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("reserve transaction: %v", err)
	}
}

func TestReserveCountsUnpaidHolds(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	show := seedShow(t, db)
	ticket := seedTicket(t, db, show.ID, 5)
	seedOrderWithItem(t, db, ticket.ID, 3, enums.OrderStatusWaitingForPayment)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, terr := Reserve(ctx, tx, []Request{{TicketID: ticket.ID, Quantity: 3}})
		return terr
	})
	if err == nil {
		t.Fatal("expected oversell to be rejected")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("unexpected error: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		_, terr := Reserve(ctx, tx, []Request{{TicketID: ticket.ID, Quantity: 2}})
		return terr
	})
	if err != nil {
		t.Fatalf("expected remaining stock to be reservable: %v", err)
	}
}

func TestReserveFreedAfterOrderDeleted(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	show := seedShow(t, db)
	ticket := seedTicket(t, db, show.ID, 2)
	order := seedOrderWithItem(t, db, ticket.ID, 2, enums.OrderStatusWaitingForPayment)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, terr := Reserve(ctx, tx, []Request{{TicketID: ticket.ID, Quantity: 1}})
		return terr
	})
	if err == nil {
		t.Fatal("expected sold-out ticket to reject reservation")
	}

	// The sweeper deletes expired orders; their holds stop counting.
	if err := db.Where("order_id = ?", order.ID).Delete(&models.TicketItem{}).Error; err != nil {
		t.Fatalf("delete items: %v", err)
	}
	if err := db.Delete(&models.Order{}, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("delete order: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		_, terr := Reserve(ctx, tx, []Request{{TicketID: ticket.ID, Quantity: 2}})
		return terr
	})
	if err != nil {
		t.Fatalf("expected freed stock to be reservable: %v", err)
	}
}

func TestReserveInactiveTicket(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	show := seedShow(t, db)
	ticket := seedTicket(t, db, show.ID, 5)
	if err := db.Model(&models.Ticket{}).Where("id = ?", ticket.ID).Update("active", false).Error; err != nil {
		t.Fatalf("deactivate ticket: %v", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		_, terr := Reserve(ctx, tx, []Request{{TicketID: ticket.ID, Quantity: 1}})
		return terr
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReserveInvalidInput(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	show := seedShow(t, db)
	ticket := seedTicket(t, db, show.ID, 5)

	cases := []struct {
		name     string
		requests []Request
	}{
		{name: "empty", requests: nil},
		{name: "zero quantity", requests: []Request{{TicketID: ticket.ID, Quantity: 0}}},
		{name: "missing ticket id", requests: []Request{{Quantity: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Reserve(ctx, db, tc.requests)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestReserveUnknownTicket(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	_, err := Reserve(ctx, db, []Request{{TicketID: uuid.New(), Quantity: 1}})
	if err == nil {
		t.Fatal("expected not found error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestApplyFulfillment(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	show := seedShow(t, db)
	ticket := seedTicket(t, db, show.ID, 5)
	order := seedOrderWithItem(t, db, ticket.ID, 3, enums.OrderStatusApproved)

	var items []models.TicketItem
	if err := db.Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
		t.Fatalf("load items: %v", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return ApplyFulfillment(ctx, tx, items)
	})
	if err != nil {
		t.Fatalf("apply fulfillment: %v", err)
	}

	var after models.Ticket
	if err := db.First(&after, "id = ?", ticket.ID).Error; err != nil {
		t.Fatalf("reload ticket: %v", err)
	}
	if after.Stock != 2 {
		t.Fatalf("expected stock 2 after fulfillment, got %d", after.Stock)
	}
	if after.InitialStock != 5 {
		t.Fatalf("initial stock must not change, got %d", after.InitialStock)
	}
}

func TestApplyFulfillmentInsufficientStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	show := seedShow(t, db)
	ticket := seedTicket(t, db, show.ID, 1)
	order := seedOrderWithItem(t, db, ticket.ID, 2, enums.OrderStatusApproved)

	var items []models.TicketItem
	if err := db.Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
		t.Fatalf("load items: %v", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return ApplyFulfillment(ctx, tx, items)
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("unexpected error: %v", err)
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:stock_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Show{}, &models.Ticket{}, &models.Order{}, &models.TicketItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedShow(t *testing.T, db *gorm.DB) models.Show {
	t.Helper()
	show := models.Show{EventID: uuid.New(), Name: "Evening Show", StartsAt: time.Now().Add(48 * time.Hour)}
	if err := db.Create(&show).Error; err != nil {
		t.Fatalf("seed show: %v", err)
	}
	return show
}

func seedTicket(t *testing.T, db *gorm.DB, showID uuid.UUID, stock int) models.Ticket {
	t.Helper()
	ticket := models.Ticket{
		ShowID:       showID,
		Name:         "General Admission",
		PriceCents:   2500,
		Currency:     enums.CurrencyUSD,
		InitialStock: stock,
		Stock:        stock,
		Active:       true,
	}
	if err := db.Create(&ticket).Error; err != nil {
		t.Fatalf("seed ticket: %v", err)
	}
	return ticket
}

func seedOrderWithItem(t *testing.T, db *gorm.DB, ticketID uuid.UUID, qty int, status enums.OrderStatus) models.Order {
	t.Helper()
	expiry := time.Now().Add(15 * time.Minute)
	order := models.Order{
		UserID:        uuid.New(),
		Status:        status,
		Currency:      enums.CurrencyUSD,
		SubtotalCents: int64(qty) * 2500,
		TotalCents:    int64(qty) * 2500,
		ExpiredAt:     &expiry,
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	item := models.TicketItem{
		OrderID:        order.ID,
		TicketID:       ticketID,
		Quantity:       qty,
		UnitPriceCents: 2500,
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed ticket item: %v", err)
	}
	return order
}
