package stock

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
)

// Request asks for quantity against one ticket class.
type Request struct {
	TicketID uuid.UUID
	Quantity int
}

// Availability is the per-ticket state observed under lock.
type Availability struct {
	Ticket    models.Ticket
	Reserved  int
	Available int
}

// LockAndFetch acquires exclusive row locks on the given tickets, always in
// ascending id order so concurrent reservations over overlapping ticket sets
// cannot deadlock. The locks hold until the enclosing transaction commits.
func LockAndFetch(ctx context.Context, tx *gorm.DB, ticketIDs []uuid.UUID) ([]models.Ticket, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if len(ticketIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one ticket is required")
	}

	ids := dedupeSorted(ticketIDs)

	query := tx.WithContext(ctx)
	// The in-memory sqlite test databases are single-writer, and the driver
	// rejects FOR UPDATE.
	if tx.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var tickets []models.Ticket
	if err := query.Where("id IN ?", ids).Order("id ASC").Find(&tickets).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "locking tickets")
	}
	if len(tickets) != len(ids) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ticket not found")
	}
	return tickets, nil
}

// CheckAvailability verifies, under the caller's ticket locks, that every
// request fits in the remaining stock. Reserved quantity is the sum of ticket
// items held by unpaid orders; stock itself is only debited at fulfillment,
// so availability is stock minus those advisory holds.
func CheckAvailability(ctx context.Context, tx *gorm.DB, tickets []models.Ticket, requests []Request) (map[uuid.UUID]Availability, error) {
	wanted := map[uuid.UUID]int{}
	for _, req := range requests {
		if req.TicketID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "ticket id required")
		}
		if req.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		wanted[req.TicketID] += req.Quantity
	}

	ids := make([]uuid.UUID, 0, len(tickets))
	byID := make(map[uuid.UUID]models.Ticket, len(tickets))
	for _, t := range tickets {
		ids = append(ids, t.ID)
		byID[t.ID] = t
	}
	for id := range wanted {
		if _, ok := byID[id]; !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ticket not found")
		}
	}

	reserved, err := reservedQuantities(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	result := make(map[uuid.UUID]Availability, len(tickets))
	for _, ticket := range tickets {
		if !ticket.Active {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "ticket is not on sale").
				WithDetails(map[string]any{"ticket_id": ticket.ID.String()})
		}
		held := reserved[ticket.ID]
		available := ticket.Stock - held
		if wanted[ticket.ID] > available {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "insufficient ticket stock").
				WithDetails(map[string]any{
					"ticket_id": ticket.ID.String(),
					"requested": wanted[ticket.ID],
					"available": available,
				})
		}
		result[ticket.ID] = Availability{
			Ticket:    ticket,
			Reserved:  held,
			Available: available,
		}
	}
	return result, nil
}

// ApplyFulfillment debits stock for every distinct ticket referenced by the
// order's items. Callers must hold the ticket locks (LockAndFetch) in the
// same transaction; this is the only place stock is mutated.
func ApplyFulfillment(ctx context.Context, tx *gorm.DB, items []models.TicketItem) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}

	quantities := map[uuid.UUID]int{}
	for _, item := range items {
		quantities[item.TicketID] += item.Quantity
	}

	ids := make([]uuid.UUID, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		res := tx.WithContext(ctx).
			Model(&models.Ticket{}).
			Where("id = ? AND stock >= ?", id, quantities[id]).
			Update("stock", gorm.Expr("stock - ?", quantities[id]))
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "debiting ticket stock")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "insufficient ticket stock").
				WithDetails(map[string]any{"ticket_id": id.String()})
		}
	}
	return nil
}

// reservedQuantities sums ticket_items per ticket across unpaid orders. Only
// WAITING_FOR_PAYMENT and PENDING orders hold stock advisorily; fulfilled
// orders have already been debited from the stock column.
func reservedQuantities(ctx context.Context, tx *gorm.DB, ticketIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	type row struct {
		TicketID uuid.UUID
		Total    int
	}
	var rows []row
	err := tx.WithContext(ctx).
		Model(&models.TicketItem{}).
		Select("ticket_items.ticket_id AS ticket_id, SUM(ticket_items.quantity) AS total").
		Joins("JOIN orders ON orders.id = ticket_items.order_id").
		Where("ticket_items.ticket_id IN ?", ticketIDs).
		Where("orders.status IN ?", enums.ActiveHoldStatuses()).
		Group("ticket_items.ticket_id").
		Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "summing reserved stock")
	}

	totals := make(map[uuid.UUID]int, len(rows))
	for _, r := range rows {
		totals[r.TicketID] = r.Total
	}
	return totals, nil
}

// Reserve combines LockAndFetch and CheckAvailability for the reservation
// path: lock, count advisory holds, reject oversell.
func Reserve(ctx context.Context, tx *gorm.DB, requests []Request) (map[uuid.UUID]Availability, error) {
	if len(requests) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one ticket is required")
	}
	ids := make([]uuid.UUID, 0, len(requests))
	for _, req := range requests {
		if req.TicketID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "ticket id required")
		}
		ids = append(ids, req.TicketID)
	}

	tickets, err := LockAndFetch(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	return CheckAvailability(ctx, tx, tickets, requests)
}

func dedupeSorted(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
