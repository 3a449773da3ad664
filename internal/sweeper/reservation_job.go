package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/internal/orders"
	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	"github.com/stagepass/stagepass-backend/pkg/logger"
	"github.com/stagepass/stagepass-backend/pkg/metrics"
	"github.com/stagepass/stagepass-backend/pkg/outbox"
)

const sweepBatchSize = 200

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ReservationSweepJob deletes unpaid orders whose hold has lapsed. Deleting
// the order frees its advisory stock holds implicitly, since availability is
// derived by counting live orders.
type ReservationSweepJob struct {
	repo    orders.Repository
	tx      txRunner
	outbox  *outbox.Service
	metrics *metrics.JobMetrics
	logg    *logger.Logger
}

func NewReservationSweepJob(repo orders.Repository, tx txRunner, ob *outbox.Service, jobMetrics *metrics.JobMetrics, logg *logger.Logger) (*ReservationSweepJob, error) {
	if repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &ReservationSweepJob{repo: repo, tx: tx, outbox: ob, metrics: jobMetrics, logg: logg}, nil
}

func (j *ReservationSweepJob) Name() string { return "reservation-sweep" }

// Run sweeps each expired order in its own transaction. A single order that
// cannot be deleted is reported but does not block the rest of the batch.
func (j *ReservationSweepJob) Run(ctx context.Context) error {
	total := 0
	var errs error
	for {
		expired, err := j.repo.ListExpired(ctx, time.Now(), sweepBatchSize)
		if err != nil {
			return multierr.Append(errs, err)
		}
		swept := 0
		for _, order := range expired {
			deleted, err := j.sweepOrder(ctx, order)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("sweep order %s: %w", order.ID, err))
				continue
			}
			if deleted {
				swept++
			}
		}
		total += swept
		if len(expired) < sweepBatchSize || swept == 0 {
			break
		}
	}
	if total > 0 {
		j.metrics.AddExpiredOrders(total)
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"expired_orders": total,
		}), "expired reservations swept")
	}
	return errs
}

// sweepOrder deletes one lapsed hold. The status is re-read under the row
// lock because a capture can land between listing and deleting; an order that
// already moved past the hold states must survive the sweep.
func (j *ReservationSweepJob) sweepOrder(ctx context.Context, order models.Order) (bool, error) {
	deleted := false
	err := j.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.repo.WithTx(tx)
		current, err := repo.FindByIDForUpdate(ctx, order.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if !current.Status.Payable() {
			return nil
		}
		if err := repo.DeleteCascade(ctx, order.ID); err != nil {
			return err
		}
		deleted = true
		return j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderExpired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: order.UserID},
			Data: map[string]any{
				"order_id":   order.ID.String(),
				"user_id":    order.UserID.String(),
				"expired_at": current.ExpiredAt,
			},
		})
	})
	return deleted, err
}
