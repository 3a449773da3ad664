package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass-backend/internal/orders"
	"github.com/stagepass/stagepass-backend/pkg/config"
	dbpkg "github.com/stagepass/stagepass-backend/pkg/db"
	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	"github.com/stagepass/stagepass-backend/pkg/logger"
	"github.com/stagepass/stagepass-backend/pkg/metrics"
	"github.com/stagepass/stagepass-backend/pkg/outbox"
)

type memLocker struct {
	mu     sync.Mutex
	keys   map[string]bool
	frozen bool
}

func newMemLocker() *memLocker {
	return &memLocker{keys: map[string]bool{}}
}

func (m *memLocker) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen || m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memLocker) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

func (m *memLocker) LockKey(name string) string {
	return "sp:lock:" + name
}

type countingJob struct {
	mu   sync.Mutex
	runs int
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs++
	return nil
}

func (j *countingJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

func newSweeperDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:sweeper_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.Show{}, &models.Ticket{}, &models.Order{}, &models.TicketItem{},
		&models.TicketItemTrace{}, &models.OutboxEvent{},
	))
	return conn
}

func seedOrder(t *testing.T, db *gorm.DB, status enums.OrderStatus, expiredAt time.Time) models.Order {
	t.Helper()
	order := models.Order{
		UserID:        uuid.New(),
		Status:        status,
		Currency:      enums.CurrencyUSD,
		SubtotalCents: 2500,
		TotalCents:    2500,
		ExpiredAt:     &expiredAt,
	}
	require.NoError(t, db.Create(&order).Error)

	item := models.TicketItem{OrderID: order.ID, TicketID: uuid.New(), Quantity: 1, UnitPriceCents: 2500}
	require.NoError(t, db.Create(&item).Error)
	trace := models.TicketItemTrace{TicketItemID: item.ID, Status: string(status)}
	require.NoError(t, db.Create(&trace).Error)
	return order
}

func TestReservationSweepJob(t *testing.T) {
	t.Parallel()

	db := newSweeperDB(t)
	logg := logger.New(logger.Options{ServiceName: "sweeper-test"})
	client := dbpkg.FromConn(db)
	job, err := NewReservationSweepJob(
		orders.NewRepository(db), client,
		outbox.NewService(outbox.NewRepository(db), logg),
		metrics.NewJobMetrics(nil), logg,
	)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	expiredWaiting := seedOrder(t, db, enums.OrderStatusWaitingForPayment, past)
	expiredPending := seedOrder(t, db, enums.OrderStatusPending, past)
	liveWaiting := seedOrder(t, db, enums.OrderStatusWaitingForPayment, future)
	lapsedApproved := seedOrder(t, db, enums.OrderStatusApproved, past)

	require.NoError(t, job.Run(context.Background()))

	var remaining []models.Order
	require.NoError(t, db.Find(&remaining).Error)
	ids := map[uuid.UUID]bool{}
	for _, order := range remaining {
		ids[order.ID] = true
	}
	require.False(t, ids[expiredWaiting.ID], "expired unpaid holds are removed")
	require.False(t, ids[expiredPending.ID])
	require.True(t, ids[liveWaiting.ID], "live holds survive")
	require.True(t, ids[lapsedApproved.ID], "approved orders are never swept")

	var items int64
	require.NoError(t, db.Model(&models.TicketItem{}).
		Where("order_id IN ?", []uuid.UUID{expiredWaiting.ID, expiredPending.ID}).
		Count(&items).Error)
	require.Zero(t, items, "items go with their order")

	var events int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventOrderExpired).Count(&events).Error)
	require.Equal(t, int64(2), events)

	// A second sweep finds nothing and emits nothing new.
	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventOrderExpired).Count(&events).Error)
	require.Equal(t, int64(2), events)
}

// fulfillAfterListRepo flips every listed order to FULFILLED before handing
// the stale rows back, standing in for a capture that commits between the
// sweep's listing query and its delete transaction.
type fulfillAfterListRepo struct {
	orders.Repository
	db *gorm.DB
}

func (r *fulfillAfterListRepo) ListExpired(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	rows, err := r.Repository.ListExpired(ctx, before, limit)
	if err != nil {
		return rows, err
	}
	for _, row := range rows {
		if err := r.db.Model(&models.Order{}).
			Where("id = ?", row.ID).
			Update("status", enums.OrderStatusFulfilled).Error; err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func TestReservationSweepSkipsConcurrentlyFulfilledOrder(t *testing.T) {
	t.Parallel()

	db := newSweeperDB(t)
	logg := logger.New(logger.Options{ServiceName: "sweeper-test"})
	client := dbpkg.FromConn(db)
	repo := &fulfillAfterListRepo{Repository: orders.NewRepository(db), db: db}
	job, err := NewReservationSweepJob(repo, client,
		outbox.NewService(outbox.NewRepository(db), logg),
		metrics.NewJobMetrics(nil), logg,
	)
	require.NoError(t, err)

	order := seedOrder(t, db, enums.OrderStatusPending, time.Now().Add(-time.Hour))

	require.NoError(t, job.Run(context.Background()))

	var kept models.Order
	require.NoError(t, db.First(&kept, "id = ?", order.ID).Error, "fulfilled order survives the sweep")
	require.Equal(t, enums.OrderStatusFulfilled, kept.Status)

	var items int64
	require.NoError(t, db.Model(&models.TicketItem{}).
		Where("order_id = ?", order.ID).Count(&items).Error)
	require.Equal(t, int64(1), items, "items stay with the surviving order")

	var events int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventOrderExpired).Count(&events).Error)
	require.Zero(t, events, "no expiry event for an order that was not swept")
}

func TestServiceTick(t *testing.T) {
	t.Parallel()

	logg := logger.New(logger.Options{ServiceName: "sweeper-test"})
	job := &countingJob{}
	locker := newMemLocker()
	svc, err := NewService(config.SweeperConfig{Interval: time.Minute, LockTTL: time.Minute},
		locker, metrics.NewJobMetrics(nil), logg, job)
	require.NoError(t, err)

	svc.Tick(context.Background())
	require.Equal(t, 1, job.count())

	// Lock released after the tick, so the next tick runs again.
	svc.Tick(context.Background())
	require.Equal(t, 2, job.count())

	// Another replica holding the lock blocks the tick entirely.
	locker.frozen = true
	svc.Tick(context.Background())
	require.Equal(t, 2, job.count())
}

func TestHeartbeatJobRateLimited(t *testing.T) {
	t.Parallel()

	logg := logger.New(logger.Options{ServiceName: "sweeper-test"})
	job := NewHeartbeatJob(time.Hour, logg)

	require.NoError(t, job.Run(context.Background()))
	first := job.lastBeat
	require.False(t, first.IsZero())

	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, first, job.lastBeat, "second run within the interval does not beat")
}
