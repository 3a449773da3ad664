package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	internalorders "github.com/stagepass/stagepass-backend/internal/orders"
	internalvouchers "github.com/stagepass/stagepass-backend/internal/vouchers"
	internalwebhooks "github.com/stagepass/stagepass-backend/internal/webhooks"
	pkgauth "github.com/stagepass/stagepass-backend/pkg/auth"
	"github.com/stagepass/stagepass-backend/pkg/config"
	"github.com/stagepass/stagepass-backend/pkg/db/models"
	"github.com/stagepass/stagepass-backend/pkg/enums"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
)

type stubOrdersService struct {
	lastUserID uuid.UUID
}

func (s *stubOrdersService) CreateReservation(_ context.Context, userID uuid.UUID, _ internalorders.ReservationInput) (*models.Order, error) {
	s.lastUserID = userID
	return &models.Order{ID: uuid.New(), UserID: userID, Status: enums.OrderStatusWaitingForPayment, Currency: enums.CurrencyUSD}, nil
}

func (s *stubOrdersService) CancelReservation(_ context.Context, userID uuid.UUID) (bool, error) {
	s.lastUserID = userID
	return true, nil
}

func (s *stubOrdersService) GetOrder(_ context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	s.lastUserID = userID
	return &models.Order{ID: orderID, UserID: userID, Status: enums.OrderStatusWaitingForPayment, Currency: enums.CurrencyUSD}, nil
}

func (s *stubOrdersService) ListPayments(context.Context, uuid.UUID, uuid.UUID) ([]models.Payment, error) {
	return []models.Payment{}, nil
}

func (s *stubOrdersService) CreatePayment(_ context.Context, userID uuid.UUID, input internalorders.PaymentInput) (*internalorders.PaymentIntent, error) {
	s.lastUserID = userID
	return &internalorders.PaymentIntent{OrderID: input.OrderID, ProviderOrderID: "PP-1", Currency: enums.CurrencyUSD}, nil
}

func (s *stubOrdersService) ApplyVoucher(_ context.Context, userID, orderID uuid.UUID, _ string) (*models.Order, error) {
	return &models.Order{ID: orderID, UserID: userID}, nil
}

func (s *stubOrdersService) RemoveVoucher(_ context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: orderID, UserID: userID}, nil
}

func (s *stubOrdersService) HandleCheckoutApproved(context.Context, internalorders.CheckoutApproval) error {
	return nil
}

func (s *stubOrdersService) HandlePaymentCaptured(context.Context, internalorders.CaptureNotice) error {
	return nil
}

func (s *stubOrdersService) Fulfill(context.Context, uuid.UUID) error { return nil }

type stubVouchersService struct{}

func (stubVouchersService) Create(_ context.Context, input internalvouchers.CreateInput) (*models.Voucher, error) {
	return &models.Voucher{ID: uuid.New(), EventID: input.EventID, Code: input.Code}, nil
}

func (stubVouchersService) Get(_ context.Context, id, eventID uuid.UUID) (*models.Voucher, error) {
	return &models.Voucher{ID: id, EventID: eventID}, nil
}

func (stubVouchersService) ListByEvent(context.Context, uuid.UUID, bool) ([]models.Voucher, error) {
	return []models.Voucher{}, nil
}

func (stubVouchersService) Update(_ context.Context, id, eventID uuid.UUID, _ internalvouchers.UpdateInput) (*models.Voucher, error) {
	return &models.Voucher{ID: id, EventID: eventID}, nil
}

func (stubVouchersService) Delete(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (stubVouchersService) UsageFor(_ context.Context, id, _ uuid.UUID) (*internalvouchers.Usage, error) {
	return &internalvouchers.Usage{VoucherID: id}, nil
}

func (stubVouchersService) Redeem(context.Context, *gorm.DB, string, internalvouchers.EligibilityInput) (*internalvouchers.Redemption, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
}

type stubOrderEvents struct{}

func (stubOrderEvents) HandleCheckoutApproved(context.Context, internalorders.CheckoutApproval) error {
	return nil
}

func (stubOrderEvents) HandlePaymentCaptured(context.Context, internalorders.CaptureNotice) error {
	return nil
}

type stubVerifier struct{ ok bool }

func (s stubVerifier) VerifyWebhookSignature(context.Context, http.Header, []byte) bool {
	return s.ok
}

type memIdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memIdempotencyStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memIdempotencyStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[key]; exists {
		return false, nil
	}
	m.keys[key] = "1"
	return true, nil
}

func (m *memIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "sp:idempotency:" + scope + ":" + id
}

func (m *memIdempotencyStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

func routerTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.JWT = config.JWTConfig{
		Secret:            "router-test-secret",
		Issuer:            "stagepass-test",
		ExpirationMinutes: 15,
	}
	return cfg
}

func newTestRouter(t *testing.T, verified bool) (http.Handler, *config.Config) {
	t.Helper()
	cfg := routerTestConfig()
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})

	guard := internalwebhooks.NewGuard(&memIdempotencyStore{keys: map[string]string{}})
	webhooksSvc, err := internalwebhooks.NewService(stubOrderEvents{}, stubVerifier{ok: verified}, guard, logg)
	require.NoError(t, err)

	return NewRouter(cfg, logg, stubPinger{}, stubPinger{}, &stubOrdersService{}, stubVouchersService{}, webhooksSvc), cfg
}

func bearerToken(t *testing.T, cfg *config.Config, permissions ...string) string {
	t.Helper()
	token, err := pkgauth.MintAccessToken(cfg.JWT, time.Now(), pkgauth.AccessTokenPayload{
		UserID:      uuid.New(),
		Permissions: permissions,
	})
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRouterHealth(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, true)

	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouterOrdersRequireAuth(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterOrdersRequireCreatePermission(t *testing.T) {
	t.Parallel()

	router, cfg := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodGet, "/orders/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", bearerToken(t, cfg, pkgauth.PermReadVouchers))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouterOrderDetail(t *testing.T) {
	t.Parallel()

	router, cfg := newTestRouter(t, true)
	orderID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/orders/"+orderID.String(), nil)
	req.Header.Set("Authorization", bearerToken(t, cfg, pkgauth.PermCreateOrders))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data internalorders.OrderView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	require.Equal(t, orderID, envelope.Data.ID)
}

func TestRouterCreateReservation(t *testing.T) {
	t.Parallel()

	router, cfg := newTestRouter(t, true)

	body := `{"items":[{"ticket_id":"` + uuid.NewString() + `","quantity":2}]}`
	req := httptest.NewRequest(http.MethodPost, "/orders/reservation", strings.NewReader(body))
	req.Header.Set("Authorization", bearerToken(t, cfg, pkgauth.PermCreateOrders))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestRouterPublicVoucherListIsOpen(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vouchers/event/"+uuid.NewString()+"/public", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterVoucherPermissions(t *testing.T) {
	t.Parallel()

	router, cfg := newTestRouter(t, true)
	eventID := uuid.NewString()
	voucherID := uuid.NewString()

	t.Run("read denied without permission", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/vouchers/event/"+eventID, nil)
		req.Header.Set("Authorization", bearerToken(t, cfg, pkgauth.PermCreateOrders))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("read allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/vouchers/event/"+eventID, nil)
		req.Header.Set("Authorization", bearerToken(t, cfg, pkgauth.PermReadVouchers))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("delete requires manage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/vouchers/"+voucherID+"/event/"+eventID, nil)
		req.Header.Set("Authorization", bearerToken(t, cfg, pkgauth.PermReadVouchers))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("delete allowed with manage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/vouchers/"+voucherID+"/event/"+eventID, nil)
		req.Header.Set("Authorization", bearerToken(t, cfg, pkgauth.PermManageVouchers))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRouterWebhookBadSignature(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, false)

	req := httptest.NewRequest(http.MethodPost, "/orders/paypal/webhook/checkout", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterWebhookUnparseableBodyAcknowledged(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodPost, "/orders/paypal/webhook/payment", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
