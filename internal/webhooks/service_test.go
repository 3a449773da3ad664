package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stagepass/stagepass-backend/internal/orders"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
	"github.com/stagepass/stagepass-backend/pkg/paypal"
)

type fakeOrderEvents struct {
	approvals  []orders.CheckoutApproval
	captures   []orders.CaptureNotice
	approveErr error
	captureErr error
}

func (f *fakeOrderEvents) HandleCheckoutApproved(_ context.Context, approval orders.CheckoutApproval) error {
	f.approvals = append(f.approvals, approval)
	return f.approveErr
}

func (f *fakeOrderEvents) HandlePaymentCaptured(_ context.Context, notice orders.CaptureNotice) error {
	f.captures = append(f.captures, notice)
	return f.captureErr
}

type fakeVerifier struct {
	ok bool
}

func (f *fakeVerifier) VerifyWebhookSignature(context.Context, http.Header, []byte) bool {
	return f.ok
}

type memStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemStore() *memStore {
	return &memStore{keys: map[string]string{}}
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[key]; exists {
		return false, nil
	}
	m.keys[key] = "1"
	return true, nil
}

func (m *memStore) IdempotencyKey(scope, id string) string {
	return "sp:idempotency:" + scope + ":" + id
}

func (m *memStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

func newTestService(t *testing.T, events *fakeOrderEvents, verified bool) *Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "webhooks-test"})
	svc, err := NewService(events, &fakeVerifier{ok: verified}, NewGuard(newMemStore()), logg)
	require.NoError(t, err)
	return svc
}

func checkoutBody(t *testing.T, eventID string, resource paypal.Order) []byte {
	t.Helper()
	raw, err := json.Marshal(resource)
	require.NoError(t, err)
	body, err := json.Marshal(paypal.WebhookEvent{
		ID:        eventID,
		EventType: paypal.EventCheckoutOrderApproved,
		Resource:  raw,
	})
	require.NoError(t, err)
	return body
}

func captureBody(t *testing.T, eventID string, resource paypal.CaptureResource) []byte {
	t.Helper()
	raw, err := json.Marshal(resource)
	require.NoError(t, err)
	body, err := json.Marshal(paypal.WebhookEvent{
		ID:        eventID,
		EventType: paypal.EventPaymentCaptureCompleted,
		Resource:  raw,
	})
	require.NoError(t, err)
	return body
}

func TestHandleCheckout(t *testing.T) {
	t.Parallel()

	events := &fakeOrderEvents{}
	svc := newTestService(t, events, true)

	body := checkoutBody(t, "WH-1", paypal.Order{
		ID:     "PP-77",
		Status: paypal.OrderStatusApproved,
		Payer:  &paypal.Payer{PayerID: "PAYER-9", EmailAddress: "buyer@example.com"},
	})
	require.NoError(t, svc.HandleCheckout(context.Background(), http.Header{}, body))
	require.Len(t, events.approvals, 1)
	require.Equal(t, "PP-77", events.approvals[0].ProviderOrderID)
	require.NotNil(t, events.approvals[0].PayerID)
	require.Equal(t, "PAYER-9", *events.approvals[0].PayerID)

	// Same event id delivered again: deduplicated.
	require.NoError(t, svc.HandleCheckout(context.Background(), http.Header{}, body))
	require.Len(t, events.approvals, 1)
}

func TestHandleCheckoutRejectsBadSignature(t *testing.T) {
	t.Parallel()

	events := &fakeOrderEvents{}
	svc := newTestService(t, events, false)

	body := checkoutBody(t, "WH-1", paypal.Order{ID: "PP-77"})
	err := svc.HandleCheckout(context.Background(), http.Header{}, body)
	require.Error(t, err)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeUnauthorized))
	require.Empty(t, events.approvals, "no state change before verification")
}

func TestHandleCheckoutUnparseablePayload(t *testing.T) {
	t.Parallel()

	events := &fakeOrderEvents{}
	svc := newTestService(t, events, true)

	require.NoError(t, svc.HandleCheckout(context.Background(), http.Header{}, []byte("not json")))
	require.Empty(t, events.approvals)
}

func TestHandleCheckoutSweptOrderAcknowledged(t *testing.T) {
	t.Parallel()

	events := &fakeOrderEvents{
		approveErr: pkgerrors.New(pkgerrors.CodeNotFound, "order not found"),
	}
	svc := newTestService(t, events, true)

	body := checkoutBody(t, "WH-1", paypal.Order{ID: "PP-GONE"})
	require.NoError(t, svc.HandleCheckout(context.Background(), http.Header{}, body))
}

func TestHandleCheckoutFailureReleasesGuard(t *testing.T) {
	t.Parallel()

	events := &fakeOrderEvents{
		approveErr: pkgerrors.New(pkgerrors.CodeDependency, "provider unavailable"),
	}
	svc := newTestService(t, events, true)

	body := checkoutBody(t, "WH-1", paypal.Order{ID: "PP-77"})
	require.Error(t, svc.HandleCheckout(context.Background(), http.Header{}, body))

	// Retry after the failure must reach the handler again.
	events.approveErr = nil
	require.NoError(t, svc.HandleCheckout(context.Background(), http.Header{}, body))
	require.Len(t, events.approvals, 2)
}

func TestHandlePayment(t *testing.T) {
	t.Parallel()

	events := &fakeOrderEvents{}
	svc := newTestService(t, events, true)

	captured := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	body := captureBody(t, "WH-2", paypal.CaptureResource{
		ID:       "CAP-5",
		Status:   "COMPLETED",
		CustomID: "c1f6f9a4-0000-0000-0000-000000000001",
		SupplementaryData: &paypal.SupplementaryData{
			RelatedIDs: &paypal.RelatedIDs{OrderID: "PP-77"},
		},
		CreateTime: &captured,
	})
	require.NoError(t, svc.HandlePayment(context.Background(), http.Header{}, body))
	require.Len(t, events.captures, 1)
	require.Equal(t, "CAP-5", events.captures[0].CaptureID)
	require.Equal(t, "PP-77", events.captures[0].ProviderOrderID)
	require.NotNil(t, events.captures[0].CapturedAt)

	require.NoError(t, svc.HandlePayment(context.Background(), http.Header{}, body))
	require.Len(t, events.captures, 1, "redelivery is deduplicated")
}

func TestHandlePaymentIgnoresNonFinalCapture(t *testing.T) {
	t.Parallel()

	events := &fakeOrderEvents{}
	svc := newTestService(t, events, true)

	body := captureBody(t, "WH-3", paypal.CaptureResource{ID: "CAP-5", Status: "PENDING"})
	require.NoError(t, svc.HandlePayment(context.Background(), http.Header{}, body))
	require.Empty(t, events.captures)
}

func TestHandlePaymentIgnoresWrongEventType(t *testing.T) {
	t.Parallel()

	events := &fakeOrderEvents{}
	svc := newTestService(t, events, true)

	body, err := json.Marshal(paypal.WebhookEvent{
		ID:        "WH-4",
		EventType: "PAYMENT.CAPTURE.DENIED",
		Resource:  json.RawMessage(`{"id":"CAP-6","status":"DENIED"}`),
	})
	require.NoError(t, err)
	require.NoError(t, svc.HandlePayment(context.Background(), http.Header{}, body))
	require.Empty(t, events.captures)
}
