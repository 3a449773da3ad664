package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stagepass/stagepass-backend/internal/orders"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
	"github.com/stagepass/stagepass-backend/pkg/paypal"
)

// OrderEvents is the slice of the order service the webhook layer drives.
type OrderEvents interface {
	HandleCheckoutApproved(ctx context.Context, approval orders.CheckoutApproval) error
	HandlePaymentCaptured(ctx context.Context, notice orders.CaptureNotice) error
}

// SignatureVerifier checks a notification really came from the provider.
type SignatureVerifier interface {
	VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) bool
}

// Service processes PayPal webhook deliveries. Signature verification happens
// before any state change; unverifiable events are rejected outright.
// Payloads that verify but do not parse are acknowledged and dropped, since
// the provider would redeliver the same bytes forever.
type Service struct {
	orders   OrderEvents
	verifier SignatureVerifier
	guard    *Guard
	logg     *logger.Logger
}

func NewService(orderEvents OrderEvents, verifier SignatureVerifier, guard *Guard, logg *logger.Logger) (*Service, error) {
	if orderEvents == nil {
		return nil, fmt.Errorf("order event handler required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("signature verifier required")
	}
	if guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{orders: orderEvents, verifier: verifier, guard: guard, logg: logg}, nil
}

// HandleCheckout processes CHECKOUT.ORDER.APPROVED deliveries.
func (s *Service) HandleCheckout(ctx context.Context, headers http.Header, body []byte) error {
	event, err := s.authenticate(ctx, headers, body)
	if err != nil || event == nil {
		return err
	}
	if event.EventType != paypal.EventCheckoutOrderApproved {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"event_type": event.EventType,
		}), "ignoring unexpected event type on checkout endpoint")
		return nil
	}

	var resource paypal.Order
	if err := json.Unmarshal(event.Resource, &resource); err != nil || resource.ID == "" {
		s.logg.Warn(ctx, "checkout webhook resource did not parse")
		return nil
	}

	first, err := s.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook dedup check")
	}
	if !first {
		return nil
	}

	approval := orders.CheckoutApproval{ProviderOrderID: resource.ID}
	if resource.Payer != nil {
		if resource.Payer.PayerID != "" {
			id := resource.Payer.PayerID
			approval.PayerID = &id
		}
		if resource.Payer.EmailAddress != "" {
			email := resource.Payer.EmailAddress
			approval.PayerEmail = &email
		}
	}

	if err := s.orders.HandleCheckoutApproved(ctx, approval); err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			// The reservation was swept before the buyer approved; retrying
			// will never find it.
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"provider_order_id": resource.ID,
			}), "approval received for a reservation that no longer exists")
			return nil
		}
		if releaseErr := s.guard.Release(ctx, event.ID); releaseErr != nil {
			s.logg.Warn(ctx, "releasing webhook dedup mark failed")
		}
		return err
	}
	return nil
}

// HandlePayment processes PAYMENT.CAPTURE.COMPLETED deliveries. Only final
// completed captures fulfill the order.
func (s *Service) HandlePayment(ctx context.Context, headers http.Header, body []byte) error {
	event, err := s.authenticate(ctx, headers, body)
	if err != nil || event == nil {
		return err
	}
	if event.EventType != paypal.EventPaymentCaptureCompleted {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"event_type": event.EventType,
		}), "ignoring unexpected event type on payment endpoint")
		return nil
	}

	var resource paypal.CaptureResource
	if err := json.Unmarshal(event.Resource, &resource); err != nil || resource.ID == "" {
		s.logg.Warn(ctx, "payment webhook resource did not parse")
		return nil
	}
	if !resource.Final() {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"capture_id": resource.ID,
			"status":     resource.Status,
		}), "ignoring non-final capture")
		return nil
	}

	first, err := s.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook dedup check")
	}
	if !first {
		return nil
	}

	notice := orders.CaptureNotice{
		CaptureID:  resource.ID,
		CustomID:   resource.CustomID,
		CapturedAt: resource.CreateTime,
	}
	if resource.SupplementaryData != nil && resource.SupplementaryData.RelatedIDs != nil {
		notice.ProviderOrderID = resource.SupplementaryData.RelatedIDs.OrderID
	}

	if err := s.orders.HandlePaymentCaptured(ctx, notice); err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"capture_id": resource.ID,
			}), "capture received for an order that no longer exists")
			return nil
		}
		if releaseErr := s.guard.Release(ctx, event.ID); releaseErr != nil {
			s.logg.Warn(ctx, "releasing webhook dedup mark failed")
		}
		return err
	}
	return nil
}

// authenticate verifies the signature and parses the envelope. A nil event
// with nil error means the delivery should be acknowledged and dropped.
func (s *Service) authenticate(ctx context.Context, headers http.Header, body []byte) (*paypal.WebhookEvent, error) {
	if !s.verifier.VerifyWebhookSignature(ctx, headers, body) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature verification failed")
	}
	var event paypal.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil || event.ID == "" {
		s.logg.Warn(ctx, "webhook payload did not parse")
		return nil, nil
	}
	return &event, nil
}
