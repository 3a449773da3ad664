package paypal

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses returned by the PayPal Orders v2 API.
const (
	OrderStatusCreated   = "CREATED"
	OrderStatusApproved  = "APPROVED"
	OrderStatusCompleted = "COMPLETED"
)

// Webhook event types the platform consumes.
const (
	EventCheckoutOrderApproved   = "CHECKOUT.ORDER.APPROVED"
	EventPaymentCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
)

const captureStatusCompleted = "COMPLETED"

// Money is the PayPal amount representation: a currency code plus a decimal
// string like "12.50".
type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// MoneyFromCents renders a cent amount as PayPal's two-decimal string form.
func MoneyFromCents(cents int64, currency string) Money {
	value := decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
	return Money{
		CurrencyCode: currency,
		Value:        value.StringFixed(2),
	}
}

// Cents parses the decimal value back into cents.
func (m Money) Cents() (int64, error) {
	value, err := decimal.NewFromString(m.Value)
	if err != nil {
		return 0, err
	}
	return value.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), nil
}

// CreateOrderParams carries what the platform needs to open a PayPal order.
// CustomID is our order id and rides through every webhook resource.
type CreateOrderParams struct {
	ReferenceID string
	CustomID    string
	AmountCents int64
	Currency    string
	ReturnURL   string
	CancelURL   string
}

type createOrderRequest struct {
	Intent             string              `json:"intent"`
	PurchaseUnits      []purchaseUnitReq   `json:"purchase_units"`
	ApplicationContext *applicationContext `json:"application_context,omitempty"`
}

type applicationContext struct {
	ReturnURL string `json:"return_url,omitempty"`
	CancelURL string `json:"cancel_url,omitempty"`
}

type purchaseUnitReq struct {
	ReferenceID string `json:"reference_id,omitempty"`
	CustomID    string `json:"custom_id,omitempty"`
	Amount      Money  `json:"amount"`
}

// Order is the subset of the Orders v2 payload the platform reads.
type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Payer         *Payer         `json:"payer,omitempty"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units,omitempty"`
	Links         []Link         `json:"links,omitempty"`
}

// Payer identifies the buyer once they approve the checkout.
type Payer struct {
	PayerID      string `json:"payer_id,omitempty"`
	EmailAddress string `json:"email_address,omitempty"`
}

// PurchaseUnit carries our custom id and, post-capture, the capture list.
type PurchaseUnit struct {
	ReferenceID string    `json:"reference_id,omitempty"`
	CustomID    string    `json:"custom_id,omitempty"`
	Amount      *Money    `json:"amount,omitempty"`
	Payments    *Payments `json:"payments,omitempty"`
}

type Payments struct {
	Captures []Capture `json:"captures,omitempty"`
}

// Capture is a settled payment attached to a purchase unit.
type Capture struct {
	ID                        string               `json:"id"`
	Status                    string               `json:"status"`
	CustomID                  string               `json:"custom_id,omitempty"`
	Amount                    *Money               `json:"amount,omitempty"`
	SellerReceivableBreakdown *ReceivableBreakdown `json:"seller_receivable_breakdown,omitempty"`
	CreateTime                *time.Time           `json:"create_time,omitempty"`
	UpdateTime                *time.Time           `json:"update_time,omitempty"`
}

// ReceivableBreakdown splits a capture into gross, provider fee, and net.
type ReceivableBreakdown struct {
	GrossAmount *Money `json:"gross_amount,omitempty"`
	PayPalFee   *Money `json:"paypal_fee,omitempty"`
	NetAmount   *Money `json:"net_amount,omitempty"`
}

// Completed reports whether the capture settled.
func (c Capture) Completed() bool {
	return c.Status == captureStatusCompleted
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// ApproveLink returns the buyer-facing approval URL, if present.
func (o *Order) ApproveLink() string {
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

// FirstCapture returns the first capture across purchase units.
func (o *Order) FirstCapture() (Capture, bool) {
	for _, pu := range o.PurchaseUnits {
		if pu.Payments == nil {
			continue
		}
		if len(pu.Payments.Captures) > 0 {
			return pu.Payments.Captures[0], true
		}
	}
	return Capture{}, false
}

// CustomID returns the platform order id attached at creation time.
func (o *Order) CustomID() string {
	for _, pu := range o.PurchaseUnits {
		if pu.CustomID != "" {
			return pu.CustomID
		}
	}
	return ""
}

// WebhookEvent is the notification envelope posted to our webhook endpoints.
type WebhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
	CreateTime   time.Time       `json:"create_time"`
}

// CaptureResource is the resource payload of PAYMENT.CAPTURE.COMPLETED.
type CaptureResource struct {
	ID                        string               `json:"id"`
	Status                    string               `json:"status"`
	CustomID                  string               `json:"custom_id,omitempty"`
	Amount                    *Money               `json:"amount,omitempty"`
	SellerReceivableBreakdown *ReceivableBreakdown `json:"seller_receivable_breakdown,omitempty"`
	SupplementaryData         *SupplementaryData   `json:"supplementary_data,omitempty"`
	CreateTime                *time.Time           `json:"create_time,omitempty"`
}

// Final reports whether the capture is settled and will not change again.
func (r CaptureResource) Final() bool {
	return r.Status == captureStatusCompleted
}

type SupplementaryData struct {
	RelatedIDs *RelatedIDs `json:"related_ids,omitempty"`
}

type RelatedIDs struct {
	OrderID string `json:"order_id,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type verifySignatureRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifySignatureResponse struct {
	VerificationStatus string `json:"verification_status"`
}

type apiErrorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}
