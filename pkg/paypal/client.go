package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/stagepass/stagepass-backend/pkg/config"
	pkgerrors "github.com/stagepass/stagepass-backend/pkg/errors"
	"github.com/stagepass/stagepass-backend/pkg/logger"
)

// Webhook signature headers sent with every notification.
const (
	HeaderTransmissionID   = "Paypal-Transmission-Id"
	HeaderTransmissionSig  = "Paypal-Transmission-Sig"
	HeaderTransmissionTime = "Paypal-Transmission-Time"
	HeaderCertURL          = "Paypal-Cert-Url"
	HeaderAuthAlgo         = "Paypal-Auth-Algo"
)

var (
	errCredentialsRequired = errors.New("paypal client id and secret are required")
	errWebhookIDRequired   = errors.New("paypal webhook id is required")
	errBaseURLRequired     = errors.New("paypal base url is required")
	errLoggerRequired      = errors.New("paypal logger is required")
)

// tokens are refreshed this long before their reported expiry.
const tokenExpirySlack = 60 * time.Second

// Client exposes PayPal Orders v2 primitives with centralized auth, logging,
// and error mapping.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
	webhookID  string
	logger     *logger.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient initializes the PayPal wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.PayPalConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || secret == "" {
		return nil, errCredentialsRequired
	}
	webhookID := strings.TrimSpace(cfg.WebhookID)
	if webhookID == "" {
		return nil, errWebhookIDRequired
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		clientID:   clientID,
		secret:     secret,
		webhookID:  webhookID,
		logger:     logg,
	}

	logg.Info(ctx, "paypal client initialized")
	return c, nil
}

// WebhookID returns the configured webhook id.
func (c *Client) WebhookID() string {
	if c == nil {
		return ""
	}
	return c.webhookID
}

// CreateOrder opens a CAPTURE-intent order carrying our order id as custom_id.
func (c *Client) CreateOrder(ctx context.Context, params CreateOrderParams) (*Order, error) {
	req := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnitReq{{
			ReferenceID: params.ReferenceID,
			CustomID:    params.CustomID,
			Amount:      MoneyFromCents(params.AmountCents, params.Currency),
		}},
	}
	if params.ReturnURL != "" || params.CancelURL != "" {
		req.ApplicationContext = &applicationContext{
			ReturnURL: params.ReturnURL,
			CancelURL: params.CancelURL,
		}
	}
	c.log(ctx, "request", "create_order", map[string]any{
		"custom_id": params.CustomID,
		"amount":    params.AmountCents,
		"currency":  params.Currency,
	})

	var order Order
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", req, &order); err != nil {
		c.log(ctx, "error", "create_order", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "create_order", map[string]any{
		"paypal_order_id": order.ID,
		"status":          order.Status,
	})
	return &order, nil
}

// CaptureOrder settles an approved order.
func (c *Client) CaptureOrder(ctx context.Context, paypalOrderID string) (*Order, error) {
	if strings.TrimSpace(paypalOrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paypal order id is required")
	}
	c.log(ctx, "request", "capture_order", map[string]any{"paypal_order_id": paypalOrderID})

	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", url.PathEscape(paypalOrderID))
	var order Order
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &order); err != nil {
		c.log(ctx, "error", "capture_order", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "capture_order", map[string]any{
		"paypal_order_id": order.ID,
		"status":          order.Status,
	})
	return &order, nil
}

// GetOrder fetches the current provider-side state of an order.
func (c *Client) GetOrder(ctx context.Context, paypalOrderID string) (*Order, error) {
	if strings.TrimSpace(paypalOrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paypal order id is required")
	}

	path := fmt.Sprintf("/v2/checkout/orders/%s", url.PathEscape(paypalOrderID))
	var order Order
	if err := c.do(ctx, http.MethodGet, path, nil, &order); err != nil {
		c.log(ctx, "error", "get_order", map[string]any{"error": err.Error()})
		return nil, err
	}
	return &order, nil
}

// VerifyWebhookSignature checks the notification signature against PayPal.
// It returns false on any failure; callers treat an unverifiable event as
// untrusted rather than retryable.
func (c *Client) VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) bool {
	req := verifySignatureRequest{
		AuthAlgo:         headers.Get(HeaderAuthAlgo),
		CertURL:          headers.Get(HeaderCertURL),
		TransmissionID:   headers.Get(HeaderTransmissionID),
		TransmissionSig:  headers.Get(HeaderTransmissionSig),
		TransmissionTime: headers.Get(HeaderTransmissionTime),
		WebhookID:        c.webhookID,
		WebhookEvent:     json.RawMessage(body),
	}
	if req.TransmissionID == "" || req.TransmissionSig == "" {
		return false
	}

	var resp verifySignatureResponse
	if err := c.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", req, &resp); err != nil {
		c.log(ctx, "error", "verify_webhook_signature", map[string]any{"error": err.Error()})
		return false
	}
	return resp.VerificationStatus == "SUCCESS"
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding paypal request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building paypal request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "paypal request failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading paypal response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.mapAPIError(resp.StatusCode, payload)
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding paypal response")
		}
	}
	return nil
}

// token returns a cached OAuth token, minting a fresh one when it is missing
// or within the expiry slack.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenExpirySlack)) {
		return c.accessToken, nil
	}

	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", form)
	if err != nil {
		return "", fmt.Errorf("building paypal token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "paypal token request failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading paypal token response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.mapAPIError(resp.StatusCode, payload)
	}

	var token tokenResponse
	if err := json.Unmarshal(payload, &token); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding paypal token response")
	}
	if token.AccessToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "paypal returned empty access token")
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func (c *Client) mapAPIError(status int, payload []byte) error {
	var body apiErrorBody
	_ = json.Unmarshal(payload, &body)

	message := body.Message
	if message == "" {
		message = fmt.Sprintf("paypal request failed with status %d", status)
	}
	details := map[string]any{"provider_status": status}
	if body.Name != "" {
		details["provider_error"] = body.Name
	}
	if len(body.Details) > 0 {
		details["issue"] = body.Details[0].Issue
	}

	return pkgerrors.New(domainCodeForStatus(status), message).WithDetails(details)
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.CodeDependency
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	case status == http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case status >= 400 && status < 500:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}

func (c *Client) log(ctx context.Context, stage, operation string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	merged := map[string]any{"provider": "paypal", "operation": operation, "stage": stage}
	for k, v := range fields {
		merged[k] = v
	}
	logCtx := c.logger.WithFields(ctx, merged)
	c.logger.Info(logCtx, "paypal "+operation+" "+stage)
}
