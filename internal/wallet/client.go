package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sugu-checkout/config"
	"sugu-checkout/internal/models"
	"sugu-checkout/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	connectTimeout = 5 * time.Second
	readTimeout    = 15 * time.Second
	maxBodySnippet = 512

	// devCurrency is the only currency the provider sandbox accepts.
	devCurrency = "OUV"
)

// Client talks to the Orange Money web payment API.
type Client struct {
	cfg    config.WalletConfig
	http   *http.Client
	tokens *tokenCache
	logger *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock replaces the clock used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.tokens.now = now }
}

// WithRetryDelay replaces the token retry back-off.
func WithRetryDelay(d func() time.Duration) Option {
	return func(c *Client) { c.tokens.retryDelay = d }
}

// NewClient creates a wallet client with the documented connect and read timeouts.
func NewClient(cfg config.WalletConfig, opts ...Option) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Transport: transport, Timeout: connectTimeout + readTimeout},
		logger: util.GetLogger().With(zap.String("component", "wallet")),
	}
	c.tokens = newTokenCache(c.fetchToken)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ready reports whether credentials are present and the wallet is enabled.
func (c *Client) Ready() bool {
	return c.cfg.Ready()
}

// InitiationRequest describes one web payment.
type InitiationRequest struct {
	Amount      models.Money
	Currency    string
	OrderNumber string
	Reference   string
	ReturnURL   string
	CancelURL   string
	NotifURL    string
	Lang        string
}

// Initiation is the provider's answer to a successful payment initiation.
type Initiation struct {
	PayToken   string
	PaymentURL string
	NotifToken string
}

type tokenResponse struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	ExpiresIn   flexInt `json:"expires_in"`
}

type webPaymentRequest struct {
	MerchantKey string `json:"merchant_key"`
	Currency    string `json:"currency"`
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	ReturnURL   string `json:"return_url"`
	CancelURL   string `json:"cancel_url"`
	NotifURL    string `json:"notif_url"`
	Lang        string `json:"lang"`
	Reference   string `json:"reference"`
}

type webPaymentResponse struct {
	Status      flexString `json:"status"`
	Message     string     `json:"message"`
	PayToken    string     `json:"pay_token"`
	PaymentURL  string     `json:"payment_url"`
	NotifToken  string     `json:"notif_token"`
	Code        flexString `json:"code"`
	Description string     `json:"description"`
}

type statusResponse struct {
	Status flexString `json:"status"`
}

// Initiate submits a web payment and returns the hosted payment URL.
func (c *Client) Initiate(ctx context.Context, req InitiationRequest) (*Initiation, error) {
	ctx, span := util.StartSpan(ctx, "WalletClient.Initiate",
		attribute.String("order_number", req.OrderNumber))
	defer span.End()

	token, err := c.tokens.Get(ctx)
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}

	lang := req.Lang
	if lang == "" {
		lang = c.cfg.Lang
	}
	body, err := json.Marshal(webPaymentRequest{
		MerchantKey: c.cfg.MerchantKey,
		Currency:    c.currency(req.Currency),
		OrderID:     req.OrderNumber,
		Amount:      req.Amount.Int64(),
		ReturnURL:   req.ReturnURL,
		CancelURL:   req.CancelURL,
		NotifURL:    req.NotifURL,
		Lang:        lang,
		Reference:   req.Reference,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal web payment: %w", err)
	}

	status, raw, err := c.do(ctx, "webpayment", http.MethodPost, c.cfg.WebPaymentURL, bytes.NewReader(body), "application/json", "Bearer "+token)
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.tokens.Invalidate(token)
		return nil, fmt.Errorf("%w: access token rejected", ErrUnavailable)
	}
	if status >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: webpayment http %d", ErrUnavailable, status)
	}

	// Error bodies are not always JSON; errorText falls back to the raw body.
	var resp webPaymentResponse
	_ = json.Unmarshal(raw, &resp)

	refused := status >= http.StatusBadRequest || !resp.created()
	if refused || resp.PaymentURL == "" || strings.TrimSpace(resp.NotifToken) == "" {
		msg := c.redact(resp.errorText(raw))
		if !refused {
			// Without notif_token no notification for this payment could be authenticated.
			msg = "incomplete response: payment_url or notif_token missing"
		}
		ierr := &InitiationError{
			HTTPStatus: status,
			Code:       string(resp.Code),
			Message:    msg,
		}
		c.logger.Warn("Wallet initiation refused",
			zap.String("order_number", req.OrderNumber),
			zap.Int("http_status", status),
			zap.String("provider_code", ierr.Code),
			zap.String("provider_message", ierr.Message))
		util.SpanError(span, ierr)
		return nil, ierr
	}

	return &Initiation{
		PayToken:   resp.PayToken,
		PaymentURL: resp.PaymentURL,
		NotifToken: resp.NotifToken,
	}, nil
}

// Status queries the authoritative status of a payment.
func (c *Client) Status(ctx context.Context, payToken string) (models.PaymentOutcome, error) {
	ctx, span := util.StartSpan(ctx, "WalletClient.Status")
	defer span.End()

	token, err := c.tokens.Get(ctx)
	if err != nil {
		util.SpanError(span, err)
		return "", err
	}

	u, err := url.Parse(c.cfg.StatusURL)
	if err != nil {
		return "", fmt.Errorf("parse status url: %w", err)
	}
	q := u.Query()
	q.Set("pay_token", payToken)
	u.RawQuery = q.Encode()

	status, raw, err := c.do(ctx, "status", http.MethodGet, u.String(), nil, "", "Bearer "+token)
	if err != nil {
		util.SpanError(span, err)
		return "", err
	}
	if status == http.StatusUnauthorized {
		c.tokens.Invalidate(token)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("%w: status http %d", ErrUnavailable, status)
	}

	var resp statusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: decode status response: %v", ErrUnavailable, err)
	}
	outcome, err := parseOutcome(string(resp.Status))
	if err != nil {
		util.SpanError(span, err)
		return "", err
	}
	return outcome, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("new token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	status, raw, err := c.send(req, "token")
	if err != nil {
		return "", 0, err
	}
	if status != http.StatusOK {
		return "", 0, fmt.Errorf("%w: token http %d: %s", ErrUnavailable, status, c.redact(snippet(raw)))
	}

	var resp tokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", 0, fmt.Errorf("%w: decode token response: %v", ErrUnavailable, err)
	}
	if resp.AccessToken == "" || resp.ExpiresIn <= 0 {
		return "", 0, fmt.Errorf("%w: token response without access_token or expires_in", ErrUnavailable)
	}
	return resp.AccessToken, time.Duration(resp.ExpiresIn) * time.Second, nil
}

func (c *Client) do(ctx context.Context, endpoint, method, reqURL string, body io.Reader, contentType, auth string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("new %s request: %w", endpoint, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", auth)
	return c.send(req, endpoint)
}

func (c *Client) send(req *http.Request, endpoint string) (int, []byte, error) {
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		util.WalletRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		c.logger.Warn("Wallet request failed",
			zap.String("request_id", requestID),
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return 0, nil, fmt.Errorf("%w: %s request: %v", ErrUnavailable, endpoint, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	statusLabel := strconv.Itoa(res.StatusCode)
	duration := time.Since(start)
	util.WalletRequestsTotal.WithLabelValues(endpoint, statusLabel).Inc()
	util.WalletRequestLatency.WithLabelValues(endpoint, statusLabel).Observe(duration.Seconds())

	c.logger.Info("Wallet request",
		zap.String("request_id", requestID),
		zap.String("endpoint", endpoint),
		zap.Int("status", res.StatusCode),
		zap.Duration("duration", duration))

	if err != nil {
		return 0, nil, fmt.Errorf("%w: read %s response: %v", ErrUnavailable, endpoint, err)
	}
	return res.StatusCode, raw, nil
}

func (c *Client) currency(requested string) string {
	if c.cfg.Environment == "dev" {
		return devCurrency
	}
	return requested
}

func (c *Client) redact(s string) string {
	return util.Redact(s, c.cfg.MerchantKey, c.cfg.ClientSecret, c.cfg.ClientID)
}

func (r *webPaymentResponse) created() bool {
	s := strings.TrimSpace(string(r.Status))
	return strings.EqualFold(s, "CREATED") || s == "201"
}

func (r *webPaymentResponse) errorText(raw []byte) string {
	for _, s := range []string{r.Description, r.Message} {
		if strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	if s := string(r.Status); s != "" {
		return "unexpected status " + s
	}
	return snippet(raw)
}

func parseOutcome(s string) (models.PaymentOutcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING", "INITIATED":
		return models.PaymentPending, nil
	case "SUCCESS", "SUCCESSFULL", "SUCCESSFUL":
		return models.PaymentSuccess, nil
	case "FAILED":
		return models.PaymentFailed, nil
	case "EXPIRED":
		return models.PaymentExpired, nil
	}
	return "", fmt.Errorf("%w: unknown payment status %q", ErrUnavailable, s)
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > maxBodySnippet {
		s = s[:maxBodySnippet]
	}
	return s
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return errors.New("expires_in is not an integer")
	}
	*f = flexInt(n)
	return nil
}
