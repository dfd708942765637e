// Package cardgateway adapts a hosted-checkout card gateway to the
// session/webhook contract used by checkout.
package cardgateway

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

var (
	ErrUnavailable      = errors.New("card gateway unavailable")
	ErrSessionRejected  = errors.New("card gateway rejected the session")
	ErrInvalidSignature = errors.New("invalid card gateway signature")
)

// Session is a hosted checkout page created for one order.
type Session struct {
	ID  string
	URL string
}

type Client struct {
	cfg    config.CardConfig
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewClient creates a gateway client. hc may be nil.
func NewClient(cfg config.CardConfig, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: 15 * time.Second,
			},
			Timeout: 20 * time.Second,
		}
	}
	return &Client{
		cfg:    cfg,
		http:   hc,
		logger: util.GetLogger().With(zap.String("component", "cardgateway")),
		now:    time.Now,
	}
}

// Ready reports whether the gateway is configured.
func (c *Client) Ready() bool {
	return c.cfg.Ready()
}

type sessionRequest struct {
	ClientReferenceID string `json:"client_reference_id"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	SuccessURL        string `json:"success_url"`
	CancelURL         string `json:"cancel_url"`
	Mode              string `json:"mode"`
}

type sessionObject struct {
	ID                string `json:"id"`
	URL               string `json:"url"`
	ClientReferenceID string `json:"client_reference_id"`
	Status            string `json:"status"`
	PaymentStatus     string `json:"payment_status"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateSession opens a hosted checkout session for the order.
func (c *Client) CreateSession(ctx context.Context, order *models.Order, successURL, cancelURL string) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "CardGateway.CreateSession",
		attribute.String("order_number", order.Number))
	defer span.End()

	body, err := json.Marshal(sessionRequest{
		ClientReferenceID: order.Number,
		Amount:            order.Total.Int64(),
		Currency:          strings.ToLower(order.Currency),
		SuccessURL:        successURL,
		CancelURL:         cancelURL,
		Mode:              "payment",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	status, raw, err := c.do(ctx, "create_session", http.MethodPost, "/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}
	if status >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: http %d", ErrUnavailable, status)
	}
	if status >= http.StatusBadRequest {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		err := fmt.Errorf("%w: %s (code=%s)", ErrSessionRejected,
			util.Redact(eb.Error.Message, c.cfg.SecretKey), eb.Error.Code)
		util.SpanError(span, err)
		return nil, err
	}

	var obj sessionObject
	if err := json.Unmarshal(raw, &obj); err != nil || obj.ID == "" || obj.URL == "" {
		return nil, fmt.Errorf("%w: malformed session response", ErrSessionRejected)
	}
	return &Session{ID: obj.ID, URL: obj.URL}, nil
}

// SessionStatus queries the authoritative payment outcome of a session.
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (models.PaymentOutcome, error) {
	ctx, span := util.StartSpan(ctx, "CardGateway.SessionStatus")
	defer span.End()

	status, raw, err := c.do(ctx, "session_status", http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		util.SpanError(span, err)
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w: session status http %d", ErrUnavailable, status)
	}

	var obj sessionObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("%w: decode session: %v", ErrUnavailable, err)
	}
	return sessionOutcome(obj.Status, obj.PaymentStatus), nil
}

func sessionOutcome(status, paymentStatus string) models.PaymentOutcome {
	switch {
	case strings.EqualFold(paymentStatus, "paid"):
		return models.PaymentSuccess
	case strings.EqualFold(status, "expired"):
		return models.PaymentExpired
	case strings.EqualFold(status, "failed"), strings.EqualFold(status, "canceled"),
		strings.EqualFold(paymentStatus, "failed"):
		return models.PaymentFailed
	}
	return models.PaymentPending
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.APIURL, "/")+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("new %s request: %w", endpoint, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		util.CardGatewayRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		c.logger.Warn("Card gateway request failed",
			zap.String("request_id", requestID),
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	util.CardGatewayRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(res.StatusCode)).Inc()
	c.logger.Debug("Card gateway request",
		zap.String("request_id", requestID),
		zap.String("endpoint", endpoint),
		zap.Int("status", res.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	return res.StatusCode, raw, nil
}
