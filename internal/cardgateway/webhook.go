package cardgateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sugu-checkout/internal/models"
)

const signatureTolerance = 5 * time.Minute

// WebhookEvent is the verified content of a gateway webhook.
type WebhookEvent struct {
	ID        string
	Type      string
	OrderRef  string
	SessionID string
	Outcome   models.PaymentOutcome
}

type webhookBody struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object sessionObject `json:"object"`
	} `json:"data"`
}

// Sign computes the signature header for body at ts.
func Sign(secret string, ts time.Time, body []byte) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + unix + ",v1=" + computeSignature(secret, unix, body)
}

func computeSignature(secret, unix string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unix))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks the signature header and decodes the event.
func (c *Client) VerifyWebhook(raw []byte, header string) (*WebhookEvent, error) {
	var unix string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			unix = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if unix == "" || len(sigs) == 0 {
		return nil, fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}

	ts, err := strconv.ParseInt(unix, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	age := c.now().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := []byte(computeSignature(c.cfg.WebhookSecret, unix, raw))
	valid := false
	for _, sig := range sigs {
		if hmac.Equal(expected, []byte(sig)) {
			valid = true
		}
	}
	if !valid {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}

	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	obj := body.Data.Object
	return &WebhookEvent{
		ID:        body.ID,
		Type:      body.Type,
		OrderRef:  obj.ClientReferenceID,
		SessionID: obj.ID,
		Outcome:   sessionOutcome(obj.Status, obj.PaymentStatus),
	}, nil
}
