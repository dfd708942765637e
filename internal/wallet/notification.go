package wallet

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Notification is the body the provider posts to the notif_url.
type Notification struct {
	Status     string `json:"status"`
	NotifToken string `json:"notif_token"`
	TxnID      string `json:"txnid"`
	OrderID    string `json:"order_id"`
}

// ParseNotification decodes a webhook body.
func ParseNotification(raw []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decode wallet notification: %w", err)
	}
	n.Status = strings.ToUpper(strings.TrimSpace(n.Status))
	return &n, nil
}

// VerifyNotifToken compares the token echoed by the provider with the one
// issued at initiation in constant time.
func VerifyNotifToken(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// PayloadHash fingerprints a raw callback body.
func PayloadHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
