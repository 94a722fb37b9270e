package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// WebhookVerifier checks gateway callbacks signed with a shared secret. The
// signature is the hex HMAC-SHA256 of transaction_id, status and message,
// each written as "<byte length>:<value>".
type WebhookVerifier struct {
	secret []byte
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: []byte(secret)}
}

func (v *WebhookVerifier) Sign(transactionID, status, message string) string {
	mac := hmac.New(sha256.New, v.secret)
	for _, field := range []string{transactionID, status, message} {
		fmt.Fprintf(mac, "%d:%s", len(field), field)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches. An unconfigured secret rejects
// every callback.
func (v *WebhookVerifier) Verify(transactionID, status, message, signature string) bool {
	if len(v.secret) == 0 {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(v.Sign(transactionID, status, message))
	return hmac.Equal(got, want)
}
