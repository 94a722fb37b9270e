package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joao-fontenele/insureflow/internal/payments"
)

const webhookAttempts = 3

// WebhookNotifier pushes signed payment callbacks to the payment service the
// way a real gateway confirms a charge asynchronously.
type WebhookNotifier struct {
	url        string
	signer     *payments.WebhookVerifier
	delay      time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookNotifier sends callbacks to url after delay. A callback the
// payment service does not accept is retried with the same delay between
// attempts.
func NewWebhookNotifier(url, secret string, delay time.Duration, httpClient *http.Client, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		signer:     payments.NewWebhookVerifier(secret),
		delay:      delay,
		httpClient: httpClient,
		logger:     logger,
	}
}

type webhookPayload struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	Signature     string `json:"signature"`
}

// Notify sends the callback in the background.
func (n *WebhookNotifier) Notify(transactionID, status, message string) {
	payload := webhookPayload{
		TransactionID: transactionID,
		Status:        status,
		Message:       message,
		Signature:     n.signer.Sign(transactionID, status, message),
	}

	go func() {
		for attempt := 1; attempt <= webhookAttempts; attempt++ {
			time.Sleep(n.delay)

			err := n.send(payload)
			if err == nil {
				n.logger.Info("webhook delivered", "transaction_id", transactionID, "status", status, "attempt", attempt)
				return
			}
			n.logger.Warn("webhook delivery failed", "error", err, "transaction_id", transactionID, "attempt", attempt)
		}
	}()
}

func (n *WebhookNotifier) send(payload webhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("payment service returned status %d", resp.StatusCode)
	}
	return nil
}
