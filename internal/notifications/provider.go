package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/joao-fontenele/insureflow/internal/domain"
)

// SendResult is a provider's answer to a delivery it received. A rejected
// delivery is a result with Success false, not an error.
type SendResult struct {
	Success   bool
	MessageID string
	Error     string
}

type Provider interface {
	Send(ctx context.Context, n *domain.Notification) (SendResult, error)
}

type Registry map[domain.NotificationChannel]Provider

func (r Registry) Lookup(channel domain.NotificationChannel) (Provider, bool) {
	p, ok := r[channel]
	return p, ok && p != nil
}

// InAppProvider delivers by storing: the notification row is the message.
type InAppProvider struct{}

func (InAppProvider) Send(_ context.Context, n *domain.Notification) (SendResult, error) {
	return SendResult{Success: true, MessageID: "in_app_" + n.ID}, nil
}

// RelayProvider posts deliveries for one channel to an HTTP relay at
// {baseURL}/{channel}/send.
type RelayProvider struct {
	url        string
	payload    func(n *domain.Notification) any
	httpClient *http.Client
}

type emailPayload struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type smsPayload struct {
	SignName string `json:"sign_name,omitempty"`
	Phone    string `json:"phone"`
	Text     string `json:"text"`
}

type pushPayload struct {
	DeviceToken string `json:"device_token"`
	Title       string `json:"title"`
	Body        string `json:"body"`
}

func NewEmailProvider(baseURL, from string, httpClient *http.Client) *RelayProvider {
	return &RelayProvider{
		url:        baseURL + "/email/send",
		httpClient: httpClient,
		payload: func(n *domain.Notification) any {
			return emailPayload{From: from, To: n.Recipient, Subject: n.Title, Body: n.Content}
		},
	}
}

func NewSMSProvider(baseURL, signName string, httpClient *http.Client) *RelayProvider {
	return &RelayProvider{
		url:        baseURL + "/sms/send",
		httpClient: httpClient,
		payload: func(n *domain.Notification) any {
			return smsPayload{SignName: signName, Phone: n.Recipient, Text: n.Content}
		},
	}
}

func NewPushProvider(baseURL string, httpClient *http.Client) *RelayProvider {
	return &RelayProvider{
		url:        baseURL + "/push/send",
		httpClient: httpClient,
		payload: func(n *domain.Notification) any {
			return pushPayload{DeviceToken: n.Recipient, Title: n.Title, Body: n.Content}
		},
	}
}

type relayResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

func (p *RelayProvider) Send(ctx context.Context, n *domain.Notification) (SendResult, error) {
	data, err := json.Marshal(p.payload(n))
	if err != nil {
		return SendResult{}, fmt.Errorf("marshal delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return SendResult{}, fmt.Errorf("create delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return SendResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out relayResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil && resp.StatusCode == http.StatusOK {
		return SendResult{}, fmt.Errorf("decode delivery response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return SendResult{}, fmt.Errorf("relay returned status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("relay rejected delivery with status %d", resp.StatusCode)
		}
		return SendResult{Error: msg}, nil
	case out.Status != "sent":
		return SendResult{MessageID: out.MessageID, Error: out.Error}, nil
	}

	return SendResult{Success: true, MessageID: out.MessageID}, nil
}
