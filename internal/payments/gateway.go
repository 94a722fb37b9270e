package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/insureflow/internal/domain"
)

type InitiateRequest struct {
	PaymentID string
	OrderID   string
	Amount    decimal.Decimal
	Currency  string
}

type RefundRequest struct {
	PaymentID     string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
}

// QueryRequest identifies a trade by the gateway transaction id, or by the
// payment id when the transaction id was never recorded. The payment id is
// the merchant trade number, so every attempt for an order is its own trade.
type QueryRequest struct {
	TransactionID string
	PaymentID     string
}

// Result is the gateway's answer to a request it received. A declined
// payment or refund is a Result with Success false, not an error.
type Result struct {
	Success       bool
	TransactionID string
	Message       string
}

type QueryResult struct {
	Status        domain.PaymentStatus
	TransactionID string
	Message       string
}

// Gateway is a payment provider. Errors mean the call itself failed
// (transport, timeout, non-2xx answer) and the outcome is unknown.
type Gateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (Result, error)
	Query(ctx context.Context, req QueryRequest) (QueryResult, error)
	Refund(ctx context.Context, req RefundRequest) (Result, error)
}

// Registry maps payment methods to the gateway that settles them. Several
// methods may share one gateway.
type Registry map[domain.PaymentMethod]Gateway

func (r Registry) Lookup(method domain.PaymentMethod) (Gateway, bool) {
	gw, ok := r[method]
	return gw, ok && gw != nil
}

func doJSON(ctx context.Context, client *http.Client, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal gateway request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create gateway request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
