package payments

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/insureflow/internal/domain"
)

type WechatPayGateway struct {
	baseURL    string
	mchID      string
	httpClient *http.Client
}

func NewWechatPayGateway(baseURL, mchID string, httpClient *http.Client) *WechatPayGateway {
	return &WechatPayGateway{
		baseURL:    baseURL,
		mchID:      mchID,
		httpClient: httpClient,
	}
}

// toCents converts a decimal amount to the integer minor units WeChat Pay
// expects.
func toCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

type wechatAmount struct {
	Total    int64  `json:"total"`
	Refund   int64  `json:"refund,omitempty"`
	Currency string `json:"currency"`
}

type wechatPayRequest struct {
	MchID      string       `json:"mchid"`
	OutTradeNo string       `json:"out_trade_no"`
	Attach     string       `json:"attach,omitempty"`
	Amount     wechatAmount `json:"amount"`
}

type wechatResponse struct {
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	Status        string `json:"status,omitempty"`
	Message       string `json:"message"`
}

func (g *WechatPayGateway) Initiate(ctx context.Context, req InitiateRequest) (Result, error) {
	var resp wechatResponse
	err := doJSON(ctx, g.httpClient, http.MethodPost, g.baseURL+"/v3/pay/transactions", wechatPayRequest{
		MchID:      g.mchID,
		OutTradeNo: req.PaymentID,
		Attach:     req.OrderID,
		Amount:     wechatAmount{Total: toCents(req.Amount), Currency: req.Currency},
	}, &resp)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success:       resp.TradeState == "SUCCESS",
		TransactionID: resp.TransactionID,
		Message:       resp.Message,
	}, nil
}

func (g *WechatPayGateway) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	path := "/v3/pay/transactions/id/" + url.PathEscape(req.TransactionID)
	if req.TransactionID == "" {
		path = "/v3/pay/transactions/out-trade-no/" + url.PathEscape(req.PaymentID)
	}

	var resp wechatResponse
	err := doJSON(ctx, g.httpClient, http.MethodGet, g.baseURL+path+"?mchid="+url.QueryEscape(g.mchID), nil, &resp)
	if err != nil {
		return QueryResult{}, err
	}

	result := QueryResult{TransactionID: resp.TransactionID, Message: resp.Message}
	switch resp.TradeState {
	case "SUCCESS":
		result.Status = domain.PaymentStatusCompleted
	case "REFUND":
		result.Status = domain.PaymentStatusRefunded
	case "CLOSED", "PAYERROR", "REVOKED":
		result.Status = domain.PaymentStatusFailed
	default:
		result.Status = domain.PaymentStatusProcessing
	}
	return result, nil
}

type wechatRefundRequest struct {
	TransactionID string       `json:"transaction_id"`
	OutRefundNo   string       `json:"out_refund_no"`
	Amount        wechatAmount `json:"amount"`
}

func (g *WechatPayGateway) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	cents := toCents(req.Amount)

	var resp wechatResponse
	err := doJSON(ctx, g.httpClient, http.MethodPost, g.baseURL+"/v3/refund/domestic/refunds", wechatRefundRequest{
		TransactionID: req.TransactionID,
		OutRefundNo:   req.PaymentID,
		Amount:        wechatAmount{Total: cents, Refund: cents, Currency: req.Currency},
	}, &resp)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success:       resp.Status == "SUCCESS" || resp.Status == "PROCESSING",
		TransactionID: req.TransactionID,
		Message:       resp.Message,
	}, nil
}
