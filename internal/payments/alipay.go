package payments

import (
	"context"
	"net/http"

	"github.com/joao-fontenele/insureflow/internal/domain"
)

const alipaySuccessCode = "10000"

type AlipayGateway struct {
	baseURL    string
	appID      string
	httpClient *http.Client
}

func NewAlipayGateway(baseURL, appID string, httpClient *http.Client) *AlipayGateway {
	return &AlipayGateway{
		baseURL:    baseURL,
		appID:      appID,
		httpClient: httpClient,
	}
}

type alipayPayRequest struct {
	AppID       string `json:"app_id"`
	OutTradeNo  string `json:"out_trade_no"`
	Body        string `json:"body,omitempty"`
	TotalAmount string `json:"total_amount"`
	Currency    string `json:"currency"`
}

type alipayResponse struct {
	Code        string `json:"code"`
	Msg         string `json:"msg"`
	SubMsg      string `json:"sub_msg,omitempty"`
	TradeNo     string `json:"trade_no"`
	TradeStatus string `json:"trade_status,omitempty"`
}

func (r alipayResponse) message() string {
	if r.SubMsg != "" {
		return r.Msg + ": " + r.SubMsg
	}
	return r.Msg
}

func (g *AlipayGateway) Initiate(ctx context.Context, req InitiateRequest) (Result, error) {
	var resp alipayResponse
	err := doJSON(ctx, g.httpClient, http.MethodPost, g.baseURL+"/gateway/trade/pay", alipayPayRequest{
		AppID:       g.appID,
		OutTradeNo:  req.PaymentID,
		Body:        req.OrderID,
		TotalAmount: req.Amount.StringFixed(2),
		Currency:    req.Currency,
	}, &resp)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success:       resp.Code == alipaySuccessCode,
		TransactionID: resp.TradeNo,
		Message:       resp.message(),
	}, nil
}

type alipayQueryRequest struct {
	AppID      string `json:"app_id"`
	TradeNo    string `json:"trade_no,omitempty"`
	OutTradeNo string `json:"out_trade_no,omitempty"`
}

func (g *AlipayGateway) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	var resp alipayResponse
	err := doJSON(ctx, g.httpClient, http.MethodPost, g.baseURL+"/gateway/trade/query", alipayQueryRequest{
		AppID:      g.appID,
		TradeNo:    req.TransactionID,
		OutTradeNo: req.PaymentID,
	}, &resp)
	if err != nil {
		return QueryResult{}, err
	}

	result := QueryResult{TransactionID: resp.TradeNo, Message: resp.message()}
	switch resp.TradeStatus {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		result.Status = domain.PaymentStatusCompleted
	case "TRADE_CLOSED":
		result.Status = domain.PaymentStatusFailed
	default:
		result.Status = domain.PaymentStatusProcessing
	}
	return result, nil
}

type alipayRefundRequest struct {
	AppID        string `json:"app_id"`
	TradeNo      string `json:"trade_no"`
	OutRequestNo string `json:"out_request_no"`
	RefundAmount string `json:"refund_amount"`
}

func (g *AlipayGateway) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	var resp alipayResponse
	err := doJSON(ctx, g.httpClient, http.MethodPost, g.baseURL+"/gateway/trade/refund", alipayRefundRequest{
		AppID:        g.appID,
		TradeNo:      req.TransactionID,
		OutRequestNo: req.PaymentID,
		RefundAmount: req.Amount.StringFixed(2),
	}, &resp)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Success:       resp.Code == alipaySuccessCode,
		TransactionID: req.TransactionID,
		Message:       resp.message(),
	}, nil
}
