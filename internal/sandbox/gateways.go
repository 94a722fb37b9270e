package sandbox

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// declinedCents is the cents part of an amount the sandbox always declines,
// e.g. 100.13.
const declinedCents = 13

type tradeState string

const (
	tradePaid     tradeState = "paid"
	tradeDeclined tradeState = "declined"
	tradeRefunded tradeState = "refunded"
)

type trade struct {
	id         string
	outTradeNo string
	cents      int64
	state      tradeState
}

// ledger remembers every trade the simulated gateways have seen.
type ledger struct {
	mu      sync.Mutex
	byID    map[string]*trade
	byOutTradeNo map[string]*trade
}

func newLedger() *ledger {
	return &ledger{byID: make(map[string]*trade), byOutTradeNo: make(map[string]*trade)}
}

func (l *ledger) charge(prefix, outTradeNo string, cents int64) trade {
	t := &trade{id: prefix + ulid.Make().String(), outTradeNo: outTradeNo, cents: cents, state: tradePaid}
	if cents%100 == declinedCents {
		t.state = tradeDeclined
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID[t.id] = t
	l.byOutTradeNo[outTradeNo] = t
	return *t
}

func (l *ledger) find(id, outTradeNo string) (trade, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.byID[id]
	if !ok && id == "" {
		t, ok = l.byOutTradeNo[outTradeNo]
	}
	if !ok {
		return trade{}, false
	}
	return *t, true
}

// refund marks a paid trade refunded. Refunding it again succeeds without
// change, like a gateway deduplicating on the refund request number.
func (l *ledger) refund(id string) (trade, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.byID[id]
	if !ok || t.state == tradeDeclined {
		return trade{}, false
	}
	t.state = tradeRefunded
	return *t, true
}

// GatewayHandler simulates the Alipay and WeChat Pay APIs the payment
// service talks to. Charges whose cents equal 13 are declined; everything
// else succeeds.
type GatewayHandler struct {
	ledger   *ledger
	latency  Latency
	webhooks *WebhookNotifier
	logger   *slog.Logger
}

// NewGatewayHandler builds the simulator. webhooks may be nil, in which case
// no callbacks are sent.
func NewGatewayHandler(latency Latency, webhooks *WebhookNotifier, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{ledger: newLedger(), latency: latency, webhooks: webhooks, logger: logger}
}

func (h *GatewayHandler) charged(t trade, message string) {
	h.logger.Info("trade charged", "trade_id", t.id, "out_trade_no", t.outTradeNo, "cents", t.cents, "state", t.state)
	if h.webhooks == nil {
		return
	}
	status := "completed"
	if t.state == tradeDeclined {
		status = "failed"
	}
	h.webhooks.Notify(t.id, status, message)
}

type alipayRequest struct {
	TradeNo      string `json:"trade_no"`
	OutTradeNo   string `json:"out_trade_no"`
	TotalAmount  string `json:"total_amount"`
	RefundAmount string `json:"refund_amount"`
}

type alipayResponse struct {
	Code        string `json:"code"`
	Msg         string `json:"msg"`
	SubMsg      string `json:"sub_msg,omitempty"`
	TradeNo     string `json:"trade_no,omitempty"`
	TradeStatus string `json:"trade_status,omitempty"`
}

var alipayTradeStatus = map[tradeState]string{
	tradePaid:     "TRADE_SUCCESS",
	tradeDeclined: "TRADE_CLOSED",
	tradeRefunded: "TRADE_CLOSED",
}

func alipayFailure(subMsg string) alipayResponse {
	return alipayResponse{Code: "40004", Msg: "Business Failed", SubMsg: subMsg}
}

func (h *GatewayHandler) HandleAlipayPay(w http.ResponseWriter, r *http.Request) {
	var req alipayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := decimal.NewFromString(req.TotalAmount)
	if err != nil || !amount.IsPositive() || req.OutTradeNo == "" {
		writeJSON(w, h.logger, http.StatusOK, alipayFailure("invalid parameters"))
		return
	}

	h.latency.wait()

	t := h.ledger.charge("ALI", req.OutTradeNo, amount.Shift(2).IntPart())
	if t.state == tradeDeclined {
		resp := alipayFailure("insufficient balance")
		resp.TradeNo = t.id
		h.charged(t, resp.SubMsg)
		writeJSON(w, h.logger, http.StatusOK, resp)
		return
	}

	h.charged(t, "Success")
	writeJSON(w, h.logger, http.StatusOK, alipayResponse{Code: "10000", Msg: "Success", TradeNo: t.id, TradeStatus: "TRADE_SUCCESS"})
}

func (h *GatewayHandler) HandleAlipayQuery(w http.ResponseWriter, r *http.Request) {
	var req alipayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	t, ok := h.ledger.find(req.TradeNo, req.OutTradeNo)
	if !ok {
		writeJSON(w, h.logger, http.StatusOK, alipayFailure("trade not exist"))
		return
	}

	writeJSON(w, h.logger, http.StatusOK, alipayResponse{Code: "10000", Msg: "Success", TradeNo: t.id, TradeStatus: alipayTradeStatus[t.state]})
}

func (h *GatewayHandler) HandleAlipayRefund(w http.ResponseWriter, r *http.Request) {
	var req alipayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	h.latency.wait()

	t, ok := h.ledger.refund(req.TradeNo)
	if !ok {
		writeJSON(w, h.logger, http.StatusOK, alipayFailure("trade not refundable"))
		return
	}

	h.logger.Info("trade refunded", "trade_id", t.id, "refund_amount", req.RefundAmount)
	writeJSON(w, h.logger, http.StatusOK, alipayResponse{Code: "10000", Msg: "Success", TradeNo: t.id})
}

type wechatAmount struct {
	Total    int64  `json:"total"`
	Refund   int64  `json:"refund,omitempty"`
	Currency string `json:"currency"`
}

type wechatRequest struct {
	TransactionID string       `json:"transaction_id"`
	OutTradeNo    string       `json:"out_trade_no"`
	OutRefundNo   string       `json:"out_refund_no"`
	Amount        wechatAmount `json:"amount"`
}

type wechatResponse struct {
	TransactionID string `json:"transaction_id,omitempty"`
	OutTradeNo    string `json:"out_trade_no,omitempty"`
	TradeState    string `json:"trade_state,omitempty"`
	Status        string `json:"status,omitempty"`
	Message       string `json:"message"`
}

var wechatTradeState = map[tradeState]string{
	tradePaid:     "SUCCESS",
	tradeDeclined: "PAYERROR",
	tradeRefunded: "REFUND",
}

func (h *GatewayHandler) HandleWechatPay(w http.ResponseWriter, r *http.Request) {
	var req wechatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OutTradeNo == "" || req.Amount.Total <= 0 {
		writeJSON(w, h.logger, http.StatusBadRequest, wechatResponse{Message: "PARAM_ERROR"})
		return
	}

	h.latency.wait()

	t := h.ledger.charge("WX", req.OutTradeNo, req.Amount.Total)
	resp := wechatResponse{TransactionID: t.id, OutTradeNo: t.outTradeNo, TradeState: wechatTradeState[t.state], Message: "OK"}
	if t.state == tradeDeclined {
		resp.Message = "NOTENOUGH"
	}

	h.charged(t, resp.Message)
	writeJSON(w, h.logger, http.StatusOK, resp)
}

func (h *GatewayHandler) HandleWechatQueryByID(w http.ResponseWriter, r *http.Request) {
	h.wechatQuery(w, r.PathValue("id"), "")
}

func (h *GatewayHandler) HandleWechatQueryByOutTradeNo(w http.ResponseWriter, r *http.Request) {
	h.wechatQuery(w, "", r.PathValue("outTradeNo"))
}

func (h *GatewayHandler) wechatQuery(w http.ResponseWriter, id, outTradeNo string) {
	t, ok := h.ledger.find(id, outTradeNo)
	if !ok {
		writeJSON(w, h.logger, http.StatusNotFound, wechatResponse{Message: "ORDER_NOT_EXIST"})
		return
	}

	writeJSON(w, h.logger, http.StatusOK, wechatResponse{
		TransactionID: t.id,
		OutTradeNo:    t.outTradeNo,
		TradeState:    wechatTradeState[t.state],
		Message:       "OK",
	})
}

func (h *GatewayHandler) HandleWechatRefund(w http.ResponseWriter, r *http.Request) {
	var req wechatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	h.latency.wait()

	t, ok := h.ledger.refund(req.TransactionID)
	if !ok {
		writeJSON(w, h.logger, http.StatusNotFound, wechatResponse{Message: "RESOURCE_NOT_EXISTS"})
		return
	}

	h.logger.Info("trade refunded", "trade_id", t.id, "out_refund_no", req.OutRefundNo)
	writeJSON(w, h.logger, http.StatusOK, wechatResponse{TransactionID: t.id, Status: "SUCCESS", Message: "OK"})
}
