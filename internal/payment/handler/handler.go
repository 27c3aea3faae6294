package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"domainpay/internal/payment/gateway"
	"domainpay/internal/payment/models"
	"domainpay/pkg/audit"
)

// Reconciler is the slice of the payment service the webhook needs.
type Reconciler interface {
	Apply(ctx context.Context, n models.Notification, source models.Source) error
}

// Handler receives payment gateway callbacks. The contract with the gateway
// is: reject unauthenticated requests, otherwise always acknowledge. The
// poller re-reads anything a failed acknowledgment would have lost, so a 500
// here only buys duplicate deliveries.
type Handler struct {
	service      Reconciler
	auditor      *audit.Recorder
	merchantCode string
	apiKey       string
	logger       *slog.Logger
}

func NewHandler(service Reconciler, auditor *audit.Recorder, merchantCode, apiKey string, logger *slog.Logger) *Handler {
	return &Handler{
		service:      service,
		auditor:      auditor,
		merchantCode: merchantCode,
		apiKey:       apiKey,
		logger:       logger,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/callback", h.Callback)
	return r
}

// callbackFields is the gateway callback payload. The gateway sends it
// form-encoded; newer gateway versions can be configured for JSON, so both
// are accepted. Amount stays a string until after signature verification
// because the digest covers the raw bytes as sent.
type callbackFields struct {
	MerchantCode    string
	MerchantOrderID string
	Amount          string
	ResultCode      string
	Reference       string
	StatusMessage   string
	SettlementDate  string
	Signature       string
	Raw             json.RawMessage
}

func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	fields, err := parseCallback(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "unreadable gateway callback", "error", err)
		http.Error(w, `{"error":"malformed callback"}`, http.StatusBadRequest)
		return
	}
	if fields.MerchantOrderID == "" || fields.Signature == "" {
		http.Error(w, `{"error":"missing required fields"}`, http.StatusBadRequest)
		return
	}

	if fields.MerchantCode != h.merchantCode ||
		!gateway.VerifyCallback(h.merchantCode, fields.Amount, fields.MerchantOrderID, h.apiKey, fields.Signature) {
		h.auditor.Record(r.Context(), audit.Event{
			Actor:    "unknown",
			Source:   string(models.SourceWebhook),
			Action:   audit.ActionCallbackRejected,
			Resource: "transaction:" + fields.MerchantOrderID,
			Payload:  fields.Raw,
			Status:   "error",
		})
		h.logger.WarnContext(r.Context(), "gateway callback signature rejected",
			"merchant_order_id", fields.MerchantOrderID,
			"merchant_code", fields.MerchantCode,
		)
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}

	err = h.service.Apply(r.Context(), models.Notification{
		MerchantOrderID: fields.MerchantOrderID,
		Amount:          gateway.ParseAmount(fields.Amount),
		ResultCode:      fields.ResultCode,
		Reference:       fields.Reference,
		StatusMessage:   fields.StatusMessage,
		SettlementDate:  fields.SettlementDate,
		Raw:             fields.Raw,
	}, models.SourceWebhook)
	if err != nil {
		// Authenticated callbacks are always acknowledged. Reconciliation
		// errors are recoverable through the poller or an operator retry;
		// a non-200 would only make the gateway hammer us with redeliveries.
		h.logger.ErrorContext(r.Context(), "callback reconciliation failed",
			"merchant_order_id", fields.MerchantOrderID, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func parseCallback(r *http.Request) (callbackFields, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return callbackFields{}, err
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var p struct {
			MerchantCode    string      `json:"merchantCode"`
			MerchantOrderID string      `json:"merchantOrderId"`
			Amount          json.Number `json:"amount"`
			ResultCode      string      `json:"resultCode"`
			Reference       string      `json:"reference"`
			StatusMessage   string      `json:"statusMessage"`
			SettlementDate  string      `json:"settlementDate"`
			Signature       string      `json:"signature"`
		}
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&p); err != nil {
			return callbackFields{}, err
		}
		return callbackFields{
			MerchantCode:    p.MerchantCode,
			MerchantOrderID: p.MerchantOrderID,
			Amount:          p.Amount.String(),
			ResultCode:      p.ResultCode,
			Reference:       p.Reference,
			StatusMessage:   p.StatusMessage,
			SettlementDate:  p.SettlementDate,
			Signature:       p.Signature,
			Raw:             body,
		}, nil
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return callbackFields{}, err
	}
	flat := make(map[string]string, len(values))
	for k := range values {
		flat[k] = values.Get(k)
	}
	raw, _ := json.Marshal(flat)
	return callbackFields{
		MerchantCode:    flat["merchantCode"],
		MerchantOrderID: flat["merchantOrderId"],
		Amount:          flat["amount"],
		ResultCode:      flat["resultCode"],
		Reference:       flat["reference"],
		StatusMessage:   flat["statusMessage"],
		SettlementDate:  flat["settlementDate"],
		Signature:       flat["signature"],
		Raw:             raw,
	}, nil
}
