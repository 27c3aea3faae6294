package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"domainpay/internal/payment/models"
	pkgerrors "domainpay/pkg/errors"
)

// Client queries the payment gateway's status-by-merchant-order-id API. All
// calls carry the configured timeout; a timed-out or failed call is a
// transient error, never a terminal payment state.
type Client struct {
	http         *http.Client
	baseURL      string
	merchantCode string
	apiKey       string
}

type Config struct {
	BaseURL      string
	MerchantCode string
	APIKey       string
	Timeout      time.Duration
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:         &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		merchantCode: cfg.MerchantCode,
		apiKey:       cfg.APIKey,
	}
}

type statusRequest struct {
	MerchantCode    string `json:"merchantCode"`
	MerchantOrderID string `json:"merchantOrderId"`
	Signature       string `json:"signature"`
}

type statusResponse struct {
	MerchantOrderID string      `json:"merchantOrderId"`
	Reference       string      `json:"reference"`
	Amount          json.Number `json:"amount"`
	StatusCode      string      `json:"statusCode"`
	StatusMessage   string      `json:"statusMessage"`
}

// Status fetches the gateway's view of one transaction and normalizes it into
// the same Notification shape the webhook produces.
func (c *Client) Status(ctx context.Context, merchantOrderID string) (models.Notification, error) {
	reqBody, err := json.Marshal(statusRequest{
		MerchantCode:    c.merchantCode,
		MerchantOrderID: merchantOrderID,
		Signature:       StatusSignature(c.merchantCode, merchantOrderID, c.apiKey),
	})
	if err != nil {
		return models.Notification{}, fmt.Errorf("marshal status request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactionStatus", bytes.NewReader(reqBody))
	if err != nil {
		return models.Notification{}, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Notification{}, pkgerrors.Wrap(pkgerrors.CodeUnavailable, "gateway status query failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Notification{}, pkgerrors.Wrap(pkgerrors.CodeUnavailable, "read gateway response", err)
	}
	if resp.StatusCode >= 500 {
		return models.Notification{}, pkgerrors.New(pkgerrors.CodeUnavailable, fmt.Sprintf("gateway returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return models.Notification{}, pkgerrors.New(pkgerrors.CodeBadRequest, fmt.Sprintf("gateway rejected status query with %d", resp.StatusCode))
	}

	var sr statusResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return models.Notification{}, pkgerrors.Wrap(pkgerrors.CodeUnavailable, "decode gateway response", err)
	}

	return models.Notification{
		MerchantOrderID: sr.MerchantOrderID,
		Amount:          ParseAmount(sr.Amount.String()),
		ResultCode:      sr.StatusCode,
		Reference:       sr.Reference,
		StatusMessage:   sr.StatusMessage,
		Raw:             body,
	}, nil
}

// ParseAmount reads a gateway amount string as integer minor-currency units.
// Some gateway responses format whole amounts with a decimal tail ("10000.00").
// Unparseable amounts come back as 0, which downstream treats as "not stated".
func ParseAmount(s string) int64 {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f + 0.5)
	}
	return 0
}
