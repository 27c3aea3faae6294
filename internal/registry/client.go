package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client talks to the RDash reseller API over HTTPS. Every call carries the
// configured timeout; the process never blocks on the registry indefinitely.
type Client struct {
	http       *http.Client
	baseURL    string
	resellerID string
	apiKey     string
}

type Config struct {
	BaseURL    string
	ResellerID string
	APIKey     string
	Timeout    time.Duration
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		resellerID: cfg.ResellerID,
		apiKey:     cfg.APIKey,
	}
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Result, error) {
	return c.post(ctx, "/domains/register", map[string]any{
		"domain":          req.DomainName,
		"customerId":      req.CustomerID,
		"period":          req.PeriodYears,
		"whoisProtection": req.WhoisProtection,
	})
}

func (c *Client) Renew(ctx context.Context, req RenewRequest) (*Result, error) {
	return c.post(ctx, "/domains/renew", map[string]any{
		"domainId": req.DomainID,
		"domain":   req.DomainName,
		"period":   req.PeriodYears,
	})
}

func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*Result, error) {
	return c.post(ctx, "/domains/transfer", map[string]any{
		"domain":     req.DomainName,
		"customerId": req.CustomerID,
		"authCode":   req.AuthCode,
		"period":     req.PeriodYears,
	})
}

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Domain  struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Status      string   `json:"status"`
		Nameservers []string `json:"nameservers"`
		ExpiresAt   string   `json:"expiresAt"`
	} `json:"domain"`
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal registry request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reseller-Id", c.resellerID)
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		category := ErrorOutage
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			category = ErrorTimeout
		}
		return nil, &ProviderError{Category: category, Message: "registry call failed", Underlying: err, Retryable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ProviderError{Category: ErrorOutage, Message: "read registry response", Underlying: err, Retryable: true}
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &ProviderError{Category: ErrorOutage, Message: fmt.Sprintf("registry returned %d", resp.StatusCode), Retryable: true, Raw: raw}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &ProviderError{Category: ErrorAuthentication, Message: "registry rejected credentials", Retryable: false, Raw: raw}
	case resp.StatusCode >= 400:
		return nil, &ProviderError{Category: ErrorRejected, Message: rejectionMessage(raw, resp.StatusCode), Retryable: false, Raw: raw}
	}

	var ar apiResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return nil, &ProviderError{Category: ErrorBadData, Message: "decode registry response", Underlying: err, Retryable: false, Raw: raw}
	}
	if !ar.Success {
		return nil, &ProviderError{Category: ErrorRejected, Message: rejectionMessage(raw, resp.StatusCode), Retryable: false, Raw: raw}
	}

	result := &Result{
		DomainID:    ar.Domain.ID,
		Status:      ar.Domain.Status,
		Nameservers: ar.Domain.Nameservers,
		Raw:         raw,
	}
	if ar.Domain.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, ar.Domain.ExpiresAt); err == nil {
			result.ExpiresAt = &t
		}
	}
	return result, nil
}

func rejectionMessage(raw []byte, status int) string {
	var ar apiResponse
	if err := json.Unmarshal(raw, &ar); err == nil && ar.Message != "" {
		return ar.Message
	}
	return fmt.Sprintf("registry rejected operation with %d", status)
}
