// Package marketplace verifies purchase codes against the marketplace API.
package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Sale describes a verified marketplace sale.
type Sale struct {
	ItemID         string
	ItemName       string
	Buyer          string
	LicenseType    string
	SupportedUntil string
}

// Verifier confirms that a purchase code corresponds to a real sale.
type Verifier interface {
	VerifySale(ctx context.Context, purchaseCode string) (*Sale, error)
}

// RejectionError is returned when the marketplace answered but refused the
// purchase code. Transport failures are plain errors: "we couldn't check"
// must never be reported as "it's invalid".
type RejectionError struct {
	StatusCode  int
	Description string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("marketplace rejected purchase code (%d): %s", e.StatusCode, e.Description)
}

// DefaultTimeout bounds each outbound verification call.
const DefaultTimeout = 15 * time.Second

// maxResponseBytes caps how much of a marketplace response is read.
const maxResponseBytes = 1 << 20

// Client is the HTTP implementation of Verifier.
type Client struct {
	endpoint   string
	apiToken   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a marketplace API client with a bounded timeout.
func NewClient(endpoint, apiToken string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint:   endpoint,
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "marketplace").Logger(),
	}
}

// saleResponse is the marketplace's success payload.
type saleResponse struct {
	Item struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	} `json:"item"`
	Buyer          string `json:"buyer"`
	License        string `json:"license"`
	SupportedUntil string `json:"supported_until"`
}

// errorResponse is the marketplace's failure payload.
type errorResponse struct {
	Description string `json:"description"`
	Error       string `json:"error"`
}

// VerifySale looks up a purchase code. A 2xx answer yields a Sale, a 4xx
// answer yields a *RejectionError, and everything else (timeouts, connection
// failures, 5xx) is a transport error.
func (c *Client) VerifySale(ctx context.Context, purchaseCode string) (*Sale, error) {
	reqURL := c.endpoint + "?code=" + url.QueryEscape(purchaseCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build marketplace request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketplace request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read marketplace response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var sr saleResponse
		if err := json.Unmarshal(body, &sr); err != nil {
			return nil, fmt.Errorf("decode marketplace response: %w", err)
		}
		c.logger.Debug().
			Str("item_id", sr.Item.ID.String()).
			Str("license", sr.License).
			Msg("purchase code verified")
		return &Sale{
			ItemID:         sr.Item.ID.String(),
			ItemName:       sr.Item.Name,
			Buyer:          sr.Buyer,
			LicenseType:    sr.License,
			SupportedUntil: sr.SupportedUntil,
		}, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var er errorResponse
		_ = json.Unmarshal(body, &er)
		description := er.Description
		if description == "" {
			description = er.Error
		}
		if description == "" {
			description = "purchase code was not accepted"
		}
		c.logger.Debug().Int("status", resp.StatusCode).Str("description", description).Msg("purchase code rejected")
		return nil, &RejectionError{StatusCode: resp.StatusCode, Description: description}

	default:
		return nil, fmt.Errorf("marketplace returned status %d", resp.StatusCode)
	}
}
