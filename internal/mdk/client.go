// Package mdk talks to the payment collaborator that issues Lightning
// invoices and tracks checkout status.
package mdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"featurevotes/internal/models"
)

const secretHeader = "x-moneydevkit-webhook-secret"

var (
	ErrRequestFailed = errors.New("mdk request failed")
	ErrNotFound      = errors.New("mdk resource not found")
)

type CreateCheckoutParams struct {
	Type       string            `json:"type"`
	Product    string            `json:"product,omitempty"`
	Amount     int64             `json:"amount,omitempty"`
	SuccessURL string            `json:"successUrl"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type ConfirmProduct struct {
	ProductID   string `json:"productId"`
	PriceAmount int64  `json:"priceAmount"`
}

type ConfirmCheckoutParams struct {
	CheckoutID string           `json:"checkoutId"`
	Products   []ConfirmProduct `json:"products"`
}

type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// NewClient builds a client that issues at most rps requests per second.
func NewClient(baseURL, accessToken string, rps float64, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func (c *Client) call(ctx context.Context, payload map[string]interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %v request: %w", payload["handler"], err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(secretHeader, c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrRequestFailed, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("MDK request failed (%d)", resp.StatusCode)
		if decodeErr == nil && env.Error != "" {
			msg = env.Error
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, msg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: invalid response body: %v", ErrRequestFailed, decodeErr)
	}
	return env.Data, nil
}

func decodeCheckout(data json.RawMessage) (*models.Checkout, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var checkout models.Checkout
	if err := json.Unmarshal(data, &checkout); err != nil {
		return nil, fmt.Errorf("%w: invalid checkout: %v", ErrRequestFailed, err)
	}
	checkout.Raw = append(json.RawMessage(nil), data...)
	return &checkout, nil
}

// ListProducts returns the whole catalog, votable or not.
func (c *Client) ListProducts(ctx context.Context) ([]models.FeatureProduct, error) {
	data, err := c.call(ctx, map[string]interface{}{"handler": "list_products"})
	if err != nil {
		return nil, err
	}

	var out struct {
		Products []models.FeatureProduct `json:"products"`
	}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("%w: invalid product list: %v", ErrRequestFailed, err)
		}
	}
	return out.Products, nil
}

// GetCheckout returns nil without error when the collaborator has no data
// for the id.
func (c *Client) GetCheckout(ctx context.Context, checkoutID string) (*models.Checkout, error) {
	data, err := c.call(ctx, map[string]interface{}{
		"handler":    "get_checkout",
		"checkoutId": checkoutID,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeCheckout(data)
}

func (c *Client) CreateCheckout(ctx context.Context, params CreateCheckoutParams) (*models.Checkout, error) {
	data, err := c.call(ctx, map[string]interface{}{
		"handler": "create_checkout",
		"params":  params,
	})
	if err != nil {
		return nil, err
	}
	return decodeCheckout(data)
}

func (c *Client) ConfirmCheckout(ctx context.Context, params ConfirmCheckoutParams) (*models.Checkout, error) {
	data, err := c.call(ctx, map[string]interface{}{
		"handler": "confirm_checkout",
		"confirm": params,
	})
	if err != nil {
		return nil, err
	}
	return decodeCheckout(data)
}

func (c *Client) ListCheckouts(ctx context.Context) ([]models.Checkout, error) {
	data, err := c.call(ctx, map[string]interface{}{"handler": "list_checkouts"})
	if err != nil {
		return nil, err
	}

	var out struct {
		Checkouts []json.RawMessage `json:"checkouts"`
	}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("%w: invalid checkout list: %v", ErrRequestFailed, err)
		}
	}

	checkouts := make([]models.Checkout, 0, len(out.Checkouts))
	for _, raw := range out.Checkouts {
		checkout, err := decodeCheckout(raw)
		if err != nil {
			return nil, err
		}
		if checkout != nil {
			checkouts = append(checkouts, *checkout)
		}
	}
	return checkouts, nil
}
