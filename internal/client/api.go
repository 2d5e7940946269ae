// Package client runs the buyer side of a feature vote: remembering pending
// checkouts, polling for payment and confirming the vote with the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"featurevotes/internal/models"
)

var (
	// ErrPermanent means retrying the same request cannot succeed.
	ErrPermanent = errors.New("permanent failure")
	// ErrTransient covers network failures and 5xx responses.
	ErrTransient = errors.New("transient failure")
)

// APIClient calls the feature-votes HTTP API.
type APIClient struct {
	baseURL         string
	httpClient      *http.Client
	reconcileSecret string
}

func NewAPIClient(baseURL string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// SetReconcileSecret sets the operator secret sent with Reconcile.
func (c *APIClient) SetReconcileSecret(secret string) { c.reconcileSecret = secret }

func (c *APIClient) do(ctx context.Context, method, path string, header http.Header, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		msg := fmt.Sprintf("request failed (%d)", resp.StatusCode)
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = fmt.Sprintf("%s (%d)", payload.Error, resp.StatusCode)
		}
		switch resp.StatusCode {
		case http.StatusNotFound, http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrPermanent, msg)
		}
		return fmt.Errorf("%w: %s", ErrTransient, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: invalid response body: %v", ErrTransient, err)
	}
	return nil
}

func (c *APIClient) Confirm(ctx context.Context, checkoutID string) (*models.VoteConfirmation, error) {
	var out models.VoteConfirmation
	err := c.do(ctx, http.MethodPost, "/api/feature-votes/confirm", nil, map[string]string{"checkoutId": checkoutID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) CreateCheckout(ctx context.Context, productID string, amountSats int64) (*models.FeatureCheckout, error) {
	var out struct {
		Data *models.FeatureCheckout `json:"data"`
	}
	body := map[string]interface{}{"productId": productID, "amountSats": amountSats}
	if err := c.do(ctx, http.MethodPost, "/api/feature-votes/create-checkout", nil, body, &out); err != nil {
		return nil, err
	}
	if out.Data == nil || out.Data.CheckoutID == "" || out.Data.Invoice == "" {
		return nil, fmt.Errorf("%w: create-checkout returned no invoice", ErrTransient)
	}
	return out.Data, nil
}

func (c *APIClient) CheckoutState(ctx context.Context, checkoutID string) (*models.CheckoutState, error) {
	var out models.CheckoutState
	if err := c.do(ctx, http.MethodGet, "/api/feature-votes/checkouts/"+url.PathEscape(checkoutID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Leaderboard(ctx context.Context) (*models.Leaderboard, error) {
	var out models.Leaderboard
	if err := c.do(ctx, http.MethodGet, "/api/feature-votes/leaderboard", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Reconcile(ctx context.Context, checkoutIDs []string) (*models.ReconcileReport, error) {
	var out models.ReconcileReport
	body := map[string]interface{}{"checkoutIds": checkoutIDs}
	var header http.Header
	if c.reconcileSecret != "" {
		header = http.Header{"X-Reconcile-Secret": []string{c.reconcileSecret}}
	}
	if err := c.do(ctx, http.MethodPost, "/api/feature-votes/reconcile", header, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
