package mdk

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"featurevotes/internal/models"
)

const sandboxInvoiceTTL = 15 * time.Minute

type sandboxCheckout struct {
	id         string
	status     string
	productID  string
	metadata   map[string]string
	invoice    string
	expiresAt  time.Time
	confirmed  time.Time
	amountSats int64
	received   int64
	createdAt  time.Time
}

// Sandbox is an in-memory collaborator for local development and tests.
// Invoices settle when Pay is called, or on their own after settleAfter when
// that is positive.
type Sandbox struct {
	mu          sync.Mutex
	products    []models.FeatureProduct
	checkouts   map[string]*sandboxCheckout
	settleAfter time.Duration
	now         func() time.Time
}

func NewSandbox(products []models.FeatureProduct, settleAfter time.Duration) *Sandbox {
	return &Sandbox{
		products:    products,
		checkouts:   make(map[string]*sandboxCheckout),
		settleAfter: settleAfter,
		now:         time.Now,
	}
}

// DefaultSandboxProducts seeds a catalog resembling the production roadmap.
func DefaultSandboxProducts() []models.FeatureProduct {
	custom := []models.Price{{ID: "price_sat_custom", Currency: models.CurrencySAT, AmountType: models.AmountTypeCustom}}
	desc := func(s string) *string { return &s }
	return []models.FeatureProduct{
		{ID: "prod_silent_payments", Name: "Feature: Silent payments", Description: desc("Receive to a static silent payment address."), Prices: custom},
		{ID: "prod_payjoin", Name: "Feature: Payjoin", Description: desc("Send and receive BIP78 payjoins."), Prices: custom},
		{ID: "prod_coin_control", Name: "Feature: Coin control", Prices: custom},
		{ID: "prod_donation", Name: "Donation", Prices: custom},
	}
}

// SetClock replaces the time source.
func (s *Sandbox) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Sandbox) ListProducts(ctx context.Context) ([]models.FeatureProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.FeatureProduct(nil), s.products...), nil
}

func (s *Sandbox) CreateCheckout(ctx context.Context, params CreateCheckoutParams) (*models.Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if params.Product != "" && !s.hasProduct(params.Product) {
		return nil, fmt.Errorf("%w: product %s", ErrNotFound, params.Product)
	}

	c := &sandboxCheckout{
		id:         "chk_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		status:     models.CheckoutStatusUnconfirmed,
		productID:  params.Product,
		metadata:   params.Metadata,
		amountSats: params.Amount,
		createdAt:  s.now(),
	}
	s.checkouts[c.id] = c
	return s.view(c), nil
}

func (s *Sandbox) ConfirmCheckout(ctx context.Context, params ConfirmCheckoutParams) (*models.Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checkouts[params.CheckoutID]
	if !ok {
		return nil, fmt.Errorf("%w: checkout %s", ErrNotFound, params.CheckoutID)
	}
	if c.status != models.CheckoutStatusUnconfirmed {
		return nil, fmt.Errorf("%w: checkout %s is %s", ErrRequestFailed, c.id, c.status)
	}
	for _, p := range params.Products {
		if p.ProductID == c.productID && p.PriceAmount > 0 {
			c.amountSats = p.PriceAmount
		}
	}
	if c.amountSats <= 0 {
		return nil, fmt.Errorf("%w: checkout %s has no amount", ErrRequestFailed, c.id)
	}

	c.status = models.CheckoutStatusPendingPayment
	c.invoice = fmt.Sprintf("lnbcrt%dn1sandbox%s", c.amountSats, strings.TrimPrefix(c.id, "chk_"))
	c.confirmed = s.now()
	c.expiresAt = c.confirmed.Add(sandboxInvoiceTTL)
	return s.view(c), nil
}

func (s *Sandbox) GetCheckout(ctx context.Context, checkoutID string) (*models.Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checkouts[checkoutID]
	if !ok {
		return nil, nil
	}
	return s.view(c), nil
}

func (s *Sandbox) ListCheckouts(ctx context.Context) ([]models.Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.checkouts))
	for id := range s.checkouts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]models.Checkout, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.view(s.checkouts[id]))
	}
	return out, nil
}

// Pay settles a pending invoice for its full amount.
func (s *Sandbox) Pay(checkoutID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checkouts[checkoutID]
	if !ok {
		return fmt.Errorf("%w: checkout %s", ErrNotFound, checkoutID)
	}
	s.advance(c)
	if c.status != models.CheckoutStatusPendingPayment {
		return fmt.Errorf("%w: checkout %s is %s", ErrRequestFailed, c.id, c.status)
	}
	c.status = models.CheckoutStatusPaymentReceived
	c.received = c.amountSats
	return nil
}

// Expire forces a checkout into the expired state.
func (s *Sandbox) Expire(checkoutID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checkouts[checkoutID]
	if !ok {
		return fmt.Errorf("%w: checkout %s", ErrNotFound, checkoutID)
	}
	c.status = models.CheckoutStatusExpired
	return nil
}

func (s *Sandbox) hasProduct(id string) bool {
	for _, p := range s.products {
		if p.ID == id {
			return true
		}
	}
	return false
}

// advance applies time-driven transitions. Caller holds s.mu.
func (s *Sandbox) advance(c *sandboxCheckout) {
	if c.status != models.CheckoutStatusPendingPayment {
		return
	}
	now := s.now()
	if s.settleAfter > 0 && now.Sub(c.confirmed) >= s.settleAfter {
		c.status = models.CheckoutStatusPaymentReceived
		c.received = c.amountSats
		return
	}
	if !now.Before(c.expiresAt) {
		c.status = models.CheckoutStatusExpired
	}
}

// view renders the collaborator payload. Caller holds s.mu.
func (s *Sandbox) view(c *sandboxCheckout) *models.Checkout {
	s.advance(c)

	checkout := &models.Checkout{
		ID:     c.id,
		Status: c.status,
	}
	if c.productID != "" {
		id := c.productID
		checkout.ProductID = &id
		checkout.Products = []models.ProductRef{{ID: id}}
	}
	if len(c.metadata) > 0 {
		checkout.UserMetadata = make(map[string]interface{}, len(c.metadata))
		for k, v := range c.metadata {
			checkout.UserMetadata[k] = v
		}
	}
	if c.invoice != "" {
		amount := float64(c.amountSats)
		checkout.Invoice = &models.Invoice{
			Invoice:    c.invoice,
			ExpiresAt:  c.expiresAt.UTC().Format(time.RFC3339),
			AmountSats: &amount,
		}
		if c.received > 0 {
			received := float64(c.received)
			checkout.Invoice.AmountSatsReceived = &received
		}
		checkout.InvoiceAmountSats = &amount
	}

	raw, err := json.Marshal(checkout)
	if err == nil {
		checkout.Raw = raw
	}
	return checkout
}
