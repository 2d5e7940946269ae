package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"featurevotes/internal/config"
	"featurevotes/internal/mdk"
	"featurevotes/internal/models"
	"featurevotes/internal/votes"
)

// Collaborator is the external payment provider.
type Collaborator interface {
	ListProducts(ctx context.Context) ([]models.FeatureProduct, error)
	CreateCheckout(ctx context.Context, params mdk.CreateCheckoutParams) (*models.Checkout, error)
	ConfirmCheckout(ctx context.Context, params mdk.ConfirmCheckoutParams) (*models.Checkout, error)
	GetCheckout(ctx context.Context, checkoutID string) (*models.Checkout, error)
	ListCheckouts(ctx context.Context) ([]models.Checkout, error)
}

// Ledger is the durable vote table. InsertVote must be insert-or-ignore on
// checkout id.
type Ledger interface {
	InsertVote(ctx context.Context, entry *models.VoteLedgerEntry) (bool, error)
	RecordedCheckoutIDs(ctx context.Context, checkoutIDs []string) (map[string]bool, error)
	VoteTotals(ctx context.Context, productIDs []string) (map[string]models.VoteTotal, error)
}

// CatalogCache holds the collaborator's product list between requests.
type CatalogCache interface {
	GetCatalog(ctx context.Context) ([]models.FeatureProduct, error)
	StoreCatalog(ctx context.Context, products []models.FeatureProduct, ttl time.Duration) error
}

type VoteService struct {
	ledger       Ledger
	collaborator Collaborator
	catalog      CatalogCache
	config       *config.Config
	logger       *log.Logger
	now          func() time.Time
}

// NewVoteService wires the service. catalog may be nil to disable caching.
func NewVoteService(logger *log.Logger, ledger Ledger, collaborator Collaborator, catalog CatalogCache, cfg *config.Config) *VoteService {
	return &VoteService{
		ledger:       ledger,
		collaborator: collaborator,
		catalog:      catalog,
		config:       cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock replaces the time source used for recordedAt and generatedAt.
func (s *VoteService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *VoteService) productPrefix() string {
	if s.config.ProductPrefix == "" {
		return votes.DefaultProductPrefix
	}
	return s.config.ProductPrefix
}

// FeatureProducts returns the votable catalog sorted by name. A cache failure
// falls back to the collaborator.
func (s *VoteService) FeatureProducts(ctx context.Context) ([]models.FeatureProduct, error) {
	products, _, err := s.featureProducts(ctx, true)
	return products, err
}

// featureProducts reports whether the result came from the cache.
func (s *VoteService) featureProducts(ctx context.Context, useCache bool) ([]models.FeatureProduct, bool, error) {
	var products []models.FeatureProduct

	if useCache && s.catalog != nil {
		cached, err := s.catalog.GetCatalog(ctx)
		if err != nil {
			s.logger.Printf("Catalog cache read failed, falling back to collaborator: %v", err)
		}
		products = cached
	}
	fromCache := products != nil

	if products == nil {
		fetched, err := s.collaborator.ListProducts(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("%w: list_products: %v", ErrUpstream, err)
		}
		products = fetched

		if s.catalog != nil && s.config.CatalogCacheTTL > 0 {
			if err := s.catalog.StoreCatalog(ctx, products, s.config.CatalogCacheTTL); err != nil {
				s.logger.Printf("Warning: failed to cache catalog: %v", err)
			}
		}
	}

	return votes.FilterFeatureProducts(products, s.productPrefix()), fromCache, nil
}

func (s *VoteService) featureProductIndex(ctx context.Context, useCache bool) (map[string]models.FeatureProduct, bool, error) {
	products, fromCache, err := s.featureProducts(ctx, useCache)
	if err != nil {
		return nil, false, err
	}
	index := make(map[string]models.FeatureProduct, len(products))
	for _, p := range products {
		index[p.ID] = p
	}
	return index, fromCache, nil
}

// featureIndexFor returns the feature index, refetching once from the
// collaborator when a cached catalog does not know productID.
func (s *VoteService) featureIndexFor(ctx context.Context, productID string) (map[string]models.FeatureProduct, error) {
	features, fromCache, err := s.featureProductIndex(ctx, true)
	if err != nil {
		return nil, err
	}
	if _, ok := features[productID]; ok || !fromCache || productID == "" {
		return features, nil
	}

	s.logger.Printf("Catalog cache has no product %s, refetching", productID)
	features, _, err = s.featureProductIndex(ctx, false)
	return features, err
}

// ConfirmVote records a paid checkout as one vote. An unpaid checkout yields
// Accepted=false and no error. Replays yield Inserted=false.
func (s *VoteService) ConfirmVote(ctx context.Context, checkoutID string) (*models.VoteConfirmation, error) {
	checkoutID = strings.TrimSpace(checkoutID)
	if checkoutID == "" {
		return nil, fmt.Errorf("%w: checkoutId is required", ErrValidation)
	}

	checkout, err := s.collaborator.GetCheckout(ctx, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("%w: get_checkout %s: %v", ErrUpstream, checkoutID, err)
	}
	if checkout == nil {
		return nil, fmt.Errorf("%w: checkout %s", ErrNotFound, checkoutID)
	}

	if !votes.IsPaid(checkout) {
		return &models.VoteConfirmation{Accepted: false, Status: checkout.Status}, nil
	}

	productID, _ := votes.ExtractProductID(checkout)
	features, err := s.featureIndexFor(ctx, productID)
	if err != nil {
		return nil, err
	}

	entry, err := s.voteFromCheckout(checkout, features)
	if err != nil {
		return nil, err
	}

	inserted, err := s.ledger.InsertVote(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to record vote: %w", err)
	}

	s.logger.Printf("Confirm: checkout %s product %s sats %d (inserted=%t)",
		entry.CheckoutID, entry.ProductID, entry.SettledSats, inserted)

	return &models.VoteConfirmation{
		Accepted:         true,
		Inserted:         inserted,
		CheckoutID:       entry.CheckoutID,
		FeatureProductID: entry.ProductID,
		SettledSats:      entry.SettledSats,
		Status:           checkout.Status,
	}, nil
}

// voteFromCheckout validates a checkout against the catalog and builds its
// ledger entry. It does no I/O and is shared by confirm and reconcile.
func (s *VoteService) voteFromCheckout(checkout *models.Checkout, features map[string]models.FeatureProduct) (*models.VoteLedgerEntry, error) {
	if !votes.IsPaid(checkout) {
		return nil, errNotYetPaid
	}

	productID, ok := votes.ExtractProductID(checkout)
	if !ok {
		return nil, fmt.Errorf("%w: cannot resolve product for checkout %s", ErrValidation, checkout.ID)
	}
	if _, ok := features[productID]; !ok {
		return nil, fmt.Errorf("%w: product %s is not a feature vote product", ErrValidation, productID)
	}

	settled := votes.ExtractSettledSats(checkout)
	if settled <= 0 {
		return nil, fmt.Errorf("%w: cannot determine settled amount for checkout %s", ErrValidation, checkout.ID)
	}

	raw := checkout.Raw
	if len(raw) == 0 {
		encoded, err := json.Marshal(checkout)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot checkout %s: %w", checkout.ID, err)
		}
		raw = encoded
	}

	return &models.VoteLedgerEntry{
		CheckoutID:     checkout.ID,
		ProductID:      productID,
		SettledSats:    settled,
		CheckoutStatus: checkout.Status,
		RecordedAt:     s.now().UTC(),
		RawCheckout:    raw,
	}, nil
}

// CreateFeatureCheckout opens a checkout for a customer-chosen sat amount and
// returns its invoice.
func (s *VoteService) CreateFeatureCheckout(ctx context.Context, productID string, amountSats int64) (*models.FeatureCheckout, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, fmt.Errorf("%w: productId is required", ErrValidation)
	}
	if amountSats < 1 {
		return nil, fmt.Errorf("%w: amountSats must be an integer greater than 0", ErrValidation)
	}

	features, err := s.featureIndexFor(ctx, productID)
	if err != nil {
		return nil, err
	}
	product, ok := features[productID]
	if !ok {
		return nil, fmt.Errorf("%w: feature product %s", ErrNotFound, productID)
	}
	if !votes.SupportsCustomSats(product) {
		return nil, fmt.Errorf("%w: product %s does not support custom SAT pricing", ErrValidation, productID)
	}

	created, err := s.collaborator.CreateCheckout(ctx, mdk.CreateCheckoutParams{
		Type:       "PRODUCTS",
		Product:    product.ID,
		SuccessURL: s.config.SuccessURL,
		Metadata: map[string]string{
			"voteType":         "feature",
			"featureProductId": product.ID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create_checkout: %v", ErrUpstream, err)
	}
	if created == nil || created.ID == "" {
		return nil, fmt.Errorf("%w: create_checkout did not return a checkout id", ErrUpstream)
	}

	checkout, err := s.collaborator.ConfirmCheckout(ctx, mdk.ConfirmCheckoutParams{
		CheckoutID: created.ID,
		Products:   []mdk.ConfirmProduct{{ProductID: product.ID, PriceAmount: amountSats}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: confirm_checkout %s: %v", ErrUpstream, created.ID, err)
	}
	if checkout == nil || checkout.Invoice == nil || checkout.Invoice.Invoice == "" || checkout.Invoice.ExpiresAt == "" {
		return nil, fmt.Errorf("%w: confirm_checkout did not return an invoice", ErrUpstream)
	}

	amount := amountSats
	if invoiced := votes.InvoicedSats(checkout); invoiced > 0 {
		amount = invoiced
	}

	s.logger.Printf("CreateCheckout: checkout %s for product %s, %d sats", checkout.ID, product.ID, amount)

	return &models.FeatureCheckout{
		CheckoutID: checkout.ID,
		Invoice:    checkout.Invoice.Invoice,
		ExpiresAt:  checkout.Invoice.ExpiresAt,
		AmountSats: amount,
		FiatAmount: checkout.Invoice.FiatAmount,
		Status:     checkout.Status,
	}, nil
}

// CheckoutState is the polling view of a checkout.
func (s *VoteService) CheckoutState(ctx context.Context, checkoutID string) (*models.CheckoutState, error) {
	checkoutID = strings.TrimSpace(checkoutID)
	if checkoutID == "" {
		return nil, fmt.Errorf("%w: checkoutId is required", ErrValidation)
	}

	checkout, err := s.collaborator.GetCheckout(ctx, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("%w: get_checkout %s: %v", ErrUpstream, checkoutID, err)
	}
	if checkout == nil {
		return nil, fmt.Errorf("%w: checkout %s", ErrNotFound, checkoutID)
	}

	state := &models.CheckoutState{
		CheckoutID:         checkout.ID,
		Status:             checkout.Status,
		Paid:               votes.IsPaid(checkout),
		Expired:            votes.IsExpired(checkout),
		AmountSatsReceived: votes.ReceivedSats(checkout),
	}
	if checkout.Invoice != nil {
		state.ExpiresAt = checkout.Invoice.ExpiresAt
	}
	return state, nil
}
