// Package votes holds the pure rules that decide whether a checkout counts as
// a feature vote. Nothing here performs I/O; the live confirm path, the batch
// reconciler and the client poller all call the same functions.
package votes

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"featurevotes/internal/models"
)

const DefaultProductPrefix = "Feature:"

const metadataProductKey = "featureProductId"

// IsPaid reports whether the collaborator has seen money for the checkout.
// A positive received amount counts even while the status lags behind.
func IsPaid(c *models.Checkout) bool {
	if c == nil {
		return false
	}
	if c.Status == models.CheckoutStatusPaymentReceived || c.Status == models.CheckoutStatusConfirmed {
		return true
	}
	return c.Invoice != nil && positiveSats(c.Invoice.AmountSatsReceived) > 0
}

func IsExpired(c *models.Checkout) bool {
	return c != nil && c.Status == models.CheckoutStatusExpired
}

// ExtractProductID resolves the product a checkout pays for. Precedence:
// productId, product.id, products[0].id, userMetadata.featureProductId.
func ExtractProductID(c *models.Checkout) (string, bool) {
	if c == nil {
		return "", false
	}
	if c.ProductID != nil && *c.ProductID != "" {
		return *c.ProductID, true
	}
	if c.Product != nil && c.Product.ID != "" {
		return c.Product.ID, true
	}
	if len(c.Products) > 0 && c.Products[0].ID != "" {
		return c.Products[0].ID, true
	}
	if id, ok := c.UserMetadata[metadataProductKey].(string); ok && id != "" {
		return id, true
	}
	return "", false
}

// ExtractSettledSats returns the first finite positive amount, rounded, from
// the received amount down to the requested totals. Zero means undetermined.
func ExtractSettledSats(c *models.Checkout) int64 {
	if c == nil {
		return 0
	}
	var received, requested *float64
	if c.Invoice != nil {
		received = c.Invoice.AmountSatsReceived
		requested = c.Invoice.AmountSats
	}
	candidates := []*float64{
		received,
		c.InvoiceAmountSats,
		requested,
		c.ProvidedAmount,
		c.TotalAmount,
	}
	for _, candidate := range candidates {
		if sats := positiveSats(candidate); sats > 0 {
			return sats
		}
	}
	return 0
}

// ReceivedSats is the settled amount the invoice reports, 0 when absent.
func ReceivedSats(c *models.Checkout) int64 {
	if c == nil || c.Invoice == nil {
		return 0
	}
	return positiveSats(c.Invoice.AmountSatsReceived)
}

// InvoicedSats is the amount the invoice asks for, rounded, or 0 when the
// collaborator did not say.
func InvoicedSats(c *models.Checkout) int64 {
	if c == nil {
		return 0
	}
	if c.Invoice != nil {
		if sats := positiveSats(c.Invoice.AmountSats); sats > 0 {
			return sats
		}
	}
	return positiveSats(c.InvoiceAmountSats)
}

func positiveSats(v *float64) int64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	sats := int64(math.Round(*v))
	if sats <= 0 {
		return 0
	}
	return sats
}

func IsFeatureProduct(p models.FeatureProduct, prefix string) bool {
	return strings.HasPrefix(strings.TrimSpace(p.Name), prefix)
}

// FilterFeatureProducts keeps the votable products, sorted by name.
func FilterFeatureProducts(products []models.FeatureProduct, prefix string) []models.FeatureProduct {
	features := make([]models.FeatureProduct, 0, len(products))
	for _, p := range products {
		if IsFeatureProduct(p, prefix) {
			features = append(features, p)
		}
	}
	sort.SliceStable(features, func(i, j int) bool {
		return features[i].Name < features[j].Name
	})
	return features
}

// SupportsCustomSats reports whether the customer may choose the sat amount.
func SupportsCustomSats(p models.FeatureProduct) bool {
	for _, price := range p.Prices {
		if price.Currency == models.CurrencySAT && price.AmountType == models.AmountTypeCustom {
			return true
		}
	}
	return false
}

// DisplayName trims the name and drops a leading prefix marker, ignoring case.
func DisplayName(name, prefix string) string {
	trimmed := strings.TrimSpace(name)
	if prefix == "" {
		return trimmed
	}
	if len(trimmed) < len(prefix) || !strings.EqualFold(trimmed[:len(prefix)], prefix) {
		return trimmed
	}
	return strings.TrimLeftFunc(trimmed[len(prefix):], unicode.IsSpace)
}

// SortLeaderboard orders by total sats desc, vote count desc, name asc and
// finally product id so that distinct products never compare equal.
func SortLeaderboard(features []models.LeaderboardFeature) {
	sort.SliceStable(features, func(i, j int) bool {
		a, b := features[i], features[j]
		if a.TotalSats != b.TotalSats {
			return a.TotalSats > b.TotalSats
		}
		if a.VoteCount != b.VoteCount {
			return a.VoteCount > b.VoteCount
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ProductID < b.ProductID
	})
}
