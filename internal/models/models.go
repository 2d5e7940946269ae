package models

import (
	"encoding/json"
	"time"
)

const (
	CheckoutStatusUnconfirmed     = "UNCONFIRMED"
	CheckoutStatusPendingPayment  = "PENDING_PAYMENT"
	CheckoutStatusPaymentReceived = "PAYMENT_RECEIVED"
	CheckoutStatusConfirmed       = "CONFIRMED"
	CheckoutStatusExpired         = "EXPIRED"
)

const (
	CurrencySAT = "SAT"
	CurrencyUSD = "USD"

	AmountTypeFixed  = "FIXED"
	AmountTypeCustom = "CUSTOM"
)

type Price struct {
	ID          string   `json:"id"`
	Currency    string   `json:"currency"`
	AmountType  string   `json:"amountType"`
	PriceAmount *float64 `json:"priceAmount"`
}

type FeatureProduct struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Prices      []Price `json:"prices"`
}

type ProductRef struct {
	ID string `json:"id"`
}

type Invoice struct {
	Invoice            string   `json:"invoice"`
	ExpiresAt          string   `json:"expiresAt"`
	AmountSats         *float64 `json:"amountSats"`
	AmountSatsReceived *float64 `json:"amountSatsReceived"`
	FiatAmount         *float64 `json:"fiatAmount"`
}

// Checkout is the collaborator's view of one payment attempt. Raw holds the
// payload exactly as received and is what the ledger keeps for audit.
type Checkout struct {
	ID                string                 `json:"id"`
	Status            string                 `json:"status"`
	ProductID         *string                `json:"productId,omitempty"`
	Product           *ProductRef            `json:"product,omitempty"`
	Products          []ProductRef           `json:"products,omitempty"`
	UserMetadata      map[string]interface{} `json:"userMetadata,omitempty"`
	Invoice           *Invoice               `json:"invoice,omitempty"`
	InvoiceAmountSats *float64               `json:"invoiceAmountSats,omitempty"`
	ProvidedAmount    *float64               `json:"providedAmount,omitempty"`
	TotalAmount       *float64               `json:"totalAmount,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type VoteLedgerEntry struct {
	CheckoutID     string          `json:"checkout_id"`
	ProductID      string          `json:"product_id"`
	SettledSats    int64           `json:"settled_sats"`
	CheckoutStatus string          `json:"checkout_status"`
	RecordedAt     time.Time       `json:"recorded_at"`
	RawCheckout    json.RawMessage `json:"raw_checkout"`
}

type VoteTotal struct {
	ProductID  string     `json:"product_id"`
	TotalSats  int64      `json:"total_sats"`
	VoteCount  int64      `json:"vote_count"`
	LastVoteAt *time.Time `json:"last_vote_at"`
}

type LeaderboardFeature struct {
	ProductID   string     `json:"productId"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	TotalSats   int64      `json:"totalSats"`
	VoteCount   int64      `json:"voteCount"`
	LastVoteAt  *time.Time `json:"lastVoteAt"`
}

type Leaderboard struct {
	GeneratedAt time.Time            `json:"generatedAt"`
	Features    []LeaderboardFeature `json:"features"`
}

type VoteConfirmation struct {
	Accepted         bool   `json:"accepted"`
	Inserted         bool   `json:"inserted"`
	CheckoutID       string `json:"checkoutId,omitempty"`
	FeatureProductID string `json:"featureProductId,omitempty"`
	SettledSats      int64  `json:"settledSats,omitempty"`
	Status           string `json:"status"`
}

type FeatureCheckout struct {
	CheckoutID string   `json:"checkoutId"`
	Invoice    string   `json:"invoice"`
	ExpiresAt  string   `json:"expiresAt"`
	AmountSats int64    `json:"amountSats"`
	FiatAmount *float64 `json:"fiatAmount"`
	Status     string   `json:"status"`
}

type CheckoutState struct {
	CheckoutID         string `json:"checkoutId"`
	Status             string `json:"status"`
	Paid               bool   `json:"paid"`
	Expired            bool   `json:"expired"`
	ExpiresAt          string `json:"expiresAt,omitempty"`
	AmountSatsReceived int64  `json:"amountSatsReceived"`
}

type ReconcileReport struct {
	Found           int `json:"found"`
	AlreadyRecorded int `json:"alreadyRecorded"`
	Inserted        int `json:"inserted"`
	SkippedInvalid  int `json:"skippedInvalid"`
	Failed          int `json:"failed"`
}

type PendingCheckout struct {
	CheckoutID string `json:"checkoutId"`
	ProductID  string `json:"productId"`
	CreatedAt  int64  `json:"createdAt"`
}
