// Package bank defines the outbound ports toward the banking aggregator.
// The engine consumes these contracts only; wire formats stay inside the
// adapter subpackages.
package bank

import (
	"context"

	"github.com/shopspring/decimal"

	"pocketwatch/internal/core"
)

// Transaction is one record from the aggregator's transaction feed.
// Amount is debit-positive: money leaving the account is > 0, refunds < 0.
type Transaction struct {
	ExternalID string
	Merchant   string
	Amount     decimal.Decimal
	PostedOn   core.Date
	Category   string
}

// Delta is one page of feed changes recorded after a cursor position.
type Delta struct {
	Added      []Transaction
	Modified   []Transaction
	Removed    []string
	HasMore    bool
	NextCursor string
}

// Link is the credential pair produced by a public-token exchange.
type Link struct {
	AccessToken string
	ItemID      string
}

// Ports for outbound adapters.
type (
	// Client reads the cursor-based transaction feed. An empty cursor means
	// the beginning of the item's history.
	Client interface {
		FetchSince(ctx context.Context, accessToken, cursor string) (Delta, error)
	}

	// Linker runs the account-linking handshake.
	Linker interface {
		CreateLinkToken(ctx context.Context, userID string) (string, error)
		ExchangePublicToken(ctx context.Context, publicToken string) (Link, error)
	}
)
