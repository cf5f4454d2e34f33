// Package plaid adapts the Plaid API to the bank ports.
package plaid

import (
	"context"
	"errors"
	"fmt"
	"strings"

	plaidapi "github.com/plaid/plaid-go/v20/plaid"
	"github.com/shopspring/decimal"

	"pocketwatch/internal/bank"
	"pocketwatch/internal/core"
)

const defaultPageSize = 100

// Config carries the Plaid credentials and link-flow settings.
type Config struct {
	ClientID    string
	Secret      string
	Environment string // "sandbox" or "production"
	ClientName  string // shown in the Link dialog
	WebhookURL  string // optional; registered on created items
	PageSize    int32
}

type Client struct {
	api        *plaidapi.APIClient
	clientName string
	webhookURL string
	pageSize   int32
}

// Ensure interface conformance
var (
	_ bank.Client = (*Client)(nil)
	_ bank.Linker = (*Client)(nil)
)

func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.Secret == "" {
		return nil, errors.New("missing plaid credentials")
	}

	apiCfg := plaidapi.NewConfiguration()
	apiCfg.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	apiCfg.AddDefaultHeader("PLAID-SECRET", cfg.Secret)
	switch strings.ToLower(strings.TrimSpace(cfg.Environment)) {
	case "", "sandbox":
		apiCfg.UseEnvironment(plaidapi.Sandbox)
	case "production":
		apiCfg.UseEnvironment(plaidapi.Production)
	default:
		return nil, fmt.Errorf("unknown plaid environment %q", cfg.Environment)
	}

	name := cfg.ClientName
	if name == "" {
		name = "Pocketwatch"
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &Client{
		api:        plaidapi.NewAPIClient(apiCfg),
		clientName: name,
		webhookURL: cfg.WebhookURL,
		pageSize:   pageSize,
	}, nil
}

// FetchSince returns one page of transaction changes recorded after cursor.
func (c *Client) FetchSince(ctx context.Context, accessToken, cursor string) (bank.Delta, error) {
	req := plaidapi.NewTransactionsSyncRequest(accessToken)
	if cursor != "" {
		req.SetCursor(cursor)
	}
	req.SetCount(c.pageSize)

	resp, _, err := c.api.PlaidApi.TransactionsSync(ctx).TransactionsSyncRequest(*req).Execute()
	if err != nil {
		return bank.Delta{}, classify(err)
	}

	delta := bank.Delta{
		HasMore:    resp.GetHasMore(),
		NextCursor: resp.GetNextCursor(),
	}
	for _, t := range resp.GetAdded() {
		tx, err := toTransaction(t)
		if err != nil {
			return bank.Delta{}, err
		}
		delta.Added = append(delta.Added, tx)
	}
	for _, t := range resp.GetModified() {
		tx, err := toTransaction(t)
		if err != nil {
			return bank.Delta{}, err
		}
		delta.Modified = append(delta.Modified, tx)
	}
	for _, r := range resp.GetRemoved() {
		if id := r.GetTransactionId(); id != "" {
			delta.Removed = append(delta.Removed, id)
		}
	}
	return delta, nil
}

// CreateLinkToken starts the Link flow for the given user id.
func (c *Client) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	user := plaidapi.LinkTokenCreateRequestUser{ClientUserId: userID}
	req := plaidapi.NewLinkTokenCreateRequest(c.clientName, "en", []plaidapi.CountryCode{plaidapi.COUNTRYCODE_US}, user)
	req.SetProducts([]plaidapi.Products{plaidapi.PRODUCTS_TRANSACTIONS})
	if c.webhookURL != "" {
		req.SetWebhook(c.webhookURL)
	}

	resp, _, err := c.api.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*req).Execute()
	if err != nil {
		return "", classify(err)
	}
	return resp.GetLinkToken(), nil
}

// ExchangePublicToken trades the Link public token for a durable credential.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (bank.Link, error) {
	req := plaidapi.NewItemPublicTokenExchangeRequest(publicToken)
	resp, _, err := c.api.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*req).Execute()
	if err != nil {
		return bank.Link{}, classify(err)
	}
	return bank.Link{AccessToken: resp.GetAccessToken(), ItemID: resp.GetItemId()}, nil
}

func toTransaction(t plaidapi.Transaction) (bank.Transaction, error) {
	posted, err := core.ParseDate(t.GetDate())
	if err != nil {
		return bank.Transaction{}, &bank.TransientError{Err: fmt.Errorf("transaction %s: %w", t.GetTransactionId(), err)}
	}

	merchant := t.GetMerchantName()
	if merchant == "" {
		merchant = t.GetName()
	}

	pfc := t.GetPersonalFinanceCategory()
	category := pfc.GetPrimary()
	if category == "" {
		// Legacy category hierarchy; the last element is the most specific.
		if legacy := t.GetCategory(); len(legacy) > 0 {
			category = legacy[len(legacy)-1]
		}
	}

	return bank.Transaction{
		ExternalID: t.GetTransactionId(),
		Merchant:   merchant,
		Amount:     decimal.NewFromFloat(t.GetAmount()).Round(2),
		PostedOn:   posted,
		Category:   category,
	}, nil
}

// classify sorts an API failure into the relink-vs-retry taxonomy.
func classify(err error) error {
	if pe, convErr := plaidapi.ToPlaidError(err); convErr == nil {
		switch pe.GetErrorCode() {
		case "ITEM_LOGIN_REQUIRED", "INVALID_ACCESS_TOKEN", "ACCESS_NOT_GRANTED", "ITEM_LOCKED", "USER_PERMISSION_REVOKED":
			return &bank.AuthError{Code: pe.GetErrorCode(), Err: err}
		}
	}
	return &bank.TransientError{Err: err}
}
