// Package sandbox provides a scripted in-memory bank feed for local
// development and tests. Pages are served in order; the cursor is the index
// of the next unserved page, so re-fetching a consumed cursor returns an
// empty delta the way a real feed does.
package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"pocketwatch/internal/bank"
)

type Client struct {
	mu       sync.Mutex
	pages    []bank.Delta
	failNext error
	links    int
}

// Ensure interface conformance
var (
	_ bank.Client = (*Client)(nil)
	_ bank.Linker = (*Client)(nil)
)

func New(pages ...bank.Delta) *Client {
	return &Client{pages: pages}
}

// Push appends a page of future activity to the feed.
func (c *Client) Push(d bank.Delta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages = append(c.pages, d)
}

// FailNext makes the next FetchSince return err instead of a page.
func (c *Client) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = err
}

// FetchSince serves the page at the cursor index. HasMore comes from the
// scripted page itself, so multi-page batches are expressed by scripting
// every page but the last with HasMore set.
func (c *Client) FetchSince(_ context.Context, _ string, cursor string) (bank.Delta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.failNext; err != nil {
		c.failNext = nil
		return bank.Delta{}, err
	}

	idx := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return bank.Delta{}, &bank.TransientError{Err: fmt.Errorf("bad cursor %q", cursor)}
		}
		idx = n
	}
	if idx >= len(c.pages) {
		// Nothing new; hold position.
		return bank.Delta{NextCursor: strconv.Itoa(idx)}, nil
	}

	out := c.pages[idx]
	out.NextCursor = strconv.Itoa(idx + 1)
	return out, nil
}

// CreateLinkToken returns a synthetic link token.
func (c *Client) CreateLinkToken(_ context.Context, userID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.links++
	return fmt.Sprintf("link-sandbox-%s-%d", userID, c.links), nil
}

// ExchangePublicToken mints a deterministic credential from the public token.
func (c *Client) ExchangePublicToken(_ context.Context, publicToken string) (bank.Link, error) {
	if publicToken == "" {
		return bank.Link{}, &bank.TransientError{Err: fmt.Errorf("empty public token")}
	}
	return bank.Link{
		AccessToken: "access-sandbox-" + publicToken,
		ItemID:      "item-" + publicToken,
	}, nil
}
