// Package twilio adapts the Twilio REST API to the sms port.
package twilio

import (
	"context"
	"errors"
	"fmt"

	twilioapi "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"pocketwatch/internal/sms"
)

type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string // E.164
}

type Client struct {
	rest *twilioapi.RestClient
	from string
}

var _ sms.Sender = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("missing twilio credentials")
	}
	if cfg.FromNumber == "" {
		return nil, errors.New("missing twilio from number")
	}
	rest := twilioapi.NewRestClientWithParams(twilioapi.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{rest: rest, from: cfg.FromNumber}, nil
}

// Send delivers one message. The Twilio SDK has no context plumbing, so the
// context is only honored up front.
func (c *Client) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetBody(body)

	if _, err := c.rest.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio send to %s: %w", to, err)
	}
	return nil
}
