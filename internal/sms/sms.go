// Package sms defines the outbound text-message port.
package sms

import (
	"context"
	"log/slog"
)

// Sender delivers one message to a phone number in E.164 form.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// LogSender writes messages to the log instead of a carrier. Used in
// development and wherever no SMS credentials are configured.
type LogSender struct{}

var _ Sender = LogSender{}

func (LogSender) Send(ctx context.Context, to, body string) error {
	slog.InfoContext(ctx, "sms (log only)", "to", to, "body", body)
	return nil
}
