package backend

import (
	"context"

	"pocketwatch/internal/amqp"
	"pocketwatch/internal/bank"
	"pocketwatch/internal/sms"
)

// Backends bundles the external-service adapters selected by configuration:
// the bank aggregator, the SMS provider, and the optional message queue.
// Bank and Linker are usually the same adapter instance.
type Backends struct {
	Bank   bank.Client
	Linker bank.Linker
	SMS    sms.Sender
	AMQP   *amqp.Client // nil when the queue is disabled
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result contains the assembled backends and optional cleanup function
type Result struct {
	Backends Backends
	Cleanup  CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackends assembles the adapter set described by config
	CreateBackends(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Bank BankBackend
	SMS  SMSBackend

	// Plaid specific
	PlaidClientID   string
	PlaidSecret     string
	PlaidEnv        string
	PlaidClientName string
	PlaidWebhookURL string

	// Twilio specific
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// AMQP (optional; empty URL disables the queue)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BankBackend selects the bank aggregator adapter
type BankBackend string

const (
	PlaidBank   BankBackend = "plaid"
	SandboxBank BankBackend = "sandbox"
)

// String implements fmt.Stringer
func (b BankBackend) String() string {
	return string(b)
}

// IsValid returns true if the bank backend type is valid
func (b BankBackend) IsValid() bool {
	switch b {
	case PlaidBank, SandboxBank:
		return true
	default:
		return false
	}
}

// SMSBackend selects the outbound SMS adapter
type SMSBackend string

const (
	TwilioSMS SMSBackend = "twilio"
	LogSMS    SMSBackend = "log"
)

// String implements fmt.Stringer
func (s SMSBackend) String() string {
	return string(s)
}

// IsValid returns true if the SMS backend type is valid
func (s SMSBackend) IsValid() bool {
	switch s {
	case TwilioSMS, LogSMS:
		return true
	default:
		return false
	}
}
