package backend

import (
	"context"
	"fmt"
	"log/slog"

	"pocketwatch/internal/amqp"
	"pocketwatch/internal/bank/plaid"
	"pocketwatch/internal/bank/sandbox"
	"pocketwatch/internal/sms"
	"pocketwatch/internal/sms/twilio"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackends implements Factory.CreateBackends. The AMQP client is
// best-effort: a broker that is down at boot logs a warning and the process
// continues with in-process syncs.
func (f *DefaultFactory) CreateBackends(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	result := &Result{}

	switch config.Bank {
	case PlaidBank:
		client, err := plaid.New(plaid.Config{
			ClientID:    config.PlaidClientID,
			Secret:      config.PlaidSecret,
			Environment: config.PlaidEnv,
			ClientName:  config.PlaidClientName,
			WebhookURL:  config.PlaidWebhookURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Plaid client: %w", err)
		}
		result.Backends.Bank = client
		result.Backends.Linker = client
		f.logger.Info("Initialized Plaid backend", "environment", config.PlaidEnv)

	case SandboxBank:
		client := sandbox.New()
		result.Backends.Bank = client
		result.Backends.Linker = client
		f.logger.Info("Initialized sandbox bank backend")
	}

	switch config.SMS {
	case TwilioSMS:
		sender, err := twilio.New(twilio.Config{
			AccountSID: config.TwilioAccountSID,
			AuthToken:  config.TwilioAuthToken,
			FromNumber: config.TwilioFromNumber,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Twilio client: %w", err)
		}
		result.Backends.SMS = sender
		f.logger.Info("Initialized Twilio SMS backend", "from", config.TwilioFromNumber)

	case LogSMS:
		result.Backends.SMS = sms.LogSender{}
		f.logger.Info("Initialized log SMS backend")
	}

	if config.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without queue", "error", err)
		} else {
			result.Backends.AMQP = amqpClient
			result.Cleanup = amqpClient.Close
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	return result, nil
}
