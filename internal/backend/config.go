package backend

import (
	"fmt"

	"pocketwatch/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Bank: BankBackend(appConfig.BankBackend),
		SMS:  SMSBackend(appConfig.SMSBackend),

		PlaidClientID:   appConfig.PlaidClientID,
		PlaidSecret:     appConfig.PlaidSecret,
		PlaidEnv:        appConfig.PlaidEnv,
		PlaidClientName: appConfig.PlaidClientName,
		PlaidWebhookURL: appConfig.PlaidWebhookURL,

		TwilioAccountSID: appConfig.TwilioAccountSID,
		TwilioAuthToken:  appConfig.TwilioAuthToken,
		TwilioFromNumber: appConfig.TwilioFromNumber,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Bank.IsValid() {
		return fmt.Errorf("invalid bank backend: %s", c.Bank)
	}
	if !c.SMS.IsValid() {
		return fmt.Errorf("invalid SMS backend: %s", c.SMS)
	}

	if c.Bank == PlaidBank {
		if c.PlaidClientID == "" {
			return fmt.Errorf("Plaid client ID is required for plaid backend")
		}
		if c.PlaidSecret == "" {
			return fmt.Errorf("Plaid secret is required for plaid backend")
		}
	}

	if c.SMS == TwilioSMS {
		if c.TwilioAccountSID == "" {
			return fmt.Errorf("Twilio account SID is required for twilio backend")
		}
		if c.TwilioAuthToken == "" {
			return fmt.Errorf("Twilio auth token is required for twilio backend")
		}
		if c.TwilioFromNumber == "" {
			return fmt.Errorf("Twilio from number is required for twilio backend")
		}
	}

	if c.AMQPURL != "" {
		if c.AMQPExchange == "" {
			return fmt.Errorf("AMQP exchange is required when AMQP URL is set")
		}
		if c.AMQPQueue == "" {
			return fmt.Errorf("AMQP queue is required when AMQP URL is set")
		}
	}

	return nil
}
