package services

import (
	"context"
	"fmt"
	"log/slog"

	"pocketwatch/internal/bank"
	"pocketwatch/internal/core"
	"pocketwatch/internal/sms"
	"pocketwatch/internal/storage"
)

// AccountService runs the bank-link handshake and user provisioning.
type AccountService struct {
	storage *storage.SQLiteRepository
	linker  bank.Linker
	sender  sms.Sender // nil disables the welcome message
}

func NewAccountService(st *storage.SQLiteRepository, linker bank.Linker, sender sms.Sender) *AccountService {
	return &AccountService{storage: st, linker: linker, sender: sender}
}

// CreateLinkToken starts the link flow for a phone number. The number is
// the aggregator-side user key, so relinks resolve to the same identity.
func (s *AccountService) CreateLinkToken(ctx context.Context, phone string) (string, error) {
	if err := core.ValidatePhone(phone); err != nil {
		return "", err
	}
	token, err := s.linker.CreateLinkToken(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("create link token: %w", err)
	}
	return token, nil
}

// ConnectBank finishes the link flow: exchanges the public token and upserts
// the user. A relink replaces the credential and resets the sync cursor. The
// welcome message is best-effort.
func (s *AccountService) ConnectBank(ctx context.Context, phone, publicToken string) (core.User, error) {
	if err := core.ValidatePhone(phone); err != nil {
		return core.User{}, err
	}
	if publicToken == "" {
		return core.User{}, core.ErrEmptyToken
	}

	link, err := s.linker.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return core.User{}, fmt.Errorf("exchange public token: %w", err)
	}

	user, err := s.storage.CreateOrRelinkUser(ctx, phone, link.AccessToken, link.ItemID)
	if err != nil {
		return core.User{}, err
	}

	if s.sender != nil {
		if err := s.sender.Send(ctx, user.PhoneNumber, WelcomeText()); err != nil {
			slog.WarnContext(ctx, "welcome message failed", "user_id", user.ID, "error", err)
		}
	}
	return user, nil
}

// DeleteUser removes the user addressed by phone and everything they own.
func (s *AccountService) DeleteUser(ctx context.Context, phone string) error {
	user, err := s.storage.GetUserByPhone(ctx, phone)
	if err != nil {
		return err
	}
	return s.storage.DeleteUser(ctx, user.ID)
}
