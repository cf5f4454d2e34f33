package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatePending   ReviewState = "pending"
	StateConfirmed ReviewState = "confirmed"
)

type (
	ReviewState string

	Date struct {
		time.Time
	}

	// Month is a calendar month key in "YYYY-MM" form. Monthly totals are
	// keyed by it, derived from the transaction's own date rather than the
	// wall clock at processing time.
	Month string

	User struct {
		ID          int64
		PhoneNumber string
		AccessToken string // aggregator credential, empty until bank link
		ItemID      string // aggregator item id, used for webhook dispatch
		SyncCursor  string // opaque, advances only on fully applied batches
		CreatedAt   time.Time
	}

	BudgetCategory struct {
		ID           int64
		UserID       int64
		Name         string
		MonthlyLimit decimal.Decimal
		CreatedAt    time.Time
	}

	PendingTransaction struct {
		ID         int64
		UserID     int64
		ExternalID string
		Merchant   string
		Amount     decimal.Decimal // full amount, debit-positive
		Category   string          // auto-assigned at sync time
		PostedOn   Date
		State      ReviewState
		UserAmount decimal.Decimal // amount the user confirmed owing
		ReviewedAt time.Time       // zero until confirmed
		CreatedAt  time.Time
	}

	MonthlyTotal struct {
		UserID   int64
		Category string
		Month    Month
		Total    decimal.Decimal
	}

	// CategoryStatus is one budget line in a month overview: the configured
	// limit next to what was confirmed so far.
	CategoryStatus struct {
		Name      string
		Limit     decimal.Decimal
		Spent     decimal.Decimal
		Remaining decimal.Decimal
	}

	BudgetOverview struct {
		Month      Month
		Categories []CategoryStatus
		// Unbudgeted is confirmed spend filed under labels that match no
		// budget category (the mapper's pass-through fallback).
		Unbudgeted decimal.Decimal
	}
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNotLinked         = errors.New("bank account not linked")
	ErrInvalidPhone      = errors.New("invalid phone number")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNegativeLimit     = errors.New("negative monthly limit")
	ErrEmptyCategory     = errors.New("empty category name")
	ErrDuplicateCategory = errors.New("duplicate category name")
	ErrUnknownCategory   = errors.New("unknown category")
	ErrEmptyExternalID   = errors.New("empty external transaction id")
	ErrEmptyToken        = errors.New("empty public token")
	ErrBadCommand        = errors.New("unrecognized command")
)

// IsValidation reports whether err is caller input the system rejected, as
// opposed to missing state or collaborator failures.
func IsValidation(err error) bool {
	for _, sentinel := range []error{
		ErrInvalidPhone, ErrInvalidAmount, ErrNegativeLimit, ErrEmptyCategory,
		ErrDuplicateCategory, ErrUnknownCategory, ErrEmptyExternalID,
		ErrEmptyToken, ErrBadCommand,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func (s ReviewState) Validate() error {
	switch s {
	case StatePending, StateConfirmed:
		return nil
	default:
		return fmt.Errorf("invalid review state %q", string(s))
	}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a date in YYYY-MM-DD form.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

// String renders the date in YYYY-MM-DD form.
func (d Date) String() string {
	return d.Format("2006-01-02")
}

// MonthKey returns the calendar month the date falls in.
func (d Date) MonthKey() Month {
	return Month(d.Format("2006-01"))
}

// MonthOf returns the month key for an arbitrary time.
func MonthOf(t time.Time) Month {
	return Month(t.Format("2006-01"))
}

// CurrentMonth returns the month key for the wall clock, used only by read
// paths that default to "this month" (budget overview, exports).
func CurrentMonth() Month {
	return MonthOf(time.Now().UTC())
}

// ParseMonth parses a month key in YYYY-MM form.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("parse month %q: %w", s, err)
	}
	return MonthOf(t), nil
}

func (m Month) Validate() error {
	if _, err := time.Parse("2006-01", string(m)); err != nil {
		return fmt.Errorf("invalid month %q", string(m))
	}
	return nil
}

// First returns the first instant of the month, used by retention sweeps.
func (m Month) First() time.Time {
	t, _ := time.Parse("2006-01", string(m))
	return t
}

func (u User) Validate() error {
	if err := ValidatePhone(u.PhoneNumber); err != nil {
		return err
	}
	return nil
}

// Linked reports whether the user completed the bank-link handshake.
func (u User) Linked() bool {
	return u.AccessToken != ""
}

// ValidatePhone accepts E.164-style numbers: optional +, then 7-15 digits.
func ValidatePhone(phone string) error {
	p := strings.TrimSpace(phone)
	p = strings.TrimPrefix(p, "+")
	if len(p) < 7 || len(p) > 15 {
		return ErrInvalidPhone
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return ErrInvalidPhone
		}
	}
	return nil
}

func (c BudgetCategory) Validate() error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return ErrEmptyCategory
	}
	if len(name) > 64 {
		return errors.New("category name too long (max 64 characters)")
	}
	if c.MonthlyLimit.IsNegative() {
		return ErrNegativeLimit
	}
	return nil
}

func (p PendingTransaction) Validate() error {
	if strings.TrimSpace(p.ExternalID) == "" {
		return ErrEmptyExternalID
	}
	if err := p.PostedOn.Validate(); err != nil {
		return err
	}
	if err := p.State.Validate(); err != nil {
		return err
	}
	return nil
}

// Confirmed reports whether review already resolved this transaction.
func (p PendingTransaction) Confirmed() bool {
	return p.State == StateConfirmed
}
