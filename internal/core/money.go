// Package core holds the domain model shared by the engine, storage and
// transport layers.
//
// This file contains parsing and formatting for monetary amounts. Amounts
// are exact decimals throughout; floats never touch money.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a user-supplied amount string to a decimal.
//
// It accepts an optional leading dollar sign and requires a plain
// non-negative decimal with at most two fraction digits. Signs, thousands
// separators and exponents are rejected: amounts come from SMS replies and
// API payloads where anything unusual is more likely a typo than intent.
//
// Examples:
//
//	ParseAmount("12.50")  -> 12.50, nil
//	ParseAmount("$12.50") -> 12.50, nil
//	ParseAmount("0")      -> 0, nil
//	ParseAmount("-3")     -> error
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, ErrInvalidAmount
	}
	if len(parts) == 2 && len(parts[1]) > 2 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, part := range parts {
		for _, r := range part {
			if r < '0' || r > '9' {
				return decimal.Zero, ErrInvalidAmount
			}
		}
	}
	if parts[0] == "" && (len(parts) == 1 || parts[1] == "") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseStoredAmount converts a decimal string read back from storage.
// Unlike ParseAmount it allows signs, since full transaction amounts from
// the aggregator may be negative (refunds).
func ParseStoredAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatAmount renders an amount for user-facing text (e.g. "$12.34").
func FormatAmount(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}
