package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseDecision(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		kind     DecisionKind
		amount   string
		override string
		ok       bool
	}{
		{name: "full lowercase", in: "full", kind: DecisionFull, ok: true},
		{name: "full mixed case", in: "Full", kind: DecisionFull, ok: true},
		{name: "full uppercase padded", in: "  FULL  ", kind: DecisionFull, ok: true},
		{name: "zero", in: "0", kind: DecisionZero, ok: true},
		{name: "zero with dollar sign", in: "$0", kind: DecisionZero, ok: true},
		{name: "bare amount", in: "12.50", kind: DecisionExplicit, amount: "12.5", ok: true},
		{name: "bare integer", in: "20", kind: DecisionExplicit, amount: "20", ok: true},
		{name: "dollar amount", in: "$7.25", kind: DecisionExplicit, amount: "7.25", ok: true},
		{name: "amount with override", in: "12.50,Food", kind: DecisionExplicit, amount: "12.5", override: "Food", ok: true},
		{name: "override with spaces", in: "8, Gas ", kind: DecisionExplicit, amount: "8", override: "Gas", ok: true},
		{name: "zero amount explicit form", in: "0.00", kind: DecisionExplicit, amount: "0", ok: true},
		{name: "empty", in: "", ok: false},
		{name: "whitespace", in: "   ", ok: false},
		{name: "words", in: "maybe later", ok: false},
		{name: "negative amount", in: "-5", ok: false},
		{name: "full with override", in: "full,Food", ok: false},
		{name: "trailing comma", in: "12.50,", ok: false},
		{name: "comma only", in: ",Food", ok: false},
		{name: "double comma still one override", in: "5,Food,Drinks", kind: DecisionExplicit, amount: "5", override: "Food,Drinks", ok: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := ParseDecision(tc.in)
			if !tc.ok {
				if err == nil {
					t.Fatalf("ParseDecision(%q) expected error, got %+v", tc.in, d)
				}
				if !errors.Is(err, ErrBadCommand) {
					t.Fatalf("ParseDecision(%q) expected ErrBadCommand, got %v", tc.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDecision(%q) unexpected error: %v", tc.in, err)
			}
			if d.Kind != tc.kind {
				t.Fatalf("ParseDecision(%q) kind = %v, want %v", tc.in, d.Kind, tc.kind)
			}
			if tc.kind == DecisionExplicit {
				want, _ := decimal.NewFromString(tc.amount)
				if !d.Amount.Equal(want) {
					t.Fatalf("ParseDecision(%q) amount = %s, want %s", tc.in, d.Amount, want)
				}
				if d.Override != tc.override {
					t.Fatalf("ParseDecision(%q) override = %q, want %q", tc.in, d.Override, tc.override)
				}
			}
		})
	}
}

func TestDecisionAmountOwed(t *testing.T) {
	full := decimal.NewFromFloat(42.50)

	if got := (Decision{Kind: DecisionFull}).AmountOwed(full); !got.Equal(full) {
		t.Fatalf("full decision expected %s, got %s", full, got)
	}
	if got := (Decision{Kind: DecisionZero}).AmountOwed(full); !got.IsZero() {
		t.Fatalf("zero decision expected 0, got %s", got)
	}
	explicit := Decision{Kind: DecisionExplicit, Amount: decimal.NewFromInt(20)}
	if got := explicit.AmountOwed(full); !got.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("explicit decision expected 20, got %s", got)
	}
	// Amounts above the full amount are taken at face value (tips, fees).
	over := Decision{Kind: DecisionExplicit, Amount: decimal.NewFromInt(50)}
	if got := over.AmountOwed(full); !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("over-full decision expected 50, got %s", got)
	}
}
