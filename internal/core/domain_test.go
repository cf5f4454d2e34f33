package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDateMonthKey(t *testing.T) {
	cases := []struct {
		d    Date
		want Month
	}{
		{NewDate(2024, 3, 5), "2024-03"},
		{NewDate(2024, 12, 31), "2024-12"},
		{NewDate(2025, 1, 1), "2025-01"},
	}
	for i, tc := range cases {
		if got := tc.d.MonthKey(); got != tc.want {
			t.Fatalf("case %d expected %q, got %q", i, tc.want, got)
		}
	}
}

func TestParseMonth(t *testing.T) {
	m, err := ParseMonth("2024-03")
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if m != Month("2024-03") {
		t.Fatalf("expected 2024-03, got %q", m)
	}
	for _, bad := range []string{"", "2024", "2024-3", "03-2024", "2024-13"} {
		if _, err := ParseMonth(bad); err == nil {
			t.Fatalf("%q expected error", bad)
		}
	}
}

func TestMonthFirst(t *testing.T) {
	m := Month("2024-03")
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := m.First(); !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestValidatePhone(t *testing.T) {
	cases := []struct {
		phone string
		ok    bool
	}{
		{"+15551234567", true},
		{"15551234567", true},
		{"1234567", true},
		{"+1 555", false},
		{"555-1234", false},
		{"123456", false}, // too short
		{"", false},
		{"+123456789012345678", false}, // too long
	}
	for _, tc := range cases {
		err := ValidatePhone(tc.phone)
		if tc.ok && err != nil {
			t.Fatalf("%q expected ok, got %v", tc.phone, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%q expected error", tc.phone)
		}
	}
}

func TestBudgetCategoryValidate(t *testing.T) {
	good := BudgetCategory{Name: "Food", MonthlyLimit: decimal.NewFromInt(200)}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	zeroLimit := BudgetCategory{Name: "Misc"}
	if err := zeroLimit.Validate(); err != nil {
		t.Fatalf("zero limit should be valid, got %v", err)
	}

	bads := []BudgetCategory{
		{Name: "", MonthlyLimit: decimal.NewFromInt(1)},
		{Name: "   ", MonthlyLimit: decimal.NewFromInt(1)},
		{Name: "Food", MonthlyLimit: decimal.NewFromInt(-1)},
	}
	for i, c := range bads {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestPendingTransactionValidate(t *testing.T) {
	good := PendingTransaction{
		ExternalID: "tx_1",
		Merchant:   "Corner Cafe",
		Amount:     decimal.NewFromFloat(12.50),
		PostedOn:   NewDate(2024, 3, 5),
		State:      StatePending,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []PendingTransaction{
		{ExternalID: "", PostedOn: NewDate(2024, 3, 5), State: StatePending},
		{ExternalID: "tx_1", PostedOn: Date{}, State: StatePending},
		{ExternalID: "tx_1", PostedOn: NewDate(2024, 3, 5), State: ReviewState("resolved")},
	}
	for i, p := range bads {
		if err := p.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestUserLinked(t *testing.T) {
	if (User{}).Linked() {
		t.Fatalf("user without access token should not be linked")
	}
	if !(User{AccessToken: "access-sandbox-1"}).Linked() {
		t.Fatalf("user with access token should be linked")
	}
}
