package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.0", "1", true},
		{"1.23", "1.23", true},
		{"0.01", "0.01", true},
		{"0", "0", true},
		{" 2.50 ", "2.5", true},
		{"$12.50", "12.5", true},
		{".5", "0.5", true},
		{"-1", "", false},
		{"+1", "", false},
		{"1.234", "", false}, // more than two fraction digits
		{"abc", "", false},
		{"1.2.3", "", false},
		{"1,23", "", false}, // comma is the override separator, not a decimal point
		{"", "", false},
		{"$", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil {
				t.Fatalf("%q expected ok, got error %v", tc.in, err)
			}
			want, _ := decimal.NewFromString(tc.out)
			if !got.Equal(want) {
				t.Fatalf("%q expected %s, got %s", tc.in, want, got)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestParseStoredAmountAllowsNegatives(t *testing.T) {
	got, err := ParseStoredAmount("-42.50")
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if got.StringFixed(2) != "-42.50" {
		t.Fatalf("expected -42.50, got %s", got)
	}
	if _, err := ParseStoredAmount("nope"); err == nil {
		t.Fatalf("expected error for junk")
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
	}{
		{"12.5", "$12.50"},
		{"0", "$0.00"},
		{"1234.567", "$1234.57"},
		{"-3.2", "-$3.20"},
	}
	for _, tc := range cases {
		d, _ := decimal.NewFromString(tc.in)
		if got := FormatAmount(d); got != tc.out {
			t.Fatalf("%q expected %q, got %q", tc.in, tc.out, got)
		}
	}
}
