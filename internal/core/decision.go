package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	DecisionFull DecisionKind = iota
	DecisionZero
	DecisionExplicit
)

type DecisionKind int

func (k DecisionKind) String() string {
	switch k {
	case DecisionFull:
		return "full"
	case DecisionZero:
		return "zero"
	case DecisionExplicit:
		return "explicit"
	default:
		return "unknown"
	}
}

// Decision is a parsed review command for one pending transaction.
// Amount and Override are meaningful only for DecisionExplicit.
type Decision struct {
	Kind     DecisionKind
	Amount   decimal.Decimal
	Override string
}

// ParseDecision turns a short text reply into a Decision:
//
//	"full"       -> the user owes the entire transaction amount
//	"0"          -> the user owes nothing
//	"12.50"      -> the user owes exactly 12.50
//	"12.50,Food" -> as above, reassigned to the Food category
//
// Matching is case-insensitive and tolerant of a leading dollar sign on the
// amount. Anything else returns ErrBadCommand; the caller answers with help
// text and no state is touched. Override names are not validated here: the
// parser has no access to the user's categories.
func ParseDecision(text string) (Decision, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Decision{}, ErrBadCommand
	}
	if strings.EqualFold(s, "full") {
		return Decision{Kind: DecisionFull}, nil
	}
	if strings.TrimPrefix(s, "$") == "0" {
		return Decision{Kind: DecisionZero}, nil
	}

	amountPart := s
	override := ""
	if i := strings.Index(s, ","); i >= 0 {
		amountPart = s[:i]
		override = strings.TrimSpace(s[i+1:])
		if override == "" {
			return Decision{}, ErrBadCommand
		}
	}
	amount, err := ParseAmount(amountPart)
	if err != nil {
		return Decision{}, ErrBadCommand
	}
	return Decision{Kind: DecisionExplicit, Amount: amount, Override: override}, nil
}

// AmountOwed resolves the confirmed amount for a transaction with the given
// full amount.
func (d Decision) AmountOwed(fullAmount decimal.Decimal) decimal.Decimal {
	switch d.Kind {
	case DecisionFull:
		return fullAmount
	case DecisionZero:
		return decimal.Zero
	default:
		return d.Amount
	}
}
