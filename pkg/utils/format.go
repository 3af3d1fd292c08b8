// Package utils provides shared utility functions.
package utils

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatINR formats an amount in Indian grouping (12,34,567.89) with a rupee sign.
func FormatINR(amount decimal.Decimal) string {
	negative := amount.IsNegative()
	str := amount.Abs().StringFixed(2)
	intPart, decPart, _ := strings.Cut(str, ".")

	result := "₹" + groupIndian(intPart) + "." + decPart
	if negative {
		result = "-" + result
	}
	return result
}

// groupIndian inserts separators: last three digits, then pairs.
func groupIndian(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}
	return result
}

// FormatPnL formats P&L with an explicit sign for gains.
func FormatPnL(pnl decimal.Decimal) string {
	formatted := FormatINR(pnl)
	if pnl.IsPositive() {
		return "+" + formatted
	}
	return formatted
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value decimal.Decimal) string {
	sign := ""
	if value.IsPositive() {
		sign = "+"
	}
	return sign + value.StringFixed(2) + "%"
}

// FormatQuantity formats a share count with Indian grouping.
func FormatQuantity(qty int64) string {
	if qty < 0 {
		return "-" + groupIndian(strconv.FormatInt(-qty, 10))
	}
	return groupIndian(strconv.FormatInt(qty, 10))
}

// FormatCompact formats large amounts as lakhs or crores.
func FormatCompact(amount decimal.Decimal) string {
	abs := amount.Abs()
	switch {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(10_000_000)):
		return amount.Div(decimal.NewFromInt(10_000_000)).StringFixed(2) + " Cr"
	case abs.GreaterThanOrEqual(decimal.NewFromInt(100_000)):
		return amount.Div(decimal.NewFromInt(100_000)).StringFixed(2) + " L"
	}
	return FormatINR(amount)
}
