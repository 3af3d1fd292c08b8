package security

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	apperrors "paper-trader/internal/errors"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9&-]{1,20}$`)

// Upper bounds on operator input.
var (
	maxPrice    = decimal.NewFromInt(1_000_000_000)
	maxQuantity = int64(10_000_000)
)

// NormalizeSymbol upper-cases symbol and strips everything NSE symbols
// cannot contain.
func NormalizeSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))
	var sb strings.Builder
	for _, r := range symbol {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&' || r == '-' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// ValidateSymbol checks an NSE trading symbol.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return apperrors.NewValidationError("symbol", symbol, "symbol cannot be empty")
	}
	if !symbolPattern.MatchString(symbol) {
		return apperrors.NewValidationError("symbol", symbol, "invalid symbol format")
	}
	return nil
}

// ValidateQuantity checks a requested quantity. Zero means unset.
func ValidateQuantity(qty int64) error {
	if qty < 0 {
		return apperrors.NewValidationError("quantity", qty, "quantity cannot be negative")
	}
	if qty > maxQuantity {
		return apperrors.NewValidationError("quantity", qty, "quantity exceeds maximum allowed")
	}
	return nil
}

// ValidatePrice checks a price; zero means "use the current market price".
func ValidatePrice(field string, price decimal.Decimal) error {
	if price.IsNegative() {
		return apperrors.NewValidationError(field, price.String(), "cannot be negative")
	}
	if price.GreaterThan(maxPrice) {
		return apperrors.NewValidationError(field, price.String(), "exceeds maximum allowed")
	}
	return nil
}

// ValidateConfidence checks a confidence score.
func ValidateConfidence(c float64) error {
	if c < 0 || c > 100 {
		return apperrors.NewValidationError("confidence", c, "must be between 0 and 100")
	}
	return nil
}

// MaskCredential masks a credential value for display.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}
