package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount     = errors.New("amount must not be negative")
	ErrSubMinorUnitAmount = errors.New("amount has more precision than the currency's minor unit")
	ErrMissingCurrency    = errors.New("currency is required")
)

// zero-decimal and three-decimal currencies as the payment processor counts them;
// everything else has two decimal places.
var currencyExponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "JPY": 0, "KMF": 0, "KRW": 0, "MGA": 0,
	"PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "JOD": 3, "KWD": 3, "OMR": 3, "TND": 3,
}

// CurrencyExponent returns the number of decimal places in the currency's minor unit.
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// ToMinorUnits converts a major-unit amount into the smallest currency unit
// (1500.00 USD -> 150000, 12.50 INR -> 1250, 1500 JPY -> 1500).
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if strings.TrimSpace(currency) == "" {
		return 0, ErrMissingCurrency
	}
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	scaled := amount.Shift(CurrencyExponent(currency))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%s %s: %w", amount.String(), strings.ToUpper(currency), ErrSubMinorUnitAmount)
	}
	return scaled.IntPart(), nil
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -CurrencyExponent(currency))
}
