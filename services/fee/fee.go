// Package fee computes withdrawal fees.
package fee

import "github.com/shopspring/decimal"

var (
	tierThreshold = decimal.NewFromInt(1000)
	lowRate       = decimal.RequireFromString("0.05")
	highRate      = decimal.RequireFromString("0.10")
	minFee        = decimal.NewFromInt(5)
	maxLowFee     = decimal.NewFromInt(50)
)

// Calculate returns the fee charged on a withdrawal of amount.
// Amounts up to 1000 pay 5% clamped to [5, 50]; larger amounts pay a flat 10%.
func Calculate(amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}

	if amount.GreaterThan(tierThreshold) {
		return amount.Mul(highRate).Round(2)
	}

	fee := amount.Mul(lowRate)
	if fee.LessThan(minFee) {
		fee = minFee
	}
	if fee.GreaterThan(maxLowFee) {
		fee = maxLowFee
	}
	return fee.Round(2)
}

// Net is the amount paid out after the fee.
func Net(amount decimal.Decimal) decimal.Decimal {
	return amount.Sub(Calculate(amount))
}
