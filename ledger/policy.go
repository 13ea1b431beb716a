package ledger

import "github.com/shopspring/decimal"

// =============================================================================
// POLICY CONSTANTS - Fixed business values, not runtime configuration
// =============================================================================

// These are product policy, deliberately compiled in rather than read from
// config so tests can assert on them directly.
var (
	// MonthlyCasualAccrual is credited to every active employee each month.
	MonthlyCasualAccrual = decimal.NewFromInt(1)

	// MonthlySickAccrual is credited to every active employee each month.
	MonthlySickAccrual = decimal.RequireFromString("0.5")

	// MaxCappedBalance is the at-rest ceiling for casual and sick balances.
	MaxCappedBalance = decimal.NewFromInt(99)

	// Granularity is the half-day unit; every delta must be a multiple.
	Granularity = decimal.RequireFromString("0.5")

	// MaxAdjustmentMagnitude rejects fat-fingered three-digit entries
	// before any balance math happens.
	MaxAdjustmentMagnitude = decimal.NewFromInt(100)
)
