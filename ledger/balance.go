// Package ledger computes balances and runs the click accrual state
// machine. Balance math is pure: it reads an account snapshot and
// returns numbers, nothing else.
package ledger

import "interest-bank-bot/model"

// Engine derives interest figures from account snapshots.
//
// Interest is deliberately not compounded: it is always the current
// principal times the rate times the total click count, recomputed
// fresh on every query. Changing the principal retroactively changes
// the implied interest of past clicks.
type Engine struct {
	Rate float64 // interest per click as a fraction of principal
}

// InterestPerClick is the interest one confirmed click earns at the
// current principal.
func (e Engine) InterestPerClick(deposited float64) float64 {
	return deposited * e.Rate
}

// AccruedIncome is the total interest implied by clicks confirmed so
// far against the current principal.
func (e Engine) AccruedIncome(deposited float64, clicks int64) float64 {
	return float64(clicks) * e.InterestPerClick(deposited)
}

// AvailableBalance is principal plus accrued interest, the ceiling
// withdrawals and transfers are validated against.
func (e Engine) AvailableBalance(acct *model.Account) float64 {
	return acct.DepositedAmount + e.AccruedIncome(acct.DepositedAmount, acct.ClickCount)
}

// CanAfford reports whether amount fits inside the available balance.
// The comparison is exact; there is no epsilon tolerance.
func (e Engine) CanAfford(acct *model.Account, amount float64) bool {
	return amount <= e.AvailableBalance(acct)
}
