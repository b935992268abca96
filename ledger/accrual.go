package ledger

import (
	"sync"
	"time"

	"interest-bank-bot/model"
)

// Accrual is the two-step click state machine. Step one (Click) only
// opens a confirmation window; step two (ConfirmAccrual) mutates the
// account's counters. The two separate cool-downs absorb rapid double
// taps from the chat UI; they are not a security boundary.
//
// Timing state is kept per user, so one user's clicking never throttles
// or credits anyone else.
type Accrual struct {
	Engine          Engine
	ClickCooldown   time.Duration
	ConfirmCooldown time.Duration
	TargetClicks    int64

	mu    sync.Mutex
	users map[int64]*accrualTimes

	now func() time.Time // stubbed in tests
}

type accrualTimes struct {
	lastClick  time.Time
	lastUpdate time.Time
}

// Progress reports the state of the accrual economy after a confirmed
// click, for display back to the user.
type Progress struct {
	Clicks           int64
	Target           int64
	Percent          float64
	InterestPerClick float64
	Deposited        float64
	IncomeToday      float64
}

func NewAccrual(engine Engine, clickCooldown, confirmCooldown time.Duration, targetClicks int64) *Accrual {
	return &Accrual{
		Engine:          engine,
		ClickCooldown:   clickCooldown,
		ConfirmCooldown: confirmCooldown,
		TargetClicks:    targetClicks,
		users:           make(map[int64]*accrualTimes),
		now:             time.Now,
	}
}

func (a *Accrual) times(userID int64) *accrualTimes {
	t, ok := a.users[userID]
	if !ok {
		t = &accrualTimes{}
		a.users[userID] = t
	}
	return t
}

// Click accepts an accrual attempt if the user's click cool-down has
// elapsed. It records the click time but mutates no counters; the
// caller should prompt for confirmation on acceptance.
func (a *Accrual) Click(userID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.times(userID)
	now := a.now()
	if now.Sub(t.lastClick) < a.ClickCooldown {
		return false
	}
	t.lastClick = now
	return true
}

// ConfirmAccrual credits one click to the account if the user's confirm
// cool-down has elapsed: the click count goes up by one and today's
// income grows by the interest one click earns at the current
// principal. The caller owns persisting the mutated account.
func (a *Accrual) ConfirmAccrual(userID int64, acct *model.Account) (Progress, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.times(userID)
	now := a.now()
	if now.Sub(t.lastUpdate) < a.ConfirmCooldown {
		return Progress{}, false
	}
	t.lastUpdate = now

	perClick := a.Engine.InterestPerClick(acct.DepositedAmount)
	acct.ClickCount++
	acct.IncomeToday += perClick

	return Progress{
		Clicks:           acct.ClickCount,
		Target:           a.TargetClicks,
		Percent:          float64(acct.ClickCount) / float64(a.TargetClicks) * 100,
		InterestPerClick: perClick,
		Deposited:        acct.DepositedAmount,
		IncomeToday:      acct.IncomeToday,
	}, true
}
