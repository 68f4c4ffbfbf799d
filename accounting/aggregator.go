package accounting

import (
	"context"
	"sync"
	"time"

	"chatvault/config"
	"chatvault/db/repository"
	"chatvault/db/service"
	"chatvault/logger"
)

// Aggregator is the read path over the activity ledger plus the
// rate-limited earn path over balances. All window boundaries are UTC.
type Aggregator struct {
	ledger   *service.LedgerService
	balances *service.BalanceService
	locks    *keyedLocks

	awardMu   sync.Mutex
	lastAward map[string]time.Time

	earnAmount float64
	cooldown   time.Duration
	window     time.Duration
	topN       int

	now func() time.Time
}

// NewAggregator creates the accounting read/earn surface.
func NewAggregator(cfg *config.Config, ledger *service.LedgerService, balances *service.BalanceService) *Aggregator {
	return &Aggregator{
		ledger:     ledger,
		balances:   balances,
		locks:      newKeyedLocks(),
		lastAward:  make(map[string]time.Time),
		earnAmount: cfg.Points.EarnAmount,
		cooldown:   cfg.EarnCooldown(),
		window:     cfg.Window(),
		topN:       cfg.Options.LeaderboardSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CountInWindow returns a user's archived attachment count in [start, end).
func (a *Aggregator) CountInWindow(userID string, start, end time.Time) (int, error) {
	return a.ledger.CountInWindow(userID, start, end)
}

// RollingCount returns a user's count over the configured rolling window
// ending now.
func (a *Aggregator) RollingCount(userID string) (int, error) {
	end := a.now()
	return a.ledger.CountInWindow(userID, end.Add(-a.window), end)
}

// Leaderboard returns the top users over the configured rolling window.
func (a *Aggregator) Leaderboard() ([]repository.UserCount, error) {
	end := a.now()
	return a.ledger.TopNInWindow(end.Add(-a.window), end, a.topN)
}

// Balance returns a user's current point balance.
func (a *Aggregator) Balance(userID string) (float64, error) {
	return a.balances.Get(userID)
}

// Award grants the configured earn amount to a user unless the user earned
// within the cooldown window. Returns whether points were applied. The
// cooldown check is per user; there is no global lock.
func (a *Aggregator) Award(ctx context.Context, userID string) (bool, error) {
	unlock := a.locks.Lock(userID)
	defer unlock()

	now := a.now()
	if last, ok := a.lastAwardAt(userID); ok && now.Sub(last) < a.cooldown {
		return false, nil
	}

	if _, err := a.balances.Add(ctx, userID, a.earnAmount); err != nil {
		return false, err
	}
	a.setLastAward(userID, now)

	logger.Logger.Debug().Str("user", userID).Float64("amount", a.earnAmount).Msg("points awarded")
	return true, nil
}

func (a *Aggregator) lastAwardAt(userID string) (time.Time, bool) {
	a.awardMu.Lock()
	defer a.awardMu.Unlock()
	last, ok := a.lastAward[userID]
	return last, ok
}

func (a *Aggregator) setLastAward(userID string, t time.Time) {
	a.awardMu.Lock()
	defer a.awardMu.Unlock()
	a.lastAward[userID] = t
}

// userLock exposes the per-user serialization to the decay engine so earn
// and decay never interleave on one user.
func (a *Aggregator) userLock(userID string) func() {
	return a.locks.Lock(userID)
}
