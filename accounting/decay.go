package accounting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatvault/config"
	"chatvault/db/service"
	"chatvault/logger"
)

type decayState int

const (
	decayIdle decayState = iota
	decayRunning
)

// DecayEngine ages every balance on a fixed interval:
// points' = max(0, points - amount). A pass holds the same per-user locks
// as the earn path, so an increment lands entirely before or entirely
// after the pass touches that user.
type DecayEngine struct {
	balances   *service.BalanceService
	aggregator *Aggregator
	interval   time.Duration
	amount     float64

	mu    sync.Mutex
	state decayState
	stop  chan struct{}
	done  sync.WaitGroup
}

// NewDecayEngine creates a decay engine over the same balances the
// aggregator awards into.
func NewDecayEngine(cfg *config.Config, balances *service.BalanceService, aggregator *Aggregator) *DecayEngine {
	return &DecayEngine{
		balances:   balances,
		aggregator: aggregator,
		interval:   cfg.DecayInterval(),
		amount:     cfg.Points.DecayAmount,
	}
}

// Start launches the periodic decay loop. A zero decay amount or interval
// disables the engine.
func (e *DecayEngine) Start(ctx context.Context) {
	if e.interval <= 0 || e.amount <= 0 {
		logger.Logger.Info().Msg("decay disabled")
		return
	}

	e.mu.Lock()
	if e.stop != nil {
		e.mu.Unlock()
		return
	}
	e.stop = make(chan struct{})
	stop := e.stop
	e.mu.Unlock()

	e.done.Add(1)
	go func() {
		defer e.done.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := e.RunPass(ctx); err != nil {
					logger.Logger.Error().Err(err).Msg("decay pass failed")
				}
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (e *DecayEngine) Stop() {
	e.mu.Lock()
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	e.mu.Unlock()
	e.done.Wait()
}

// RunPass applies one decay pass over all known balances. Only one pass
// runs at a time; an overlapping call is rejected.
func (e *DecayEngine) RunPass(ctx context.Context) error {
	e.mu.Lock()
	if e.state == decayRunning {
		e.mu.Unlock()
		return fmt.Errorf("decay pass already running")
	}
	e.state = decayRunning
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.state = decayIdle
		e.mu.Unlock()
	}()

	balances, err := e.balances.All()
	if err != nil {
		return fmt.Errorf("listing balances: %w", err)
	}

	start := time.Now()
	for _, balance := range balances {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.decayUser(ctx, balance.UserID); err != nil {
			return fmt.Errorf("decaying %s: %w", balance.UserID, err)
		}
	}

	logger.Logger.Info().
		Int("users", len(balances)).
		Dur("took", time.Since(start)).
		Msg("decay pass complete")
	return nil
}

func (e *DecayEngine) decayUser(ctx context.Context, userID string) error {
	unlock := e.aggregator.userLock(userID)
	defer unlock()

	_, err := e.balances.Decay(ctx, userID, e.amount)
	return err
}
