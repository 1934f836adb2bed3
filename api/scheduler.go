/*
scheduler.go - Background balance verifier

PURPOSE:
  Periodically replays every account's audit trail and compares the
  closing balance with the independently computed net balance. A mismatch
  means a defect in the ledger, never a user error, so it is logged at
  error level with the failing dimension.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Keeps the last few runs in memory for GET /api/verification/runs
  - Each account is read in its own consistent snapshot

USAGE:
  verifier := NewBalanceVerifier(svc, time.Hour, log)
  verifier.Start()
  // ... later
  verifier.Stop()

SEE ALSO:
  - handlers.go: VerifyAccount (on-demand, one account)
  - accounts/queries.go: VerifyAll
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ArasuRever/aurum-ledger/accounts"
	"github.com/ArasuRever/aurum-ledger/ledger"
	"github.com/ArasuRever/aurum-ledger/logger"
)

const keepRuns = 20

// VerificationRun is one sweep over every account.
type VerificationRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Accounts   int
	Mismatches []accounts.Verification
	Err        error
}

func (r VerificationRun) dto() VerificationRunDTO {
	dto := VerificationRunDTO{
		ID:         r.ID,
		StartedAt:  formatTime(r.StartedAt),
		FinishedAt: formatTime(r.FinishedAt),
		Accounts:   r.Accounts,
		Mismatches: make([]VerificationDTO, len(r.Mismatches)),
	}
	for i, m := range r.Mismatches {
		dto.Mismatches[i] = toVerificationDTO(m)
	}
	if r.Err != nil {
		dto.Error = r.Err.Error()
	}
	return dto
}

// BalanceVerifier handles scheduled trail replays.
type BalanceVerifier struct {
	Service       *accounts.Service
	CheckInterval time.Duration
	Enabled       bool

	log    *logger.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runsMu sync.Mutex
	runs   []VerificationRun
}

// NewBalanceVerifier creates a verifier. A zero interval disables it.
func NewBalanceVerifier(svc *accounts.Service, interval time.Duration, log *logger.Logger) *BalanceVerifier {
	if log == nil {
		log = logger.Default()
	}
	return &BalanceVerifier{
		Service:       svc,
		CheckInterval: interval,
		Enabled:       interval > 0,
		log:           log.WithComponent("verifier"),
	}
}

// Start begins the scheduler.
func (bv *BalanceVerifier) Start() {
	bv.mu.Lock()
	defer bv.mu.Unlock()

	if !bv.Enabled {
		bv.log.Infow("balance verifier disabled")
		return
	}
	if bv.ticker != nil {
		return
	}

	bv.ticker = time.NewTicker(bv.CheckInterval)
	bv.stop = make(chan struct{})
	bv.wg.Add(1)

	go bv.run(bv.ticker, bv.stop)

	bv.log.Infow("balance verifier started", "interval", bv.CheckInterval.String())
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (bv *BalanceVerifier) Stop() {
	bv.mu.Lock()
	defer bv.mu.Unlock()

	if bv.ticker != nil {
		bv.ticker.Stop()
		close(bv.stop)
		bv.wg.Wait()
		bv.ticker = nil
		bv.log.Infow("balance verifier stopped")
	}
}

func (bv *BalanceVerifier) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer bv.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	bv.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			bv.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow verifies every account and records the run.
func (bv *BalanceVerifier) RunNow(ctx context.Context) VerificationRun {
	run := VerificationRun{
		ID:        fmt.Sprintf("run-%d", time.Now().UnixNano()),
		StartedAt: time.Now().UTC(),
	}

	results, err := bv.Service.VerifyAll(ctx)
	run.Accounts = len(results)
	run.Err = err
	for _, v := range results {
		if !v.OK() {
			run.Mismatches = append(run.Mismatches, v)
		}
	}
	run.FinishedAt = time.Now().UTC()

	log := bv.log.WithContext(ctx).With("run_id", run.ID, "accounts", run.Accounts)
	switch {
	case err != nil:
		log.Errorw("balance verification aborted", "error", err)
	case len(run.Mismatches) > 0:
		for _, m := range run.Mismatches {
			dim, _ := ledger.DimensionOf(m.Err)
			log.Errorw("audit trail does not match net balance",
				"account_id", m.AccountID, "dimension", dim, "error", m.Err)
		}
	default:
		log.Infow("balance verification passed",
			"duration_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds())
	}

	bv.record(run)
	return run
}

func (bv *BalanceVerifier) record(run VerificationRun) {
	bv.runsMu.Lock()
	defer bv.runsMu.Unlock()
	bv.runs = append(bv.runs, run)
	if len(bv.runs) > keepRuns {
		bv.runs = bv.runs[len(bv.runs)-keepRuns:]
	}
}

// Runs returns the retained runs, newest first.
func (bv *BalanceVerifier) Runs() []VerificationRun {
	bv.runsMu.Lock()
	defer bv.runsMu.Unlock()
	out := make([]VerificationRun, len(bv.runs))
	for i, r := range bv.runs {
		out[len(bv.runs)-1-i] = r
	}
	return out
}
