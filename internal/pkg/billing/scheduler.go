package billing

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/shoplium/shoplium/app/models"
	"github.com/shoplium/shoplium/internal/pkg/env"
)

const (
	defaultSweepInterval  = time.Hour
	sweepPageSize         = 100
	perRecordSweepTimeout = 30 * time.Second
)

// Scheduler periodically applies deferred plan transitions whose start
// date has arrived. The sweep is the safety net behind webhook-driven
// updates: it also re-derives identity and store state, so a propagation
// that failed during ingestion heals on the next pass.
type Scheduler struct {
	ledger     Ledger
	propagator *Propagator

	interval time.Duration
	ticker   *time.Ticker
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool

	now func() time.Time
}

// NewScheduler builds a sweep scheduler. The interval comes from
// RECONCILE_INTERVAL_MINUTES, defaulting to hourly.
func NewScheduler(ledger Ledger, propagator *Propagator) *Scheduler {
	interval := defaultSweepInterval
	if raw := env.GetEnv("RECONCILE_INTERVAL_MINUTES", ""); raw != "" {
		if mins, err := strconv.Atoi(raw); err == nil && mins > 0 {
			interval = time.Duration(mins) * time.Minute
		}
	}
	return &Scheduler{
		ledger:     ledger,
		propagator: propagator,
		interval:   interval,
		now:        time.Now,
	}
}

// Start launches the background sweep loop. Safe to call more than once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.stopCh = make(chan struct{})
	s.running = true

	log.Infof("[Reconciler] starting, sweep interval %s", s.interval)
	s.ticker = time.NewTicker(s.interval)
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.ticker.Stop()
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	log.Info("[Reconciler] stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	// Catch up on transitions that matured while the process was down.
	s.RunSweep(context.Background())
	for {
		select {
		case <-s.ticker.C:
			s.RunSweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunSweep pages through all due transitions and applies them one by one.
// Each record gets its own timeout, and a failing record is logged and
// skipped so one broken user cannot stall the rest; it is retried on the
// next sweep. Returns how many transitions were applied.
func (s *Scheduler) RunSweep(ctx context.Context) int {
	now := s.now()
	applied := 0
	var afterID uint

	for {
		recs, err := s.ledger.ScanPendingDue(ctx, now, afterID, sweepPageSize)
		if err != nil {
			log.Errorf("[Reconciler] scan failed: %v", err)
			return applied
		}
		if len(recs) == 0 {
			break
		}

		for i := range recs {
			rec := recs[i]
			afterID = rec.ID

			recCtx, cancel := context.WithTimeout(ctx, perRecordSweepTimeout)
			err := s.applyTransition(recCtx, &rec)
			cancel()
			if err != nil {
				log.Errorf("[Reconciler] transition for user %s failed: %v", rec.UserID, err)
				continue
			}
			applied++
		}

		if len(recs) < sweepPageSize {
			break
		}
	}

	if applied > 0 {
		log.Infof("[Reconciler] sweep applied %d transition(s)", applied)
	}
	return applied
}

// applyTransition makes the pending plan effective: the ledger is written
// first, then identity and store flags are derived from it. Clearing the
// pending fields before propagating keeps the sweep idempotent; if
// propagation still fails the next sweep finds nothing pending, but any
// later event for the user re-derives the flags.
func (s *Scheduler) applyTransition(ctx context.Context, rec *models.UserSubscription) error {
	newPlan := *rec.PendingPlan

	rec.PlanName = newPlan
	rec.PlanPrice = 0
	rec.NextPaymentDate = nil
	rec.LastFourDigits = nil
	rec.ClearPending()

	if err := s.ledger.Upsert(ctx, rec); err != nil {
		return err
	}

	log.Infof("[Reconciler] user %s transitioned to plan %s", rec.UserID, newPlan)
	return s.propagator.SetPlan(ctx, rec.UserID, newPlan)
}
