// Package worker runs the background loops: the ledger confirmation sweep
// (which also expires stale intents) and the webhook dispatch pass.
package worker

import (
	"context"
	"sync"
	"time"

	"z402-facilitator/internal/core/ports"

	"github.com/rs/zerolog"
)

type Worker struct {
	trackerSvc ports.TrackerService
	webhookSvc ports.WebhookService
	interval   time.Duration
	log        zerolog.Logger
}

func New(trackerSvc ports.TrackerService, webhookSvc ports.WebhookService, interval time.Duration, log zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		trackerSvc: trackerSvc,
		webhookSvc: webhookSvc,
		interval:   interval,
		log:        log,
	}
}

// Run blocks until ctx is cancelled, executing both passes every interval.
// The first pass runs immediately. A pass that overruns the interval simply
// delays the next tick; passes never overlap.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopped")
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

// pass runs the confirmation sweep and the webhook dispatch concurrently;
// they touch disjoint rows.
func (w *Worker) pass(ctx context.Context) {
	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := w.trackerSvc.Sweep(ctx); err != nil {
			w.log.Error().Err(err).Msg("confirmation sweep failed")
		}
	}()
	go func() {
		defer wg.Done()
		if err := w.webhookSvc.DispatchDue(ctx); err != nil {
			w.log.Error().Err(err).Msg("webhook dispatch failed")
		}
	}()
	wg.Wait()

	w.log.Debug().Dur("elapsed", time.Since(start)).Msg("worker pass complete")
}
