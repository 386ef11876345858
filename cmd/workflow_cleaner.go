package main

import (
	"context"
	"time"

	"bountyWeb/internal/repositories"
)

const (
	workflowCleanerInterval = 5 * time.Minute
	workflowCleanerTimeout  = 1 * time.Minute
	journalRetention        = 30 * 24 * time.Hour
)

// runWorkflowCleaner evicts idle controllers, sweeps expired in-memory markers
// and prunes old journal rows until ctx is done.
func (app *application) runWorkflowCleaner(ctx context.Context) {
	ticker := time.NewTicker(workflowCleanerInterval)
	defer ticker.Stop()

	runOnce := func() {
		now := time.Now()
		if n := app.registry.EvictIdle(now); n > 0 {
			app.infoLog.Printf("workflow cleaner: evicted %d idle controllers", n)
		}
		if mem, ok := app.markers.(*repositories.MemoryMarkerStore); ok {
			if n := mem.Sweep(now); n > 0 {
				app.infoLog.Printf("workflow cleaner: swept %d expired markers", n)
			}
		}

		runCtx, cancel := context.WithTimeout(ctx, workflowCleanerTimeout)
		pruned, err := app.resumptions.DeleteBefore(runCtx, now.Add(-journalRetention))
		cancel()
		if err != nil {
			app.errorLog.Printf("workflow cleaner: failed to prune resumption journal: %v", err)
		} else if pruned > 0 {
			app.infoLog.Printf("workflow cleaner: pruned %d journal rows", pruned)
		}
	}

	runOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
