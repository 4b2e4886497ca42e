package engine

import (
	"log"
	"time"

	"github.com/lazypower/persona/internal/store"
)

// Engine schedules the forgetting pipeline against a shared store. Each
// job checks its own eligibility and commits atomically, so at-least-once
// scheduling is safe.
type Engine struct {
	DB       *store.DB
	Decay    DecayOptions
	Compress CompressOptions
	stopCh   chan struct{}
}

// New creates an Engine with the given job options.
func New(db *store.DB, decay DecayOptions, compress CompressOptions) *Engine {
	return &Engine{
		DB:       db,
		Decay:    decay,
		Compress: compress,
		stopCh:   make(chan struct{}),
	}
}

// StartJobTimer runs decay once at startup and then daily. Compression
// stays operator-triggered; it is lossy and should not run unattended by
// default.
func (e *Engine) StartJobTimer() {
	e.runDecayOnce()

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.runDecayOnce()
			case <-e.stopCh:
				return
			}
		}
	}()
}

func (e *Engine) runDecayOnce() {
	report, err := RunDecay(e.DB, e.Decay)
	if err != nil {
		log.Printf("decay error: %v", err)
		return
	}
	if report.Updated > 0 {
		log.Printf("decay: updated %d of %d memories", report.Updated, report.Scanned)
	}
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	close(e.stopCh)
}
