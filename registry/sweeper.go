package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmattosr/electioncore/config"
	"github.com/dmattosr/electioncore/log"
)

// Sweeper periodically moves elections whose end_time has passed from
// the active map to the finished map. Its Start/Stop lifecycle matches
// the other background workers'.
type Sweeper struct {
	reg      *Registry
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper returns a sweeper over reg. interval defaults to
// config.RegistrySweepInterval when zero.
func NewSweeper(reg *Registry, interval time.Duration) (*Sweeper, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if interval <= 0 {
		interval = config.RegistrySweepInterval
	}
	return &Sweeper{reg: reg, interval: interval}, nil
}

// Start begins the sweep loop under ctx. It is safe to call once.
func (s *Sweeper) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		log.Infow("registry sweeper started")
		for {
			select {
			case <-s.ctx.Done():
				log.Infow("registry sweeper stopped")
				return
			case <-ticker.C:
				if moved := s.reg.Sweep(time.Now()); moved > 0 {
					log.Infow("elections finished", "count", moved)
				}
			}
		}
	}()
	return nil
}

// Stop cancels the sweep loop and waits for it to exit. It is safe to
// call multiple times.
func (s *Sweeper) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}
