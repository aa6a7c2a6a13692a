// Package mining runs the background worker that seals pending votes
// into blocks: it sweeps the registry's active elections, and for each
// with a non-empty mempool, performs one proof-of-work search and
// seal attempt. Start launches the sweep loop under a caller context;
// Stop cancels it and waits for the loop to exit.
package mining

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmattosr/electioncore/config"
	"github.com/dmattosr/electioncore/ledger"
	"github.com/dmattosr/electioncore/log"
	"github.com/dmattosr/electioncore/registry"
)

// Worker sweeps a registry's active elections and seals one block per
// chain per sweep, yielding between sweeps so ingress can make
// progress.
type Worker struct {
	reg   *registry.Registry
	yield time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a worker over reg. yield defaults to config.MinerYield
// when zero.
func New(reg *registry.Registry, yield time.Duration) (*Worker, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if yield <= 0 {
		yield = config.MinerYield
	}
	return &Worker{reg: reg, yield: yield}, nil
}

// Start begins the sweep loop under ctx. It is safe to call once.
func (w *Worker) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		log.Infow("mining worker started")
		for {
			select {
			case <-w.ctx.Done():
				log.Infow("mining worker stopped")
				return
			default:
			}

			w.sweepOnce()

			select {
			case <-time.After(w.yield):
			case <-w.ctx.Done():
				log.Infow("mining worker stopped")
				return
			}
		}
	}()
	return nil
}

// Stop cancels the sweep loop and waits for it to exit. It is safe to
// call multiple times.
func (w *Worker) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return nil
}

// sweepOnce attempts at most one seal per active chain with a
// non-empty mempool, so a busy election cannot starve the others. A
// per-chain failure is logged and does not stop the sweep over the
// remaining chains.
func (w *Worker) sweepOnce() {
	for _, id := range w.reg.ActiveIDs() {
		chain, err := w.reg.ActiveChain(id)
		if err != nil {
			continue
		}
		if chain.PendingLen() == 0 {
			continue
		}
		if err := sealOne(chain); err != nil {
			log.Errorw(fmt.Errorf("election %s: %w", id.Hex(), err), "mining: failed to seal block")
		}
	}
}

func sealOne(chain *ledger.Chain) error {
	prevProof, prevHash, err := chain.TipProofAndHash()
	if err != nil {
		return err
	}
	proof, err := ledger.MineProof(prevProof, prevHash, config.Difficulty)
	if err != nil {
		return err
	}
	_, err = chain.SealBlock(proof, time.Now())
	return err
}
