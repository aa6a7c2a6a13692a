// Package registry implements the ElectionRegistry: the mapping from
// election id to chain, and the active/finished lifecycle a chain
// moves through once its end_time passes.
package registry

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dmattosr/electioncore/coreerr"
	"github.com/dmattosr/electioncore/ledger"
)

// ElectionID is a cryptographically random 256-bit identifier.
type ElectionID = common.Hash

// NewElectionID draws a fresh random 256-bit identifier.
func NewElectionID() (ElectionID, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ElectionID{}, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	return common.BytesToHash(b[:]), nil
}

// maxCreateAttempts bounds the retry loop against an election-id
// collision; with a 256-bit space a single collision is already
// astronomically unlikely, so this only guards against a degenerate
// RNG.
const maxCreateAttempts = 8

// Registry holds every election's chain, split into active and
// finished maps. Reads may proceed concurrently; create, merge and
// sweep serialize on a single registry lock. Sealing a block does not
// take this lock: ledger.Chain.SealBlock locks only the chain it
// appends to.
type Registry struct {
	mu       sync.RWMutex
	active   map[ElectionID]*ledger.Chain
	finished map[ElectionID]*ledger.Chain
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		active:   make(map[ElectionID]*ledger.Chain),
		finished: make(map[ElectionID]*ledger.Chain),
	}
}

// Create opens a new election's chain from its genesis block, drawing
// a fresh id and rejecting it on collision with an existing election.
func (r *Registry) Create(genesis *ledger.GenesisBlock) (ElectionID, *ledger.Chain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, err := NewElectionID()
		if err != nil {
			return ElectionID{}, nil, err
		}
		if _, exists := r.active[id]; exists {
			continue
		}
		if _, exists := r.finished[id]; exists {
			continue
		}
		chain := ledger.NewChain(genesis)
		r.active[id] = chain
		return id, chain, nil
	}
	return ElectionID{}, nil, fmt.Errorf("%w: could not draw a collision-free election id", coreerr.ErrIO)
}

// ActiveChain looks up a currently active election's chain.
func (r *Registry) ActiveChain(id ElectionID) (*ledger.Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.active[id]
	if !ok {
		return nil, fmt.Errorf("%w: election %s is not active", coreerr.ErrNotFound, id.Hex())
	}
	return c, nil
}

// FinishedChain looks up a finished election's chain, for tallying.
func (r *Registry) FinishedChain(id ElectionID) (*ledger.Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.finished[id]
	if !ok {
		return nil, fmt.Errorf("%w: election %s is not finished", coreerr.ErrNotFound, id.Hex())
	}
	return c, nil
}

// ActiveIDs returns a snapshot of the currently active election ids,
// safe to range over without holding the registry lock (the mining
// worker uses this so it never holds the registry lock across a PoW
// search).
func (r *Registry) ActiveIDs() []ElectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ElectionID, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// Sweep moves every active election whose end_time has passed into
// the finished map, returning how many were moved.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	moved := 0
	for id, chain := range r.active {
		if now.Unix() > chain.Genesis().EndTime {
			r.finished[id] = chain
			delete(r.active, id)
			moved++
		}
	}
	return moved
}

// MergeChain reconciles an active election's chain against a
// candidate received from a peer, adopting the result of the
// longest-valid-chain rule.
func (r *Registry) MergeChain(id ElectionID, candidate *ledger.Chain) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	self, ok := r.active[id]
	if !ok {
		return fmt.Errorf("%w: election %s is not active", coreerr.ErrNotFound, id.Hex())
	}
	merged, err := ledger.Merge(self, []*ledger.Chain{candidate})
	if err != nil {
		return err
	}
	r.active[id] = merged
	return nil
}
