package storage

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dmattosr/electioncore/broadcast"
	"github.com/dmattosr/electioncore/coreerr"
	"github.com/dmattosr/electioncore/ledger"
	"github.com/dmattosr/electioncore/shamir"
)

// SaveChain persists the full state of one election's chain, overwriting
// whatever was previously stored under id.
func (s *Storage) SaveChain(id common.Hash, chain *ledger.Chain) error {
	_, err := s.setArtifact(chainPrefix, id.Bytes(), chain)
	return err
}

// LoadChain reconstructs a previously saved chain. It fails with
// coreerr.ErrNotFound if id has never been saved.
func (s *Storage) LoadChain(id common.Hash) (*ledger.Chain, error) {
	var chain ledger.Chain
	if err := s.getArtifact(chainPrefix, id.Bytes(), &chain); err != nil {
		return nil, err
	}
	return &chain, nil
}

// DeleteChain removes a saved chain, e.g. once an election is archived
// elsewhere.
func (s *Storage) DeleteChain(id common.Hash) error {
	return s.deleteArtifact(chainPrefix, id.Bytes())
}

// ListElectionIDs returns the ids of every chain currently persisted.
func (s *Storage) ListElectionIDs() ([]common.Hash, error) {
	keys, err := s.listKeys(chainPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]common.Hash, len(keys))
	for i, k := range keys {
		ids[i] = common.BytesToHash(k)
	}
	return ids, nil
}

// peerListKey is the single fixed key the peer list snapshot is stored
// under; there is only ever one snapshot per node.
var peerListKey = []byte("snapshot")

// SavePeers persists the current peer list snapshot.
func (s *Storage) SavePeers(peers []broadcast.PeerInfo) error {
	_, err := s.setArtifact(peerPrefix, peerListKey, peers)
	return err
}

// LoadPeers returns the last persisted peer list, or an empty slice if
// none has been saved yet.
func (s *Storage) LoadPeers() ([]broadcast.PeerInfo, error) {
	var peers []broadcast.PeerInfo
	if err := s.getArtifact(peerPrefix, peerListKey, &peers); err != nil {
		if errors.Is(err, coreerr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return peers, nil
}

// KeyMaterial is a trustee's durable record of an election's private
// key components: the raw private scalar, if this node holds the
// election outright, and/or its Shamir share if key generation was
// split among trustees.
type KeyMaterial struct {
	PrivateKey *big.Int      `json:"private_key,omitempty"`
	Share      *shamir.Share `json:"share,omitempty"`
}

// SaveKeyMaterial persists the key material an election's tally
// depends on.
func (s *Storage) SaveKeyMaterial(id common.Hash, km KeyMaterial) error {
	_, err := s.setArtifact(keyMaterialPrefix, id.Bytes(), km)
	return err
}

// LoadKeyMaterial retrieves the key material saved for id.
func (s *Storage) LoadKeyMaterial(id common.Hash) (KeyMaterial, error) {
	var km KeyMaterial
	if err := s.getArtifact(keyMaterialPrefix, id.Bytes(), &km); err != nil {
		return KeyMaterial{}, err
	}
	return km, nil
}

// pendingVoteRecord wraps a queued vote with the election it belongs
// to, since the queue prefix holds votes for every election at once.
type pendingVoteRecord struct {
	ElectionID common.Hash `json:"election_id"`
	Vote       ledger.Vote `json:"vote"`
}

// PushPendingVote durably queues a vote for later inclusion, in case
// the in-memory mempool is lost to a restart before a block seals it.
func (s *Storage) PushPendingVote(id common.Hash, v ledger.Vote) error {
	_, err := s.setArtifact(pendingVotePrefix, nil, pendingVoteRecord{ElectionID: id, Vote: v})
	return err
}

// NextPendingVote returns the first non-reserved queued vote in key
// order and marks it reserved, so a concurrent caller does not also
// pick it up. Queue keys are derived from a hash of the queued record,
// so this order is not the order in which votes were pushed. It
// fails with coreerr.ErrNotFound if the queue is empty.
func (s *Storage) NextPendingVote() (common.Hash, ledger.Vote, []byte, error) {
	keys, err := s.listKeys(pendingVotePrefix)
	if err != nil {
		return common.Hash{}, ledger.Vote{}, nil, err
	}
	for _, key := range keys {
		if s.isReserved(pendingVoteReservPrefix, key) {
			continue
		}
		var rec pendingVoteRecord
		if err := s.getArtifact(pendingVotePrefix, key, &rec); err != nil {
			continue
		}
		if err := s.setReservation(pendingVoteReservPrefix, key, time.Now()); err != nil {
			return common.Hash{}, ledger.Vote{}, nil, err
		}
		return rec.ElectionID, rec.Vote, key, nil
	}
	return common.Hash{}, ledger.Vote{}, nil, fmt.Errorf("%w: pending vote queue is empty", coreerr.ErrNotFound)
}

// MarkPendingVoteDone removes a queued vote and its reservation once it
// has been folded into a sealed block.
func (s *Storage) MarkPendingVoteDone(key []byte) error {
	if err := s.clearReservation(pendingVoteReservPrefix, key); err != nil {
		return err
	}
	return s.deleteArtifact(pendingVotePrefix, key)
}
