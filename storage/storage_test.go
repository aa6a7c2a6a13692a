package storage

import (
	"errors"
	"math/big"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/ethereum/go-ethereum/common"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/dmattosr/electioncore/broadcast"
	"github.com/dmattosr/electioncore/coreerr"
	"github.com/dmattosr/electioncore/elgamal"
	"github.com/dmattosr/electioncore/ledger"
	"github.com/dmattosr/electioncore/shamir"
)

func testStorage(t *testing.T) *Storage {
	return New(metadb.NewTest(t))
}

func testChain(c *qt.C) *ledger.Chain {
	sk, err := elgamal.KeyGen(24)
	c.Assert(err, qt.IsNil)
	start := time.Now()
	genesis, err := ledger.NewGenesisBlock("referendum", start, start.Add(time.Hour),
		sk.PublicKey, []string{"alice"}, []string{"yes", "no"})
	c.Assert(err, qt.IsNil)
	return ledger.NewChain(genesis)
}

func TestSaveLoadChainRoundTrip(t *testing.T) {
	c := qt.New(t)
	s := testStorage(t)
	chain := testChain(c)
	id := common.HexToHash("0x01")

	c.Assert(s.SaveChain(id, chain), qt.IsNil)

	restored, err := s.LoadChain(id)
	c.Assert(err, qt.IsNil)
	c.Assert(restored.Len(), qt.Equals, chain.Len())
	c.Assert(ledger.Validate(restored), qt.IsTrue)

	ids, err := s.ListElectionIDs()
	c.Assert(err, qt.IsNil)
	c.Assert(ids, qt.HasLen, 1)
	c.Assert(ids[0], qt.Equals, id)

	c.Assert(s.DeleteChain(id), qt.IsNil)
	_, err = s.LoadChain(id)
	c.Assert(errors.Is(err, coreerr.ErrNotFound), qt.IsTrue)
}

func TestLoadUnknownChainFails(t *testing.T) {
	c := qt.New(t)
	s := testStorage(t)
	_, err := s.LoadChain(common.HexToHash("0xff"))
	c.Assert(errors.Is(err, coreerr.ErrNotFound), qt.IsTrue)
}

func TestSavePeersRoundTrip(t *testing.T) {
	c := qt.New(t)
	s := testStorage(t)

	empty, err := s.LoadPeers()
	c.Assert(err, qt.IsNil)
	c.Assert(empty, qt.HasLen, 0)

	peers := []broadcast.PeerInfo{
		{IPAddress: "127.0.0.1", RepPort: 9000, SubPort: 9001},
		{IPAddress: "127.0.0.2", RepPort: 9000, SubPort: 9001},
	}
	c.Assert(s.SavePeers(peers), qt.IsNil)

	restored, err := s.LoadPeers()
	c.Assert(err, qt.IsNil)
	c.Assert(restored, qt.DeepEquals, peers)
}

func TestKeyMaterialRoundTrip(t *testing.T) {
	c := qt.New(t)
	s := testStorage(t)
	id := common.HexToHash("0x02")

	km := KeyMaterial{Share: &shamir.Share{Index: 1, Value: big.NewInt(42)}}
	c.Assert(s.SaveKeyMaterial(id, km), qt.IsNil)

	restored, err := s.LoadKeyMaterial(id)
	c.Assert(err, qt.IsNil)
	c.Assert(restored.Share.Index, qt.Equals, 1)
	c.Assert(restored.Share.Value.Cmp(big.NewInt(42)), qt.Equals, 0)
}

func TestPendingVoteQueueLifecycle(t *testing.T) {
	c := qt.New(t)
	s := testStorage(t)
	id := common.HexToHash("0x03")

	_, _, _, err := s.NextPendingVote()
	c.Assert(errors.Is(err, coreerr.ErrNotFound), qt.IsTrue)

	c.Assert(s.PushPendingVote(id, ledger.Vote{Signature: []byte("sig-1")}), qt.IsNil)

	gotID, vote, key, err := s.NextPendingVote()
	c.Assert(err, qt.IsNil)
	c.Assert(gotID, qt.Equals, id)
	c.Assert(string(vote.Signature), qt.Equals, "sig-1")

	// Reserved: a second pop sees nothing new until marked done.
	_, _, _, err = s.NextPendingVote()
	c.Assert(errors.Is(err, coreerr.ErrNotFound), qt.IsTrue)

	c.Assert(s.MarkPendingVoteDone(key), qt.IsNil)
	_, _, _, err = s.NextPendingVote()
	c.Assert(errors.Is(err, coreerr.ErrNotFound), qt.IsTrue)
}
