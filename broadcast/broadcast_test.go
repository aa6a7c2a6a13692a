package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/dmattosr/electioncore/dcp"
	"github.com/dmattosr/electioncore/elgamal"
	"github.com/dmattosr/electioncore/ledger"
	"github.com/dmattosr/electioncore/mining"
	"github.com/dmattosr/electioncore/registry"
	"github.com/dmattosr/electioncore/signature"
	"github.com/dmattosr/electioncore/tally"
)

func TestPeerFrameRoundTrip(t *testing.T) {
	c := qt.New(t)
	pl := NewPeerList()

	frame, err := EncodePeerFrame(PeerInfo{IPAddress: "127.0.0.1", RepPort: 9000, SubPort: 9001})
	c.Assert(err, qt.IsNil)

	header, body, err := splitFrame(frame)
	c.Assert(err, qt.IsNil)
	c.Assert(header, qt.Equals, "PEER")
	c.Assert(pl.AddRaw(body), qt.IsNil)
	c.Assert(pl.AddRaw(body), qt.IsNil) // dedupe: second add is a no-op

	c.Assert(pl.Snapshot(), qt.HasLen, 1)
}

func TestPeerListRejectsBadIP(t *testing.T) {
	c := qt.New(t)
	pl := NewPeerList()
	body := []byte(`{"ip_address":"not-an-ip","rep_port":1,"sub_port":2}`)
	c.Assert(pl.AddRaw(body), qt.IsNotNil)
}

func TestPeerListJSONRoundTrip(t *testing.T) {
	c := qt.New(t)
	pl := NewPeerList()
	c.Assert(pl.AddRaw([]byte(`{"ip_address":"127.0.0.1","rep_port":9000,"sub_port":9001}`)), qt.IsNil)
	c.Assert(pl.AddRaw([]byte(`{"ip_address":"127.0.0.2","rep_port":9000,"sub_port":9001}`)), qt.IsNil)

	raw, err := json.Marshal(pl)
	c.Assert(err, qt.IsNil)

	restored := NewPeerList()
	c.Assert(json.Unmarshal(raw, restored), qt.IsNil)
	c.Assert(restored.Snapshot(), qt.DeepEquals, pl.Snapshot())
}

func setupElection(c *qt.C, optionCount int) (*registry.Registry, registry.ElectionID, *elgamal.PrivateKey, *signature.SignKeys) {
	sk, err := elgamal.KeyGen(24)
	c.Assert(err, qt.IsNil)
	voter := signature.NewSignKeys()
	c.Assert(voter.Generate(), qt.IsNil)

	options := make([]string, optionCount)
	for i := range options {
		options[i] = "option"
	}
	genesis, err := ledger.NewGenesisBlock("referendum", time.Now(), time.Now().Add(time.Hour),
		sk.PublicKey, []string{voter.AddressString()}, options)
	c.Assert(err, qt.IsNil)

	reg := registry.New()
	id, _, err := reg.Create(genesis)
	c.Assert(err, qt.IsNil)
	return reg, id, sk, voter
}

func buildVoteTicket(c *qt.C, sk *elgamal.PrivateKey, id registry.ElectionID, voter *signature.SignKeys, choice, optionCount int) VoteTicket {
	options := make([]elgamal.Ciphertext, optionCount)
	proofs := make([]*dcp.Proof, optionCount)
	for j := 0; j < optionCount; j++ {
		v := int64(0)
		if j == choice {
			v = 1
		}
		m := elgamal.EncodeMessage(sk.DomainParameters, v)
		ct, k, err := elgamal.Encrypt(sk.PublicKey, m)
		c.Assert(err, qt.IsNil)
		proof, err := dcp.Prove(sk.PublicKey, ct, int(v), k)
		c.Assert(err, qt.IsNil)
		options[j] = ct
		proofs[j] = proof
	}

	digestBytes, err := json.Marshal(options)
	c.Assert(err, qt.IsNil)
	sig, err := voter.SignEthereum(digestBytes)
	c.Assert(err, qt.IsNil)

	return VoteTicket{
		ElectionID: id.Hex(),
		Options:    options,
		Proofs:     proofs,
		Signature:  sig,
	}
}

func TestIngressAcceptsValidVote(t *testing.T) {
	c := qt.New(t)
	reg, id, sk, voter := setupElection(c, 2)
	ticket := buildVoteTicket(c, sk, id, voter, 1, 2)

	in := NewIngress(reg, NewPeerList(), signature.ECDSAVerifier{})
	frame, err := EncodeVoteFrame(ticket)
	c.Assert(err, qt.IsNil)
	c.Assert(in.HandleFrame(frame), qt.IsNil)

	chain, err := reg.ActiveChain(id)
	c.Assert(err, qt.IsNil)
	c.Assert(chain.PendingLen(), qt.Equals, 1)
}

func TestIngressRejectsTamperedProof(t *testing.T) {
	c := qt.New(t)
	reg, id, sk, voter := setupElection(c, 2)
	ticket := buildVoteTicket(c, sk, id, voter, 0, 2)
	ticket.Proofs[0].R0.Add(ticket.Proofs[0].R0, ticket.Proofs[0].R0)

	in := NewIngress(reg, NewPeerList(), signature.ECDSAVerifier{})
	frame, err := EncodeVoteFrame(ticket)
	c.Assert(err, qt.IsNil)
	c.Assert(in.HandleFrame(frame), qt.IsNotNil)

	chain, err := reg.ActiveChain(id)
	c.Assert(err, qt.IsNil)
	c.Assert(chain.PendingLen(), qt.Equals, 0)
}

func TestIngressRejectsIncompleteProof(t *testing.T) {
	c := qt.New(t)
	reg, id, sk, voter := setupElection(c, 2)
	ticket := buildVoteTicket(c, sk, id, voter, 0, 2)
	ticket.Proofs[1].R1 = nil

	in := NewIngress(reg, NewPeerList(), signature.ECDSAVerifier{})
	frame, err := EncodeVoteFrame(ticket)
	c.Assert(err, qt.IsNil)
	c.Assert(in.HandleFrame(frame), qt.IsNotNil)

	chain, err := reg.ActiveChain(id)
	c.Assert(err, qt.IsNil)
	c.Assert(chain.PendingLen(), qt.Equals, 0)
}

func TestIngressRejectsUnknownSigner(t *testing.T) {
	c := qt.New(t)
	reg, id, sk, _ := setupElection(c, 1)
	impostor := signature.NewSignKeys()
	c.Assert(impostor.Generate(), qt.IsNil)

	ticket := buildVoteTicket(c, sk, id, impostor, 0, 1)
	in := NewIngress(reg, NewPeerList(), signature.ECDSAVerifier{})
	frame, err := EncodeVoteFrame(ticket)
	c.Assert(err, qt.IsNil)
	c.Assert(in.HandleFrame(frame), qt.IsNotNil)
}

// TestSingleVoterElectionEndToEnd walks the full flow once: a ballot
// [0, 1] cast through ingress, sealed by the mining worker, the
// election swept into finished, and the tally decrypted to [0, 1].
func TestSingleVoterElectionEndToEnd(t *testing.T) {
	c := qt.New(t)
	sk, err := elgamal.KeyGen(24)
	c.Assert(err, qt.IsNil)
	voter := signature.NewSignKeys()
	c.Assert(voter.Generate(), qt.IsNil)

	genesis, err := ledger.NewGenesisBlock("referendum", time.Now(), time.Now().Add(500*time.Millisecond),
		sk.PublicKey, []string{voter.AddressString()}, []string{"A", "B"})
	c.Assert(err, qt.IsNil)
	reg := registry.New()
	id, chain, err := reg.Create(genesis)
	c.Assert(err, qt.IsNil)

	in := NewIngress(reg, NewPeerList(), signature.ECDSAVerifier{})
	frame, err := EncodeVoteFrame(buildVoteTicket(c, sk, id, voter, 1, 2))
	c.Assert(err, qt.IsNil)
	c.Assert(in.HandleFrame(frame), qt.IsNil)

	miner, err := mining.New(reg, 20*time.Millisecond)
	c.Assert(err, qt.IsNil)
	ctx, cancel := context.WithCancel(context.Background())
	c.Assert(miner.Start(ctx), qt.IsNil)

	deadline := time.Now().Add(5 * time.Second)
	for chain.Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	c.Assert(miner.Stop(), qt.IsNil)
	c.Assert(chain.Len(), qt.Equals, 2)

	for reg.Sweep(time.Now()) == 0 {
		time.Sleep(50 * time.Millisecond)
	}
	finished, err := reg.FinishedChain(id)
	c.Assert(err, qt.IsNil)

	votes := finished.AllVotes()
	c.Assert(votes, qt.HasLen, 1)
	ballots := [][]elgamal.Ciphertext{votes[0].Options}
	agg, err := tally.Aggregate(sk.P, 2, ballots)
	c.Assert(err, qt.IsNil)
	table := tally.NewLookupTable(sk.DomainParameters, sk.Y, 10)
	counts, err := tally.DecryptDirect(sk, agg, table)
	c.Assert(err, qt.IsNil)
	c.Assert(counts, qt.DeepEquals, []int64{0, 1})
}

// stubReceiver yields its frames once each, then reports an empty
// poll window forever.
type stubReceiver struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *stubReceiver) Poll(timeout time.Duration) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		time.Sleep(timeout)
		return nil, false, nil
	}
	frame := r.frames[0]
	r.frames = r.frames[1:]
	return frame, true, nil
}

func TestIngressWorkerAppliesPolledFrames(t *testing.T) {
	c := qt.New(t)
	reg, id, sk, voter := setupElection(c, 2)
	in := NewIngress(reg, NewPeerList(), signature.ECDSAVerifier{})

	voteFrame, err := EncodeVoteFrame(buildVoteTicket(c, sk, id, voter, 0, 2))
	c.Assert(err, qt.IsNil)
	peerFrame, err := EncodePeerFrame(PeerInfo{IPAddress: "127.0.0.1", RepPort: 9000, SubPort: 9001})
	c.Assert(err, qt.IsNil)

	w := NewIngressWorker(in, &stubReceiver{frames: [][]byte{peerFrame, voteFrame}}, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	c.Assert(w.Start(ctx), qt.IsNil)

	chain, err := reg.ActiveChain(id)
	c.Assert(err, qt.IsNil)
	deadline := time.Now().Add(2 * time.Second)
	for chain.PendingLen() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	c.Assert(w.Stop(), qt.IsNil)

	c.Assert(chain.PendingLen(), qt.Equals, 1)
	c.Assert(in.peers.Snapshot(), qt.HasLen, 1)
}

type recordingSender struct {
	mu  sync.Mutex
	got [][]byte
}

func (r *recordingSender) Send(_ PeerInfo, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, frame)
	return nil
}

func TestPublisherDrainsQueueToEveryPeer(t *testing.T) {
	c := qt.New(t)
	peers := NewPeerList()
	c.Assert(peers.AddRaw([]byte(`{"ip_address":"127.0.0.1","rep_port":1,"sub_port":2}`)), qt.IsNil)
	c.Assert(peers.AddRaw([]byte(`{"ip_address":"127.0.0.2","rep_port":1,"sub_port":2}`)), qt.IsNil)

	sender := &recordingSender{}
	pub := NewPublisher(peers, sender, 10*time.Millisecond)
	pub.Enqueue([]byte("VOTE {}\n"))

	ctx, cancel := context.WithCancel(context.Background())
	c.Assert(pub.Start(ctx), qt.IsNil)

	deadline := time.Now().Add(2 * time.Second)
	for {
		sender.mu.Lock()
		n := len(sender.got)
		sender.mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	c.Assert(pub.Stop(), qt.IsNil)

	c.Assert(sender.got, qt.HasLen, 2)
}
