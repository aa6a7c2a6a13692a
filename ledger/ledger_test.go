package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/dmattosr/electioncore/config"
	"github.com/dmattosr/electioncore/elgamal"
)

func testChain(c *qt.C) (*Chain, elgamal.PublicKey) {
	sk, err := elgamal.KeyGen(24)
	c.Assert(err, qt.IsNil)
	start := time.Now()
	end := start.Add(time.Hour)
	genesis, err := NewGenesisBlock("referendum", start, end, sk.PublicKey, []string{"alice", "bob"}, []string{"yes", "no"})
	c.Assert(err, qt.IsNil)
	return NewChain(genesis), sk.PublicKey
}

func sealOne(c *qt.C, chain *Chain) {
	chain.AppendVote(Vote{Signature: []byte("sig")})
	last := chain.Blocks[len(chain.Blocks)-1]
	lastHash, err := HashBlock(last)
	c.Assert(err, qt.IsNil)
	proof, err := MineProof(last.blockProof(), lastHash, config.Difficulty)
	c.Assert(err, qt.IsNil)
	ok, err := chain.SealBlock(proof, time.Now())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
}

func TestGenesisHashExcludesPrivateComponent(t *testing.T) {
	c := qt.New(t)
	chain, _ := testChain(c)
	raw, err := json.Marshal(chain.Blocks[0])
	c.Assert(err, qt.IsNil)
	c.Assert(string(raw), qt.Not(qt.Contains), `"x"`)
}

func TestSealBlockNoopWhenPendingEmpty(t *testing.T) {
	c := qt.New(t)
	chain, _ := testChain(c)
	ok, err := chain.SealBlock(nil, time.Now())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestSealBlockRejectsBadProof(t *testing.T) {
	c := qt.New(t)
	chain, _ := testChain(c)
	chain.AppendVote(Vote{Signature: []byte("x")})
	_, err := chain.SealBlock(big.NewInt(42), time.Now())
	c.Assert(err, qt.IsNotNil)
}

func TestValidateAcceptsSealedChain(t *testing.T) {
	c := qt.New(t)
	chain, _ := testChain(c)
	sealOne(c, chain)
	sealOne(c, chain)
	c.Assert(Validate(chain), qt.IsTrue)
	c.Assert(chain.Len(), qt.Equals, 3)
}

func TestValidateRejectsTamperedBlock(t *testing.T) {
	c := qt.New(t)
	chain, _ := testChain(c)
	sealOne(c, chain)
	db := chain.Blocks[1].(*DataBlock)
	db.PreviousHash = "deadbeef"
	c.Assert(Validate(chain), qt.IsFalse)
}

func TestMergePicksLongerValidChain(t *testing.T) {
	c := qt.New(t)
	chain, _ := testChain(c)
	sealOne(c, chain)

	short := &Chain{Blocks: []Block{chain.Blocks[0]}}
	long := &Chain{Blocks: append([]Block(nil), chain.Blocks...)}
	sealOne(c, long)

	merged, err := Merge(short, []*Chain{long})
	c.Assert(err, qt.IsNil)
	c.Assert(merged.Len(), qt.Equals, long.Len())
}

func TestMergeFallsBackWhenLongerChainInvalid(t *testing.T) {
	c := qt.New(t)
	chain, _ := testChain(c)
	sealOne(c, chain)

	short := &Chain{Blocks: append([]Block(nil), chain.Blocks...)}
	long := &Chain{Blocks: append([]Block(nil), chain.Blocks...)}
	sealOne(c, long)
	long.Blocks[2].(*DataBlock).PreviousHash = "deadbeef"

	merged, err := Merge(short, []*Chain{long})
	c.Assert(err, qt.IsNil)
	c.Assert(merged, qt.Equals, short)
}

func TestMergeTieBreaksOnLowestTailHash(t *testing.T) {
	c := qt.New(t)
	base, _ := testChain(c)

	a := &Chain{Blocks: append([]Block(nil), base.Blocks...)}
	b := &Chain{Blocks: append([]Block(nil), base.Blocks...)}
	sealOne(c, a)
	sealOne(c, b)

	tailA, err := HashBlock(a.Blocks[1])
	c.Assert(err, qt.IsNil)
	tailB, err := HashBlock(b.Blocks[1])
	c.Assert(err, qt.IsNil)
	want := a
	if tailB < tailA {
		want = b
	}

	merged, err := Merge(a, []*Chain{b})
	c.Assert(err, qt.IsNil)
	c.Assert(merged, qt.Equals, want)

	// The winner is the same regardless of which chain calls the merge.
	merged, err = Merge(b, []*Chain{a})
	c.Assert(err, qt.IsNil)
	c.Assert(merged, qt.Equals, want)
}

func TestSealedProofSatisfiesDifficultyPrefix(t *testing.T) {
	c := qt.New(t)
	chain, _ := testChain(c)
	sealOne(c, chain)

	prev, cur := chain.Blocks[0], chain.Blocks[1].(*DataBlock)
	prevHash, err := HashBlock(prev)
	c.Assert(err, qt.IsNil)

	sum := sha256.Sum256([]byte(prev.blockProof().String() + prevHash + cur.Proof.String()))
	h := hex.EncodeToString(sum[:])
	c.Assert(h[:config.Difficulty], qt.Equals, strings.Repeat("0", config.Difficulty))
}

func TestMergeRejectsChainFromDifferentElection(t *testing.T) {
	c := qt.New(t)
	chain, _ := testChain(c)
	other, _ := testChain(c)
	sealOne(c, other)

	merged, err := Merge(chain, []*Chain{other})
	c.Assert(err, qt.IsNil)
	c.Assert(merged, qt.Equals, chain)
}

func TestChainJSONRoundTrip(t *testing.T) {
	c := qt.New(t)
	chain, _ := testChain(c)
	sealOne(c, chain)

	raw, err := json.Marshal(chain)
	c.Assert(err, qt.IsNil)

	var restored Chain
	c.Assert(json.Unmarshal(raw, &restored), qt.IsNil)
	c.Assert(restored.Len(), qt.Equals, chain.Len())
	c.Assert(Validate(&restored), qt.IsTrue)
}
