// Package ledger implements the per-election proof-of-work append-only
// blockchain: genesis and data blocks (a tagged variant rather than one
// shape-shifting struct, per the dynamic-JSON-shapes guidance this
// system follows elsewhere), canonical-JSON block hashing, mining,
// chain validation, and longest-valid-chain merge.
package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/dmattosr/electioncore/bigintmath"
	"github.com/dmattosr/electioncore/config"
	"github.com/dmattosr/electioncore/coreerr"
	"github.com/dmattosr/electioncore/dcp"
	"github.com/dmattosr/electioncore/elgamal"
)

// maxProof bounds the 128-bit proof space mined blocks and the genesis
// block draw their proof from.
var maxProof = new(big.Int).Lsh(big.NewInt(1), 128)

// PublicKeyWire is the {p, g, y} form an ElGamal public key takes
// inside a genesis block: the private scalar x never belongs here.
type PublicKeyWire struct {
	P *big.Int `json:"p"`
	G *big.Int `json:"g"`
	Y *big.Int `json:"y"`
}

// WirePublicKey converts a live public key to its persisted form.
func WirePublicKey(pk elgamal.PublicKey) PublicKeyWire {
	return PublicKeyWire{P: pk.P, G: pk.G, Y: pk.Y}
}

// Live reconstructs full domain parameters (deriving q = (p-1)/2) for
// use by the crypto packages.
func (w PublicKeyWire) Live() elgamal.PublicKey {
	q := new(big.Int).Sub(w.P, big.NewInt(1))
	q.Rsh(q, 1)
	return elgamal.PublicKey{
		DomainParameters: elgamal.DomainParameters{P: w.P, G: w.G, Q: q},
		Y:                w.Y,
	}
}

// Vote is a single voter's submission: one ciphertext and one DCP
// proof per election option, plus an eligibility signature opaque to
// this package.
type Vote struct {
	ElectionID string               `json:"election_id,omitempty"`
	Options    []elgamal.Ciphertext `json:"options"`
	Proofs     []*dcp.Proof         `json:"proofs"`
	Signature  []byte               `json:"signature"`
}

// Block is implemented by *GenesisBlock and *DataBlock.
type Block interface {
	blockIndex() int64
	blockTimestamp() int64
	blockProof() *big.Int
}

// GenesisBlock opens an election's chain: it carries the election
// template and public key, never the private key.
type GenesisBlock struct {
	Index      int64         `json:"index"`
	Proof      *big.Int      `json:"proof"`
	StartTime  int64         `json:"start_time"`
	Timestamp  int64         `json:"timestamp"`
	EndTime    int64         `json:"end_time"`
	PublicKey  PublicKeyWire `json:"public_key"`
	VoterList  []string      `json:"voter_list"`
	OptionList []string      `json:"option_list"`
	Name       string        `json:"name"`
}

func (g *GenesisBlock) blockIndex() int64     { return g.Index }
func (g *GenesisBlock) blockTimestamp() int64 { return g.Timestamp }
func (g *GenesisBlock) blockProof() *big.Int  { return g.Proof }

// DataBlock seals a batch of votes accepted since the previous block.
type DataBlock struct {
	Index        int64    `json:"index"`
	Timestamp    int64    `json:"timestamp"`
	Proof        *big.Int `json:"proof"`
	PreviousHash string   `json:"previous_hash"`
	Transactions []Vote   `json:"transactions"`
}

func (d *DataBlock) blockIndex() int64     { return d.Index }
func (d *DataBlock) blockTimestamp() int64 { return d.Timestamp }
func (d *DataBlock) blockProof() *big.Int  { return d.Proof }

// NewGenesisBlock draws a random 128-bit proof and assembles the
// opening block of a new election's chain.
func NewGenesisBlock(name string, startTime, endTime time.Time, pk elgamal.PublicKey, voterList, optionList []string) (*GenesisBlock, error) {
	proof, err := bigintmath.RandRange(maxProof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	return &GenesisBlock{
		Index:      0,
		Proof:      proof,
		StartTime:  startTime.Unix(),
		Timestamp:  time.Now().Unix(),
		EndTime:    endTime.Unix(),
		PublicKey:  WirePublicKey(pk),
		VoterList:  voterList,
		OptionList: optionList,
		Name:       name,
	}, nil
}

// HashBlock returns the lowercase-hex SHA-256 of b's canonical JSON
// form: standard struct marshaling followed by a decode/re-encode
// through a generic value, which sorts object keys lexicographically
// at every nesting level while preserving big-integer precision.
func HashBlock(b Block) (string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	canon, err := canonicalize(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// validProof reports whether proof is valid relative to the previous
// block's proof and hash at the given difficulty: the lowercase-hex
// SHA-256 of the decimal concatenation of prevProof, prevHash and
// proof must begin with `difficulty` ASCII zeros.
func validProof(prevProof *big.Int, prevHash string, proof *big.Int, difficulty int) bool {
	data := prevProof.String() + prevHash + proof.String()
	sum := sha256.Sum256([]byte(data))
	h := hex.EncodeToString(sum[:])
	if len(h) < difficulty {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if h[i] != '0' {
			return false
		}
	}
	return true
}

// MineProof searches for a proof valid against (prevProof, prevHash)
// at the given difficulty, starting from a random point in [0,
// 2^128) and incrementing linearly. It blocks until found; for the
// difficulties this package expects (single-digit D), that is a bounded
// and fast search in practice.
func MineProof(prevProof *big.Int, prevHash string, difficulty int) (*big.Int, error) {
	start, err := bigintmath.RandRange(maxProof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	proof := new(big.Int).Set(start)
	one := big.NewInt(1)
	for !validProof(prevProof, prevHash, proof, difficulty) {
		proof.Add(proof, one)
	}
	return new(big.Int).Set(proof), nil
}

// Chain is one election's ledger: a durable sequence of blocks
// (genesis first) plus a non-persistent mempool of votes awaiting a
// seal. Pending is mutated only by AppendVote (ingress) and SealBlock
// (miner); the drain in SealBlock is atomic with the block append.
type Chain struct {
	mu      sync.Mutex
	Blocks  []Block
	Pending []Vote
}

// NewChain starts a chain from its genesis block.
func NewChain(genesis *GenesisBlock) *Chain {
	return &Chain{Blocks: []Block{genesis}}
}

// Genesis returns the chain's opening block.
func (c *Chain) Genesis() *GenesisBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Blocks[0].(*GenesisBlock)
}

// Len returns the number of durable blocks (including genesis).
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Blocks)
}

// AppendVote enqueues v into the pending mempool.
func (c *Chain) AppendVote(v Vote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Pending = append(c.Pending, v)
}

// PendingLen reports the current mempool size.
func (c *Chain) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Pending)
}

// AllVotes returns every vote sealed into a data block so far, in
// block order. It does not include the pending mempool.
func (c *Chain) AllVotes() []Vote {
	c.mu.Lock()
	defer c.mu.Unlock()
	var votes []Vote
	for _, b := range c.Blocks {
		if d, ok := b.(*DataBlock); ok {
			votes = append(votes, d.Transactions...)
		}
	}
	return votes
}

// TipProofAndHash returns the proof and hash of the chain's current
// last block, the two inputs a miner needs to search for the next
// block's proof.
func (c *Chain) TipProofAndHash() (*big.Int, string, error) {
	c.mu.Lock()
	last := c.Blocks[len(c.Blocks)-1]
	c.mu.Unlock()
	hash, err := HashBlock(last)
	if err != nil {
		return nil, "", err
	}
	return last.blockProof(), hash, nil
}

// SealBlock appends a new data block carrying the current pending
// votes, provided pending is non-empty and proof validates against the
// chain's tip. It is a no-op (false, nil) if pending is empty. It
// fails with coreerr.ErrChainInvalid if proof does not validate.
func (c *Chain) SealBlock(proof *big.Int, now time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.Pending) == 0 {
		return false, nil
	}
	last := c.Blocks[len(c.Blocks)-1]
	lastHash, err := HashBlock(last)
	if err != nil {
		return false, err
	}
	if !validProof(last.blockProof(), lastHash, proof, config.Difficulty) {
		return false, fmt.Errorf("%w: proof does not satisfy chain difficulty", coreerr.ErrChainInvalid)
	}

	block := &DataBlock{
		Index:        int64(len(c.Blocks)),
		Timestamp:    now.Unix(),
		Proof:        proof,
		PreviousHash: lastHash,
		Transactions: c.Pending,
	}
	c.Blocks = append(c.Blocks, block)
	c.Pending = nil
	return true, nil
}

// Validate checks the linkage, proof-of-work, timestamp monotonicity
// and indexing of every block after the genesis, and that the genesis
// itself is well-formed.
func Validate(c *Chain) bool {
	c.mu.Lock()
	blocks := append([]Block(nil), c.Blocks...)
	c.mu.Unlock()

	if len(blocks) == 0 {
		return false
	}
	genesis, ok := blocks[0].(*GenesisBlock)
	if !ok || genesis.Index != 0 || genesis.PublicKey.P == nil {
		return false
	}

	for i := 1; i < len(blocks); i++ {
		prev := blocks[i-1]
		cur, ok := blocks[i].(*DataBlock)
		if !ok {
			return false
		}
		prevHash, err := HashBlock(prev)
		if err != nil {
			return false
		}
		if !validProof(prev.blockProof(), prevHash, cur.Proof, config.Difficulty) {
			return false
		}
		if cur.Timestamp < prev.blockTimestamp() {
			return false
		}
		if cur.PreviousHash != prevHash {
			return false
		}
		if cur.Index != int64(i) {
			return false
		}
	}
	return true
}

// Merge implements the longest-valid-chain rule: among self and
// others, it keeps only chains that validate and share self's genesis
// hash (same election), then picks the longest, breaking ties by the
// lowest hex hash of the terminal block.
func Merge(self *Chain, others []*Chain) (*Chain, error) {
	selfGenesisHash, err := HashBlock(self.Blocks[0])
	if err != nil {
		return nil, err
	}

	candidates := append([]*Chain{self}, others...)
	var valid []*Chain
	for _, ch := range candidates {
		if !Validate(ch) {
			continue
		}
		h, err := HashBlock(ch.Blocks[0])
		if err != nil || h != selfGenesisHash {
			continue
		}
		valid = append(valid, ch)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: no valid chain for this election among merge candidates", coreerr.ErrChainInvalid)
	}

	best := valid[0]
	bestTail, err := HashBlock(best.Blocks[len(best.Blocks)-1])
	if err != nil {
		return nil, err
	}
	for _, ch := range valid[1:] {
		tail, err := HashBlock(ch.Blocks[len(ch.Blocks)-1])
		if err != nil {
			continue
		}
		if len(ch.Blocks) > len(best.Blocks) || (len(ch.Blocks) == len(best.Blocks) && tail < bestTail) {
			best, bestTail = ch, tail
		}
	}
	return best, nil
}

// MarshalJSON persists only the durable blocks array; pending is
// non-persistent mempool state.
func (c *Chain) MarshalJSON() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(c.Blocks)
}

// UnmarshalJSON restores a chain from its persisted blocks array,
// discriminating genesis from data blocks by their index field.
func (c *Chain) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	blocks := make([]Block, len(raw))
	for i, r := range raw {
		b, err := unmarshalBlock(r)
		if err != nil {
			return err
		}
		blocks[i] = b
	}
	c.mu.Lock()
	c.Blocks = blocks
	c.Pending = nil
	c.mu.Unlock()
	return nil
}

func unmarshalBlock(data []byte) (Block, error) {
	var env struct {
		Index int64 `json:"index"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	if env.Index == 0 {
		var g GenesisBlock
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
		}
		return &g, nil
	}
	var d DataBlock
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	return &d, nil
}
