// Package tally implements the ballot-tallying pipeline: homomorphic
// aggregation of ballot-option ciphertexts, decryption of the
// aggregate (directly or via threshold key reconstruction), and
// discrete-log lookup to recover per-option plaintext counts.
package tally

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/dmattosr/electioncore/coreerr"
	"github.com/dmattosr/electioncore/elgamal"
	"github.com/dmattosr/electioncore/shamir"
)

// LookupTable inverts g^i mod p for i in [0, NMax], keyed by the
// public key y it was built for so elections sharing a key can share
// one table.
type LookupTable struct {
	Y    *big.Int
	NMax int64

	powers  []*big.Int
	byValue map[string]int64
}

// NewLookupTable builds the table g^0, g^1, ..., g^NMax mod p for the
// domain parameters underlying pk.
func NewLookupTable(params elgamal.DomainParameters, y *big.Int, nMax int64) *LookupTable {
	t := &LookupTable{
		Y:       y,
		NMax:    nMax,
		powers:  make([]*big.Int, 0, nMax+1),
		byValue: make(map[string]int64, nMax+1),
	}
	acc := big.NewInt(1)
	t.powers = append(t.powers, acc)
	t.byValue[acc.String()] = 0
	for i := int64(1); i <= nMax; i++ {
		acc = new(big.Int).Mod(new(big.Int).Mul(acc, params.G), params.P)
		t.powers = append(t.powers, acc)
		t.byValue[acc.String()] = i
	}
	return t
}

// Lookup recovers i such that g^i mod p == value. It fails with
// coreerr.ErrBadParams (a decryption-table miss) if value lies outside
// [g^0, g^NMax].
func (t *LookupTable) Lookup(value *big.Int) (int64, error) {
	i, ok := t.byValue[value.String()]
	if !ok {
		return 0, fmt.Errorf("%w: decryption table miss for %s (table built up to N_max=%d)", coreerr.ErrBadParams, value.String(), t.NMax)
	}
	return i, nil
}

// MarshalJSON serializes the table in its file form: a JSON object
// mapping the decimal string of y to the ordered power sequence
// [g^0, g^1, ..., g^NMax] mod p.
func (t *LookupTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string][]*big.Int{t.Y.String(): t.powers})
}

// UnmarshalJSON restores a table from its file form, rebuilding the
// value-to-exponent index.
func (t *LookupTable) UnmarshalJSON(data []byte) error {
	var raw map[string][]*big.Int
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("%w: decryption table must hold exactly one key, got %d", coreerr.ErrInvalidInput, len(raw))
	}
	for yStr, powers := range raw {
		y, ok := new(big.Int).SetString(yStr, 10)
		if !ok {
			return fmt.Errorf("%w: decryption table key %q is not a decimal integer", coreerr.ErrInvalidInput, yStr)
		}
		if len(powers) == 0 {
			return fmt.Errorf("%w: decryption table has no entries", coreerr.ErrInvalidInput)
		}
		t.Y = y
		t.NMax = int64(len(powers) - 1)
		t.powers = powers
		t.byValue = make(map[string]int64, len(powers))
		for i, v := range powers {
			t.byValue[v.String()] = int64(i)
		}
	}
	return nil
}

// Aggregate homomorphically combines ballots, each a slice of L
// option ciphertexts, into one aggregate ciphertext per option
// position: (A_j, B_j) = product over ballots of (a_{i,j}, b_{i,j}).
// It fails with coreerr.ErrInvalidInput if any ballot's length
// disagrees with the election's option count L.
func Aggregate(p *big.Int, optionCount int, ballots [][]elgamal.Ciphertext) ([]elgamal.Ciphertext, error) {
	agg := make([]elgamal.Ciphertext, optionCount)
	for j := range agg {
		agg[j] = elgamal.Ciphertext{A: big.NewInt(1), B: big.NewInt(1)}
	}
	for _, ballot := range ballots {
		if len(ballot) != optionCount {
			return nil, fmt.Errorf("%w: ballot has %d options, election has %d", coreerr.ErrInvalidInput, len(ballot), optionCount)
		}
		for j, ct := range ballot {
			agg[j] = elgamal.Mul(agg[j], ct, p)
		}
	}
	return agg, nil
}

// DecryptDirect decrypts each aggregated option ciphertext with sk and
// inverts the result through table, returning the per-option counts in
// order.
func DecryptDirect(sk *elgamal.PrivateKey, aggregated []elgamal.Ciphertext, table *LookupTable) ([]int64, error) {
	counts := make([]int64, len(aggregated))
	for j, ct := range aggregated {
		plain, err := elgamal.Decrypt(sk, ct)
		if err != nil {
			return nil, err
		}
		n, err := table.Lookup(plain)
		if err != nil {
			return nil, err
		}
		counts[j] = n
	}
	return counts, nil
}

// DecryptThreshold reconstructs the ElGamal private scalar from at
// least t Shamir shares over the Mersenne prime, builds a transient
// private key, and decrypts the aggregate exactly as DecryptDirect
// does. This is a substitute for true distributed decryption: the
// reconstructed x exists in memory for the duration of the call and
// should not be persisted.
func DecryptThreshold(pk elgamal.PublicKey, shares []shamir.Share, mersennePrime *big.Int, aggregated []elgamal.Ciphertext, table *LookupTable) ([]int64, error) {
	x, err := shamir.Recover(shares, mersennePrime)
	if err != nil {
		return nil, err
	}
	sk := &elgamal.PrivateKey{PublicKey: pk, X: x}
	return DecryptDirect(sk, aggregated, table)
}
