// Package elgamal implements the homomorphic ElGamal cryptosystem
// over a prime-order subgroup of Z_p^*, as used to encrypt ballot
// options so their ciphertexts can be multiplicatively aggregated and
// decrypted once. All arithmetic is math/big modular exponentiation
// over a safe-prime subgroup; there is no elliptic curve anywhere in
// the ballot crypto.
package elgamal

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/dmattosr/electioncore/bigintmath"
	"github.com/dmattosr/electioncore/coreerr"
)

// DomainParameters is (p, g, q): p a safe prime, g a generator of the
// order-q subgroup, q = (p-1)/2.
type DomainParameters struct {
	P *big.Int `json:"p"`
	G *big.Int `json:"g"`
	Q *big.Int `json:"q"`
}

// PublicKey is (p, g, y) with y = g^x mod p.
type PublicKey struct {
	DomainParameters
	Y *big.Int `json:"y"`
}

// PrivateKey is (p, g, y, x), 0 < x < q. X is never populated when a
// key is reconstructed from a genesis block's wire form.
type PrivateKey struct {
	PublicKey
	X *big.Int `json:"x,omitempty"`
}

// HasPrivate reports whether the key carries a private component.
func (k *PrivateKey) HasPrivate() bool {
	return k != nil && k.X != nil
}

// Ciphertext is the ordered pair (a, b): a = g^k mod p, b = y^k * g^m
// mod p. The ciphertext space is multiplicative: component-wise
// products encrypt the sum of the underlying plaintexts.
type Ciphertext struct {
	A *big.Int `json:"a"`
	B *big.Int `json:"b"`
}

// EncodeMessage returns g^v mod p, the ElGamal plaintext encoding of a
// small non-negative integer v (a ballot option's 0/1 value, or a
// tally count during lookup-table construction).
func EncodeMessage(params DomainParameters, v int64) *big.Int {
	return bigintmath.ModPow(params.G, big.NewInt(v), params.P)
}

// KeyGen produces a safe-prime p of the requested bit length, a
// generator g of its order-q subgroup, a private scalar x in [1, q),
// and the corresponding public y = g^x mod p.
func KeyGen(bits int) (*PrivateKey, error) {
	params, err := generateSafePrimeGroup(bits)
	if err != nil {
		return nil, err
	}
	x, err := bigintmath.RandRangeFrom1(params.Q)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	y := bigintmath.ModPow(params.G, x, params.P)
	return &PrivateKey{
		PublicKey: PublicKey{DomainParameters: *params, Y: y},
		X:         x,
	}, nil
}

// RandK draws a fresh ephemeral scalar k uniformly from [1, q), for
// use as ElGamal encryption randomness.
func RandK(params DomainParameters) (*big.Int, error) {
	return bigintmath.RandRangeFrom1(params.Q)
}

// EncryptWithK encrypts the pre-encoded message m (see EncodeMessage)
// under pk using the supplied randomness k: (a, b) = (g^k mod p, y^k *
// m mod p). The caller may reuse k across a single ballot's option
// ciphertexts (safe under the accompanying DCP proof; see package dcp)
// or draw a fresh k per option.
func EncryptWithK(pk PublicKey, m, k *big.Int) Ciphertext {
	a := bigintmath.ModPow(pk.G, k, pk.P)
	yk := bigintmath.ModPow(pk.Y, k, pk.P)
	b := new(big.Int).Mod(new(big.Int).Mul(yk, m), pk.P)
	return Ciphertext{A: a, B: b}
}

// Encrypt draws a fresh k and encrypts m under pk, returning the
// ciphertext and the k used (callers proving a DCP statement need k).
func Encrypt(pk PublicKey, m *big.Int) (Ciphertext, *big.Int, error) {
	k, err := RandK(pk.DomainParameters)
	if err != nil {
		return Ciphertext{}, nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	return EncryptWithK(pk, m, k), k, nil
}

// Decrypt computes b * a^(-x) mod p, recovering the ElGamal-encoded
// plaintext g^m mod p. It fails with coreerr.ErrNotPrivate if sk lacks
// an X component.
func Decrypt(sk *PrivateKey, c Ciphertext) (*big.Int, error) {
	if !sk.HasPrivate() {
		return nil, fmt.Errorf("%w: cannot decrypt without the private scalar", coreerr.ErrNotPrivate)
	}
	negX := new(big.Int).Neg(sk.X)
	negX.Mod(negX, new(big.Int).Sub(sk.P, big.NewInt(1)))
	aInvX := bigintmath.ModPow(c.A, negX, sk.P)
	return new(big.Int).Mod(new(big.Int).Mul(c.B, aInvX), sk.P), nil
}

// Mul returns the homomorphic product of two ciphertexts: component
// pairwise multiplication mod p, which encrypts the sum of their
// plaintexts' exponents.
func Mul(x, y Ciphertext, p *big.Int) Ciphertext {
	return Ciphertext{
		A: new(big.Int).Mod(new(big.Int).Mul(x.A, y.A), p),
		B: new(big.Int).Mod(new(big.Int).Mul(x.B, y.B), p),
	}
}

// generateSafePrimeGroup finds a safe prime p = 2q+1 of the requested
// bit length with q itself prime, then a generator g of the
// order-q subgroup of Z_p^*.
func generateSafePrimeGroup(bits int) (*DomainParameters, error) {
	if bits < 8 {
		return nil, fmt.Errorf("%w: key size too small: %d bits", coreerr.ErrInvalidInput, bits)
	}
	for {
		q, err := randPrime(bits - 1)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
		}
		p := new(big.Int).Lsh(q, 1)
		p.Add(p, big.NewInt(1))
		if !bigintmath.IsProbablePrime(p) {
			continue
		}
		g, err := findSubgroupGenerator(p, q)
		if err != nil {
			continue
		}
		return &DomainParameters{P: p, G: g, Q: q}, nil
	}
}

// randPrime returns a random prime of the given bit length using
// crypto/rand-backed Miller-Rabin trials.
func randPrime(bits int) (*big.Int, error) {
	return findProbablePrime(bits)
}

func findProbablePrime(bits int) (*big.Int, error) {
	cand, err := bigintmath.RandRangeFrom1(new(big.Int).Lsh(big.NewInt(1), uint(bits)))
	if err != nil {
		return nil, err
	}
	cand.SetBit(cand, bits-1, 1) // force top bit, ensuring the requested bit length
	cand.SetBit(cand, 0, 1)      // force odd
	for !bigintmath.IsProbablePrime(cand) {
		cand.Add(cand, big.NewInt(2))
	}
	return cand, nil
}

// findSubgroupGenerator returns an element g of order exactly q inside
// Z_p^* (p = 2q+1), by squaring a random element of Z_p^* until it is
// not 1 (the only elements of order 1 or 2 in this group are 1 and
// p-1, so any other square root is either order q or 2q; its square is
// always the order-q generator we want unless it happens to be 1).
func findSubgroupGenerator(p, q *big.Int) (*big.Int, error) {
	for i := 0; i < 64; i++ {
		h, err := bigintmath.RandRangeFrom1(p)
		if err != nil {
			return nil, err
		}
		g := bigintmath.ModPow(h, big.NewInt(2), p)
		if g.Cmp(big.NewInt(1)) != 0 {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w: failed to find a subgroup generator", coreerr.ErrIO)
}

// MarshalWire serializes the public parameters as the {p, g, y} wire
// form mandated for genesis blocks and key files: the private
// component x is never included.
func (pk PublicKey) MarshalWire() ([]byte, error) {
	return json.Marshal(struct {
		P *big.Int `json:"p"`
		G *big.Int `json:"g"`
		Y *big.Int `json:"y"`
	}{pk.P, pk.G, pk.Y})
}
