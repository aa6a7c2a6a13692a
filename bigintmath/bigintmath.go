// Package bigintmath provides the arbitrary-precision modular
// arithmetic primitives every other component of the election core is
// built on: modular exponentiation and inverse, extended gcd,
// primality testing, and a small-range discrete-log solver.
//
// All modular reductions here are constant-sign: results always land
// in [0, m), never negative, matching math/big's own convention for
// Mod but made explicit for callers that build on Rem-style helpers.
package bigintmath

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/dmattosr/electioncore/coreerr"
)

// ModPow returns b^e mod m, reduced into [0, m).
func ModPow(b, e, m *big.Int) *big.Int {
	return new(big.Int).Exp(b, e, m)
}

// ModInv returns a^-1 mod m. It fails with coreerr.ErrInvalidInput if
// gcd(a, m) != 1, i.e. no inverse exists.
func ModInv(a, m *big.Int) (*big.Int, error) {
	inv := new(big.Int).ModInverse(a, m)
	if inv == nil {
		return nil, fmt.Errorf("%w: %s has no inverse mod %s", coreerr.ErrInvalidInput, a, m)
	}
	return inv, nil
}

// ExtendedGCD returns (g, x, y) such that a*x + b*y = g = gcd(a, b).
func ExtendedGCD(a, b *big.Int) (g, x, y *big.Int) {
	g, x, y = new(big.Int), new(big.Int), new(big.Int)
	g.GCD(x, y, a, b)
	return g, x, y
}

// IsProbablePrime reports whether n passes a cryptographically
// adequate primality test. It delegates to math/big's ProbablyPrime
// with 20 Miller-Rabin rounds plus its built-in Baillie-PSW check.
func IsProbablePrime(n *big.Int) bool {
	if n.Sign() <= 0 {
		return false
	}
	return n.ProbablyPrime(20)
}

// BabyStepGiantStep solves g^x = h (mod p) for x in [0, n), returning
// coreerr.ErrNotFound if no such x exists in range. It is intended for
// diagnostic use against small n (e.g. total eligible voters), not as
// a substitute for the tally's precomputed LookupTable.
func BabyStepGiantStep(g, h, p *big.Int, n int64) (*big.Int, error) {
	m := new(big.Int).Sqrt(big.NewInt(n))
	m.Add(m, big.NewInt(1))

	baby := make(map[string]int64, m.Int64()+1)
	cur := big.NewInt(1)
	for j := int64(0); big.NewInt(j).Cmp(m) < 0; j++ {
		baby[cur.String()] = j
		cur = new(big.Int).Mod(new(big.Int).Mul(cur, g), p)
	}

	gm := ModPow(g, m, p)
	gmInv, err := ModInv(gm, p)
	if err != nil {
		return nil, err
	}

	y := new(big.Int).Mod(h, p)
	for i := big.NewInt(0); i.Cmp(m) < 0; i.Add(i, big.NewInt(1)) {
		if j, ok := baby[y.String()]; ok {
			x := new(big.Int).Add(new(big.Int).Mul(i, m), big.NewInt(j))
			if x.Cmp(big.NewInt(n)) < 0 {
				return x, nil
			}
		}
		y = new(big.Int).Mod(new(big.Int).Mul(y, gmInv), p)
	}
	return nil, fmt.Errorf("%w: no discrete log of h in range [0,%d)", coreerr.ErrNotFound, n)
}

// RandRange returns a cryptographically random integer in [0, max).
func RandRange(max *big.Int) (*big.Int, error) {
	return rand.Int(rand.Reader, max)
}

// RandRangeFrom1 returns a cryptographically random integer in [1, max).
func RandRangeFrom1(max *big.Int) (*big.Int, error) {
	n, err := rand.Int(rand.Reader, new(big.Int).Sub(max, big.NewInt(1)))
	if err != nil {
		return nil, err
	}
	return n.Add(n, big.NewInt(1)), nil
}
