// Package shamir implements Shamir's secret sharing over a large
// Mersenne prime, used to split an ElGamal private key among trustees
// and reconstruct it at tally time: shares are points of a random
// polynomial whose constant term is the secret, and recovery is
// Lagrange interpolation at zero.
package shamir

import (
	"fmt"
	"math/big"

	"github.com/dmattosr/electioncore/bigintmath"
	"github.com/dmattosr/electioncore/config"
	"github.com/dmattosr/electioncore/coreerr"
)

// MersennePrime is 2^2203 - 1, large enough to contain a 2048-bit
// ElGamal private key with ample margin.
var MersennePrime = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), config.ShamirMersenneExponent)
	return p.Sub(p, big.NewInt(1))
}()

// Share is one point (Index, Value) of the secret-sharing polynomial.
type Share struct {
	Index int      `json:"index"`
	Value *big.Int `json:"value"`
}

// MakeShares splits secret into n shares such that any t of them
// recover it, using the polynomial f(z) = secret + a_1*z + ... +
// a_{t-1}*z^(t-1) mod prime, with coefficients a_1..a_{t-1} drawn
// uniformly from [0, prime). It fails with coreerr.ErrBadParams if
// t > n or t < 2.
func MakeShares(secret *big.Int, t, n int, prime *big.Int) ([]Share, error) {
	if t < 2 || t > n {
		return nil, fmt.Errorf("%w: shamir requires 2 <= t <= n, got t=%d n=%d", coreerr.ErrBadParams, t, n)
	}

	poly := make([]*big.Int, t)
	poly[0] = new(big.Int).Mod(secret, prime)
	for i := 1; i < t; i++ {
		coeff, err := bigintmath.RandRange(prime)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
		}
		poly[i] = coeff
	}

	shares := make([]Share, n)
	for i := 1; i <= n; i++ {
		shares[i-1] = Share{
			Index: i,
			Value: evalAt(poly, big.NewInt(int64(i)), prime),
		}
	}
	return shares, nil
}

// evalAt evaluates the polynomial (constant-term first) at x mod prime
// via Horner's method over the coefficients in reverse.
func evalAt(poly []*big.Int, x, prime *big.Int) *big.Int {
	accum := big.NewInt(0)
	for i := len(poly) - 1; i >= 0; i-- {
		accum.Mul(accum, x)
		accum.Add(accum, poly[i])
		accum.Mod(accum, prime)
	}
	return accum
}

// Recover reconstructs the secret from at least two shares via
// Lagrange interpolation at z=0 modulo prime. It does not itself
// enforce a threshold count; callers that know t must ensure at least
// t shares are passed, per the component's contract.
func Recover(shares []Share, prime *big.Int) (*big.Int, error) {
	if len(shares) < 2 {
		return nil, fmt.Errorf("%w: at least two shares are required to recover a secret", coreerr.ErrBadParams)
	}

	coeffs, err := lagrangeCoefficientsAtZero(shares, prime)
	if err != nil {
		return nil, err
	}

	secret := big.NewInt(0)
	for _, sh := range shares {
		term := new(big.Int).Mul(coeffs[sh.Index], sh.Value)
		secret.Add(secret, term)
		secret.Mod(secret, prime)
	}
	return secret.Mod(secret, prime), nil
}

// lagrangeCoefficientsAtZero computes, for each share's index i, the
// Lagrange basis coefficient l_i(0) = prod_{j != i} (0 - x_j)/(x_i - x_j)
// mod prime.
func lagrangeCoefficientsAtZero(shares []Share, prime *big.Int) (map[int]*big.Int, error) {
	coeffs := make(map[int]*big.Int, len(shares))
	for _, si := range shares {
		num := big.NewInt(1)
		den := big.NewInt(1)
		xi := big.NewInt(int64(si.Index))
		for _, sj := range shares {
			if sj.Index == si.Index {
				continue
			}
			xj := big.NewInt(int64(sj.Index))
			num.Mul(num, new(big.Int).Neg(xj))
			num.Mod(num, prime)
			den.Mul(den, new(big.Int).Sub(xi, xj))
			den.Mod(den, prime)
		}
		denInv, err := bigintmath.ModInv(den, prime)
		if err != nil {
			return nil, fmt.Errorf("%w: shares are not distinct: %v", coreerr.ErrBadParams, err)
		}
		coeff := new(big.Int).Mul(num, denInv)
		coeffs[si.Index] = coeff.Mod(coeff, prime)
	}
	return coeffs, nil
}
