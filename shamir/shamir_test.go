package shamir

import (
	"math/big"
	"math/rand"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestMakeSharesBadParams(t *testing.T) {
	c := qt.New(t)
	_, err := MakeShares(big.NewInt(42), 1, 5, MersennePrime)
	c.Assert(err, qt.IsNotNil)
	_, err = MakeShares(big.NewInt(42), 6, 5, MersennePrime)
	c.Assert(err, qt.IsNotNil)
}

func TestRoundTripAnyTSubset(t *testing.T) {
	c := qt.New(t)
	secret := big.NewInt(123456789)
	t_, n := 3, 5

	shares, err := MakeShares(secret, t_, n, MersennePrime)
	c.Assert(err, qt.IsNil)
	c.Assert(shares, qt.HasLen, n)

	// every contiguous t-subset recovers the secret
	for start := 0; start+t_ <= n; start++ {
		subset := shares[start : start+t_]
		got, err := Recover(subset, MersennePrime)
		c.Assert(err, qt.IsNil)
		c.Assert(got.Cmp(secret), qt.Equals, 0)
	}

	// a random t-subset also recovers it
	perm := rand.Perm(n)
	subset := make([]Share, t_)
	for i := 0; i < t_; i++ {
		subset[i] = shares[perm[i]]
	}
	got, err := Recover(subset, MersennePrime)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Cmp(secret), qt.Equals, 0)
}

func TestLessThanThresholdDoesNotMatch(t *testing.T) {
	c := qt.New(t)
	secret := big.NewInt(987654321)
	shares, err := MakeShares(secret, 3, 5, MersennePrime)
	c.Assert(err, qt.IsNil)

	// Recover technically runs Lagrange interpolation on any >=2
	// shares, but with fewer than t shares it reconstructs a
	// polynomial value unrelated to the real secret.
	got, err := Recover(shares[:2], MersennePrime)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Cmp(secret), qt.Not(qt.Equals), 0)
}

func TestRecoverRequiresTwoShares(t *testing.T) {
	c := qt.New(t)
	shares, err := MakeShares(big.NewInt(1), 2, 2, MersennePrime)
	c.Assert(err, qt.IsNil)
	_, err = Recover(shares[:1], MersennePrime)
	c.Assert(err, qt.IsNotNil)
}
