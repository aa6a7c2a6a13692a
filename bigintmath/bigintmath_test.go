package bigintmath

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestModPow(t *testing.T) {
	c := qt.New(t)
	got := ModPow(big.NewInt(4), big.NewInt(13), big.NewInt(497))
	c.Assert(got.String(), qt.Equals, "445")
}

func TestModInv(t *testing.T) {
	c := qt.New(t)
	inv, err := ModInv(big.NewInt(3), big.NewInt(11))
	c.Assert(err, qt.IsNil)
	c.Assert(inv.String(), qt.Equals, "4")

	_, err = ModInv(big.NewInt(2), big.NewInt(4))
	c.Assert(err, qt.IsNotNil)
}

func TestExtendedGCD(t *testing.T) {
	c := qt.New(t)
	a, b := big.NewInt(240), big.NewInt(46)
	g, x, y := ExtendedGCD(a, b)
	c.Assert(g.String(), qt.Equals, "2")

	check := new(big.Int).Add(
		new(big.Int).Mul(a, x),
		new(big.Int).Mul(b, y),
	)
	c.Assert(check.Cmp(g), qt.Equals, 0)
}

func TestIsProbablePrime(t *testing.T) {
	c := qt.New(t)
	c.Assert(IsProbablePrime(big.NewInt(7919)), qt.IsTrue)
	c.Assert(IsProbablePrime(big.NewInt(7920)), qt.IsFalse)
	c.Assert(IsProbablePrime(big.NewInt(0)), qt.IsFalse)
}

func TestBabyStepGiantStep(t *testing.T) {
	c := qt.New(t)
	p := big.NewInt(1019)
	g := big.NewInt(2)
	x := int64(345)
	h := ModPow(g, big.NewInt(x), p)

	got, err := BabyStepGiantStep(g, h, p, 1018)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Int64(), qt.Equals, x)
}

func TestBabyStepGiantStepNotFound(t *testing.T) {
	c := qt.New(t)
	p := big.NewInt(1019)
	g := big.NewInt(2)
	h := big.NewInt(999) // not a power of g in the tested range

	_, err := BabyStepGiantStep(g, h, p, 10)
	c.Assert(err, qt.IsNotNil)
}
