package crypto

// Elligator2 encoding for Curve25519, used to turn an ephemeral public key
// into a byte string indistinguishable from random (§4.1 of the wire
// format: the "hidden" public key appended to every asymmetric envelope).
//
// Only about half of the points on Curve25519 are representable; keys are
// generated by the caller (see generateHideable) until one maps cleanly,
// matching monocypher's elligator_key_pair behaviour.
//
// This is deliberately implemented with math/big rather than a borrowed
// field-element type: no example in the reference pack implements
// Elligator2, and guessing the API of an unfamiliar third-party field
// library would risk breaking the one part of the envelope every other
// message on the wire depends on. It is not constant-time; that tradeoff
// is acceptable here the same way the rest of this package accepts
// non-constant-time JSON/struct marshaling elsewhere for simplicity.

import (
	"math/big"
)

var (
	fieldPrime = mustBig("57896044618658097711785492504343953926634992332820282019728792003956564819949") // 2^255 - 19
	curveA     = big.NewInt(486662)
	sqrtMinusOneModP = computeSqrtMinusOne()
)

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("crypto: bad constant")
	}
	return v
}

// computeSqrtMinusOne returns 2^((p-1)/4) mod p, a square root of -1 mod p,
// needed by the Elligator2 direct map (the non-square branch).
func computeSqrtMinusOne() *big.Int {
	exp := new(big.Int).Sub(fieldPrime, big.NewInt(1))
	exp.Rsh(exp, 2)
	return new(big.Int).Exp(big.NewInt(2), exp, fieldPrime)
}

func feFromLE(b []byte) *big.Int {
	buf := make([]byte, len(b))
	for i, c := range b {
		buf[len(b)-1-i] = c
	}
	buf[0] &= 0x7f
	return new(big.Int).Mod(new(big.Int).SetBytes(buf), fieldPrime)
}

func feToLE(v *big.Int) []byte {
	v = new(big.Int).Mod(v, fieldPrime)
	be := v.Bytes()
	out := make([]byte, 32)
	for i := 0; i < len(be); i++ {
		out[i] = be[len(be)-1-i]
	}
	return out
}

func isSquare(v *big.Int) bool {
	if v.Sign() == 0 {
		return true
	}
	exp := new(big.Int).Sub(fieldPrime, big.NewInt(1))
	exp.Rsh(exp, 1)
	r := new(big.Int).Exp(v, exp, fieldPrime)
	return r.Cmp(big.NewInt(1)) == 0
}

func modSqrt(v *big.Int) *big.Int {
	exp := new(big.Int).Add(fieldPrime, big.NewInt(3))
	exp.Rsh(exp, 3)
	r := new(big.Int).Exp(v, exp, fieldPrime)
	check := new(big.Int).Exp(r, big.NewInt(2), fieldPrime)
	if check.Cmp(new(big.Int).Mod(v, fieldPrime)) != 0 {
		r.Mul(r, sqrtMinusOneModP)
		r.Mod(r, fieldPrime)
	}
	return r
}

// elligatorRepresentative attempts to compute the Elligator2 representative
// r such that map(r) == pub, where pub is the u-coordinate of a Curve25519
// public key. It returns ok=false for the (roughly) half of keys that have
// no representative; the caller retries with a freshly generated keypair.
//
// tweak carries the one bit Elligator2 needs beyond u to invert the map
// (which of the two candidate representatives to use); only its lowest
// bit is read. The caller passes the last byte of the generated scalar.
func elligatorRepresentative(pub []byte, tweak byte) ([]byte, bool) {
	u := feFromLE(pub)

	// The direct map picks the candidate v = -A/(1+2r^2) and then, based
	// on the Legendre symbol of v^3+Av^2+v, either returns v itself or
	// -v-A. Inverting requires running that branch backwards:
	//
	//   even tweak (v == u):    r^2 = -(u+A) / (2u)
	//   odd tweak  (u == -v-A): r^2 = -u / (2(u+A))
	var num, denom *big.Int
	if tweak&1 == 0 {
		num = new(big.Int).Add(u, curveA)
		num.Neg(num)
		denom = new(big.Int).Mul(big.NewInt(2), u)
	} else {
		num = new(big.Int).Neg(u)
		denom = new(big.Int).Add(u, curveA)
		denom.Mul(denom, big.NewInt(2))
	}
	num.Mod(num, fieldPrime)
	denom.Mod(denom, fieldPrime)

	denomInv := new(big.Int).ModInverse(denom, fieldPrime)
	if denomInv == nil {
		return nil, false
	}
	ratio := new(big.Int).Mul(num, denomInv)
	ratio.Mod(ratio, fieldPrime)
	if !isSquare(ratio) {
		return nil, false
	}

	r := modSqrt(ratio)
	if r.Sign() == 0 {
		return nil, false
	}
	return feToLE(r), true
}

// elligatorMap is the forward direction: representative bytes -> u-coordinate
// of a Curve25519 point, used when opening an envelope (§4.1 "Opening").
func elligatorMap(representative []byte) []byte {
	r := feFromLE(representative)
	r2 := new(big.Int).Mul(r, r)
	r2.Mod(r2, fieldPrime)
	two := big.NewInt(2)
	denom := new(big.Int).Mul(two, r2)
	denom.Add(denom, big.NewInt(1))
	denom.Mod(denom, fieldPrime)

	inv := new(big.Int).ModInverse(denom, fieldPrime)
	if inv == nil {
		return feToLE(big.NewInt(0))
	}
	v := new(big.Int).Neg(curveA)
	v.Mul(v, inv)
	v.Mod(v, fieldPrime)

	// e = legendre(v^3 + A*v^2 + v); the map returns v when that value is
	// a square, and -v-A otherwise (the branch the inverse above undoes).
	v2 := new(big.Int).Mul(v, v)
	v2.Mod(v2, fieldPrime)
	v3 := new(big.Int).Mul(v2, v)
	v3.Mod(v3, fieldPrime)
	av2 := new(big.Int).Mul(curveA, v2)
	rhs := new(big.Int).Add(v3, av2)
	rhs.Add(rhs, v)
	rhs.Mod(rhs, fieldPrime)

	u := new(big.Int)
	if isSquare(rhs) {
		u.Set(v)
	} else {
		u.Neg(v)
		u.Sub(u, curveA)
	}
	u.Mod(u, fieldPrime)
	return feToLE(u)
}
