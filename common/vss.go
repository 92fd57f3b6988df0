package common

import (
	"crypto/elliptic"
	"math/big"

	tsscommon "github.com/bnb-chain/tss-lib/common"
	"github.com/bnb-chain/tss-lib/crypto"
	"github.com/bnb-chain/tss-lib/crypto/vss"
	"github.com/pkg/errors"
)

// CreateSharing deals a Feldman sharing of secret at the given indexes.
// The degenerate t=0 sharing (a single party holding the whole secret) is a
// constant polynomial, which the library refuses to deal; it is built here
// so the single-party scheme runs the same code path as every other.
func CreateSharing(curve elliptic.Curve, threshold int, secret *big.Int, indexes []*big.Int) (vss.Vs, vss.Shares, error) {
	if threshold > 0 {
		return vss.Create(curve, threshold, secret, indexes)
	}
	vs := vss.Vs{crypto.ScalarBaseMult(curve, secret)}
	shares := make(vss.Shares, len(indexes))
	for i, id := range indexes {
		shares[i] = &vss.Share{Threshold: 0, ID: id, Share: new(big.Int).Set(secret)}
	}
	return vs, shares, nil
}

// EvalVSSCommitment evaluates a Feldman commitment vector at x=index in the
// exponent: sum over k of vs[k] * index^k. The result is the public image
// of the dealer's polynomial evaluated at that share index.
func EvalVSSCommitment(curve elliptic.Curve, vs []*crypto.ECPoint, index *big.Int) (*crypto.ECPoint, error) {
	if len(vs) == 0 {
		return nil, errors.New("empty commitment vector")
	}
	modQ := tsscommon.ModInt(curve.Params().N)
	acc := vs[0]
	t := big.NewInt(1)
	for k := 1; k < len(vs); k++ {
		t = modQ.Mul(t, index)
		next, err := acc.Add(vs[k].ScalarMult(t))
		if err != nil {
			return nil, errors.Wrap(err, "commitment evaluation")
		}
		acc = next
	}
	return acc, nil
}

// LagrangeCoefficient computes lambda_i(S) at zero for the share whose
// x-coordinate is indices[i], over the qualified set S = indices.
func LagrangeCoefficient(q *big.Int, indices []*big.Int, i int) (*big.Int, error) {
	modQ := tsscommon.ModInt(q)
	lambda := big.NewInt(1)
	xi := indices[i]
	for j, xj := range indices {
		if j == i {
			continue
		}
		if xj.Cmp(xi) == 0 {
			return nil, errors.Errorf("duplicate share index %s", xi)
		}
		num := xj
		den := modQ.Sub(xj, xi)
		lambda = modQ.Mul(lambda, modQ.Mul(num, modQ.ModInverse(den)))
	}
	return lambda, nil
}

// SumPoints folds points with a nil-tolerant accumulator so callers can sum
// collections that may legitimately collapse to the identity.
func SumPoints(acc *crypto.ECPoint, ps ...*crypto.ECPoint) (*crypto.ECPoint, error) {
	var err error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if acc == nil {
			acc = p
			continue
		}
		if acc, err = acc.Add(p); err != nil {
			return nil, errors.Wrap(err, "point accumulation")
		}
	}
	return acc, nil
}
