// Package ecdsa runs the GG18 threshold ECDSA flows over secp256k1: the
// distributed key generation that writes a fragment file, and the signing
// state machine that turns t+1 fragments into one signature.
package ecdsa

import (
	"crypto/elliptic"
	"encoding/json"
	"math/big"
	"os"

	"github.com/bnb-chain/tss-lib/crypto"
	"github.com/bnb-chain/tss-lib/crypto/paillier"
	"github.com/bnb-chain/tss-lib/tss"
	"github.com/ipfs/go-log"
	"github.com/pkg/errors"

	"github.com/cryptochill/tss-ecdsa-cli/common"
)

var logger = log.Logger("tss-cli/ecdsa")

func Curve() elliptic.Curve { return tss.S256() }

// LocalKeys is this party's long-term secret material.
type LocalKeys struct {
	UI            common.HexInt        `json:"u_i"`
	YI            common.HexPoint      `json:"y_i"`
	PaillierSK    *paillier.PrivateKey `json:"dk"`
	PaillierPK    *paillier.PublicKey  `json:"ek"`
	FragmentIndex uint16               `json:"party_index"`
}

// SharedKeys is this party's Shamir share of the joint secret and the joint
// public key it belongs to.
type SharedKeys struct {
	Y  common.HexPoint `json:"y"`
	XI common.HexInt   `json:"x_i"`
}

// Fragment is the persisted share bundle: written once by keygen, read by
// every signer.
type Fragment struct {
	Keys           LocalKeys             `json:"keys"`
	SharedKeys     SharedKeys            `json:"shared_keys"`
	FragmentIndex  uint16                `json:"fragment_index"`
	VSSCommitments [][]common.HexPoint   `json:"vss_commitments"`
	PaillierPKs    []*paillier.PublicKey `json:"paillier_encryption_keys"`
	Y              common.HexPoint       `json:"y_sum"`
}

// Threshold is t of the (t, n) sharing, recovered from the commitment
// vector degree.
func (f *Fragment) Threshold() int {
	return len(f.VSSCommitments[0]) - 1
}

func (f *Fragment) Parties() int {
	return len(f.VSSCommitments)
}

func (f *Fragment) JointPublicKey() (*crypto.ECPoint, error) {
	return f.Y.ToPoint(Curve())
}

func (f *Fragment) VSSPoints() ([][]*crypto.ECPoint, error) {
	out := make([][]*crypto.ECPoint, len(f.VSSCommitments))
	for i, vs := range f.VSSCommitments {
		ps, err := common.PointsFromHex(Curve(), vs)
		if err != nil {
			return nil, errors.Wrapf(err, "commitment vector of party %d", i+1)
		}
		out[i] = ps
	}
	return out, nil
}

// WriteFragment persists the fragment file. It is written exactly once;
// signers only ever read it.
func WriteFragment(path string, f *Fragment) error {
	data, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "encoding fragment")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "writing fragment file %s", path)
	}
	logger.Infof("keys data written to file: %s", path)
	return nil
}

// ReadFragment loads a fragment file, trying the current encoding first and
// falling back to the legacy curv-0.7 tuple.
func ReadFragment(path string) (*Fragment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load keys file at location: %s", path)
	}
	var f Fragment
	if err := json.Unmarshal(data, &f); err == nil && f.Parties() > 0 {
		return &f, nil
	}
	logger.Debugf("fragment %s is not in the current format, trying curv 0.7", path)
	return ConvertCurv07(data)
}

// lagrangeForSigners computes this signer's Lagrange-weighted share w_i and
// the weighted public share points bigW_j for every signer, over the
// qualified set given by the signers' fragment indices.
func lagrangeForSigners(xi *big.Int, me int, signerIndices []*big.Int, vssVectors [][]*crypto.ECPoint) (*big.Int, []*crypto.ECPoint, error) {
	curve := Curve()
	q := curve.Params().N
	bigWs := make([]*crypto.ECPoint, len(signerIndices))
	var wi *big.Int
	for j, idx := range signerIndices {
		// X_j = sum over all dealers' commitment vectors at x=idx
		var bigX *crypto.ECPoint
		for d := range vssVectors {
			ev, err := common.EvalVSSCommitment(curve, vssVectors[d], idx)
			if err != nil {
				return nil, nil, err
			}
			if bigX, err = common.SumPoints(bigX, ev); err != nil {
				return nil, nil, err
			}
		}
		lambda, err := common.LagrangeCoefficient(q, signerIndices, j)
		if err != nil {
			return nil, nil, err
		}
		bigWs[j] = bigX.ScalarMult(lambda)
		if j == me {
			wi = new(big.Int).Mod(new(big.Int).Mul(lambda, xi), q)
		}
	}
	if wi == nil {
		return nil, nil, errors.New("local party is not among the signers")
	}
	return wi, bigWs, nil
}
