// Package eddsa runs the threshold Schnorr/EdDSA flows over Ed25519:
// distributed key generation, deterministic ephemeral keygen and the
// local-signature round that assembles a standard Ed25519 signature.
package eddsa

import (
	"crypto/elliptic"
	"encoding/json"
	"math/big"
	"os"

	"github.com/bnb-chain/tss-lib/crypto"
	"github.com/bnb-chain/tss-lib/tss"
	"github.com/ipfs/go-log"
	"github.com/pkg/errors"

	"github.com/cryptochill/tss-ecdsa-cli/common"
)

var logger = log.Logger("tss-cli/eddsa")

func Curve() elliptic.Curve { return tss.Edwards() }

// LocalKeys is this party's long-term secret material. The nonce seed keys
// the deterministic ephemeral secrets so a party's contribution to a
// message's nonce is reproducible.
type LocalKeys struct {
	UI            common.HexInt   `json:"u_i"`
	YI            common.HexPoint `json:"y_i"`
	NonceSeed     common.HexInt   `json:"nonce_seed"`
	FragmentIndex uint16          `json:"party_index"`
}

type SharedKeys struct {
	Y  common.HexPoint `json:"y"`
	XI common.HexInt   `json:"x_i"`
}

// Fragment is the persisted EdDSA share bundle. It mirrors the ECDSA
// layout without the Paillier material.
type Fragment struct {
	Keys           LocalKeys           `json:"keys"`
	SharedKeys     SharedKeys          `json:"shared_keys"`
	FragmentIndex  uint16              `json:"fragment_index"`
	VSSCommitments [][]common.HexPoint `json:"vss_commitments"`
	Y              common.HexPoint     `json:"y_sum"`
}

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

// Legacy (curv 0.7) EdDSA fragments: a 5-tuple with hex-string scalars and
// {x, y} hex points. Curv 0.7 multiplied Ed25519 points by the cofactor on
// deserialization; importing them requires the eight-inverse-eight
// correction.

type legacyScalar string

func (s legacyScalar) toInt() (*big.Int, error) {
	i, ok := new(big.Int).SetString(string(s), 16)
	if !ok {
		return nil, errors.Errorf("malformed legacy scalar %q", s)
	}
	return i, nil
}

type legacyPoint struct {
	X string `json:"x"`
	Y string `json:"y"`
}

func (p legacyPoint) toHexPoint() (common.HexPoint, error) {
	pt, err := common.HexPoint{X: p.X, Y: p.Y}.ToPoint(Curve())
	if err != nil {
		return common.HexPoint{}, err
	}
	return common.PointToHex(pt.EightInvEight()), nil
}

type legacyExpandedKey struct {
	Prefix     legacyScalar `json:"prefix"`
	PrivateKey legacyScalar `json:"private_key"`
}

type legacyKeys struct {
	Keypair struct {
		PublicKey          legacyPoint       `json:"public_key"`
		ExpendedPrivateKey legacyExpandedKey `json:"expended_private_key"`
	} `json:"keypair"`
	PartyIndex uint16 `json:"party_index"`
}

type legacySharedKeys struct {
	Y  legacyPoint  `json:"y"`
	XI legacyScalar `json:"x_i"`
}

type legacyVSS struct {
	Parameters struct {
		Threshold  int `json:"threshold"`
		ShareCount int `json:"share_count"`
	} `json:"parameters"`
	Commitments []legacyPoint `json:"commitments"`
}

// ConvertCurv07 decodes a legacy EdDSA fragment blob into the current
// layout.
func ConvertCurv07(data []byte) (*Fragment, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return nil, errors.Wrap(err, "fragment is neither current nor curv-0.7 encoded")
	}
	if len(tuple) != 5 {
		return nil, errors.Errorf("legacy fragment tuple has %d elements, want 5", len(tuple))
	}
	var (
		keys       legacyKeys
		sharedKeys legacySharedKeys
		partyID    uint16
		vssVec     []legacyVSS
		ySum       legacyPoint
	)
	fields := []interface{}{&keys, &sharedKeys, &partyID, &vssVec, &ySum}
	for i, out := range fields {
		if err := json.Unmarshal(tuple[i], out); err != nil {
			return nil, errors.Wrapf(err, "legacy fragment element %d", i)
		}
	}

	ui, err := keys.Keypair.ExpendedPrivateKey.PrivateKey.toInt()
	if err != nil {
		return nil, err
	}
	seed, err := keys.Keypair.ExpendedPrivateKey.Prefix.toInt()
	if err != nil {
		return nil, err
	}
	xi, err := sharedKeys.XI.toInt()
	if err != nil {
		return nil, err
	}
	yi, err := keys.Keypair.PublicKey.toHexPoint()
	if err != nil {
		return nil, err
	}
	y, err := sharedKeys.Y.toHexPoint()
	if err != nil {
		return nil, err
	}
	yJoint, err := ySum.toHexPoint()
	if err != nil {
		return nil, err
	}

	vss := make([][]common.HexPoint, len(vssVec))
	for i, scheme := range vssVec {
		if scheme.Parameters.Threshold != len(scheme.Commitments)-1 {
			return nil, errors.Errorf("legacy vss vector %d: declared threshold %d does not match %d commitments",
				i+1, scheme.Parameters.Threshold, len(scheme.Commitments))
		}
		if scheme.Parameters.ShareCount != len(vssVec) {
			return nil, errors.Errorf("legacy vss vector %d: declared share count %d does not match %d vectors",
				i+1, scheme.Parameters.ShareCount, len(vssVec))
		}
		vss[i] = make([]common.HexPoint, len(scheme.Commitments))
		for k, c := range scheme.Commitments {
			if vss[i][k], err = c.toHexPoint(); err != nil {
				return nil, errors.Wrapf(err, "legacy vss vector %d", i+1)
			}
		}
	}

	return &Fragment{
		Keys: LocalKeys{
			UI:            common.NewHexInt(ui),
			YI:            yi,
			NonceSeed:     common.NewHexInt(seed),
			FragmentIndex: keys.PartyIndex,
		},
		SharedKeys:     SharedKeys{Y: y, XI: common.NewHexInt(xi)},
		FragmentIndex:  partyID,
		VSSCommitments: vss,
		Y:              yJoint,
	}, nil
}
