package ecdsa

import (
	"encoding/json"
	"math/big"

	"github.com/bnb-chain/tss-lib/crypto/paillier"
	"github.com/pkg/errors"

	"github.com/cryptochill/tss-ecdsa-cli/common"
)

// Legacy (curv 0.7) fragment support. The old files are a JSON tuple
// [keys, shared_keys, party_id, vss_vec, paillier_vec, y_sum] with scalars
// and point coordinates as hex strings and the Paillier keys as decimal
// bigint strings. The reader converts field by field into the current
// Fragment; both decoders stay supported.

// legacyInt tolerates the bigint spellings the old serializers produced:
// a bare JSON number or a decimal string.
type legacyInt struct {
	*big.Int
}

func (l *legacyInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// bare number literal
		i, ok := new(big.Int).SetString(string(data), 10)
		if !ok {
			return errors.Errorf("malformed legacy integer %q", data)
		}
		l.Int = i
		return nil
	}
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return errors.Errorf("malformed legacy integer %q", s)
	}
	l.Int = i
	return nil
}

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
	hp := common.HexPoint{X: p.X, Y: p.Y}
	if _, err := hp.ToPoint(Curve()); err != nil {
		return common.HexPoint{}, err
	}
	return hp, nil
}

type legacyDecryptionKey struct {
	P legacyInt `json:"p"`
	Q legacyInt `json:"q"`
}

type legacyEncryptionKey struct {
	N legacyInt `json:"n"`
}

type legacyKeys struct {
	UI         legacyScalar        `json:"u_i"`
	YI         legacyPoint         `json:"y_i"`
	DK         legacyDecryptionKey `json:"dk"`
	EK         legacyEncryptionKey `json:"ek"`
	PartyIndex uint16              `json:"party_index"`
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

// paillierFromPrimes rebuilds the current private key form from the legacy
// (p, q) prime pair.
func paillierFromPrimes(p, q *big.Int) *paillier.PrivateKey {
	n := new(big.Int).Mul(p, q)
	pMinus1 := new(big.Int).Sub(p, big.NewInt(1))
	qMinus1 := new(big.Int).Sub(q, big.NewInt(1))
	phiN := new(big.Int).Mul(pMinus1, qMinus1)
	gcd := new(big.Int).GCD(nil, nil, pMinus1, qMinus1)
	lambdaN := new(big.Int).Div(phiN, gcd)
	return &paillier.PrivateKey{
		PublicKey: paillier.PublicKey{N: n},
		LambdaN:   lambdaN,
		PhiN:      phiN,
	}
}

// ConvertCurv07 decodes a legacy fragment blob into the current layout.
func ConvertCurv07(data []byte) (*Fragment, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return nil, errors.Wrap(err, "fragment is neither current nor curv-0.7 encoded")
	}
	if len(tuple) != 6 {
		return nil, errors.Errorf("legacy fragment tuple has %d elements, want 6", len(tuple))
	}

	var (
		keys       legacyKeys
		sharedKeys legacySharedKeys
		partyID    uint16
		vssVec     []legacyVSS
		paillierEK []legacyEncryptionKey
		ySum       legacyPoint
	)
	fields := []interface{}{&keys, &sharedKeys, &partyID, &vssVec, &paillierEK, &ySum}
	for i, out := range fields {
		if err := json.Unmarshal(tuple[i], out); err != nil {
			return nil, errors.Wrapf(err, "legacy fragment element %d", i)
		}
	}

	ui, err := keys.UI.toInt()
	if err != nil {
		return nil, err
	}
	xi, err := sharedKeys.XI.toInt()
	if err != nil {
		return nil, err
	}
	yi, err := keys.YI.toHexPoint()
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

	eks := make([]*paillier.PublicKey, len(paillierEK))
	for i, ek := range paillierEK {
		eks[i] = &paillier.PublicKey{N: ek.N.Int}
	}

	sk := paillierFromPrimes(keys.DK.P.Int, keys.DK.Q.Int)
	return &Fragment{
		Keys: LocalKeys{
			UI:            common.NewHexInt(ui),
			YI:            yi,
			PaillierSK:    sk,
			PaillierPK:    &sk.PublicKey,
			FragmentIndex: keys.PartyIndex,
		},
		SharedKeys:     SharedKeys{Y: y, XI: common.NewHexInt(xi)},
		FragmentIndex:  partyID,
		VSSCommitments: vss,
		PaillierPKs:    eks,
		Y:              yJoint,
	}, nil
}
