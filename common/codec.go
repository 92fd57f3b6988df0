package common

import (
	"crypto/elliptic"
	"encoding/json"
	"math/big"

	"github.com/bnb-chain/tss-lib/crypto"
	"github.com/pkg/errors"
)

// HexInt is a big.Int that travels as a hex string, the encoding the
// fragment files and relay payloads use for scalars.
type HexInt struct {
	*big.Int
}

func NewHexInt(i *big.Int) HexInt {
	return HexInt{new(big.Int).Set(i)}
}

func (h HexInt) MarshalJSON() ([]byte, error) {
	if h.Int == nil {
		return nil, errors.New("cannot encode a nil scalar")
	}
	return json.Marshal(h.Text(16))
}

func (h *HexInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	i, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return errors.Errorf("malformed hex scalar %q", s)
	}
	h.Int = i
	return nil
}

// HexPoint is an affine curve point as a pair of hex strings.
type HexPoint struct {
	X string `json:"x"`
	Y string `json:"y"`
}

func PointToHex(p *crypto.ECPoint) HexPoint {
	return HexPoint{X: p.X().Text(16), Y: p.Y().Text(16)}
}

func (hp HexPoint) ToPoint(curve elliptic.Curve) (*crypto.ECPoint, error) {
	x, ok := new(big.Int).SetString(hp.X, 16)
	if !ok {
		return nil, errors.Errorf("malformed point x %q", hp.X)
	}
	y, ok := new(big.Int).SetString(hp.Y, 16)
	if !ok {
		return nil, errors.Errorf("malformed point y %q", hp.Y)
	}
	pt, err := crypto.NewECPoint(curve, x, y)
	return pt, errors.Wrap(err, "point is not on the curve")
}

func PointsToHex(ps []*crypto.ECPoint) []HexPoint {
	out := make([]HexPoint, len(ps))
	for i, p := range ps {
		out[i] = PointToHex(p)
	}
	return out
}

func PointsFromHex(curve elliptic.Curve, hps []HexPoint) ([]*crypto.ECPoint, error) {
	out := make([]*crypto.ECPoint, len(hps))
	for i, hp := range hps {
		p, err := hp.ToPoint(curve)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// PadToLength left-pads b with zero bytes to the wanted length. Pairwise AES
// keys and signature components are fixed-width on the wire.
func PadToLength(b []byte, length int) []byte {
	if len(b) >= length {
		return b
	}
	padded := make([]byte, length)
	copy(padded[length-len(b):], b)
	return padded
}

// PairwiseKey derives the AES-256 key both ends of a p2p channel agree on:
// the zero-left-padded x-coordinate of (peerY * myU).
func PairwiseKey(peerY *crypto.ECPoint, myU *big.Int) []byte {
	shared := peerY.ScalarMult(myU)
	return PadToLength(shared.X().Bytes(), AESKeyBytesLen)
}
