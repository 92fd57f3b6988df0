// Package hdkeys derives non-hardened child public keys from a joint
// public key, together with the cumulative scalar offset the signing
// protocol applies to its shares.
//
// The chain code is seeded from the curve generator, so the scheme is
// deliberately not BIP32: derivation is deterministic and fully public, a
// structural way of minting many child keys from one fragment set. Do not
// treat the chain code as a secret.
package hdkeys

import (
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/sha512"
	"math/big"
	"strings"

	tsscommon "github.com/bnb-chain/tss-lib/common"
	"github.com/bnb-chain/tss-lib/crypto"
	"github.com/bnb-chain/tss-lib/tss"
	"github.com/decred/dcrd/dcrec/edwards/v2"
	"github.com/pkg/errors"
)

// ParsePath splits a "1/2/3"-style derivation path into indexes. Every
// segment must be a non-negative integer.
func ParsePath(path string) ([]*big.Int, error) {
	segments := strings.Split(path, "/")
	out := make([]*big.Int, 0, len(segments))
	for _, seg := range segments {
		idx, ok := new(big.Int).SetString(strings.TrimSpace(seg), 10)
		if !ok || idx.Sign() < 0 {
			return nil, errors.Errorf("malformed path segment %q", seg)
		}
		out = append(out, idx)
	}
	return out, nil
}

// DerivePubKey walks the path from pub and returns the child public key and
// the total left-half offset f_L, reduced mod the group order. The ECDSA
// signer adds f_L to its share (and f_L*G to the leader's VSS zero
// commitment); the EdDSA signer adds f_L times the challenge to the
// assembled s. Either way the signature verifies under the child key.
func DerivePubKey(curve elliptic.Curve, pub *crypto.ECPoint, path []*big.Int) (*crypto.ECPoint, *big.Int, error) {
	if len(path) == 0 {
		return pub, big.NewInt(0), nil
	}
	q := curve.Params().N
	modQ := tsscommon.ModInt(q)

	chainCode := crypto.ScalarBaseMult(curve, big.NewInt(1))
	current := pub
	fLTotal := big.NewInt(0)

	for _, index := range path {
		mac := hmac.New(sha512.New, compress(curve, chainCode))
		mac.Write(compress(curve, current))
		mac.Write(indexBytes(index))
		sum := mac.Sum(nil)

		fL := new(big.Int).Mod(new(big.Int).SetBytes(sum[:32]), q)
		fR := new(big.Int).Mod(new(big.Int).SetBytes(sum[32:]), q)

		next, err := current.Add(crypto.ScalarBaseMult(curve, fL))
		if err != nil {
			return nil, nil, errors.Wrap(err, "child point derivation")
		}
		current = next
		chainCode = chainCode.ScalarMult(fR)
		fLTotal = modQ.Add(fLTotal, fL)
	}
	return current, fLTotal, nil
}

// compress renders a point in its curve's canonical compressed form:
// SEC1 (0x02/0x03 prefix) for secp256k1, the 32-byte y-with-sign encoding
// for Ed25519.
func compress(curve elliptic.Curve, p *crypto.ECPoint) []byte {
	if name, _ := tss.GetCurveName(curve); name == tss.Ed25519 {
		return edwards.NewPublicKey(p.X(), p.Y()).SerializeCompressed()
	}
	byteLen := (curve.Params().BitSize + 7) / 8
	out := make([]byte, 1+byteLen)
	out[0] = byte(2 + p.Y().Bit(0))
	p.X().FillBytes(out[1:])
	return out
}

// indexBytes is the minimal big-endian encoding of a path index, with zero
// as a single 0x00 byte.
func indexBytes(index *big.Int) []byte {
	b := index.Bytes()
	if len(b) == 0 {
		return []byte{0}
	}
	return b
}
