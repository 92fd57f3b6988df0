package ecdsa

import (
	"math/big"

	"github.com/bnb-chain/tss-lib/crypto"
	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/pkg/errors"

	"github.com/cryptochill/tss-ecdsa-cli/common"
)

// SignResult is the record a successful signing session prints.
type SignResult struct {
	R      string `json:"r"`
	S      string `json:"s"`
	Status string `json:"status"`
	Recid  int    `json:"recid"`
	X      string `json:"x"`
	Y      string `json:"y"`
	MsgInt string `json:"msg_int"`
}

// finalizeSignature normalizes (r, s) to the low-s convention, derives the
// recovery id, and verifies the signature locally before emitting it.
func finalizeSignature(r, s *big.Int, bigR, y *crypto.ECPoint, m, msgInt *big.Int) (*SignResult, error) {
	q := Curve().Params().N
	recid := int(bigR.Y().Bit(0))
	halfQ := new(big.Int).Rsh(q, 1)
	if s.Cmp(halfQ) > 0 {
		s = new(big.Int).Sub(q, s)
		recid ^= 1
	}
	if !VerifySignature(r, s, m, y) {
		return nil, errors.New("verification failed")
	}
	return &SignResult{
		R:      r.Text(16),
		S:      s.Text(16),
		Status: "signature_ready",
		Recid:  recid,
		X:      y.X().Text(16),
		Y:      y.Y().Text(16),
		MsgInt: msgInt.String(),
	}, nil
}

// VerifySignature checks (r, s) over the 32-byte big-endian rendering of m
// under secp256k1 rules.
func VerifySignature(r, s, m *big.Int, y *crypto.ECPoint) bool {
	var rScalar, sScalar btcec.ModNScalar
	if overflow := rScalar.SetByteSlice(common.PadToLength(r.Bytes(), 32)); overflow {
		return false
	}
	if overflow := sScalar.SetByteSlice(common.PadToLength(s.Bytes(), 32)); overflow {
		return false
	}
	var fx, fy btcec.FieldVal
	if fx.SetByteSlice(common.PadToLength(y.X().Bytes(), 32)) {
		return false
	}
	if fy.SetByteSlice(common.PadToLength(y.Y().Bytes(), 32)) {
		return false
	}
	pub := btcec.NewPublicKey(&fx, &fy)
	sig := btcecdsa.NewSignature(&rScalar, &sScalar)
	return sig.Verify(common.PadToLength(m.Bytes(), 32), pub)
}
