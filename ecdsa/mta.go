package ecdsa

import (
	"math/big"

	tsscommon "github.com/bnb-chain/tss-lib/common"
	"github.com/bnb-chain/tss-lib/crypto"
	"github.com/bnb-chain/tss-lib/crypto/paillier"
	"github.com/bnb-chain/tss-lib/crypto/schnorr"
	"github.com/pkg/errors"

	"github.com/cryptochill/tss-ecdsa-cli/common"
)

// Multiplicative-to-additive share conversion, GG18 (2018) shape: Alice
// contributes an encryption of her multiplier, Bob answers with
// b*cA (+) Enc(beta') and discrete-log proofs binding his multiplier and
// blinding term. Alice decrypts alpha = a*b + beta' and checks it against
// the proved points; Bob keeps beta = -beta'. No range proofs travel here;
// dishonest magnitudes surface as a failed consistency check and abort the
// round.

var zero = big.NewInt(0)

// zkProofWire is the relay form of a Schnorr PoK.
type zkProofWire struct {
	Alpha common.HexPoint `json:"alpha"`
	T     common.HexInt   `json:"t"`
}

func proofToWire(p *schnorr.ZKProof) zkProofWire {
	return zkProofWire{Alpha: common.PointToHex(p.Alpha), T: common.NewHexInt(p.T)}
}

func (w zkProofWire) toProof() (*schnorr.ZKProof, error) {
	alpha, err := w.Alpha.ToPoint(Curve())
	if err != nil {
		return nil, errors.Wrap(err, "proof alpha point")
	}
	return &schnorr.ZKProof{Alpha: alpha, T: w.T.Int}, nil
}

// MessageA opens the MtA: the Paillier encryption of the sender's nonce
// under the sender's own encryption key.
type MessageA struct {
	C common.HexInt `json:"c"`
}

func NewMessageA(k *big.Int, ek *paillier.PublicKey) (*MessageA, error) {
	c, err := ek.Encrypt(k)
	if err != nil {
		return nil, errors.Wrap(err, "encrypting MtA nonce")
	}
	return &MessageA{C: common.NewHexInt(c)}, nil
}

// MessageB is Bob's MtA response for one multiplier b.
type MessageB struct {
	C            common.HexInt   `json:"c"`
	BPk          common.HexPoint `json:"b_pk"`
	BetaTagPk    common.HexPoint `json:"beta_tag_pk"`
	BProof       zkProofWire     `json:"b_proof"`
	BetaTagProof zkProofWire     `json:"beta_tag_proof"`
}

// NewMessageB homomorphically multiplies Alice's ciphertext by b, blinds it
// with a fresh beta', and proves knowledge of both scalars. Returns the
// message and Bob's additive share beta = -beta' mod q.
func NewMessageB(b *big.Int, aliceEK *paillier.PublicKey, msgA *MessageA) (*MessageB, *big.Int, error) {
	q := Curve().Params().N
	betaTag := tsscommon.GetRandomPositiveInt(q)

	cBetaTag, err := aliceEK.Encrypt(betaTag)
	if err != nil {
		return nil, nil, errors.Wrap(err, "encrypting beta'")
	}
	bCA, err := aliceEK.HomoMult(b, msgA.C.Int)
	if err != nil {
		return nil, nil, errors.Wrap(err, "homomorphic multiply")
	}
	c, err := aliceEK.HomoAdd(bCA, cBetaTag)
	if err != nil {
		return nil, nil, errors.Wrap(err, "homomorphic add")
	}

	bPk := crypto.ScalarBaseMult(Curve(), b)
	betaTagPk := crypto.ScalarBaseMult(Curve(), betaTag)
	bProof, err := schnorr.NewZKProof(b, bPk)
	if err != nil {
		return nil, nil, errors.Wrap(err, "proving b")
	}
	betaTagProof, err := schnorr.NewZKProof(betaTag, betaTagPk)
	if err != nil {
		return nil, nil, errors.Wrap(err, "proving beta'")
	}

	beta := tsscommon.ModInt(q).Sub(zero, betaTag)
	return &MessageB{
		C:            common.NewHexInt(c),
		BPk:          common.PointToHex(bPk),
		BetaTagPk:    common.PointToHex(betaTagPk),
		BProof:       proofToWire(bProof),
		BetaTagProof: proofToWire(betaTagProof),
	}, beta, nil
}

// VerifyProofsGetAlpha closes the MtA on Alice's side: decrypt alpha, check
// both discrete-log proofs, and check alpha*G == k*B + beta'*G. Any
// mismatch is a protocol error.
func (m *MessageB) VerifyProofsGetAlpha(dk *paillier.PrivateKey, k *big.Int) (*big.Int, error) {
	q := Curve().Params().N
	alphaRaw, err := dk.Decrypt(m.C.Int)
	if err != nil {
		return nil, errors.Wrap(err, "decrypting MtA response")
	}
	alpha := new(big.Int).Mod(alphaRaw, q)

	bPk, err := m.BPk.ToPoint(Curve())
	if err != nil {
		return nil, errors.Wrap(err, "b_pk point")
	}
	betaTagPk, err := m.BetaTagPk.ToPoint(Curve())
	if err != nil {
		return nil, errors.Wrap(err, "beta_tag_pk point")
	}
	bProof, err := m.BProof.toProof()
	if err != nil {
		return nil, err
	}
	betaTagProof, err := m.BetaTagProof.toProof()
	if err != nil {
		return nil, err
	}
	if !bProof.Verify(bPk) || !betaTagProof.Verify(betaTagPk) {
		return nil, errors.New("MtA discrete-log proof verification failed")
	}

	gAlpha := crypto.ScalarBaseMult(Curve(), alpha)
	expected, err := bPk.ScalarMult(new(big.Int).Mod(k, q)).Add(betaTagPk)
	if err != nil {
		return nil, errors.Wrap(err, "MtA consistency point")
	}
	if !gAlpha.Equals(expected) {
		return nil, errors.New("MtA alpha is inconsistent with the proved points")
	}
	return alpha, nil
}

// BPkPoint exposes Bob's proved multiplier image g^b; the signing flow
// checks it against the expected Lagrange-weighted share point.
func (m *MessageB) BPkPoint() (*crypto.ECPoint, error) {
	return m.BPk.ToPoint(Curve())
}
