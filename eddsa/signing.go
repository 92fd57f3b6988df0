package eddsa

import (
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math/big"

	tsscommon "github.com/bnb-chain/tss-lib/common"
	"github.com/bnb-chain/tss-lib/crypto"
	"github.com/bnb-chain/tss-lib/crypto/commitments"
	"github.com/bnb-chain/tss-lib/crypto/vss"
	"github.com/decred/dcrd/dcrec/edwards/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/cryptochill/tss-ecdsa-cli/common"
	"github.com/cryptochill/tss-ecdsa-cli/hdkeys"
)

// SignResult is the record a successful EdDSA signing session prints. R is
// the canonical 32-byte point encoding as hex.
type SignResult struct {
	R      string `json:"r"`
	S      string `json:"s"`
	Status string `json:"status"`
	X      string `json:"x"`
	Y      string `json:"y"`
	MsgInt string `json:"msg_int"`
}

func encodePoint(p *crypto.ECPoint) []byte {
	return edwards.NewPublicKey(p.X(), p.Y()).SerializeCompressed()
}

// hashToScalar is the Ed25519 challenge derivation: SHA-512 over the parts,
// interpreted little-endian and reduced mod the group order.
func hashToScalar(parts ...[]byte) *big.Int {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	digest := h.Sum(nil)
	for i, j := 0, len(digest)-1; i < j; i, j = i+1, j-1 {
		digest[i], digest[j] = digest[j], digest[i]
	}
	q := Curve().Params().N
	return new(big.Int).Mod(new(big.Int).SetBytes(digest), q)
}

type ephCommit struct {
	Com common.HexInt `json:"com"`
}

type ephDecommit struct {
	D []common.HexInt `json:"decommit"`
}

// Sign runs the threshold EdDSA rounds for one message. The ephemeral nonce
// comes from a per-signer deterministic DKG so a replayed session cannot be
// coaxed into a second nonce for the same message. If path is non-empty the
// experimental post-hoc HD shift is applied and the result verified under
// the child key.
func Sign(addr string, fragment *Fragment, threshold uint16, message []byte, path string) (*SignResult, error) {
	curve := Curve()
	q := curve.Params().N
	modQ := tsscommon.ModInt(q)
	n := threshold + 1

	y, err := fragment.JointPublicKey()
	if err != nil {
		return nil, err
	}
	staticVSS, err := fragment.VSSPoints()
	if err != nil {
		return nil, err
	}
	xi := fragment.SharedKeys.XI.Int

	fL := big.NewInt(0)
	if path != "" {
		pathVec, err := hdkeys.ParsePath(path)
		if err != nil {
			return nil, err
		}
		if y, fL, err = hdkeys.DerivePubKey(curve, y, pathVec); err != nil {
			return nil, err
		}
	}

	client := common.NewClient(addr)
	signup, err := client.SignupSign(threshold, common.RoomID(y, message, path), fragment.FragmentIndex)
	if err != nil {
		return nil, err
	}
	me := signup.PartyOrder
	logger.Infof("signing as order %d (fragment %d), room %s, curve ed25519", me, fragment.FragmentIndex, client.UUID)

	// round 0: learn which fragments are in the room
	signerNums, err := common.ExchangeData(client, n, "round0", fragment.FragmentIndex)
	if err != nil {
		return nil, err
	}
	signerIndices := make([]*big.Int, n)
	for k, num := range signerNums {
		signerIndices[k] = big.NewInt(int64(num))
	}
	myIndex := signerIndices[me-1]

	// ephemeral keygen: deterministic contribution, same ceremony shape as
	// the static DKG but dealt only among the signers, at their fragment
	// indices
	var idxBytes [2]byte
	binary.BigEndian.PutUint16(idxBytes[:], fragment.FragmentIndex)
	ri := hashToScalar(common.PadToLength(fragment.Keys.NonceSeed.Int.Bytes(), 32), message, idxBytes[:])
	if ri.Sign() == 0 {
		return nil, errors.New("degenerate ephemeral secret")
	}
	bigRi := crypto.ScalarBaseMult(curve, ri)

	cmt := commitments.NewHashCommitment(bigRi.X(), bigRi.Y())
	commits, err := common.ExchangeData(client, n, "eph_keygen_round1", ephCommit{Com: common.NewHexInt(cmt.C)})
	if err != nil {
		return nil, err
	}
	decommits, err := common.ExchangeData(client, n, "eph_keygen_round2", ephDecommit{D: hexInts(cmt.D)})
	if err != nil {
		return nil, err
	}
	rPoints := make([]*crypto.ECPoint, n)
	pairwiseKeys := make([][]byte, n)
	for order := uint16(1); order <= n; order++ {
		if order == me {
			rPoints[order-1] = bigRi
			continue
		}
		cd := commitments.HashCommitDecommit{C: commits[order-1].Com.Int, D: rawInts(decommits[order-1].D)}
		ok, values := cd.DeCommit()
		if !ok || len(values) != 2 {
			return nil, errors.Errorf("order %d: R_i commitment verification failed", order)
		}
		rj, err := crypto.NewECPoint(curve, values[0], values[1])
		if err != nil {
			return nil, errors.Wrapf(err, "order %d: decommitted R_i", order)
		}
		rPoints[order-1] = rj
		pairwiseKeys[order-1] = common.PairwiseKey(rj, ri)
	}
	bigR, err := common.SumPoints(nil, rPoints...)
	if err != nil {
		return nil, err
	}

	// eph_keygen_round3 (p2p): deal the ephemeral shares at the signers'
	// fragment indices
	ephVs, ephShares, err := common.CreateSharing(curve, int(threshold), ri, signerIndices)
	if err != nil {
		return nil, errors.Wrap(err, "creating the ephemeral sharing")
	}
	for order := uint16(1); order <= n; order++ {
		if order == me {
			continue
		}
		box, err := common.AESEncrypt(pairwiseKeys[order-1], ephShares[order-1].Share.Bytes())
		if err != nil {
			return nil, errors.Wrapf(err, "encrypting the ephemeral share for order %d", order)
		}
		payload, err := json.Marshal(box)
		if err != nil {
			return nil, errors.Wrap(err, "encoding ephemeral share box")
		}
		if err := client.SendP2P(order, "eph_keygen_round3", string(payload)); err != nil {
			return nil, err
		}
	}
	round3, err := client.PollForP2P(n, "eph_keygen_round3")
	if err != nil {
		return nil, err
	}
	ephReceived := make([]*big.Int, n)
	k := 0
	for order := uint16(1); order <= n; order++ {
		if order == me {
			ephReceived[order-1] = ephShares[order-1].Share
			continue
		}
		var box common.AEAD
		if err := json.Unmarshal([]byte(round3[k]), &box); err != nil {
			return nil, errors.Wrapf(err, "decoding ephemeral share box from order %d", order)
		}
		plain, err := common.AESDecrypt(pairwiseKeys[order-1], &box)
		if err != nil {
			return nil, errors.Wrapf(err, "ephemeral share from order %d", order)
		}
		ephReceived[order-1] = new(big.Int).SetBytes(plain)
		k++
	}

	// eph_keygen_round4: commitment vectors, share verification
	ephVectorsHex, err := common.ExchangeData(client, n, "eph_keygen_round4", common.PointsToHex(ephVs))
	if err != nil {
		return nil, err
	}
	ephVectors := make([][]*crypto.ECPoint, n)
	var ephErr error
	for order := uint16(1); order <= n; order++ {
		ps, err := common.PointsFromHex(curve, ephVectorsHex[order-1])
		if err != nil {
			return nil, errors.Wrapf(err, "ephemeral commitment vector of order %d", order)
		}
		ephVectors[order-1] = ps
		if order == me {
			continue
		}
		if len(ps) != int(threshold)+1 {
			ephErr = multierror.Append(ephErr, errors.Errorf("order %d: ephemeral vector degree mismatch", order))
			continue
		}
		if !ps[0].Equals(rPoints[order-1]) {
			ephErr = multierror.Append(ephErr, errors.Errorf("order %d: ephemeral vector does not open R_i", order))
			continue
		}
		share := &vss.Share{Threshold: int(threshold), ID: myIndex, Share: ephReceived[order-1]}
		if !share.Verify(curve, int(threshold), ps) {
			ephErr = multierror.Append(ephErr, errors.Errorf("order %d: invalid ephemeral share", order))
		}
	}
	if ephErr != nil {
		return nil, errors.Wrap(ephErr, "invalid ephemeral key")
	}
	ephShareI := big.NewInt(0)
	for _, s := range ephReceived {
		ephShareI = modQ.Add(ephShareI, s)
	}

	// local signatures
	challenge := hashToScalar(encodePoint(bigR), encodePoint(y), message)
	sI := modQ.Add(ephShareI, modQ.Mul(challenge, xi))
	localSigs, err := common.ExchangeData(client, n, "round1_local_sig", common.NewHexInt(sI))
	if err != nil {
		return nil, err
	}

	// verify every local sig against the static and ephemeral sharings
	var sigErr error
	for order := uint16(1); order <= n; order++ {
		idx := signerIndices[order-1]
		var ephImage *crypto.ECPoint
		for d := range ephVectors {
			ev, err := common.EvalVSSCommitment(curve, ephVectors[d], idx)
			if err != nil {
				return nil, err
			}
			if ephImage, err = common.SumPoints(ephImage, ev); err != nil {
				return nil, err
			}
		}
		var staticImage *crypto.ECPoint
		for d := range staticVSS {
			ev, err := common.EvalVSSCommitment(curve, staticVSS[d], idx)
			if err != nil {
				return nil, err
			}
			if staticImage, err = common.SumPoints(staticImage, ev); err != nil {
				return nil, err
			}
		}
		expected, err := ephImage.Add(staticImage.ScalarMult(challenge))
		if err != nil {
			return nil, err
		}
		if !crypto.ScalarBaseMult(curve, localSigs[order-1].Int).Equals(expected) {
			sigErr = multierror.Append(sigErr, errors.Errorf("order %d: invalid local signature", order))
		}
	}
	if sigErr != nil {
		return nil, errors.Wrap(sigErr, "local signature verification failed")
	}

	// Lagrange-combine the local signatures at the signers' indices
	s := big.NewInt(0)
	for order := 0; order < int(n); order++ {
		lambda, err := common.LagrangeCoefficient(q, signerIndices, order)
		if err != nil {
			return nil, err
		}
		s = modQ.Add(s, modQ.Mul(lambda, localSigs[order].Int))
	}

	if path != "" {
		// post-hoc child-key shift; experimental, kept behind the explicit
		// path flag
		s = modQ.Add(s, modQ.Mul(fL, challenge))
	}

	if !verify(bigR, s, message, y) {
		return nil, errors.New("verification failed")
	}
	msgInt := new(big.Int).SetBytes(message)
	return &SignResult{
		R:      hex.EncodeToString(encodePoint(bigR)),
		S:      s.Text(16),
		Status: "signature_ready",
		X:      y.X().Text(16),
		Y:      y.Y().Text(16),
		MsgInt: msgInt.String(),
	}, nil
}

// verify checks s*G == R + H(R,Y,m)*Y on the curve.
func verify(bigR *crypto.ECPoint, s *big.Int, message []byte, y *crypto.ECPoint) bool {
	challenge := hashToScalar(encodePoint(bigR), encodePoint(y), message)
	left := crypto.ScalarBaseMult(Curve(), s)
	right, err := bigR.Add(y.ScalarMult(challenge))
	if err != nil {
		return false
	}
	return left.Equals(right)
}
