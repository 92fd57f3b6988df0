package ecdsa

import (
	"encoding/json"
	"math/big"

	tsscommon "github.com/bnb-chain/tss-lib/common"
	"github.com/bnb-chain/tss-lib/crypto"
	"github.com/bnb-chain/tss-lib/crypto/commitments"
	"github.com/bnb-chain/tss-lib/crypto/schnorr"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/cryptochill/tss-ecdsa-cli/common"
	"github.com/cryptochill/tss-ecdsa-cli/hdkeys"
)

// signRound1Msg carries the commitment to gamma_i*G and the MtA opener for
// k_i.
type signRound1Msg struct {
	Com  common.HexInt `json:"com"`
	MsgA MessageA      `json:"m_a_k"`
}

// signRound2Msg is the p2p MtA response pair: one MessageB for the peer's
// gamma multiplier, one for its Lagrange-weighted share.
type signRound2Msg struct {
	MBGamma MessageB `json:"m_b_gamma"`
	MBW     MessageB `json:"m_b_w"`
}

type signRound6Msg struct {
	D        []common.HexInt `json:"decommit"`
	VProof   vProofWire      `json:"heg_proof"`
	RhoProof zkProofWire     `json:"dlog_proof_rho"`
}

// vProofWire is the relay form of the GG18 Fig. 17 proof of (s_i, l_i) in
// V_i = s_i*R + l_i*G.
type vProofWire struct {
	Alpha common.HexPoint `json:"alpha"`
	T     common.HexInt   `json:"t"`
	U     common.HexInt   `json:"u"`
}

func vProofToWire(p *schnorr.ZKVProof) vProofWire {
	return vProofWire{Alpha: common.PointToHex(p.Alpha), T: common.NewHexInt(p.T), U: common.NewHexInt(p.U)}
}

func (w vProofWire) toProof() (*schnorr.ZKVProof, error) {
	alpha, err := w.Alpha.ToPoint(Curve())
	if err != nil {
		return nil, errors.Wrap(err, "v-proof alpha point")
	}
	return &schnorr.ZKVProof{Alpha: alpha, T: w.T.Int, U: w.U.Int}, nil
}

// Sign runs the GG18 signing rounds for one message and returns the
// signature record. If path is non-empty the signature verifies under the
// derived child key.
func Sign(addr string, fragment *Fragment, threshold uint16, message []byte, path string) (*SignResult, error) {
	curve := Curve()
	q := curve.Params().N
	modQ := tsscommon.ModInt(q)
	n := threshold + 1

	y, err := fragment.JointPublicKey()
	if err != nil {
		return nil, err
	}
	vssPoints, err := fragment.VSSPoints()
	if err != nil {
		return nil, err
	}
	xi := new(big.Int).Set(fragment.SharedKeys.XI.Int)

	// HD derivation happens before any network round; the scalar offset is
	// folded into the local share and the leader's commitment vector after
	// round 0 names the leader.
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
	logger.Infof("signing as order %d (fragment %d), room %s", me, fragment.FragmentIndex, client.UUID)

	// round 0: learn which fragments are in the room
	signerNums, err := common.ExchangeData(client, n, "round0", fragment.FragmentIndex)
	if err != nil {
		return nil, err
	}
	signerIndices := make([]*big.Int, n)
	for k, num := range signerNums {
		signerIndices[k] = big.NewInt(int64(num))
	}

	if path != "" {
		// the leader alone injects f_L into the joint secret: its
		// commitment vector's zero coefficient moves by f_L*G, which shifts
		// every share image once; every signer shifts its own share
		leader := signerNums[0] - 1
		shifted, err := vssPoints[leader][0].Add(crypto.ScalarBaseMult(curve, fL))
		if err != nil {
			return nil, errors.Wrap(err, "tweaking the leader commitment")
		}
		vssPoints[leader][0] = shifted
		xi = modQ.Add(xi, fL)
	}

	wi, bigWs, err := lagrangeForSigners(xi, int(me)-1, signerIndices, vssPoints)
	if err != nil {
		return nil, err
	}
	if !crypto.ScalarBaseMult(curve, wi).Equals(bigWs[me-1]) {
		return nil, errors.New("share is inconsistent with the commitment vectors")
	}

	// round 1: commit to gamma_i*G, open the MtA for k_i
	gammaI := tsscommon.GetRandomPositiveInt(q)
	kI := tsscommon.GetRandomPositiveInt(q)
	gammaIG := crypto.ScalarBaseMult(curve, gammaI)
	gammaCmt := commitments.NewHashCommitment(gammaIG.X(), gammaIG.Y())
	msgA, err := NewMessageA(kI, fragment.Keys.PaillierPK)
	if err != nil {
		return nil, err
	}
	round1, err := common.ExchangeData(client, n, "round1", signRound1Msg{
		Com:  common.NewHexInt(gammaCmt.C),
		MsgA: *msgA,
	})
	if err != nil {
		return nil, err
	}

	// round 2 (p2p): answer every peer's MessageA twice, with gamma_i and
	// with w_i; betas and nus stay local
	betas := make([]*big.Int, n)
	nus := make([]*big.Int, n)
	for order := uint16(1); order <= n; order++ {
		if order == me {
			continue
		}
		peerEK := fragment.PaillierPKs[signerNums[order-1]-1]
		mbGamma, betaGamma, err := NewMessageB(gammaI, peerEK, &round1[order-1].MsgA)
		if err != nil {
			return nil, errors.Wrapf(err, "MtA(gamma) for order %d", order)
		}
		mbW, betaW, err := NewMessageB(wi, peerEK, &round1[order-1].MsgA)
		if err != nil {
			return nil, errors.Wrapf(err, "MtA(w) for order %d", order)
		}
		betas[order-1] = betaGamma
		nus[order-1] = betaW
		payload, err := json.Marshal(signRound2Msg{MBGamma: *mbGamma, MBW: *mbW})
		if err != nil {
			return nil, errors.Wrap(err, "encoding round2 payload")
		}
		if err := client.SendP2P(order, "round2", string(payload)); err != nil {
			return nil, err
		}
	}
	round2Raw, err := client.PollForP2P(n, "round2")
	if err != nil {
		return nil, err
	}
	round2 := make([]*signRound2Msg, n)
	k := 0
	for order := uint16(1); order <= n; order++ {
		if order == me {
			continue
		}
		var msg signRound2Msg
		if err := json.Unmarshal([]byte(round2Raw[k]), &msg); err != nil {
			return nil, errors.Wrapf(err, "decoding round2 payload of order %d", order)
		}
		round2[order-1] = &msg
		k++
	}

	// delta/sigma: close both MtA legs per peer, check the proved w image
	deltaI := modQ.Mul(kI, gammaI)
	sigmaI := modQ.Mul(kI, wi)
	var mtaErr error
	for order := uint16(1); order <= n; order++ {
		if order == me {
			continue
		}
		msg := round2[order-1]
		alpha, err := msg.MBGamma.VerifyProofsGetAlpha(fragment.Keys.PaillierSK, kI)
		if err != nil {
			mtaErr = multierror.Append(mtaErr, errors.Wrapf(err, "order %d gamma leg", order))
			continue
		}
		mu, err := msg.MBW.VerifyProofsGetAlpha(fragment.Keys.PaillierSK, kI)
		if err != nil {
			mtaErr = multierror.Append(mtaErr, errors.Wrapf(err, "order %d w leg", order))
			continue
		}
		wPk, err := msg.MBW.BPkPoint()
		if err != nil {
			mtaErr = multierror.Append(mtaErr, errors.Wrapf(err, "order %d", order))
			continue
		}
		if !wPk.Equals(bigWs[order-1]) {
			mtaErr = multierror.Append(mtaErr, errors.Errorf("order %d proved a w inconsistent with its share", order))
			continue
		}
		deltaI = modQ.Add(deltaI, modQ.Add(alpha, betas[order-1]))
		sigmaI = modQ.Add(sigmaI, modQ.Add(mu, nus[order-1]))
	}
	if mtaErr != nil {
		return nil, errors.Wrap(mtaErr, "wrong dlog or m_b")
	}

	// round 3: broadcast delta_i, reconstruct delta^-1
	deltas, err := common.ExchangeData(client, n, "round3", common.NewHexInt(deltaI))
	if err != nil {
		return nil, err
	}
	deltaSum := big.NewInt(0)
	for _, d := range deltas {
		deltaSum = modQ.Add(deltaSum, d.Int)
	}
	deltaInv := modQ.ModInverse(deltaSum)

	// round 4: open gamma_i*G, assemble R
	round4, err := common.ExchangeData(client, n, "round4", hexInts(gammaCmt.D))
	if err != nil {
		return nil, err
	}
	var sumGamma *crypto.ECPoint
	for order := uint16(1); order <= n; order++ {
		gammaJG := gammaIG
		if order != me {
			cd := commitments.HashCommitDecommit{C: round1[order-1].Com.Int, D: rawInts(round4[order-1])}
			ok, values := cd.DeCommit()
			if !ok || len(values) != 2 {
				return nil, errors.Errorf("order %d: bad gamma_i decommit", order)
			}
			if gammaJG, err = crypto.NewECPoint(curve, values[0], values[1]); err != nil {
				return nil, errors.Wrapf(err, "order %d: decommitted gamma point", order)
			}
			gammaPk, err := round2[order-1].MBGamma.BPkPoint()
			if err != nil {
				return nil, err
			}
			if !gammaPk.Equals(gammaJG) {
				return nil, errors.Errorf("order %d: MtA gamma does not match its decommitment", order)
			}
		}
		if sumGamma, err = common.SumPoints(sumGamma, gammaJG); err != nil {
			return nil, err
		}
	}
	bigR := sumGamma.ScalarMult(deltaInv)
	r := new(big.Int).Mod(bigR.X(), q)
	if r.Sign() == 0 {
		return nil, errors.New("r is zero, retry the signing session")
	}

	// local partial signature share
	msgInt := new(big.Int).SetBytes(message)
	m := new(big.Int).Mod(msgInt, new(big.Int).Lsh(big.NewInt(1), 256))
	sI := modQ.Add(modQ.Mul(m, kI), modQ.Mul(r, sigmaI))

	// phase 5A: commit to (V_i, A_i, B_i)
	lI := tsscommon.GetRandomPositiveInt(q)
	rhoI := tsscommon.GetRandomPositiveInt(q)
	vI, err := bigR.ScalarMult(sI).Add(crypto.ScalarBaseMult(curve, lI))
	if err != nil {
		return nil, errors.Wrap(err, "phase 5A V point")
	}
	aI := crypto.ScalarBaseMult(curve, rhoI)
	bI := crypto.ScalarBaseMult(curve, lI)
	cmt5A := commitments.NewHashCommitment(vI.X(), vI.Y(), aI.X(), aI.Y(), bI.X(), bI.Y())
	round5, err := common.ExchangeData(client, n, "round5", common.NewHexInt(cmt5A.C))
	if err != nil {
		return nil, err
	}

	// phase 5B: decommit plus the Fig. 17 proof and a dlog proof on rho
	vProof, err := schnorr.NewZKVProof(vI, bigR, sI, lI)
	if err != nil {
		return nil, errors.Wrap(err, "proving V_i")
	}
	rhoProof, err := schnorr.NewZKProof(rhoI, aI)
	if err != nil {
		return nil, errors.Wrap(err, "proving rho_i")
	}
	round6, err := common.ExchangeData(client, n, "round6", signRound6Msg{
		D:        hexInts(cmt5A.D),
		VProof:   vProofToWire(vProof),
		RhoProof: proofToWire(rhoProof),
	})
	if err != nil {
		return nil, err
	}

	sumV, sumA := vI, aI
	for order := uint16(1); order <= n; order++ {
		if order == me {
			continue
		}
		cd := commitments.HashCommitDecommit{C: round5[order-1].Int, D: rawInts(round6[order-1].D)}
		ok, values := cd.DeCommit()
		if !ok || len(values) != 6 {
			return nil, errors.Errorf("order %d: bad phase 5A decommit", order)
		}
		vJ, err := crypto.NewECPoint(curve, values[0], values[1])
		if err != nil {
			return nil, errors.Wrapf(err, "order %d: V point", order)
		}
		aJ, err := crypto.NewECPoint(curve, values[2], values[3])
		if err != nil {
			return nil, errors.Wrapf(err, "order %d: A point", order)
		}
		vProofJ, err := round6[order-1].VProof.toProof()
		if err != nil {
			return nil, err
		}
		rhoProofJ, err := round6[order-1].RhoProof.toProof()
		if err != nil {
			return nil, err
		}
		if !vProofJ.Verify(vJ, bigR) {
			return nil, errors.Errorf("order %d: phase 5B V proof failed", order)
		}
		if !rhoProofJ.Verify(aJ) {
			return nil, errors.Errorf("order %d: phase 5B rho proof failed", order)
		}
		if sumV, err = sumV.Add(vJ); err != nil {
			return nil, err
		}
		if sumA, err = sumA.Add(aJ); err != nil {
			return nil, err
		}
	}

	// phase 5C: commit to (U_i, T_i) where the m*G and r*Y parts are
	// stripped from the V sum; what is left must be the joint blinding
	minusMG := crypto.ScalarBaseMult(curve, modQ.Sub(zero, m))
	minusRY := y.ScalarMult(modQ.Sub(zero, r))
	vStripped, err := sumV.Add(minusMG)
	if err != nil {
		return nil, err
	}
	if vStripped, err = vStripped.Add(minusRY); err != nil {
		return nil, err
	}
	uI := vStripped.ScalarMult(rhoI)
	tI := sumA.ScalarMult(lI)
	cmt5C := commitments.NewHashCommitment(uI.X(), uI.Y(), tI.X(), tI.Y())
	round7, err := common.ExchangeData(client, n, "round7", common.NewHexInt(cmt5C.C))
	if err != nil {
		return nil, err
	}

	// phase 5D: decommit (U_i, T_i), check the sums agree
	round8, err := common.ExchangeData(client, n, "round8", hexInts(cmt5C.D))
	if err != nil {
		return nil, err
	}
	sumU, sumT := uI, tI
	for order := uint16(1); order <= n; order++ {
		if order == me {
			continue
		}
		cd := commitments.HashCommitDecommit{C: round7[order-1].Int, D: rawInts(round8[order-1])}
		ok, values := cd.DeCommit()
		if !ok || len(values) != 4 {
			return nil, errors.Errorf("order %d: bad phase 5C decommit", order)
		}
		uJ, err := crypto.NewECPoint(curve, values[0], values[1])
		if err != nil {
			return nil, errors.Wrapf(err, "order %d: U point", order)
		}
		tJ, err := crypto.NewECPoint(curve, values[2], values[3])
		if err != nil {
			return nil, errors.Wrapf(err, "order %d: T point", order)
		}
		if sumU, err = sumU.Add(uJ); err != nil {
			return nil, err
		}
		if sumT, err = sumT.Add(tJ); err != nil {
			return nil, err
		}
	}
	if !sumU.Equals(sumT) {
		return nil, errors.New("phase 5 consistency check failed: U != T")
	}

	// phase 5E: broadcast s_i, assemble and verify the signature
	round9, err := common.ExchangeData(client, n, "round9", common.NewHexInt(sI))
	if err != nil {
		return nil, err
	}
	s := big.NewInt(0)
	for _, share := range round9 {
		s = modQ.Add(s, share.Int)
	}
	return finalizeSignature(r, s, bigR, y, m, msgInt)
}
