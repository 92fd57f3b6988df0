package ecdsa

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	tsscommon "github.com/bnb-chain/tss-lib/common"
	"github.com/bnb-chain/tss-lib/crypto"
	"github.com/bnb-chain/tss-lib/crypto/commitments"
	"github.com/bnb-chain/tss-lib/crypto/paillier"
	"github.com/bnb-chain/tss-lib/crypto/schnorr"
	"github.com/bnb-chain/tss-lib/crypto/vss"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/cryptochill/tss-ecdsa-cli/common"
)

const paillierModulusLen = 2048

// keygenCommit is the round1 broadcast: a hash commitment to y_i together
// with this party's Paillier encryption key.
type keygenCommit struct {
	Com common.HexInt       `json:"com"`
	EK  *paillier.PublicKey `json:"ek"`
}

// keygenDecommit opens the round1 commitment and proves the Paillier key
// was generated honestly. The proof binds the freshly decommitted y_i.
type keygenDecommit struct {
	D               []common.HexInt `json:"decommit"`
	CorrectKeyProof []common.HexInt `json:"correct_key_proof"`
}

type dlogProofWire struct {
	Pk    common.HexPoint `json:"pk"`
	Proof zkProofWire     `json:"proof"`
}

func hexInts(in []*big.Int) []common.HexInt {
	out := make([]common.HexInt, len(in))
	for i, v := range in {
		out[i] = common.NewHexInt(v)
	}
	return out
}

func rawInts(in []common.HexInt) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = v.Int
	}
	return out
}

// RunKeygen drives the DKG rounds against the manager at addr and writes
// this party's fragment file. Any verification failure aborts the ceremony;
// there is no recovery.
func RunKeygen(addr, keysfilePath string, threshold, parties uint16) error {
	curve := Curve()
	q := curve.Params().N
	client := common.NewClient(addr)

	signup, err := client.SignupKeygen(common.Params{
		Parties:   fmt.Sprintf("%d", parties),
		Threshold: fmt.Sprintf("%d", threshold),
	})
	if err != nil {
		return err
	}
	me := signup.Number
	logger.Infof("number: %d, uuid: %s", me, signup.UUID)

	ui := tsscommon.GetRandomPositiveInt(q)
	yi := crypto.ScalarBaseMult(curve, ui)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	paillierSK, paillierPK, err := paillier.GenerateKeyPair(ctx, paillierModulusLen)
	if err != nil {
		return errors.Wrap(err, "generating the Paillier keypair")
	}

	// round 1: commit to y_i, announce the Paillier encryption key
	cmt := commitments.NewHashCommitment(yi.X(), yi.Y())
	commits, err := common.ExchangeData(client, parties, "round1", keygenCommit{
		Com: common.NewHexInt(cmt.C),
		EK:  paillierPK,
	})
	if err != nil {
		return err
	}

	// round 2: decommit y_i and prove the Paillier key correct
	correctKeyProof := paillierSK.Proof(big.NewInt(int64(me)), yi)
	decommits, err := common.ExchangeData(client, parties, "round2", keygenDecommit{
		D:               hexInts(cmt.D),
		CorrectKeyProof: hexInts(correctKeyProof[:]),
	})
	if err != nil {
		return err
	}

	yPoints := make([]*crypto.ECPoint, parties)
	pairwiseKeys := make([][]byte, parties)
	for j := uint16(1); j <= parties; j++ {
		if j == me {
			yPoints[j-1] = yi
			continue
		}
		cd := commitments.HashCommitDecommit{C: commits[j-1].Com.Int, D: rawInts(decommits[j-1].D)}
		ok, values := cd.DeCommit()
		if !ok || len(values) != 2 {
			return errors.Errorf("party %d: y_i commitment verification failed", j)
		}
		yj, err := crypto.NewECPoint(curve, values[0], values[1])
		if err != nil {
			return errors.Wrapf(err, "party %d: decommitted y_i", j)
		}
		var proof paillier.Proof
		pf := rawInts(decommits[j-1].CorrectKeyProof)
		if len(pf) != len(proof) {
			return errors.Errorf("party %d: malformed Paillier correct-key proof", j)
		}
		copy(proof[:], pf)
		if ok, err := proof.Verify(commits[j-1].EK.N, big.NewInt(int64(j)), yj); err != nil || !ok {
			return errors.Errorf("party %d: Paillier correct-key proof failed", j)
		}
		yPoints[j-1] = yj
		pairwiseKeys[j-1] = common.PairwiseKey(yj, ui)
	}

	jointY, err := common.SumPoints(nil, yPoints...)
	if err != nil {
		return err
	}

	// round 3 (p2p): deal AEAD-encrypted Feldman shares
	ids := make([]*big.Int, parties)
	for i := range ids {
		ids[i] = big.NewInt(int64(i + 1))
	}
	vs, shares, err := common.CreateSharing(curve, int(threshold), ui, ids)
	if err != nil {
		return errors.Wrap(err, "creating the Feldman sharing")
	}
	for j := uint16(1); j <= parties; j++ {
		if j == me {
			continue
		}
		box, err := common.AESEncrypt(pairwiseKeys[j-1], shares[j-1].Share.Bytes())
		if err != nil {
			return errors.Wrapf(err, "encrypting the share for party %d", j)
		}
		payload, err := json.Marshal(box)
		if err != nil {
			return errors.Wrap(err, "encoding share box")
		}
		if err := client.SendP2P(j, "round3", string(payload)); err != nil {
			return err
		}
	}
	round3, err := client.PollForP2P(parties, "round3")
	if err != nil {
		return err
	}
	partyShares := make([]*big.Int, parties)
	k := 0
	for j := uint16(1); j <= parties; j++ {
		if j == me {
			partyShares[j-1] = shares[j-1].Share
			continue
		}
		var box common.AEAD
		if err := json.Unmarshal([]byte(round3[k]), &box); err != nil {
			return errors.Wrapf(err, "decoding share box from party %d", j)
		}
		plain, err := common.AESDecrypt(pairwiseKeys[j-1], &box)
		if err != nil {
			return errors.Wrapf(err, "share from party %d", j)
		}
		partyShares[j-1] = new(big.Int).SetBytes(plain)
		k++
	}

	// round 4: publish the commitment vectors, verify every received share
	vssVectors, err := common.ExchangeData(client, parties, "round4", common.PointsToHex(vs))
	if err != nil {
		return err
	}
	vssPoints := make([][]*crypto.ECPoint, parties)
	var vssErr error
	for j := uint16(1); j <= parties; j++ {
		ps, err := common.PointsFromHex(curve, vssVectors[j-1])
		if err != nil {
			return errors.Wrapf(err, "commitment vector of party %d", j)
		}
		vssPoints[j-1] = ps
		if j == me {
			continue
		}
		if len(ps) != int(threshold)+1 {
			vssErr = multierror.Append(vssErr, errors.Errorf("party %d: commitment vector degree mismatch", j))
			continue
		}
		if !ps[0].Equals(yPoints[j-1]) {
			vssErr = multierror.Append(vssErr, errors.Errorf("party %d: commitment vector does not open y_i", j))
			continue
		}
		share := &vss.Share{Threshold: int(threshold), ID: big.NewInt(int64(me)), Share: partyShares[j-1]}
		if !share.Verify(curve, int(threshold), ps) {
			vssErr = multierror.Append(vssErr, errors.Errorf("party %d: invalid vss share", j))
		}
	}
	if vssErr != nil {
		return errors.Wrap(vssErr, "invalid key")
	}

	xi := big.NewInt(0)
	modQ := tsscommon.ModInt(q)
	for _, s := range partyShares {
		xi = modQ.Add(xi, s)
	}
	bigXi := crypto.ScalarBaseMult(curve, xi)

	// round 5: prove knowledge of x_i, verify everyone against the
	// aggregated commitment vectors
	dlogProof, err := schnorr.NewZKProof(xi, bigXi)
	if err != nil {
		return errors.Wrap(err, "proving x_i")
	}
	dlogProofs, err := common.ExchangeData(client, parties, "round5", dlogProofWire{
		Pk:    common.PointToHex(bigXi),
		Proof: proofToWire(dlogProof),
	})
	if err != nil {
		return err
	}
	var dlogErr error
	for j := uint16(1); j <= parties; j++ {
		pk, err := dlogProofs[j-1].Pk.ToPoint(curve)
		if err != nil {
			return errors.Wrapf(err, "party %d: dlog proof point", j)
		}
		proof, err := dlogProofs[j-1].Proof.toProof()
		if err != nil {
			return errors.Wrapf(err, "party %d: dlog proof", j)
		}
		if !proof.Verify(pk) {
			dlogErr = multierror.Append(dlogErr, errors.Errorf("party %d: bad dlog proof", j))
			continue
		}
		var expected *crypto.ECPoint
		for d := range vssPoints {
			ev, err := common.EvalVSSCommitment(curve, vssPoints[d], big.NewInt(int64(j)))
			if err != nil {
				return err
			}
			if expected, err = common.SumPoints(expected, ev); err != nil {
				return err
			}
		}
		if !pk.Equals(expected) {
			dlogErr = multierror.Append(dlogErr, errors.Errorf("party %d: x_i does not match the sharing", j))
		}
	}
	if dlogErr != nil {
		return errors.Wrap(dlogErr, "bad dlog proof")
	}

	paillierPKs := make([]*paillier.PublicKey, parties)
	for j := range commits {
		paillierPKs[j] = commits[j].EK
	}
	vssHex := make([][]common.HexPoint, parties)
	for j := range vssPoints {
		vssHex[j] = common.PointsToHex(vssPoints[j])
	}
	fragment := &Fragment{
		Keys: LocalKeys{
			UI:            common.NewHexInt(ui),
			YI:            common.PointToHex(yi),
			PaillierSK:    paillierSK,
			PaillierPK:    paillierPK,
			FragmentIndex: me,
		},
		SharedKeys:     SharedKeys{Y: common.PointToHex(jointY), XI: common.NewHexInt(xi)},
		FragmentIndex:  me,
		VSSCommitments: vssHex,
		PaillierPKs:    paillierPKs,
		Y:              common.PointToHex(jointY),
	}
	return WriteFragment(keysfilePath, fragment)
}
