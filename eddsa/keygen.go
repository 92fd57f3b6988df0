package eddsa

import (
	"encoding/json"
	"fmt"
	"math/big"

	tsscommon "github.com/bnb-chain/tss-lib/common"
	"github.com/bnb-chain/tss-lib/crypto"
	"github.com/bnb-chain/tss-lib/crypto/commitments"
	"github.com/bnb-chain/tss-lib/crypto/vss"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/cryptochill/tss-ecdsa-cli/common"
)

type keygenCommit struct {
	Com common.HexInt `json:"com"`
}

type keygenDecommit struct {
	D []common.HexInt `json:"decommit"`
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

// RunKeygen drives the EdDSA DKG rounds and writes this party's fragment.
// The shape matches the ECDSA ceremony without the Paillier machinery:
// after the VSS round the shared keys are constructed directly.
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
	logger.Infof("number: %d, uuid: %s, curve: ed25519", me, signup.UUID)

	ui := tsscommon.GetRandomPositiveInt(q)
	nonceSeed := tsscommon.MustGetRandomInt(256)
	yi := crypto.ScalarBaseMult(curve, ui)

	// round 1: commit to y_i
	cmt := commitments.NewHashCommitment(yi.X(), yi.Y())
	commits, err := common.ExchangeData(client, parties, "round1", keygenCommit{Com: common.NewHexInt(cmt.C)})
	if err != nil {
		return err
	}

	// round 2: decommit
	decommits, err := common.ExchangeData(client, parties, "round2", keygenDecommit{D: hexInts(cmt.D)})
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
		yPoints[j-1] = yj
		pairwiseKeys[j-1] = common.PairwiseKey(yj, ui)
	}
	jointY, err := common.SumPoints(nil, yPoints...)
	if err != nil {
		return err
	}

	// round 3 (p2p): AEAD-encrypted Feldman shares
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

	// round 4: publish commitment vectors, verify shares, build x_i
	vssVectors, err := common.ExchangeData(client, parties, "round4", common.PointsToHex(vs))
	if err != nil {
		return err
	}
	vssHex := make([][]common.HexPoint, parties)
	var vssErr error
	for j := uint16(1); j <= parties; j++ {
		ps, err := common.PointsFromHex(curve, vssVectors[j-1])
		if err != nil {
			return errors.Wrapf(err, "commitment vector of party %d", j)
		}
		vssHex[j-1] = common.PointsToHex(ps)
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

	fragment := &Fragment{
		Keys: LocalKeys{
			UI:            common.NewHexInt(ui),
			YI:            common.PointToHex(yi),
			NonceSeed:     common.NewHexInt(nonceSeed),
			FragmentIndex: me,
		},
		SharedKeys:     SharedKeys{Y: common.PointToHex(jointY), XI: common.NewHexInt(xi)},
		FragmentIndex:  me,
		VSSCommitments: vssHex,
		Y:              common.PointToHex(jointY),
	}
	return WriteFragment(keysfilePath, fragment)
}
