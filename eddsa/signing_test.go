package eddsa

import (
	"math/big"
	"testing"

	tsscommon "github.com/bnb-chain/tss-lib/common"
	"github.com/bnb-chain/tss-lib/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashToScalarIsDeterministicAndReduced(t *testing.T) {
	q := Curve().Params().N
	a := hashToScalar([]byte("R"), []byte("Y"), []byte("m"))
	b := hashToScalar([]byte("R"), []byte("Y"), []byte("m"))
	c := hashToScalar([]byte("R"), []byte("Y"), []byte("m'"))

	assert.Zero(t, a.Cmp(b))
	assert.NotZero(t, a.Cmp(c))
	assert.Negative(t, a.Cmp(q))
	assert.Positive(t, a.Sign())
}

func TestVerifyTextbookSchnorr(t *testing.T) {
	curve := Curve()
	q := curve.Params().N
	modQ := tsscommon.ModInt(q)

	d := tsscommon.GetRandomPositiveInt(q)
	r := tsscommon.GetRandomPositiveInt(q)
	y := crypto.ScalarBaseMult(curve, d)
	bigR := crypto.ScalarBaseMult(curve, r)
	message := []byte("hello ed25519")

	k := hashToScalar(encodePoint(bigR), encodePoint(y), message)
	s := modQ.Add(r, modQ.Mul(k, d))

	assert.True(t, verify(bigR, s, message, y))
	assert.False(t, verify(bigR, modQ.Add(s, big.NewInt(1)), message, y))
	assert.False(t, verify(bigR, s, []byte("other message"), y))
}

func TestEncodePointRoundTripsThroughEncoding(t *testing.T) {
	curve := Curve()
	p := crypto.ScalarBaseMult(curve, big.NewInt(12345))
	enc := encodePoint(p)
	require.Len(t, enc, 32)

	// same point encodes identically; different points differ
	assert.Equal(t, enc, encodePoint(p))
	assert.NotEqual(t, enc, encodePoint(crypto.ScalarBaseMult(curve, big.NewInt(54321))))
}
