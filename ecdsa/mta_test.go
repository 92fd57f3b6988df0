package ecdsa

import (
	"context"
	"sync"
	"testing"
	"time"

	tsscommon "github.com/bnb-chain/tss-lib/common"
	"github.com/bnb-chain/tss-lib/crypto/paillier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testPaillierOnce sync.Once
	testPaillierSK   *paillier.PrivateKey
	testPaillierPK   *paillier.PublicKey
	testPaillierErr  error
)

// testPaillier generates one keypair for the whole package's tests; safe
// prime generation is far too slow to repeat per test.
func testPaillier(t *testing.T) (*paillier.PrivateKey, *paillier.PublicKey) {
	t.Helper()
	testPaillierOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		testPaillierSK, testPaillierPK, testPaillierErr = paillier.GenerateKeyPair(ctx, paillierModulusLen)
	})
	require.NoError(t, testPaillierErr)
	return testPaillierSK, testPaillierPK
}

func TestMtARoundTrip(t *testing.T) {
	sk, pk := testPaillier(t)
	q := Curve().Params().N
	modQ := tsscommon.ModInt(q)

	k := tsscommon.GetRandomPositiveInt(q)
	b := tsscommon.GetRandomPositiveInt(q)

	msgA, err := NewMessageA(k, pk)
	require.NoError(t, err)
	msgB, beta, err := NewMessageB(b, pk, msgA)
	require.NoError(t, err)

	alpha, err := msgB.VerifyProofsGetAlpha(sk, k)
	require.NoError(t, err)

	// alpha + beta == k * b, the multiplicative-to-additive contract
	assert.Zero(t, modQ.Add(alpha, beta).Cmp(modQ.Mul(k, b)))
}

func TestMtATamperedMultiplierPointFails(t *testing.T) {
	sk, pk := testPaillier(t)
	q := Curve().Params().N
	k := tsscommon.GetRandomPositiveInt(q)
	b := tsscommon.GetRandomPositiveInt(q)

	msgA, err := NewMessageA(k, pk)
	require.NoError(t, err)
	msgB, _, err := NewMessageB(b, pk, msgA)
	require.NoError(t, err)

	// swap in a different proved point: the dlog proof no longer matches
	other, _, err := NewMessageB(tsscommon.GetRandomPositiveInt(q), pk, msgA)
	require.NoError(t, err)
	msgB.BPk = other.BPk

	_, err = msgB.VerifyProofsGetAlpha(sk, k)
	assert.Error(t, err)
}

func TestMtATamperedCiphertextFails(t *testing.T) {
	sk, pk := testPaillier(t)
	q := Curve().Params().N
	k := tsscommon.GetRandomPositiveInt(q)
	b := tsscommon.GetRandomPositiveInt(q)

	msgA, err := NewMessageA(k, pk)
	require.NoError(t, err)
	msgB, _, err := NewMessageB(b, pk, msgA)
	require.NoError(t, err)

	tampered, err := pk.HomoAdd(msgB.C.Int, msgB.C.Int)
	require.NoError(t, err)
	msgB.C.Int = tampered

	_, err = msgB.VerifyProofsGetAlpha(sk, k)
	assert.Error(t, err)
}
