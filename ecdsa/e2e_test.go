package ecdsa_test

import (
	"fmt"
	"math/big"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	tsscommon "github.com/bnb-chain/tss-lib/common"
	"github.com/bnb-chain/tss-lib/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptochill/tss-ecdsa-cli/common"
	"github.com/cryptochill/tss-ecdsa-cli/ecdsa"
	"github.com/cryptochill/tss-ecdsa-cli/hdkeys"
	"github.com/cryptochill/tss-ecdsa-cli/manager"
)

func runKeygenCeremony(t *testing.T, url string, threshold, parties uint16) []*ecdsa.Fragment {
	t.Helper()
	dir := t.TempDir()
	files := make([]string, parties)
	errs := make([]error, parties)
	var wg sync.WaitGroup
	for i := uint16(0); i < parties; i++ {
		files[i] = filepath.Join(dir, fmt.Sprintf("fragment-%d.json", i+1))
		wg.Add(1)
		go func(i uint16) {
			defer wg.Done()
			errs[i] = ecdsa.RunKeygen(url, files[i], threshold, parties)
		}(i)
	}
	wg.Wait()

	fragments := make([]*ecdsa.Fragment, parties)
	for i := range errs {
		require.NoError(t, errs[i], "party %d keygen", i+1)
		fragment, err := ecdsa.ReadFragment(files[i])
		require.NoError(t, err)
		fragments[i] = fragment
	}
	return fragments
}

// The full multi-party scenario: a (2, 3) sharing dealt by three parties,
// then all t+1 = 3 of them signing one message. Every peer-facing branch of
// both state machines runs here: decommit and correct-key verification,
// AEAD share exchange, the double MtA, and the phase-5 checks.
func TestKeygenAndSignThreeParties(t *testing.T) {
	if testing.Short() {
		t.Skip("paillier key generation is slow")
	}
	t.Setenv("TSS_MANAGER_SIGNUP_TIMEOUT", "2")
	// the three Paillier generations can finish minutes apart; give the
	// round polls and the store entries room
	t.Setenv("TSS_CLI_POLL_TIMEOUT", "600")
	t.Setenv("TSS_CLI_MANAGER_TTL", "900")
	server := httptest.NewServer(manager.New().Handler())
	defer server.Close()

	const threshold, parties = 2, 3
	fragments := runKeygenCeremony(t, server.URL, threshold, parties)

	// every fragment carries the same joint key, and indexes are 1..3
	y, err := fragments[0].JointPublicKey()
	require.NoError(t, err)
	seen := map[uint16]bool{}
	for i, fragment := range fragments {
		yi, err := fragment.JointPublicKey()
		require.NoError(t, err)
		assert.True(t, y.Equals(yi), "fragment %d disagrees on Y", i+1)
		seen[fragment.FragmentIndex] = true
	}
	assert.Len(t, seen, parties)

	// the sharing invariant: the Lagrange combination of the shares at
	// zero is the joint secret behind Y
	q := ecdsa.Curve().Params().N
	modQ := tsscommon.ModInt(q)
	indices := make([]*big.Int, parties)
	shares := make(map[int]*big.Int, parties)
	for _, fragment := range fragments {
		k := int(fragment.FragmentIndex) - 1
		indices[k] = big.NewInt(int64(fragment.FragmentIndex))
		shares[k] = fragment.SharedKeys.XI.Int
	}
	d := big.NewInt(0)
	for k := 0; k < parties; k++ {
		lambda, err := common.LagrangeCoefficient(q, indices, k)
		require.NoError(t, err)
		d = modQ.Add(d, modQ.Mul(lambda, shares[k]))
	}
	assert.True(t, crypto.ScalarBaseMult(ecdsa.Curve(), d).Equals(y))

	// all t+1 = 3 signers produce one signature for "abc"
	message := []byte{0x61, 0x62, 0x63}
	results := make([]*ecdsa.SignResult, parties)
	signErrs := make([]error, parties)
	var wg sync.WaitGroup
	for i, fragment := range fragments {
		wg.Add(1)
		go func(i int, fragment *ecdsa.Fragment) {
			defer wg.Done()
			results[i], signErrs[i] = ecdsa.Sign(server.URL, fragment, threshold, message, "")
		}(i, fragment)
	}
	wg.Wait()

	for i := range signErrs {
		require.NoError(t, signErrs[i], "signer %d", i+1)
		require.NotNil(t, results[i])
		assert.Equal(t, "signature_ready", results[i].Status)
	}
	// every signer assembled the identical signature, valid under Y
	assert.Equal(t, results[0].R, results[1].R)
	assert.Equal(t, results[0].R, results[2].R)
	assert.Equal(t, results[0].S, results[1].S)
	assert.Equal(t, results[0].S, results[2].S)

	r, ok := new(big.Int).SetString(results[0].R, 16)
	require.True(t, ok)
	s, ok := new(big.Int).SetString(results[0].S, 16)
	require.True(t, ok)
	m := new(big.Int).SetBytes(message)
	assert.True(t, ecdsa.VerifySignature(r, s, m, y))
	assert.True(t, s.Cmp(new(big.Int).Rsh(q, 1)) <= 0)
}

// The degenerate single-party scheme exercises every round of both state
// machines without peers: keygen must reduce to an ordinary key and signing
// to ordinary ECDSA.
func TestSinglePartyKeygenAndSign(t *testing.T) {
	if testing.Short() {
		t.Skip("paillier key generation is slow")
	}
	t.Setenv("TSS_MANAGER_SIGNUP_TIMEOUT", "2")
	server := httptest.NewServer(manager.New().Handler())
	defer server.Close()

	keysfile := filepath.Join(t.TempDir(), "fragment.json")
	require.NoError(t, ecdsa.RunKeygen(server.URL, keysfile, 0, 1))

	fragment, err := ecdsa.ReadFragment(keysfile)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), fragment.FragmentIndex)
	assert.Equal(t, 0, fragment.Threshold())
	assert.Equal(t, 1, fragment.Parties())

	// with n=1 the share is the joint secret itself
	y, err := fragment.JointPublicKey()
	require.NoError(t, err)
	assert.True(t, crypto.ScalarBaseMult(ecdsa.Curve(), fragment.SharedKeys.XI.Int).Equals(y))

	// "abc" as raw bytes
	message := []byte{0x61, 0x62, 0x63}
	result, err := ecdsa.Sign(server.URL, fragment, 0, message, "")
	require.NoError(t, err)
	assert.Equal(t, "signature_ready", result.Status)

	r, ok := new(big.Int).SetString(result.R, 16)
	require.True(t, ok)
	s, ok := new(big.Int).SetString(result.S, 16)
	require.True(t, ok)
	m := new(big.Int).SetBytes(message)
	assert.True(t, ecdsa.VerifySignature(r, s, m, y))
	assert.Contains(t, []int{0, 1}, result.Recid)

	// low-s convention
	q := ecdsa.Curve().Params().N
	assert.True(t, s.Cmp(new(big.Int).Rsh(q, 1)) <= 0)
}

func TestSinglePartySignAtDerivedPath(t *testing.T) {
	if testing.Short() {
		t.Skip("paillier key generation is slow")
	}
	t.Setenv("TSS_MANAGER_SIGNUP_TIMEOUT", "2")
	server := httptest.NewServer(manager.New().Handler())
	defer server.Close()

	keysfile := filepath.Join(t.TempDir(), "fragment.json")
	require.NoError(t, ecdsa.RunKeygen(server.URL, keysfile, 0, 1))
	fragment, err := ecdsa.ReadFragment(keysfile)
	require.NoError(t, err)

	y, err := fragment.JointPublicKey()
	require.NoError(t, err)
	path, err := hdkeys.ParsePath("1/2/3")
	require.NoError(t, err)
	child, _, err := hdkeys.DerivePubKey(ecdsa.Curve(), y, path)
	require.NoError(t, err)

	message := []byte{0x61, 0x62, 0x63}
	result, err := ecdsa.Sign(server.URL, fragment, 0, message, "1/2/3")
	require.NoError(t, err)

	// the emitted key is the derived child and the signature verifies
	// under it
	assert.Equal(t, child.X().Text(16), result.X)
	assert.Equal(t, child.Y().Text(16), result.Y)
	r, _ := new(big.Int).SetString(result.R, 16)
	s, _ := new(big.Int).SetString(result.S, 16)
	m := new(big.Int).SetBytes(message)
	assert.True(t, ecdsa.VerifySignature(r, s, m, child))
}
