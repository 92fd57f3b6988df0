package manager_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptochill/tss-ecdsa-cli/common"
	"github.com/cryptochill/tss-ecdsa-cli/manager"
)

type signupSignReply struct {
	Ok  *common.SigningPartySignup `json:"Ok"`
	Err *common.ManagerError       `json:"Err"`
}

func postSignupSign(t *testing.T, url string, req common.SignupSignRequest) signupSignReply {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(url+"/signupsign", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var reply signupSignReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	return reply
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(manager.New().Handler())
	t.Cleanup(server.Close)
	return server
}

func TestSignupSignDecisionTable(t *testing.T) {
	server := newServer(t)
	req := func(num uint16, uuid string) common.SignupSignRequest {
		return common.SignupSignRequest{Threshold: 1, RoomID: "r1", PartyNumber: num, PartyUUID: uuid}
	}

	// fresh room, first joiner
	a := postSignupSign(t, server.URL, req(1, ""))
	require.Nil(t, a.Err)
	assert.Equal(t, uint16(1), a.Ok.PartyOrder)
	assert.Empty(t, a.Ok.RoomUUID, "room uuid is withheld during signup")

	// duplicate fresh signup for an active slot is refused
	dup := postSignupSign(t, server.URL, req(1, ""))
	require.NotNil(t, dup.Err)
	assert.Contains(t, dup.Err.Error, "re-signup request for an active party")

	// re-signup with a bogus uuid is refused
	bogus := postSignupSign(t, server.URL, req(1, "not-the-uuid"))
	require.NotNil(t, bogus.Err)
	assert.Contains(t, bogus.Err.Error, "No party found with the given uuid")

	// keep-alive with the right uuid is idempotent
	ping := postSignupSign(t, server.URL, req(1, a.Ok.PartyUUID))
	require.Nil(t, ping.Err)
	assert.Equal(t, a.Ok.PartyOrder, ping.Ok.PartyOrder)
	assert.Equal(t, a.Ok.PartyUUID, ping.Ok.PartyUUID)

	// second joiner fills the room (threshold 1 => size 2); still unsealed
	b := postSignupSign(t, server.URL, req(2, ""))
	require.Nil(t, b.Err)
	assert.Empty(t, b.Ok.RoomUUID)

	// a third fresh party cannot join a full, live room
	full := postSignupSign(t, server.URL, req(3, ""))
	require.NotNil(t, full.Err)
	assert.Contains(t, full.Err.Error, "Room is full")

	// the first keep-alive with everyone live seals the room atomically
	sealed := postSignupSign(t, server.URL, req(1, a.Ok.PartyUUID))
	require.Nil(t, sealed.Err)
	require.NotEmpty(t, sealed.Ok.RoomUUID)

	// both members observe the same room uuid after sealing
	bView := postSignupSign(t, server.URL, req(2, b.Ok.PartyUUID))
	require.Nil(t, bView.Err)
	assert.Equal(t, sealed.Ok.RoomUUID, bView.Ok.RoomUUID)

	// orders form the permutation 1..=2
	orders := map[uint16]bool{sealed.Ok.PartyOrder: true, bView.Ok.PartyOrder: true}
	assert.Equal(t, map[uint16]bool{1: true, 2: true}, orders)

	// a stranger bounces off the sealed room
	late := postSignupSign(t, server.URL, req(3, ""))
	require.NotNil(t, late.Err)
	assert.Contains(t, late.Err.Error, "terminated")
}

func TestSignupSignReplacesTimedOutParty(t *testing.T) {
	t.Setenv(common.SignupTimeoutEnv, "1")
	server := newServer(t)
	req := func(num uint16, uuid string) common.SignupSignRequest {
		return common.SignupSignRequest{Threshold: 2, RoomID: "r2", PartyNumber: num, PartyUUID: uuid}
	}

	first := postSignupSign(t, server.URL, req(7, ""))
	require.Nil(t, first.Err)

	time.Sleep(2100 * time.Millisecond)

	// the same fragment signs up fresh after timing out: order retained,
	// uuid renewed
	second := postSignupSign(t, server.URL, req(7, ""))
	require.Nil(t, second.Err)
	assert.Equal(t, first.Ok.PartyOrder, second.Ok.PartyOrder)
	assert.NotEqual(t, first.Ok.PartyUUID, second.Ok.PartyUUID)

	// the stale uuid is now useless
	stale := postSignupSign(t, server.URL, req(7, first.Ok.PartyUUID))
	require.NotNil(t, stale.Err)
}

func TestSignupSignResetsRoomWhenAllInactive(t *testing.T) {
	t.Setenv(common.SignupTimeoutEnv, "1")
	server := newServer(t)
	req := func(num uint16, uuid string) common.SignupSignRequest {
		return common.SignupSignRequest{Threshold: 0, RoomID: "r3", PartyNumber: num, PartyUUID: uuid}
	}

	// threshold 0 => room of one; join and seal immediately via keep-alive
	a := postSignupSign(t, server.URL, req(1, ""))
	require.Nil(t, a.Err)
	sealed := postSignupSign(t, server.URL, req(1, a.Ok.PartyUUID))
	require.Nil(t, sealed.Err)
	require.NotEmpty(t, sealed.Ok.RoomUUID)

	time.Sleep(2100 * time.Millisecond)

	// everyone timed out: a fresh signup renews the room under a new uuid
	renewed := postSignupSign(t, server.URL, req(2, ""))
	require.Nil(t, renewed.Err)
	assert.Empty(t, renewed.Ok.RoomUUID)
	assert.NotEqual(t, a.Ok.PartyUUID, renewed.Ok.PartyUUID)

	again := postSignupSign(t, server.URL, req(2, renewed.Ok.PartyUUID))
	require.Nil(t, again.Err)
	require.NotEmpty(t, again.Ok.RoomUUID)
	assert.NotEqual(t, sealed.Ok.RoomUUID, again.Ok.RoomUUID)
}

func TestSignupSignSealedRoomRejoinIsIdempotent(t *testing.T) {
	server := newServer(t)
	req := func(num uint16, uuid string) common.SignupSignRequest {
		return common.SignupSignRequest{Threshold: 0, RoomID: "r4", PartyNumber: num, PartyUUID: uuid}
	}

	a := postSignupSign(t, server.URL, req(3, ""))
	require.Nil(t, a.Err)
	sealed := postSignupSign(t, server.URL, req(3, a.Ok.PartyUUID))
	require.Nil(t, sealed.Err)
	require.NotEmpty(t, sealed.Ok.RoomUUID)

	for i := 0; i < 3; i++ {
		again := postSignupSign(t, server.URL, req(3, a.Ok.PartyUUID))
		require.Nil(t, again.Err)
		assert.Equal(t, sealed.Ok.PartyOrder, again.Ok.PartyOrder)
		assert.Equal(t, sealed.Ok.RoomUUID, again.Ok.RoomUUID)
	}
}

func TestStoreEntriesExpire(t *testing.T) {
	store := manager.NewStore(time.Second)
	store.Set("k", "v")
	if v, ok := store.Get("k"); assert.True(t, ok) {
		assert.Equal(t, "v", v)
	}
	time.Sleep(1200 * time.Millisecond)
	_, ok := store.Get("k")
	assert.False(t, ok)
}
