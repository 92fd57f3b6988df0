package common_test

import (
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptochill/tss-ecdsa-cli/common"
	"github.com/cryptochill/tss-ecdsa-cli/manager"
)

func newTestManager(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(manager.New().Handler())
	t.Cleanup(server.Close)
	return server
}

func TestSetGetRoundTrip(t *testing.T) {
	server := newTestManager(t)
	client := common.NewClient(server.URL)

	require.NoError(t, client.Set("some-key", "some-value"))
	value, found, err := client.Get("some-key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "some-value", value)

	_, found, err = client.Get("missing-key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetOverwrites(t *testing.T) {
	server := newTestManager(t)
	client := common.NewClient(server.URL)

	require.NoError(t, client.Set("k", "v1"))
	require.NoError(t, client.Set("k", "v2"))
	value, found, err := client.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v2", value)
}

func TestBroadcastAndPoll(t *testing.T) {
	server := newTestManager(t)

	one := common.NewClient(server.URL)
	one.PartyNumber, one.UUID = 1, "session"
	two := common.NewClient(server.URL)
	two.PartyNumber, two.UUID = 2, "session"

	require.NoError(t, one.Broadcast("round1", "from-one"))
	require.NoError(t, two.Broadcast("round1", "from-two"))

	got, err := one.PollForBroadcasts(2, "round1")
	require.NoError(t, err)
	assert.Equal(t, []string{"from-two"}, got)

	got, err = two.PollForBroadcasts(2, "round1")
	require.NoError(t, err)
	assert.Equal(t, []string{"from-one"}, got)
}

func TestSendP2PAndPoll(t *testing.T) {
	server := newTestManager(t)

	one := common.NewClient(server.URL)
	one.PartyNumber, one.UUID = 1, "session"
	two := common.NewClient(server.URL)
	two.PartyNumber, two.UUID = 2, "session"

	require.NoError(t, one.SendP2P(2, "round3", "secret-for-two"))
	got, err := two.PollForP2P(2, "round3")
	require.NoError(t, err)
	assert.Equal(t, []string{"secret-for-two"}, got)
}

func TestExchangeDataSplicesInOrder(t *testing.T) {
	server := newTestManager(t)

	clients := make([]*common.Client, 3)
	for i := range clients {
		clients[i] = common.NewClient(server.URL)
		clients[i].PartyNumber = uint16(i + 1)
		clients[i].UUID = "session"
	}

	results := make([][]int, 3)
	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *common.Client) {
			defer wg.Done()
			out, err := common.ExchangeData(c, 3, "round1", (i+1)*100)
			assert.NoError(t, err)
			results[i] = out
		}(i, c)
	}
	wg.Wait()

	for i := range results {
		assert.Equal(t, []int{100, 200, 300}, results[i], "party %d view", i+1)
	}
}

func TestSignupKeygenAssignsSequentialNumbers(t *testing.T) {
	server := newTestManager(t)
	params := common.Params{Parties: "3", Threshold: "1"}

	var uuids []string
	for want := uint16(1); want <= 3; want++ {
		signup, err := common.NewClient(server.URL).SignupKeygen(params)
		require.NoError(t, err)
		assert.Equal(t, want, signup.Number)
		uuids = append(uuids, signup.UUID)
	}
	assert.Equal(t, uuids[0], uuids[1])
	assert.Equal(t, uuids[0], uuids[2])

	// the counter resets for the next ceremony with a fresh session
	signup, err := common.NewClient(server.URL).SignupKeygen(params)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), signup.Number)
	assert.NotEqual(t, uuids[0], signup.UUID)
}
