package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ErrTimeout marks a round that exceeded its poll deadline. It is a
// distinct failure class from protocol errors: the peers were silent, not
// dishonest.
var ErrTimeout = errors.New("timed out waiting on the relay")

// Client talks to the manager. It carries the party's number and session
// uuid because every relay slot name embeds both. During keygen the number
// is the fragment index and the uuid the ceremony session; during signing
// they are the party order and the sealed room uuid.
type Client struct {
	address string
	http    *http.Client

	UUID        string
	PartyNumber uint16
}

func NewClient(address string) *Client {
	return &Client{
		address: address,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// envelope is the serde-style result wrapper every manager route answers
// with: exactly one of Ok or Err is present.
type envelope struct {
	Ok  json.RawMessage `json:"Ok"`
	Err json.RawMessage `json:"Err"`
}

// PostRequest POSTs a JSON body and returns the raw response. Transient
// transport failures are retried; anything still failing after that
// surfaces to the caller and is fatal for the current round.
func (c *Client) PostRequest(path string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s request", path)
	}
	url := fmt.Sprintf("%s/%s", c.address, path)
	var lastErr error
	for i := 0; i < postRetries; i++ {
		if i > 0 {
			time.Sleep(postRetryDelay)
		}
		resp, err := c.http.Post(url, "application/json", bytes.NewReader(payload))
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	return nil, errors.Wrapf(lastErr, "POST %s failed after %d attempts", url, postRetries)
}

func (c *Client) call(path string, body, out interface{}) error {
	data, err := c.PostRequest(path, body)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errors.Wrapf(err, "malformed %s response %q", path, data)
	}
	if env.Ok == nil {
		var mgrErr ManagerError
		if env.Err != nil && json.Unmarshal(env.Err, &mgrErr) == nil && mgrErr.Error != "" {
			return errors.Errorf("manager refused %s: %s", path, mgrErr.Error)
		}
		return errors.Errorf("manager refused %s", path)
	}
	if out != nil {
		if err := json.Unmarshal(env.Ok, out); err != nil {
			return errors.Wrapf(err, "decoding %s response", path)
		}
	}
	return nil
}

func (c *Client) Set(key Key, value string) error {
	return c.call("set", Entry{Key: key, Value: value}, nil)
}

// Get returns (value, found). A missing key is not an error: polls treat it
// as "not published yet".
func (c *Client) Get(key Key) (string, bool, error) {
	data, err := c.PostRequest("get", Index{Key: key})
	if err != nil {
		return "", false, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", false, errors.Wrapf(err, "malformed get response %q", data)
	}
	if env.Ok == nil {
		return "", false, nil
	}
	var entry Entry
	if err := json.Unmarshal(env.Ok, &entry); err != nil {
		return "", false, errors.Wrap(err, "decoding get response")
	}
	return entry.Value, true, nil
}

// Broadcast publishes a round payload for every peer to pick up.
func (c *Client) Broadcast(round, data string) error {
	key := fmt.Sprintf("%d-%s-%s", c.PartyNumber, round, c.UUID)
	return errors.Wrapf(c.Set(key, data), "broadcast %s", round)
}

// SendP2P publishes a round payload addressed to a single peer.
func (c *Client) SendP2P(to uint16, round, data string) error {
	key := fmt.Sprintf("%d-%d-%s-%s", c.PartyNumber, to, round, c.UUID)
	return errors.Wrapf(c.Set(key, data), "p2p %s to party %d", round, to)
}

// PollForBroadcasts collects the round payloads of all n-1 peers, ordered
// by peer number ascending with this party skipped. One deadline covers the
// whole round.
func (c *Client) PollForBroadcasts(n uint16, round string) ([]string, error) {
	return c.poll(n, round, func(i uint16) Key {
		return fmt.Sprintf("%d-%s-%s", i, round, c.UUID)
	})
}

// PollForP2P is PollForBroadcasts over the slots addressed to this party.
func (c *Client) PollForP2P(n uint16, round string) ([]string, error) {
	return c.poll(n, round, func(i uint16) Key {
		return fmt.Sprintf("%d-%d-%s-%s", i, c.PartyNumber, round, c.UUID)
	})
}

func (c *Client) poll(n uint16, round string, keyOf func(uint16) Key) ([]string, error) {
	deadline := time.Now().Add(PollTimeout())
	answers := make([]string, 0, n-1)
	for i := uint16(1); i <= n; i++ {
		if i == c.PartyNumber {
			continue
		}
		key := keyOf(i)
		for {
			time.Sleep(PollDelay)
			value, found, err := c.Get(key)
			if err != nil {
				return nil, errors.Wrapf(err, "round %s", round)
			}
			if found {
				Logger.Debugf("[%s] party %d => party %d", round, i, c.PartyNumber)
				answers = append(answers, value)
				break
			}
			if time.Now().After(deadline) {
				return nil, errors.Wrapf(ErrTimeout, "round %s: party %d never published", round, i)
			}
		}
	}
	return answers, nil
}

// ExchangeData broadcasts this party's value and returns the full list of
// n values ordered by party number, with the local value spliced in.
func ExchangeData[T any](c *Client, n uint16, round string, mine T) ([]T, error) {
	payload, err := json.Marshal(mine)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s payload", round)
	}
	if err := c.Broadcast(round, string(payload)); err != nil {
		return nil, err
	}
	answers, err := c.PollForBroadcasts(n, round)
	if err != nil {
		return nil, err
	}
	return SpliceAt(answers, n, c.PartyNumber, mine)
}

// SpliceAt decodes n-1 peer payloads and inserts the local value at the
// local party's position.
func SpliceAt[T any](answers []string, n, me uint16, mine T) ([]T, error) {
	out := make([]T, 0, n)
	j := 0
	for i := uint16(1); i <= n; i++ {
		if i == me {
			out = append(out, mine)
			continue
		}
		var v T
		if err := json.Unmarshal([]byte(answers[j]), &v); err != nil {
			return nil, errors.Wrapf(err, "decoding payload of party %d", i)
		}
		out = append(out, v)
		j++
	}
	return out, nil
}

// SignupKeygen enrolls this party in the keygen ceremony and learns its
// fragment index and the shared session uuid.
func (c *Client) SignupKeygen(params Params) (*PartySignup, error) {
	var signup PartySignup
	if err := c.call("signupkeygen", params, &signup); err != nil {
		return nil, err
	}
	c.PartyNumber = signup.Number
	c.UUID = signup.UUID
	return &signup, nil
}

// SignupSign enrolls this party in a signing room and keeps the slot alive
// until the room seals. The first request carries an empty party uuid; every
// follow-up re-signs with the issued uuid, which doubles as the liveness
// ping. Sealing is observed as the first reply with a non-empty room uuid.
func (c *Client) SignupSign(threshold uint16, roomID string, fragmentIndex uint16) (*SigningPartySignup, error) {
	req := SignupSignRequest{
		Threshold:   threshold,
		RoomID:      roomID,
		PartyNumber: fragmentIndex,
	}
	ping := SignupTimeout() / 2
	if ping < 250*time.Millisecond {
		ping = 250 * time.Millisecond
	}
	deadline := time.Now().Add(PollTimeout())
	for {
		var signup SigningPartySignup
		if err := c.call("signupsign", req, &signup); err != nil {
			return nil, err
		}
		req.PartyUUID = signup.PartyUUID
		if signup.RoomUUID != "" {
			c.PartyNumber = signup.PartyOrder
			c.UUID = signup.RoomUUID
			Logger.Infof("room %s sealed: party order %d of %d", roomID, signup.PartyOrder, threshold+1)
			return &signup, nil
		}
		if time.Now().After(deadline) {
			return nil, errors.Wrapf(ErrTimeout, "room %s: %d of %d joined", roomID, signup.TotalJoined, threshold+1)
		}
		Logger.Debugf("room %s: %d joined, waiting", roomID, signup.TotalJoined)
		time.Sleep(ping)
	}
}
