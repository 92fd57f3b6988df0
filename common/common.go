// Package common holds the wire types, relay client and pairwise AEAD
// channel shared by the keygen and signing state machines.
package common

import (
	"os"
	"strconv"
	"time"

	"github.com/ipfs/go-log"
)

var Logger = log.Logger("tss-cli")

// Key is a relay slot name on the manager's keyed store.
// Broadcast slots are "<party>-<round>-<uuid>", p2p slots are
// "<from>-<to>-<round>-<uuid>".
type Key = string

const (
	AESKeyBytesLen = 32

	// delay between store polls; keeps manager load sane while many
	// parties wait on the same round
	PollDelay = 25 * time.Millisecond

	postRetries    = 3
	postRetryDelay = 250 * time.Millisecond

	ManagerTTLEnv     = "TSS_CLI_MANAGER_TTL"
	PollTimeoutEnv    = "TSS_CLI_POLL_TIMEOUT"
	SignupTimeoutEnv  = "TSS_MANAGER_SIGNUP_TIMEOUT"
	defaultManagerTTL = 300
	defaultPollTO     = 30
	defaultSignupTO   = 5
)

type Entry struct {
	Key   Key    `json:"key"`
	Value string `json:"value"`
}

type Index struct {
	Key Key `json:"key"`
}

// Params carries the t/n pair the way the CLI parses it; both values travel
// as strings on the wire.
type Params struct {
	Parties   string `json:"parties"`
	Threshold string `json:"threshold"`
}

// PartySignup is the keygen signup reply: the party's fragment index in
// 1..=n and the ceremony session uuid.
type PartySignup struct {
	Number uint16 `json:"number"`
	UUID   string `json:"uuid"`
}

// SignupSignRequest enrolls (or keeps alive) one party in a signing room.
// An empty PartyUUID marks a fresh signup; a non-empty one a keep-alive or
// rejoin for the slot it identifies.
type SignupSignRequest struct {
	Threshold   uint16 `json:"threshold"`
	RoomID      string `json:"room_id"`
	PartyNumber uint16 `json:"party_number"`
	PartyUUID   string `json:"party_uuid"`
}

// SigningPartySignup is the signing signup reply. RoomUUID stays empty for
// as long as the room is in its signup stage; it is revealed to every
// member once the room seals.
type SigningPartySignup struct {
	PartyOrder  uint16 `json:"party_order"`
	PartyUUID   string `json:"party_uuid"`
	RoomUUID    string `json:"room_uuid"`
	TotalJoined uint16 `json:"total_joined"`
}

type ManagerError struct {
	Error string `json:"error"`
}

func envSeconds(name string, def int) time.Duration {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
		Logger.Warnf("ignoring malformed %s=%q", name, v)
	}
	return time.Duration(def) * time.Second
}

// ManagerTTL is the lifetime of every entry in the manager's store.
func ManagerTTL() time.Duration { return envSeconds(ManagerTTLEnv, defaultManagerTTL) }

// PollTimeout bounds one round's wait for peer payloads.
func PollTimeout() time.Duration { return envSeconds(PollTimeoutEnv, defaultPollTO) }

// SignupTimeout is the liveness window for signing-room members.
func SignupTimeout() time.Duration { return envSeconds(SignupTimeoutEnv, defaultSignupTO) }
