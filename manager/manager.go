// Package manager is the rendezvous coordinator: a TTL keyed store behind a
// small HTTP/JSON surface. It relays opaque round payloads and brokers
// keygen and signing signups; it never parses protocol messages.
package manager

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/ipfs/go-log"
	"github.com/pkg/errors"

	"github.com/cryptochill/tss-ecdsa-cli/common"
)

var logger = log.Logger("tss-cli/manager")

const (
	signupKeygenKey   = "signup-keygen"
	signupSignKeyBase = "signup-sign-"
)

type Manager struct {
	// one lock over the whole store: every signup is a read-decide-write
	mu    sync.Mutex
	store *Store
}

func New() *Manager {
	return &Manager{store: NewStore(common.ManagerTTL())}
}

// Handler exposes the four POST routes.
func (m *Manager) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/get", m.handleGet)
	mux.HandleFunc("/set", m.handleSet)
	mux.HandleFunc("/signupkeygen", m.handleSignupKeygen)
	mux.HandleFunc("/signupsign", m.handleSignupSign)
	return mux
}

// Run serves until the listener fails.
func (m *Manager) Run(addr string) error {
	logger.Infof("manager listening on %s", addr)
	return http.ListenAndServe(addr, m.Handler())
}

func respondOk(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"Ok": v})
}

func respondErr(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"Err": common.ManagerError{Error: msg}})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondErr(w, errors.Wrap(err, "malformed request body").Error())
		return false
	}
	return true
}

func (m *Manager) handleGet(w http.ResponseWriter, r *http.Request) {
	var index common.Index
	if !decode(w, r, &index) {
		return
	}
	m.mu.Lock()
	value, found := m.store.Get(index.Key)
	m.mu.Unlock()
	if !found {
		respondErr(w, "Key not found: "+index.Key)
		return
	}
	respondOk(w, common.Entry{Key: index.Key, Value: value})
}

func (m *Manager) handleSet(w http.ResponseWriter, r *http.Request) {
	var entry common.Entry
	if !decode(w, r, &entry) {
		return
	}
	m.mu.Lock()
	m.store.Set(entry.Key, entry.Value)
	m.mu.Unlock()
	respondOk(w, nil)
}

// handleSignupKeygen hands out fragment indexes 1..=n under a shared
// session uuid. When the counter has served all n parties it resets with a
// fresh uuid for the next ceremony.
func (m *Manager) handleSignupKeygen(w http.ResponseWriter, r *http.Request) {
	var params common.Params
	if !decode(w, r, &params) {
		return
	}
	parties, err := strconv.ParseUint(params.Parties, 10, 16)
	if err != nil || parties == 0 {
		respondErr(w, "malformed parties count: "+params.Parties)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	signup := common.PartySignup{Number: 0, UUID: uuid.NewString()}
	if stored, found := m.store.Get(signupKeygenKey); found {
		if err := json.Unmarshal([]byte(stored), &signup); err != nil {
			respondErr(w, "corrupt signup-keygen state")
			return
		}
	}
	if signup.Number < uint16(parties) {
		signup.Number++
	} else {
		signup = common.PartySignup{Number: 1, UUID: uuid.NewString()}
	}

	encoded, _ := json.Marshal(signup)
	m.store.Set(signupKeygenKey, string(encoded))
	logger.Debugf("keygen signup %d/%d session %s", signup.Number, parties, signup.UUID)
	respondOk(w, signup)
}

// handleSignupSign runs the signing-room decision table. All of it happens
// under the store lock so that sealing is all-or-nothing.
func (m *Manager) handleSignupSign(w http.ResponseWriter, r *http.Request) {
	var req common.SignupSignRequest
	if !decode(w, r, &req) {
		return
	}
	freshSignup := req.PartyUUID == ""
	key := signupSignKeyBase + req.RoomID

	m.mu.Lock()
	defer m.mu.Unlock()

	room := NewSigningRoom(req.RoomID, req.Threshold+1)
	if stored, found := m.store.Get(key); found {
		room = &SigningRoom{}
		if err := json.Unmarshal([]byte(stored), room); err != nil {
			respondErr(w, "corrupt signing room state")
			return
		}
	}

	if room.LastStage != stageSignup {
		switch {
		case room.HasMember(req.PartyNumber, req.PartyUUID):
			// idempotent rejoin of a sealed room
			respondOk(w, room.SignupInfo(req.PartyNumber))
			return
		case room.AllMembersInactive():
			logger.Infof("room %s: all parties inactive, renewing", req.RoomID)
			room = NewSigningRoom(req.RoomID, req.Threshold+1)
		default:
			respondErr(w, "Room signup phase is terminated")
			return
		}
	}

	if room.IsFull() && room.AllMembersActive() && freshSignup {
		respondErr(w, "Room is full, all members active")
		return
	}

	var signup *common.SigningPartySignup
	switch {
	case !freshSignup:
		if !room.HasMember(req.PartyNumber, req.PartyUUID) {
			respondErr(w, "No party found with the given uuid, probably replaced due to timeout")
			return
		}
		signup = room.UpdatePing(req.PartyNumber)
	case room.MemberInfo[req.PartyNumber] != nil:
		if room.IsMemberActive(req.PartyNumber) {
			respondErr(w, "Received a re-signup request for an active party. Request ignored")
			return
		}
		logger.Infof("room %s: party %d timed out, renewing its uuid", req.RoomID, req.PartyNumber)
		signup = room.ReplaceParty(req.PartyNumber)
	default:
		signup = room.AddParty(req.PartyNumber)
	}

	encoded, _ := json.Marshal(room)
	m.store.Set(key, string(encoded))
	respondOk(w, signup)
}
