package manager

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cryptochill/tss-ecdsa-cli/common"
)

const (
	stageSignup     = "signup"
	stageTerminated = "terminated"
)

// SigningPartyInfo is one occupied slot in a signing room.
type SigningPartyInfo struct {
	PartyID    string `json:"party_id"`
	PartyOrder uint16 `json:"party_order"`
	LastPing   int64  `json:"last_ping"`
}

// SigningRoom tracks one signing attempt's participant set. Slots are keyed
// by fragment index; party orders are handed out in join order and
// renumbered to the permutation 1..=room_size when the room seals.
type SigningRoom struct {
	RoomID     string                       `json:"room_id"`
	RoomUUID   string                       `json:"room_uuid"`
	RoomSize   uint16                       `json:"room_size"`
	MemberInfo map[uint16]*SigningPartyInfo `json:"member_info"`
	LastStage  string                       `json:"last_stage"`
}

func NewSigningRoom(roomID string, size uint16) *SigningRoom {
	return &SigningRoom{
		RoomID:     roomID,
		RoomUUID:   uuid.NewString(),
		RoomSize:   size,
		MemberInfo: make(map[uint16]*SigningPartyInfo),
		LastStage:  stageSignup,
	}
}

// A party is timed out only when its last ping is strictly older than the
// liveness window; the boundary tick itself still counts as alive.
func (r *SigningRoom) isTimedOut(p *SigningPartyInfo) bool {
	return p.LastPing < time.Now().Unix()-int64(common.SignupTimeout()/time.Second)
}

func (r *SigningRoom) IsFull() bool {
	return len(r.MemberInfo) >= int(r.RoomSize)
}

func (r *SigningRoom) HasMember(partyNumber uint16, partyUUID string) bool {
	p, ok := r.MemberInfo[partyNumber]
	return ok && p.PartyID == partyUUID
}

func (r *SigningRoom) IsMemberActive(partyNumber uint16) bool {
	p, ok := r.MemberInfo[partyNumber]
	return ok && !r.isTimedOut(p)
}

func (r *SigningRoom) activeCount() int {
	n := 0
	for _, p := range r.MemberInfo {
		if !r.isTimedOut(p) {
			n++
		}
	}
	return n
}

func (r *SigningRoom) AllMembersActive() bool {
	return r.activeCount() == len(r.MemberInfo)
}

// AllMembersInactive reports a full room in which every slot timed out; the
// caller may then discard the room wholesale.
func (r *SigningRoom) AllMembersInactive() bool {
	return r.IsFull() && r.activeCount() == 0
}

// AddParty occupies a fresh slot; the party order is the join position.
func (r *SigningRoom) AddParty(partyNumber uint16) *common.SigningPartySignup {
	r.MemberInfo[partyNumber] = &SigningPartyInfo{
		PartyID:    uuid.NewString(),
		PartyOrder: uint16(len(r.MemberInfo)) + 1,
		LastPing:   time.Now().Unix(),
	}
	return r.SignupInfo(partyNumber)
}

// ReplaceParty reissues a timed-out slot to a newcomer with the same party
// order and a fresh uuid.
func (r *SigningRoom) ReplaceParty(partyNumber uint16) *common.SigningPartySignup {
	old := r.MemberInfo[partyNumber]
	r.MemberInfo[partyNumber] = &SigningPartyInfo{
		PartyID:    uuid.NewString(),
		PartyOrder: old.PartyOrder,
		LastPing:   time.Now().Unix(),
	}
	return r.SignupInfo(partyNumber)
}

// UpdatePing refreshes a member's liveness and seals the room if this was
// the ping that made it full-and-all-active. Sealing happens entirely
// inside the caller's critical section.
func (r *SigningRoom) UpdatePing(partyNumber uint16) *common.SigningPartySignup {
	r.MemberInfo[partyNumber].LastPing = time.Now().Unix()
	if r.IsFull() && r.activeCount() >= int(r.RoomSize) {
		r.closeSignupWindow()
	}
	return r.SignupInfo(partyNumber)
}

// closeSignupWindow freezes the member set and renumbers party orders to
// the permutation 1..=room_size, walking slots by fragment index.
func (r *SigningRoom) closeSignupWindow() {
	r.LastStage = stageTerminated
	indexes := make([]int, 0, len(r.MemberInfo))
	for k := range r.MemberInfo {
		indexes = append(indexes, int(k))
	}
	sort.Ints(indexes)
	order := uint16(1)
	for _, k := range indexes {
		p := r.MemberInfo[uint16(k)]
		if r.isTimedOut(p) {
			continue
		}
		p.PartyOrder = order
		order++
	}
}

// SignupInfo is the reply for one member. The room uuid is withheld until
// the room seals; parties poll until it appears.
func (r *SigningRoom) SignupInfo(partyNumber uint16) *common.SigningPartySignup {
	p := r.MemberInfo[partyNumber]
	roomUUID := ""
	if r.LastStage != stageSignup {
		roomUUID = r.RoomUUID
	}
	return &common.SigningPartySignup{
		PartyOrder:  p.PartyOrder,
		PartyUUID:   p.PartyID,
		RoomUUID:    roomUUID,
		TotalJoined: uint16(r.activeCount()),
	}
}
