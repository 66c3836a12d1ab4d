// Package wire defines the datagram payloads exchanged between servers and
// between clients and the leader, plus the handful of plain-text multicast
// lines used for discovery.
package wire

import (
	"encoding/json"
	"fmt"
)

// BUF is the maximum size, in bytes, of any datagram this system sends or
// expects to receive. Every message must self-delimit within one UDP
// datagram; there is no framing across multiple packets.
const BUF = 4096

// Type discriminates the payload carried by a Message.
type Type string

const (
	// Server <-> server.
	TypeHSElection  Type = "HS_ELECTION"
	TypeHSReply     Type = "HS_REPLY"
	TypeHSLeader    Type = "HS_LEADER"
	TypeHeartbeat   Type = "HEARTBEAT"
	TypeHeartbeatOK Type = "HEARTBEAT_OK"
	TypeReplRegister Type = "REPL_REGISTER"
	TypeReplVote    Type = "REPL_VOTE"
	TypeReplState   Type = "REPL_STATE"
	TypeNewLeader   Type = "NEW_LEADER"

	// Client <-> leader.
	TypeRegister       Type = "REGISTER"
	TypeRegisterOK     Type = "REGISTER_OK"
	TypeCreateGroup    Type = "CREATE_GROUP"
	TypeCreateGroupOK  Type = "CREATE_GROUP_OK"
	TypeJoinGroup      Type = "JOIN_GROUP"
	TypeJoinGroupOK    Type = "JOIN_GROUP_OK"
	TypeLeaveGroup     Type = "LEAVE_GROUP"
	TypeLeaveGroupOK   Type = "LEAVE_GROUP_OK"
	TypeGetGroups      Type = "GET_GROUPS"
	TypeGetGroupsOK    Type = "GET_GROUPS_OK"
	TypeJoinedGroups   Type = "JOINED_GROUPS"
	TypeJoinedGroupsOK Type = "JOINED_GROUPS_OK"
	TypeStartVote      Type = "START_VOTE"
	TypeStartVoteOK    Type = "START_VOTE_OK"
	TypeVote           Type = "VOTE"
	TypeVoteAck        Type = "VOTE_ACK"
	TypeVoteResult     Type = "VOTE_RESULT"
)

// Direction is the probe/reply direction used by the HS election.
type Direction string

const (
	Left  Direction = "LEFT"
	Right Direction = "RIGHT"
)

// ClientRecord is the replicated view of one registered client.
type ClientRecord struct {
	Token string `json:"token"`
	Addr  string `json:"addr"`
}

// GroupRecord is the wire form of a group: members travel as an ordered
// list and are normalized back into a set on receipt (see DESIGN NOTES,
// "Sets over the wire").
type GroupRecord struct {
	Owner   string   `json:"owner"`
	Members []string `json:"members"`
}

// Ballot is one cast vote as stored in Vote.Votes and shipped in REPL_STATE.
type Ballot struct {
	ClientID string `json:"id"`
	Vote     string `json:"vote"`
}

// VoteRecord is the wire/replicated form of an in-flight or finished vote.
type VoteRecord struct {
	Group   string   `json:"group"`
	Topic   string   `json:"topic"`
	Options []string `json:"options"`
	Votes   []Ballot `json:"votes"`
}

// FOPendingRecord is the wire form of one fo_pending entry, used only
// inside REPL_STATE so a new leader can resume retransmission.
type FOPendingRecord struct {
	Group    string   `json:"group"`
	Seq      uint64   `json:"seq"`
	Pending  []string `json:"pending"`
	Deadline int64    `json:"deadline_unix_nano"`
	Msg      *Message `json:"msg"`
	VoteID   string   `json:"vote_id,omitempty"`
}

// Message is the tagged-variant envelope for every JSON datagram this
// system sends. Decode accepts any Type value; the receiving dispatcher
// logs and drops types it does not handle. Fields are grouped by the message kinds that use
// them; no single message populates all of them.
type Message struct {
	Type Type `json:"type"`

	// Identity / addressing.
	ID   string `json:"id,omitempty"`
	Addr string `json:"addr,omitempty"`

	// HS election.
	Phase     int       `json:"phase,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Hop       int       `json:"hop,omitempty"`

	// Groups / membership requests.
	Group  string   `json:"group,omitempty"`
	Groups []string `json:"groups,omitempty"`

	// Voting.
	VoteID  string   `json:"vote_id,omitempty"`
	Topic   string   `json:"topic,omitempty"`
	Options []string `json:"options,omitempty"`
	Vote    string   `json:"vote,omitempty"`
	Winner  string   `json:"winner,omitempty"`
	Timeout float64  `json:"timeout,omitempty"`

	// FO-multicast sequencing.
	S      uint64 `json:"S"`
	Sender string `json:"sender,omitempty"`

	// REGISTER / auth.
	Token string `json:"token,omitempty"`

	// REPL_STATE snapshot.
	Clients   map[string]ClientRecord    `json:"clients,omitempty"`
	GroupsMap map[string]GroupRecord     `json:"groups_map,omitempty"`
	Votes     map[string]VoteRecord      `json:"votes,omitempty"`
	Seqs      map[string]uint64          `json:"seqs,omitempty"`
	FOPending []FOPendingRecord          `json:"fo_pending,omitempty"`
}

// Encode serializes a Message as self-delimiting JSON. Each UDP datagram
// carries exactly one encoded Message, so no additional framing is needed.
func Encode(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", m.Type, err)
	}
	if len(b) > BUF {
		return nil, fmt.Errorf("wire: encoded message of type %s is %d bytes, exceeds BUF=%d", m.Type, len(b), BUF)
	}
	return b, nil
}

// Decode parses a single datagram into a Message. Callers are expected to
// log and drop on error rather than propagate it across a loop boundary.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}
	return &m, nil
}
