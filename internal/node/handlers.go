package node

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/votecast/coordinator-service/internal/wire"
)

// unicastLoop receives every structured JSON datagram on the unicast
// socket and dispatches it by Type (spec.md §2, "Transport demultiplexes
// by type field").
func (n *Node) unicastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stop:
			return
		default:
		}

		dg, err := n.Transport.RecvUnicast()
		if err != nil {
			n.Log.Warn("unicast recv error", zap.Error(err))
			continue
		}
		if dg == nil {
			continue
		}

		m, err := wire.Decode(dg.Data)
		if err != nil {
			n.Log.Warn("dropping malformed datagram", zap.Error(err))
			continue
		}
		n.dispatch(m, dg.Addr.String())
	}
}

func (n *Node) dispatch(m *wire.Message, fromAddr string) {
	switch m.Type {
	// Election.
	case wire.TypeHSElection:
		n.handleHSElection(m)
	case wire.TypeHSReply:
		n.handleHSReply(m)
	case wire.TypeHSLeader:
		n.handleHSLeader(m)

	// Heartbeat.
	case wire.TypeHeartbeat:
		n.handleHeartbeat(m, fromAddr)
	case wire.TypeHeartbeatOK:
		n.handleHeartbeatAck(m)

	// Replication.
	case wire.TypeReplRegister:
		n.handleReplRegister(m)
	case wire.TypeReplVote:
		n.handleReplVote(m)
	case wire.TypeReplState:
		n.applyReplicateState(m)

	// Client requests (leader-only authoritative).
	case wire.TypeRegister:
		n.handleRegister(m, fromAddr)
	case wire.TypeCreateGroup:
		n.handleCreateGroup(m, fromAddr)
	case wire.TypeJoinGroup:
		n.handleJoinGroup(m, fromAddr)
	case wire.TypeLeaveGroup:
		n.handleLeaveGroup(m, fromAddr)
	case wire.TypeGetGroups:
		n.handleGetGroups(m, fromAddr)
	case wire.TypeJoinedGroups:
		n.handleJoinedGroups(m, fromAddr)
	case wire.TypeStartVote:
		n.handleStartVote(m, fromAddr)
	case wire.TypeVoteAck:
		n.handleVoteAck(m)

	default:
		n.Log.Debug("dropping unrecognized message type", zap.String("type", string(m.Type)))
	}
}

// mintToken generates a cryptographically random 128-bit hex token
// (spec.md §1: credential-token minting is an out-of-scope external
// collaborator, so this stays a one-line stdlib helper rather than
// reaching for a library).
func mintToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// handleRegister implements spec.md §4.7 REGISTER.
func (n *Node) handleRegister(m *wire.Message, addr string) {
	if m.ID == "" {
		n.Log.Warn("REGISTER missing id")
		return
	}

	token, err := mintToken()
	if err != nil {
		n.Log.Error("failed to mint token", zap.Error(err))
		return
	}

	n.regMu.Lock()
	n.clients[m.ID] = ClientInfo{Token: token, Addr: addr}
	n.regMu.Unlock()

	if n.IsLeader() {
		n.replicateToFollowers(&wire.Message{Type: wire.TypeReplRegister, ID: m.ID, Token: token, Addr: addr})
	}

	n.send(addr, &wire.Message{Type: wire.TypeRegisterOK, Token: token})
}

// handleCreateGroup implements spec.md §4.7 CREATE_GROUP.
func (n *Node) handleCreateGroup(m *wire.Message, addr string) {
	if m.ID == "" || m.Group == "" {
		n.Log.Warn("CREATE_GROUP missing id/group")
		return
	}

	n.regMu.Lock()
	if _, exists := n.groups[m.Group]; exists {
		n.regMu.Unlock()
		n.Log.Info("rejecting duplicate group", zap.String("group", m.Group))
		return
	}
	n.groups[m.Group] = &Group{Owner: m.ID, Members: map[string]struct{}{m.ID: {}}}
	n.seqs[m.Group] = 0
	n.regMu.Unlock()

	n.send(addr, &wire.Message{Type: wire.TypeCreateGroupOK, Group: m.Group})
}

// handleJoinGroup implements spec.md §4.7 JOIN_GROUP.
func (n *Node) handleJoinGroup(m *wire.Message, addr string) {
	if m.ID == "" || m.Group == "" {
		n.Log.Warn("JOIN_GROUP missing id/group")
		return
	}

	n.regMu.Lock()
	g, ok := n.groups[m.Group]
	if ok {
		g.Members[m.ID] = struct{}{}
	}
	n.regMu.Unlock()

	if !ok {
		n.Log.Info("JOIN_GROUP on unknown group", zap.String("group", m.Group))
		return
	}
	n.send(addr, &wire.Message{Type: wire.TypeJoinGroupOK, Group: m.Group})
}

// handleLeaveGroup implements spec.md §4.7 LEAVE_GROUP.
func (n *Node) handleLeaveGroup(m *wire.Message, addr string) {
	if m.ID == "" || m.Group == "" {
		n.Log.Warn("LEAVE_GROUP missing id/group")
		return
	}

	n.regMu.Lock()
	g, ok := n.groups[m.Group]
	removed := false
	if ok {
		if _, member := g.Members[m.ID]; member {
			delete(g.Members, m.ID)
			removed = true
		}
	}
	n.regMu.Unlock()

	if !ok || !removed {
		n.Log.Info("LEAVE_GROUP rejected: unknown group or not a member", zap.String("group", m.Group), zap.String("id", m.ID))
		return
	}
	n.send(addr, &wire.Message{Type: wire.TypeLeaveGroupOK, Group: m.Group})
}

// handleGetGroups implements spec.md §4.7 GET_GROUPS.
func (n *Node) handleGetGroups(m *wire.Message, addr string) {
	n.regMu.RLock()
	names := make([]string, 0, len(n.groups))
	for name := range n.groups {
		names = append(names, name)
	}
	n.regMu.RUnlock()

	n.send(addr, &wire.Message{Type: wire.TypeGetGroupsOK, Groups: names})
}

// handleJoinedGroups implements spec.md §4.7 JOINED_GROUPS.
func (n *Node) handleJoinedGroups(m *wire.Message, addr string) {
	if m.ID == "" {
		n.Log.Warn("JOINED_GROUPS missing id")
		return
	}

	n.regMu.RLock()
	names := make([]string, 0)
	for name, g := range n.groups {
		if _, ok := g.Members[m.ID]; ok {
			names = append(names, name)
		}
	}
	n.regMu.RUnlock()

	n.send(addr, &wire.Message{Type: wire.TypeJoinedGroupsOK, Groups: names})
}

// handleStartVote implements spec.md §4.7 START_VOTE: it validates
// membership, creates the vote record, replicates it, acknowledges the
// client and kicks off the FO-multicast delivery.
func (n *Node) handleStartVote(m *wire.Message, addr string) {
	if m.ID == "" || m.Group == "" || m.Topic == "" || len(m.Options) == 0 || m.Timeout <= 0 {
		n.Log.Warn("START_VOTE missing required fields")
		return
	}

	n.regMu.RLock()
	g, ok := n.groups[m.Group]
	isMember := ok && func() bool { _, member := g.Members[m.ID]; return member }()
	n.regMu.RUnlock()

	if !ok {
		n.Log.Info("START_VOTE on unknown group", zap.String("group", m.Group))
		return
	}
	if !isMember {
		n.Log.Info("START_VOTE rejected: not a member", zap.String("id", m.ID), zap.String("group", m.Group))
		return
	}

	n.send(addr, &wire.Message{
		Type:    wire.TypeStartVoteOK,
		Group:   m.Group,
		Topic:   m.Topic,
		Options: m.Options,
		Timeout: m.Timeout,
	})

	voteID := uuid.New().String()

	n.voteMu.Lock()
	n.votes[voteID] = &Vote{Group: m.Group, Topic: m.Topic, Options: m.Options}
	n.voteMu.Unlock()

	if n.IsLeader() {
		n.replicateToFollowers(&wire.Message{
			Type:    wire.TypeReplVote,
			VoteID:  voteID,
			Group:   m.Group,
			Topic:   m.Topic,
			Options: m.Options,
			Timeout: m.Timeout,
		})
	}

	timeout := time.Duration(m.Timeout * float64(time.Second))
	n.foMulticast(m.Group, &wire.Message{
		Type:    wire.TypeVote,
		VoteID:  voteID,
		Group:   m.Group,
		Topic:   m.Topic,
		Options: m.Options,
	}, timeout)
}
