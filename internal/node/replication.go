package node

import (
	"time"

	"go.uber.org/zap"

	"github.com/votecast/coordinator-service/internal/wire"
)

// sendReplicateState ships the full authoritative state to a newly
// elected leader (spec.md §4.6, "Replication & Handoff"). The outgoing
// leader's deadline on each fo_pending entry is preserved verbatim, per
// the Open Question in spec.md §9.
func (n *Node) sendReplicateState(newLeader string) {
	n.regMu.RLock()
	clients := make(map[string]wire.ClientRecord, len(n.clients))
	for id, c := range n.clients {
		clients[id] = wire.ClientRecord{Token: c.Token, Addr: c.Addr}
	}
	groupsMap := make(map[string]wire.GroupRecord, len(n.groups))
	for name, g := range n.groups {
		members := make([]string, 0, len(g.Members))
		for m := range g.Members {
			members = append(members, m)
		}
		groupsMap[name] = wire.GroupRecord{Owner: g.Owner, Members: members}
	}
	seqs := make(map[string]uint64, len(n.seqs))
	for g, s := range n.seqs {
		seqs[g] = s
	}
	n.regMu.RUnlock()

	n.voteMu.RLock()
	votes := make(map[string]wire.VoteRecord, len(n.votes))
	for id, v := range n.votes {
		votes[id] = wire.VoteRecord{Group: v.Group, Topic: v.Topic, Options: v.Options, Votes: append([]wire.Ballot{}, v.Votes...)}
	}
	n.voteMu.RUnlock()

	n.foMu.Lock()
	foPending := make([]wire.FOPendingRecord, 0, len(n.foPending))
	for key, e := range n.foPending {
		pending := make([]string, 0, len(e.Pending))
		for p := range e.Pending {
			pending = append(pending, p)
		}
		foPending = append(foPending, wire.FOPendingRecord{
			Group:    key.Group,
			Seq:      key.Seq,
			Pending:  pending,
			Deadline: e.Deadline.UnixNano(),
			Msg:      e.Msg,
			VoteID:   e.VoteID,
		})
	}
	n.foMu.Unlock()

	n.send(newLeader, &wire.Message{
		Type:      wire.TypeReplState,
		Clients:   clients,
		GroupsMap: groupsMap,
		Votes:     votes,
		Seqs:      seqs,
		FOPending: foPending,
	})
}

// applyReplicateState installs a REPL_STATE snapshot as this node's
// authoritative state, converting member lists back to sets (spec.md §9,
// "Sets over the wire"), then notifies every known client of the new
// leader.
func (n *Node) applyReplicateState(m *wire.Message) {
	n.regMu.Lock()
	n.clients = make(map[string]ClientInfo, len(m.Clients))
	for id, c := range m.Clients {
		n.clients[id] = ClientInfo{Token: c.Token, Addr: c.Addr}
	}
	n.groups = make(map[string]*Group, len(m.GroupsMap))
	for name, g := range m.GroupsMap {
		members := make(map[string]struct{}, len(g.Members))
		for _, id := range g.Members {
			members[id] = struct{}{}
		}
		n.groups[name] = &Group{Owner: g.Owner, Members: members}
	}
	n.seqs = make(map[string]uint64, len(m.Seqs))
	for g, s := range m.Seqs {
		n.seqs[g] = s
	}
	n.regMu.Unlock()

	n.voteMu.Lock()
	n.votes = make(map[string]*Vote, len(m.Votes))
	for id, v := range m.Votes {
		n.votes[id] = &Vote{Group: v.Group, Topic: v.Topic, Options: v.Options, Votes: append([]wire.Ballot{}, v.Votes...)}
	}
	n.voteMu.Unlock()

	n.foMu.Lock()
	n.foPending = make(map[foKey]*foEntry, len(m.FOPending))
	for _, r := range m.FOPending {
		pending := make(map[string]struct{}, len(r.Pending))
		for _, p := range r.Pending {
			pending[p] = struct{}{}
		}
		n.foPending[foKey{Group: r.Group, Seq: r.Seq}] = &foEntry{
			Pending:  pending,
			Deadline: time.Unix(0, r.Deadline),
			Msg:      r.Msg,
			VoteID:   r.VoteID,
		}
	}
	n.foMu.Unlock()

	n.Log.Info("applied REPL_STATE snapshot")
	n.notifyClientsOfNewLeader()
}

// notifyClientsOfNewLeader broadcasts NEW_LEADER to every registered
// client so they repoint future requests (spec.md §4.6).
func (n *Node) notifyClientsOfNewLeader() {
	n.regMu.RLock()
	addrs := make([]string, 0, len(n.clients))
	for _, c := range n.clients {
		addrs = append(addrs, c.Addr)
	}
	n.regMu.RUnlock()

	for _, addr := range addrs {
		n.send(addr, &wire.Message{Type: wire.TypeNewLeader, ID: n.ID})
	}
}

// handleReplRegister applies a replicated REGISTER record on a follower.
func (n *Node) handleReplRegister(m *wire.Message) {
	n.regMu.Lock()
	n.clients[m.ID] = ClientInfo{Token: m.Token, Addr: m.Addr}
	n.regMu.Unlock()
	n.Log.Debug("applied REPL_REGISTER", zap.String("client", m.ID))
}

// handleReplVote applies a replicated START_VOTE record on a follower.
func (n *Node) handleReplVote(m *wire.Message) {
	n.voteMu.Lock()
	n.votes[m.VoteID] = &Vote{Group: m.Group, Topic: m.Topic, Options: m.Options}
	n.voteMu.Unlock()

	n.regMu.Lock()
	if _, ok := n.seqs[m.Group]; !ok {
		n.seqs[m.Group] = 0
	}
	n.regMu.Unlock()

	n.Log.Debug("applied REPL_VOTE", zap.String("vote_id", m.VoteID))
}

// replicateToFollowers sends a record to every other known server. Used
// by the leader-only handlers when a state mutation happens.
func (n *Node) replicateToFollowers(m *wire.Message) {
	for _, s := range n.Servers() {
		if s != n.ID {
			n.send(s, m)
		}
	}
}
