package node

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/votecast/coordinator-service/internal/wire"
)

// foMulticast is the leader's FIFO reliable multicast send (spec.md
// §4.5, "Leader send"). payload's Type/VoteID/Group/Topic/Options are
// already populated by the caller; foMulticast fills in S and Sender,
// snapshots the current membership, and sends the first round.
func (n *Node) foMulticast(group string, payload *wire.Message, timeout time.Duration) {
	n.regMu.Lock()
	seq := n.seqs[group]
	n.seqs[group] = seq + 1
	g, ok := n.groups[group]
	var members map[string]struct{}
	if ok {
		members = make(map[string]struct{}, len(g.Members))
		for m := range g.Members {
			members[m] = struct{}{}
		}
	}
	n.regMu.Unlock()

	msg := *payload
	msg.S = seq
	msg.Sender = n.ID

	pending := make(map[string]struct{}, len(members))
	for m := range members {
		pending[m] = struct{}{}
	}

	n.foMu.Lock()
	n.foPending[foKey{Group: group, Seq: seq}] = &foEntry{
		Pending:  pending,
		Deadline: time.Now().Add(timeout),
		Msg:      &msg,
		VoteID:   payload.VoteID,
	}
	n.foMu.Unlock()

	n.unicastToMembers(members, &msg)
}

// unicastToMembers sends msg to every member's registered address,
// resolving client ids to addresses under regMu.
func (n *Node) unicastToMembers(members map[string]struct{}, msg *wire.Message) {
	n.regMu.RLock()
	addrs := make([]string, 0, len(members))
	for cid := range members {
		if c, ok := n.clients[cid]; ok {
			addrs = append(addrs, c.Addr)
		}
	}
	n.regMu.RUnlock()

	for _, addr := range addrs {
		n.send(addr, msg)
	}
}

// foRetransmitLoop re-sends every pending FO entry to its still-pending
// recipients every RetransmitInterval, finishing entries whose pending
// set is empty or whose deadline has passed (spec.md §4.5,
// "Retransmit loop").
func (n *Node) foRetransmitLoop(ctx context.Context) {
	ticker := time.NewTicker(n.Cfg.RetransmitInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stop:
			return
		case <-ticker.C:
			n.foRetransmitTick()
		}
	}
}

func (n *Node) foRetransmitTick() {
	now := time.Now()

	type finished struct {
		key    foKey
		voteID string
	}
	var done []finished

	n.foMu.Lock()
	for key, entry := range n.foPending {
		if now.After(entry.Deadline) || len(entry.Pending) == 0 {
			done = append(done, finished{key: key, voteID: entry.VoteID})
			delete(n.foPending, key)
			continue
		}
		n.unicastToMembers(entry.Pending, entry.Msg)
	}
	n.foMu.Unlock()

	for _, f := range done {
		n.Log.Debug("FO multicast completed", zap.String("group", f.key.Group), zap.Uint64("seq", f.key.Seq))
		if f.voteID != "" {
			n.finalizeVote(f.voteID)
		}
	}
}

// handleVoteAck applies an incoming VOTE_ACK: it removes the client from
// the matching fo_pending entry's pending set and records the ballot,
// subject to duplicate-suppression and option validation (spec.md §4.7).
func (n *Node) handleVoteAck(m *wire.Message) {
	if m.VoteID == "" || m.Group == "" || m.ID == "" {
		n.Log.Warn("invalid VOTE_ACK: missing fields", zap.Any("msg", m))
		return
	}

	n.foMu.Lock()
	entry, ok := n.foPending[foKey{Group: m.Group, Seq: m.S}]
	if ok {
		delete(entry.Pending, m.ID)
	}
	n.foMu.Unlock()

	if !ok {
		n.Log.Info("dropping out-of-order or unknown VOTE_ACK", zap.String("group", m.Group), zap.Uint64("seq", m.S))
		return
	}

	n.voteMu.Lock()
	defer n.voteMu.Unlock()

	if _, ok := n.clientVotes[m.VoteID]; !ok {
		n.clientVotes[m.VoteID] = map[string]struct{}{}
	}
	if _, already := n.clientVotes[m.VoteID][m.ID]; already {
		n.Log.Info("duplicate ballot ignored", zap.String("client", m.ID), zap.String("vote_id", m.VoteID))
		return
	}

	vote, ok := n.votes[m.VoteID]
	if !ok {
		n.Log.Warn("VOTE_ACK for unknown vote", zap.String("vote_id", m.VoteID))
		return
	}
	if !contains(vote.Options, m.Vote) {
		n.Log.Warn("VOTE_ACK with invalid option", zap.String("vote", m.Vote))
		return
	}

	n.clientVotes[m.VoteID][m.ID] = struct{}{}
	vote.Votes = append(vote.Votes, wire.Ballot{ClientID: m.ID, Vote: m.Vote})
	n.Log.Debug("ballot recorded", zap.String("client", m.ID), zap.String("vote_id", m.VoteID))
}

// noWinnerSentinel is emitted when a vote closes with zero ballots
// (spec.md §4.7, "Finalization").
const noWinnerSentinel = "No votes, no winner"

// finalizeVote tallies ballots, breaks ties deterministically by options
// order, and announces the result to the group.
func (n *Node) finalizeVote(voteID string) {
	n.voteMu.RLock()
	vote, ok := n.votes[voteID]
	var votesCopy []wire.Ballot
	var options []string
	var group, topic string
	if ok {
		votesCopy = append([]wire.Ballot{}, vote.Votes...)
		options = vote.Options
		group = vote.Group
		topic = vote.Topic
	}
	n.voteMu.RUnlock()

	if !ok {
		n.Log.Warn("finalize_vote: unknown vote", zap.String("vote_id", voteID))
		return
	}

	winner := tallyWinner(votesCopy, options)

	n.regMu.RLock()
	var members map[string]struct{}
	if g, ok := n.groups[group]; ok {
		members = make(map[string]struct{}, len(g.Members))
		for m := range g.Members {
			members[m] = struct{}{}
		}
	}
	n.regMu.RUnlock()

	n.Log.Info("finalized vote", zap.String("vote_id", voteID), zap.String("winner", winner))

	n.unicastToMembers(members, &wire.Message{
		Type:   wire.TypeVoteResult,
		VoteID: voteID,
		Group:  group,
		Topic:  topic,
		Winner: winner,
	})
}

// tallyWinner counts ballots per option and breaks ties by the option's
// position in the original options list (spec.md §4.7, §8 invariant 3 of
// TESTABLE PROPERTIES' end-to-end scenario #3).
func tallyWinner(votes []wire.Ballot, options []string) string {
	if len(votes) == 0 {
		return noWinnerSentinel
	}

	counts := make(map[string]int, len(options))
	for _, b := range votes {
		counts[b.Vote]++
	}

	max := 0
	for _, c := range counts {
		if c > max {
			max = c
		}
	}

	winners := make([]string, 0, len(counts))
	for opt, c := range counts {
		if c == max {
			winners = append(winners, opt)
		}
	}
	if len(winners) == 1 {
		return winners[0]
	}

	sort.Slice(winners, func(i, j int) bool {
		return indexOf(options, winners[i]) < indexOf(options, winners[j])
	})
	return winners[0]
}

func indexOf(options []string, v string) int {
	for i, o := range options {
		if o == v {
			return i
		}
	}
	return len(options)
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}
