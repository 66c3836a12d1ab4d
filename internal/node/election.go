package node

import (
	"time"

	"go.uber.org/zap"

	"github.com/votecast/coordinator-service/internal/wire"
)

// hsStart begins a Hirschberg-Sinclair election (spec.md §4.4). manual
// wait is left to the caller (TriggerElection) since that requires
// blocking on electionDone outside of electMu.
func (n *Node) hsStart(_ bool) {
	n.electMu.Lock()
	if n.electionInProgress {
		n.electMu.Unlock()
		n.Log.Debug("election already in progress")
		return
	}

	if n.viewSize() <= 1 {
		n.electMu.Unlock()
		n.Log.Debug("cannot start HS: only one server in view")
		return
	}

	left, right := n.Neighbors()
	if left == "" || right == "" {
		n.electMu.Unlock()
		n.rebuildRing()
		left, right = n.Neighbors()
		if left == "" || right == "" {
			n.Log.Warn("cannot start HS: ring not ready after rebuild")
			return
		}
		n.electMu.Lock()
	}

	n.electionInProgress = true
	n.electionDone = make(chan struct{})
	n.phase = 0
	n.electMu.Unlock()

	n.mu.Lock()
	n.leader = ""
	n.mu.Unlock()

	n.Log.Info("starting HS election", zap.String("id", n.ID))
	n.hsSendNeighbors()
}

// hsSendNeighbors probes both neighbors at distance 2^phase (spec.md
// §4.4, "Probe").
func (n *Node) hsSendNeighbors() {
	n.electMu.Lock()
	distance := 1 << uint(n.phase)
	n.pendingReplies = 2
	phase := n.phase
	n.electMu.Unlock()

	left, right := n.Neighbors()

	abort := false
	for _, pair := range []struct {
		dir  wire.Direction
		addr string
	}{{wire.Left, left}, {wire.Right, right}} {
		if pair.addr == "" {
			n.electMu.Lock()
			n.pendingReplies--
			abort = n.pendingReplies <= 0
			n.electMu.Unlock()
			continue
		}
		n.send(pair.addr, &wire.Message{
			Type:      wire.TypeHSElection,
			ID:        n.ID,
			Phase:     phase,
			Direction: pair.dir,
			Hop:       distance,
		})
	}

	if abort {
		n.electMu.Lock()
		n.electionInProgress = false
		n.phase = 0
		n.electMu.Unlock()
		n.Log.Warn("aborting HS election: no neighbors available")
		n.closeElectionDone()
	}
}

// handleHSElection forwards or swallows an HS_ELECTION probe (spec.md
// §4.4, "Forwarding an election message").
func (n *Node) handleHSElection(m *wire.Message) {
	if m.ID == "" || m.Hop <= 0 || (m.Direction != wire.Left && m.Direction != wire.Right) {
		n.Log.Warn("invalid HS_ELECTION", zap.Any("msg", m))
		return
	}

	left, right := n.Neighbors()
	neighbor := right
	if m.Direction == wire.Left {
		neighbor = left
	}
	if neighbor == "" {
		return
	}

	switch {
	case m.ID < n.ID:
		n.electMu.Lock()
		inProgress := n.electionInProgress
		n.electMu.Unlock()
		if !inProgress {
			n.hsStart(false)
		}

	case m.ID > n.ID && m.Hop > 1:
		forwarded := *m
		forwarded.Hop--
		n.send(neighbor, &forwarded)

	case m.ID > n.ID && m.Hop == 1:
		n.send(neighbor, &wire.Message{
			Type:      wire.TypeHSReply,
			ID:        m.ID,
			Direction: m.Direction,
		})

	default: // m.ID == n.ID: replies are routed via HS_REPLY, not here.
	}
}

// handleHSReply forwards a reply toward its origin, or consumes it when
// it has arrived home (spec.md §4.4, "Reply").
func (n *Node) handleHSReply(m *wire.Message) {
	if m.ID == "" || (m.Direction != wire.Left && m.Direction != wire.Right) {
		n.Log.Warn("invalid HS_REPLY", zap.Any("msg", m))
		return
	}

	left, right := n.Neighbors()
	neighbor := right
	if m.Direction == wire.Left {
		neighbor = left
	}

	if m.ID != n.ID {
		if neighbor == "" {
			return
		}
		n.send(neighbor, m)
		return
	}

	n.electMu.Lock()
	n.pendingReplies--
	done := n.pendingReplies == 0
	var declare bool
	if done {
		n.phase++
		declare = (1 << uint(n.phase)) >= n.viewSizeLocked()
	}
	n.electMu.Unlock()

	if !done {
		return
	}
	if declare {
		n.hsDeclareLeader()
	} else {
		n.hsSendNeighbors()
	}
}

// viewSizeLocked reads the membership count without acquiring electMu
// (caller already holds it); it still needs n.mu for the servers map.
func (n *Node) viewSizeLocked() int {
	return n.viewSize()
}

// hsDeclareLeader sets this node as leader and starts the HS_LEADER
// propagation (spec.md §4.4, "Declaration").
func (n *Node) hsDeclareLeader() {
	n.mu.Lock()
	n.leader = n.ID
	left := n.left
	n.mu.Unlock()

	n.electMu.Lock()
	n.electionInProgress = false
	n.electMu.Unlock()

	n.Log.Info("HS: elected self as leader", zap.String("id", n.ID))
	n.closeElectionDone()

	n.send(left, &wire.Message{Type: wire.TypeHSLeader, ID: n.ID})
}

// handleHSLeader applies an HS_LEADER announcement and forwards it along
// the ring (spec.md §4.4, "Declaration"/"Handoff").
func (n *Node) handleHSLeader(m *wire.Message) {
	if m.ID == "" {
		n.Log.Warn("invalid HS_LEADER", zap.Any("msg", m))
		return
	}

	n.mu.Lock()
	wasLeader := n.leader == n.ID
	n.leader = m.ID
	left := n.left
	n.mu.Unlock()

	if wasLeader && m.ID != n.ID {
		n.sendReplicateState(m.ID)
	}

	n.electMu.Lock()
	n.electionInProgress = false
	n.electMu.Unlock()
	n.closeElectionDone()

	n.Log.Info("HS: leader elected", zap.String("leader", m.ID))

	if left != m.ID && left != "" {
		n.send(left, m)
	}
}

// closeElectionDone signals the one-shot electionDone latch. Safe to call
// more than once per election because hsStart replaces the channel.
func (n *Node) closeElectionDone() {
	n.electMu.Lock()
	ch := n.electionDone
	n.electMu.Unlock()
	select {
	case <-ch:
		// already closed
	default:
		close(ch)
	}
}

// TriggerElection manually starts an HS election and blocks up to the
// configured ElectionWaitTimeout for it to complete.
func (n *Node) TriggerElection() {
	n.hsStart(true)

	// Read the latch after hsStart, which replaces it for the new election.
	n.electMu.Lock()
	ch := n.electionDone
	n.electMu.Unlock()

	select {
	case <-ch:
	case <-time.After(n.Cfg.ElectionWaitTimeout()):
	}
}
