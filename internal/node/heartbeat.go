package node

import (
	"time"

	"go.uber.org/zap"

	"github.com/votecast/coordinator-service/internal/wire"
)

// heartbeatTick runs once per beacon interval (spec.md §4.3): it sends a
// heartbeat to the left neighbor and checks whether the previous one
// timed out.
func (n *Node) heartbeatTick() {
	left, _ := n.Neighbors()

	if left == "" || left == n.ID {
		// Quiescent detector: nothing to monitor.
		n.hbMu.Lock()
		n.lastHeartbeatTime = time.Now()
		n.heartbeatAckReceived = true
		n.hbMu.Unlock()
		return
	}

	n.send(left, &wire.Message{Type: wire.TypeHeartbeat, ID: n.ID})

	n.hbMu.Lock()
	elapsed := time.Since(n.lastHeartbeatTime)
	ackSeen := n.heartbeatAckReceived
	timedOut := elapsed > n.Cfg.HeartbeatTimeout() && ackSeen
	if timedOut {
		n.heartbeatAckReceived = false
	}
	n.hbMu.Unlock()

	if !timedOut {
		return
	}

	n.Log.Warn("heartbeat timeout, declaring neighbor dead", zap.String("neighbor", left))
	if err := n.Transport.Beacon("CRASH:" + left); err != nil {
		n.Log.Warn("broadcast crash failed", zap.Error(err))
	}

	// Sleep so peers observe the removal before we re-elect (spec.md
	// §4.3: "sleep briefly (>= 2s)").
	time.Sleep(n.Cfg.CrashSettle())

	n.hsStart(false)
}

// handleHeartbeat replies to an incoming HEARTBEAT from the right
// neighbor with an ack.
func (n *Node) handleHeartbeat(m *wire.Message, fromAddr string) {
	n.send(fromAddr, &wire.Message{Type: wire.TypeHeartbeatOK, ID: n.ID})
}

// handleHeartbeatAck marks the most recent heartbeat to our left
// neighbor as acknowledged.
func (n *Node) handleHeartbeatAck(m *wire.Message) {
	n.hbMu.Lock()
	n.lastHeartbeatTime = time.Now()
	n.heartbeatAckReceived = true
	n.hbMu.Unlock()
}
