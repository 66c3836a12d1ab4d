package node

import (
	"context"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

// beaconLoop periodically announces this node's presence on the
// multicast group and drives the heartbeat tick (spec.md §4.1,
// "additionally drives the heartbeat check").
func (n *Node) beaconLoop(ctx context.Context) {
	ticker := time.NewTicker(n.Cfg.BeaconInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stop:
			return
		case <-ticker.C:
			if err := n.Transport.Beacon("SERVER:" + n.ID); err != nil {
				n.Log.Warn("beacon failed", zap.Error(err))
			}
			n.heartbeatTick()
		}
	}
}

// discoveryListenLoop parses plain ASCII multicast text per spec.md §6.
func (n *Node) discoveryListenLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stop:
			return
		default:
		}

		dg, err := n.Transport.RecvMulticast()
		if err != nil {
			n.Log.Warn("multicast recv error", zap.Error(err))
			continue
		}
		if dg == nil {
			continue // timeout, loop back to the shutdown check
		}
		n.handleDiscoveryLine(string(dg.Data), dg.Addr)
	}
}

func (n *Node) handleDiscoveryLine(line string, addr *net.UDPAddr) {
	switch {
	case strings.HasPrefix(line, "SERVER:"):
		sid := strings.TrimPrefix(line, "SERVER:")
		if sid == "" {
			return
		}
		n.onServerSeen(sid)

	case line == "WHO_IS_LEADER":
		if n.IsLeader() {
			if err := n.Transport.SendRaw(addr, "LEADER:"+n.ID); err != nil {
				n.Log.Warn("reply to WHO_IS_LEADER failed", zap.Error(err))
			}
		}

	case strings.HasPrefix(line, "CRASH:"):
		sid := strings.TrimPrefix(line, "CRASH:")
		n.onCrashNotice(sid)

	default:
		n.Log.Debug("dropping unrecognized discovery line", zap.String("line", line))
	}
}

// onServerSeen adds a newly observed server id to the view, rebuilds the
// ring, and starts an HS election if the three preconditions of spec.md
// §4.1 hold.
func (n *Node) onServerSeen(sid string) {
	n.mu.Lock()
	if _, ok := n.servers[n.ID]; !ok {
		n.servers[n.ID] = struct{}{}
	}
	_, known := n.servers[sid]
	if !known {
		n.servers[sid] = struct{}{}
	}
	n.mu.Unlock()

	if known {
		return
	}

	n.Log.Info("server joined", zap.String("server", sid))
	n.rebuildRing()

	n.electMu.Lock()
	inProgress := n.electionInProgress
	n.electMu.Unlock()

	numServers := n.viewSize()
	left, right := n.Neighbors()
	if !inProgress && numServers > 1 && left != "" && right != "" {
		n.hsStart(false)
	}
}

// onCrashNotice removes sid from the view (never self) and rebuilds the
// ring.
func (n *Node) onCrashNotice(sid string) {
	if sid == n.ID {
		return
	}

	n.mu.Lock()
	_, existed := n.servers[sid]
	if existed {
		delete(n.servers, sid)
	}
	if _, ok := n.servers[n.ID]; !ok {
		n.servers[n.ID] = struct{}{}
	}
	n.mu.Unlock()

	if existed {
		n.Log.Info("server left", zap.String("server", sid))
		n.rebuildRing()
	}
}

func (n *Node) viewSize() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.servers)
}
