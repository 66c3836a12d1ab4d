// Package node implements the server-side coordination fabric: a single
// owner record (Node) mutated by the ring, discovery, heartbeat, election,
// replication and FO-multicast components in this package, and by the
// request handlers in handlers.go. This mirrors the original VoteCast
// prototype's design, where every component function takes the same
// `server` object by reference (see DESIGN NOTES, "Global mutable server
// state").
package node

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/votecast/coordinator-service/internal/config"
	"github.com/votecast/coordinator-service/internal/transport"
	"github.com/votecast/coordinator-service/internal/wire"
)

// Group is the in-memory record for one poll group.
type Group struct {
	Owner   string
	Members map[string]struct{}
}

// ClientInfo is the authoritative registry entry for one registered
// client.
type ClientInfo struct {
	Token string
	Addr  string
}

// Vote is the in-memory record for one in-flight or finished vote.
type Vote struct {
	Group   string
	Topic   string
	Options []string
	Votes   []wire.Ballot
}

// foKey identifies one pending FO-multicast entry.
type foKey struct {
	Group string
	Seq   uint64
}

// foEntry is one outstanding FO-multicast delivery, awaiting acks or its
// deadline.
type foEntry struct {
	Pending  map[string]struct{}
	Deadline time.Time
	Msg      *wire.Message
	VoteID   string
}

// Node is the single owner record for one server process. All exported
// methods are safe for concurrent use; mutable sub-fields are guarded by
// per-region mutexes rather than a single global lock, so the election
// state machine and the FO retransmit loop never block on each other.
type Node struct {
	ID string

	Log       *zap.Logger
	Cfg       config.Config
	Transport *transport.Transport

	mu      sync.RWMutex // guards servers/left/right/leader (IsLeader derives from leader)
	servers map[string]struct{}
	left    string
	right   string
	leader  string

	electMu            sync.Mutex // guards the HS election state machine
	phase              int
	pendingReplies     int
	electionInProgress bool
	electionDone       chan struct{}

	hbMu                  sync.Mutex // guards heartbeat failure-detector state
	lastHeartbeatTime     time.Time
	heartbeatAckReceived  bool

	regMu   sync.RWMutex // guards clients/groups/sequences
	clients map[string]ClientInfo
	groups  map[string]*Group
	seqs    map[string]uint64

	voteMu       sync.RWMutex // guards votes/clientVotes
	votes        map[string]*Vote
	clientVotes  map[string]map[string]struct{}

	foMu      sync.Mutex // guards foPending
	foPending map[foKey]*foEntry

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Node bound to id (its own host:port), with itself as the
// sole known server.
func New(id string, log *zap.Logger, cfg config.Config, t *transport.Transport) *Node {
	n := &Node{
		ID:           id,
		Log:          log,
		Cfg:          cfg,
		Transport:    t,
		servers:      map[string]struct{}{id: {}},
		electionDone: make(chan struct{}),
		clients:      map[string]ClientInfo{},
		groups:       map[string]*Group{},
		seqs:         map[string]uint64{},
		votes:        map[string]*Vote{},
		clientVotes:  map[string]map[string]struct{}{},
		foPending:    map[foKey]*foEntry{},
		stop:         make(chan struct{}),
	}
	n.hbMu.Lock()
	n.lastHeartbeatTime = time.Now()
	n.heartbeatAckReceived = true
	n.hbMu.Unlock()
	return n
}

// IsLeader reports whether this node currently believes it is the leader.
func (n *Node) IsLeader() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.leader == n.ID
}

// Leader returns the currently known leader id, or "" if undetermined.
func (n *Node) Leader() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.leader
}

// Servers returns a snapshot of the current membership view.
func (n *Node) Servers() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.servers))
	for s := range n.servers {
		out = append(out, s)
	}
	return out
}

// Neighbors returns the current left/right ring neighbors.
func (n *Node) Neighbors() (left, right string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.left, n.right
}

// Run starts every background loop (beacon+heartbeat, discovery listener,
// unicast receiver, FO retransmit) and blocks until ctx is cancelled.
func (n *Node) Run(ctx context.Context) {
	n.bootstrap()

	loops := []func(context.Context){
		n.discoveryListenLoop,
		n.beaconLoop,
		n.unicastLoop,
		n.foRetransmitLoop,
	}
	for _, loop := range loops {
		n.wg.Add(1)
		go func(l func(context.Context)) {
			defer n.wg.Done()
			l(ctx)
		}(loop)
	}

	<-ctx.Done()
	close(n.stop)
	n.wg.Wait()
	n.Transport.Close()
}

// bootstrap implements spec.md §4.1's "Bootstrap rule": a node that sees
// only itself at startup declares leadership without running HS.
func (n *Node) bootstrap() {
	n.mu.Lock()
	alone := len(n.servers) <= 1
	if alone {
		n.leader = n.ID
	}
	n.mu.Unlock()

	if alone {
		n.Log.Info("bootstrap: sole server in view, declaring self leader", zap.String("id", n.ID))
	}
}

// send is the common unicast-a-structured-message helper used by every
// component; failures are logged and dropped (spec.md §7, "Transient
// network error").
func (n *Node) send(addr string, m *wire.Message) {
	if err := n.Transport.Send(addr, m); err != nil {
		n.Log.Warn("send failed", zap.String("addr", addr), zap.String("type", string(m.Type)), zap.Error(err))
	}
}
