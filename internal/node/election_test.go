package node

import (
	"testing"

	"go.uber.org/zap"

	"github.com/votecast/coordinator-service/internal/config"
	"github.com/votecast/coordinator-service/internal/wire"
)

func TestHsStartNoopWhenAlone(t *testing.T) {
	n := New("solo:9000", zap.NewNop(), config.Default(), nil)
	n.rebuildRing()

	n.hsStart(false)

	n.electMu.Lock()
	inProgress := n.electionInProgress
	n.electMu.Unlock()
	if inProgress {
		t.Fatalf("a lone server must not start an HS election")
	}
}

func TestHsStartGuardsAgainstConcurrentElection(t *testing.T) {
	n := newTestNode("b:9000", "a:9000", "c:9000")
	n.rebuildRing()

	n.electMu.Lock()
	n.electionInProgress = true
	n.electMu.Unlock()

	// hsStart must return immediately without resetting phase/leader state,
	// since hsSendNeighbors (which needs a live Transport) is never reached.
	n.hsStart(false)

	n.electMu.Lock()
	phase := n.phase
	n.electMu.Unlock()
	if phase != 0 {
		t.Fatalf("expected phase to remain untouched while an election is already in progress, got %d", phase)
	}
}

func TestHandleHSElectionIgnoresMissingNeighbor(t *testing.T) {
	// No neighbors configured: the handler must return before attempting
	// any send, so a nil Transport is safe here.
	n := New("solo:9000", zap.NewNop(), config.Default(), nil)

	n.handleHSElection(&wire.Message{
		Type:      wire.TypeHSElection,
		ID:        "peer:9000",
		Phase:     0,
		Direction: wire.Right,
		Hop:       1,
	})
}

func TestHandleHSReplyCompletesRoundWithoutDeclaring(t *testing.T) {
	// Three-server ring; after both replies land with nothing left
	// pending, phase should advance and, since neighbors are empty, the
	// next probing round degenerates into an abort rather than a send.
	n := newTestNode("b:9000", "a:9000", "c:9000")
	n.rebuildRing()

	n.electMu.Lock()
	n.electionInProgress = true
	n.pendingReplies = 1
	n.phase = 0
	n.electMu.Unlock()

	// Clear neighbors so the subsequent hsSendNeighbors call (triggered by
	// the last reply landing) degenerates into an abort instead of a send.
	n.mu.Lock()
	n.left, n.right = "", ""
	n.mu.Unlock()

	n.handleHSReply(&wire.Message{
		Type:      wire.TypeHSReply,
		ID:        n.ID,
		Direction: wire.Right,
	})

	n.electMu.Lock()
	phase := n.phase
	inProgress := n.electionInProgress
	n.electMu.Unlock()

	// The reply completes the round (phase would advance to 1), but the
	// immediately following probe round finds no neighbors to send to and
	// aborts, which resets phase back to 0 (see hsSendNeighbors).
	if phase != 0 {
		t.Fatalf("expected phase to be reset to 0 by the abort, got %d", phase)
	}
	if inProgress {
		t.Fatalf("expected the election to abort (no neighbors) rather than stay in progress")
	}
}
