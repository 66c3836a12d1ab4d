package clientsdk

import (
	"testing"

	"go.uber.org/zap"

	"github.com/votecast/coordinator-service/internal/wire"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New("test-client", zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func voteMsg(group, sender string, seq uint64) *wire.Message {
	return &wire.Message{
		Type:   wire.TypeVote,
		VoteID: "vote-1",
		Group:  group,
		Sender: sender,
		S:      seq,
		Topic:  "topic",
	}
}

func TestOnVoteDatagramDeliversInOrder(t *testing.T) {
	c := newTestClient(t)
	var delivered []uint64
	c.OnVote = func(v VoteDelivery) { delivered = append(delivered, v.Seq) }

	c.onVoteDatagram(voteMsg("g", "leader", 0))
	c.onVoteDatagram(voteMsg("g", "leader", 1))
	c.onVoteDatagram(voteMsg("g", "leader", 2))

	if len(delivered) != 3 || delivered[0] != 0 || delivered[1] != 1 || delivered[2] != 2 {
		t.Fatalf("expected in-order delivery 0,1,2, got %v", delivered)
	}
}

func TestOnVoteDatagramHoldsBackOutOfOrderThenFlushes(t *testing.T) {
	c := newTestClient(t)
	var delivered []uint64
	c.OnVote = func(v VoteDelivery) { delivered = append(delivered, v.Seq) }

	c.onVoteDatagram(voteMsg("g", "leader", 0))
	c.onVoteDatagram(voteMsg("g", "leader", 2)) // arrives early, must be held back
	if len(delivered) != 1 {
		t.Fatalf("seq 2 must not be delivered before seq 1 arrives, got %v", delivered)
	}

	c.onVoteDatagram(voteMsg("g", "leader", 1)) // fills the gap
	if len(delivered) != 3 || delivered[2] != 2 {
		t.Fatalf("expected holdback flush to deliver 0,1,2 in order, got %v", delivered)
	}
}

func TestOnVoteDatagramDropsDuplicate(t *testing.T) {
	c := newTestClient(t)
	var delivered []uint64
	c.OnVote = func(v VoteDelivery) { delivered = append(delivered, v.Seq) }

	c.onVoteDatagram(voteMsg("g", "leader", 0))
	c.onVoteDatagram(voteMsg("g", "leader", 0)) // retransmitted duplicate

	if len(delivered) != 1 {
		t.Fatalf("expected duplicate seq 0 to be dropped, got %v", delivered)
	}
}

func TestOnVoteDatagramTracksSendersIndependently(t *testing.T) {
	c := newTestClient(t)
	var delivered []string
	c.OnVote = func(v VoteDelivery) { delivered = append(delivered, v.Sender) }

	// Two distinct leaders (e.g. across a handoff) each start their own
	// sequence from 0; neither should block the other.
	c.onVoteDatagram(voteMsg("g", "leader-a", 0))
	c.onVoteDatagram(voteMsg("g", "leader-b", 0))

	if len(delivered) != 2 {
		t.Fatalf("expected both senders' seq 0 delivered independently, got %v", delivered)
	}
}

func TestSetLeaderAndCurrentLeader(t *testing.T) {
	c := newTestClient(t)
	c.SetLeader("127.0.0.1:9999")
	if got := c.currentLeader(); got != "127.0.0.1:9999" {
		t.Fatalf("expected leader to be set, got %q", got)
	}
}
