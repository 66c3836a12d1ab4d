package node

import (
	"testing"

	"go.uber.org/zap"

	"github.com/votecast/coordinator-service/internal/config"
	"github.com/votecast/coordinator-service/internal/transport"
	"github.com/votecast/coordinator-service/internal/wire"
)

// newBoundTestNode builds a Node with a real, ephemeral-port Transport so
// handler code paths that unconditionally call n.send don't nil-panic.
// The destination addresses used by tests below are never valid, so every
// send fails to resolve and is logged-and-dropped (see Node.send) without
// affecting the state assertions under test.
func newBoundTestNode(t *testing.T, id string) *Node {
	t.Helper()
	tr, err := transport.New(zap.NewNop(), "127.0.0.1", 0, "239.5.5.5:0")
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}
	t.Cleanup(tr.Close)
	return New(id, zap.NewNop(), config.Default(), tr)
}

func TestHandleCreateGroupRejectsMissingFields(t *testing.T) {
	n := newBoundTestNode(t, "leader:9000")
	n.handleCreateGroup(&wire.Message{ID: "", Group: "book-club"}, "nowhere:0")
	if _, ok := n.groups["book-club"]; ok {
		t.Fatalf("group must not be created when id is missing")
	}
}

func TestHandleCreateGroupRejectsDuplicate(t *testing.T) {
	n := newBoundTestNode(t, "leader:9000")
	n.handleCreateGroup(&wire.Message{ID: "alice", Group: "book-club"}, "nowhere:0")
	n.handleCreateGroup(&wire.Message{ID: "bob", Group: "book-club"}, "nowhere:0")

	g := n.groups["book-club"]
	if g.Owner != "alice" {
		t.Fatalf("expected original owner 'alice' to survive a duplicate CREATE_GROUP, got %q", g.Owner)
	}
	if _, isMember := g.Members["bob"]; isMember {
		t.Fatalf("duplicate CREATE_GROUP must not add bob as a member")
	}
}

func TestHandleJoinGroupOnUnknownGroupIsNoop(t *testing.T) {
	n := newBoundTestNode(t, "leader:9000")
	n.handleJoinGroup(&wire.Message{ID: "alice", Group: "does-not-exist"}, "nowhere:0")
	if _, ok := n.groups["does-not-exist"]; ok {
		t.Fatalf("JOIN_GROUP must not create the group as a side effect")
	}
}

func TestHandleJoinGroupAddsMember(t *testing.T) {
	n := newBoundTestNode(t, "leader:9000")
	n.handleCreateGroup(&wire.Message{ID: "alice", Group: "book-club"}, "nowhere:0")
	n.handleJoinGroup(&wire.Message{ID: "bob", Group: "book-club"}, "nowhere:0")

	g := n.groups["book-club"]
	if _, ok := g.Members["bob"]; !ok {
		t.Fatalf("expected bob to be added as a member")
	}
}

func TestHandleLeaveGroupRemovesMember(t *testing.T) {
	n := newBoundTestNode(t, "leader:9000")
	n.handleCreateGroup(&wire.Message{ID: "alice", Group: "book-club"}, "nowhere:0")
	n.handleJoinGroup(&wire.Message{ID: "bob", Group: "book-club"}, "nowhere:0")
	n.handleLeaveGroup(&wire.Message{ID: "bob", Group: "book-club"}, "nowhere:0")

	g := n.groups["book-club"]
	if _, stillMember := g.Members["bob"]; stillMember {
		t.Fatalf("expected bob to be removed after LEAVE_GROUP")
	}
}

func TestHandleStartVoteRejectsInvalidRequests(t *testing.T) {
	n := newBoundTestNode(t, "leader:9000")
	n.handleCreateGroup(&wire.Message{ID: "alice", Group: "book-club"}, "nowhere:0")

	// Not a member of the group.
	n.handleStartVote(&wire.Message{
		ID: "outsider", Group: "book-club", Topic: "t", Options: []string{"a", "b"}, Timeout: 5,
	}, "nowhere:0")
	if len(n.votes) != 0 {
		t.Fatalf("expected START_VOTE from a non-member to be rejected, got %d votes", len(n.votes))
	}

	// Missing options.
	n.handleStartVote(&wire.Message{
		ID: "alice", Group: "book-club", Topic: "t", Options: nil, Timeout: 5,
	}, "nowhere:0")
	if len(n.votes) != 0 {
		t.Fatalf("expected START_VOTE with no options to be rejected, got %d votes", len(n.votes))
	}
}

func TestHandleStartVoteCreatesVoteForMember(t *testing.T) {
	n := newBoundTestNode(t, "leader:9000")
	n.handleCreateGroup(&wire.Message{ID: "alice", Group: "book-club"}, "nowhere:0")

	n.handleStartVote(&wire.Message{
		ID: "alice", Group: "book-club", Topic: "best book", Options: []string{"a", "b"}, Timeout: 5,
	}, "nowhere:0")

	if len(n.votes) != 1 {
		t.Fatalf("expected exactly one vote to be created, got %d", len(n.votes))
	}
}

func TestMintTokenProducesDistinctHexStrings(t *testing.T) {
	a, err := mintToken()
	if err != nil {
		t.Fatalf("mintToken: %v", err)
	}
	b, err := mintToken()
	if err != nil {
		t.Fatalf("mintToken: %v", err)
	}
	if a == b {
		t.Fatalf("expected two independently minted tokens to differ")
	}
	if len(a) != 32 { // 16 bytes hex-encoded
		t.Fatalf("expected a 32-character hex token, got %d chars: %q", len(a), a)
	}
}
