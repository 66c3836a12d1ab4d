// Package clientsdk is the external-collaborator surface spec.md §1
// scopes out of the core ("interactive CLI menus, human-entered
// group/topic/option strings"): a minimal, testable driver for the
// client side of the protocol, including the FO-multicast delivery state
// (holdback queues, duplicate suppression) that spec.md §4.5 defines in
// detail.
package clientsdk

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/votecast/coordinator-service/internal/wire"
)

// VoteDelivery is emitted to the OnVote callback for each in-order VOTE
// message delivered to the application.
type VoteDelivery struct {
	VoteID  string
	Group   string
	Topic   string
	Options []string
	Seq     uint64
	Sender  string
}

// Client drives the client side of the wire protocol over one UDP
// socket: registration, group membership, starting votes, and reliable
// FIFO-ordered delivery of VOTE messages from whichever server is
// currently leader.
type Client struct {
	ID  string
	Log *zap.Logger

	conn *net.UDPConn

	mu     sync.Mutex
	leader string
	token  string

	// Per-(group,sender) FIFO delivery state (spec.md §4.5, "Client
	// delivery").
	deliveryMu sync.Mutex
	lastSeq    map[string]map[string]int64 // group -> sender -> R[g][q], -1 if none
	holdback   map[string]map[string]map[uint64]*wire.Message

	OnVote       func(VoteDelivery)
	OnVoteResult func(voteID, group, topic, winner string)
	OnNewLeader  func(leaderID string)
}

// New binds an ephemeral UDP socket and returns a Client identified by
// id (a human-chosen name, distinct from the server's host:port ids).
func New(id string, log *zap.Logger) (*Client, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("clientsdk: bind: %w", err)
	}
	return &Client{
		ID:       id,
		Log:      log,
		conn:     conn,
		lastSeq:  map[string]map[string]int64{},
		holdback: map[string]map[string]map[uint64]*wire.Message{},
	}, nil
}

// Close releases the client's socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// LocalAddr is this client's bound host:port, used as the return address
// servers unicast VOTE/VOTE_RESULT/NEW_LEADER messages to.
func (c *Client) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

// DiscoverLeader broadcasts WHO_IS_LEADER to the discovery multicast
// group and waits up to timeout for a LEADER: reply (spec.md §4.1,
// SUPPLEMENTED FEATURES #4 in SPEC_FULL.md).
func (c *Client) DiscoverLeader(mcastAddr string, timeout time.Duration) (string, error) {
	addr, err := net.ResolveUDPAddr("udp4", mcastAddr)
	if err != nil {
		return "", fmt.Errorf("clientsdk: resolve multicast addr: %w", err)
	}

	if _, err := c.conn.WriteToUDP([]byte("WHO_IS_LEADER"), addr); err != nil {
		return "", fmt.Errorf("clientsdk: send WHO_IS_LEADER: %w", err)
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, wire.BUF)
	for time.Now().Before(deadline) {
		if err := c.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
			return "", err
		}
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		line := string(buf[:n])
		if len(line) > 7 && line[:7] == "LEADER:" {
			leader := line[7:]
			c.mu.Lock()
			c.leader = leader
			c.mu.Unlock()
			return leader, nil
		}
	}
	return "", fmt.Errorf("clientsdk: no leader discovered within %s", timeout)
}

// SetLeader overrides the known leader address directly (used by tests
// and by NEW_LEADER handling).
func (c *Client) SetLeader(addr string) {
	c.mu.Lock()
	c.leader = addr
	c.mu.Unlock()
}

func (c *Client) currentLeader() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader
}

func (c *Client) send(m *wire.Message) error {
	leader := c.currentLeader()
	if leader == "" {
		return fmt.Errorf("clientsdk: no known leader")
	}
	addr, err := net.ResolveUDPAddr("udp4", leader)
	if err != nil {
		return fmt.Errorf("clientsdk: resolve leader addr: %w", err)
	}
	b, err := wire.Encode(m)
	if err != nil {
		return err
	}
	_, err = c.conn.WriteToUDP(b, addr)
	return err
}

// Register sends REGISTER and blocks for REGISTER_OK, storing the issued
// token.
func (c *Client) Register(timeout time.Duration) error {
	if err := c.send(&wire.Message{Type: wire.TypeRegister, ID: c.ID}); err != nil {
		return err
	}
	reply, err := c.awaitReply(wire.TypeRegisterOK, timeout)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.token = reply.Token
	c.mu.Unlock()
	return nil
}

// CreateGroup sends CREATE_GROUP and blocks for CREATE_GROUP_OK.
func (c *Client) CreateGroup(group string, timeout time.Duration) error {
	if err := c.send(&wire.Message{Type: wire.TypeCreateGroup, ID: c.ID, Group: group}); err != nil {
		return err
	}
	_, err := c.awaitReply(wire.TypeCreateGroupOK, timeout)
	return err
}

// JoinGroup sends JOIN_GROUP and blocks for JOIN_GROUP_OK.
func (c *Client) JoinGroup(group string, timeout time.Duration) error {
	if err := c.send(&wire.Message{Type: wire.TypeJoinGroup, ID: c.ID, Group: group}); err != nil {
		return err
	}
	_, err := c.awaitReply(wire.TypeJoinGroupOK, timeout)
	return err
}

// LeaveGroup sends LEAVE_GROUP and blocks for LEAVE_GROUP_OK.
func (c *Client) LeaveGroup(group string, timeout time.Duration) error {
	if err := c.send(&wire.Message{Type: wire.TypeLeaveGroup, ID: c.ID, Group: group}); err != nil {
		return err
	}
	_, err := c.awaitReply(wire.TypeLeaveGroupOK, timeout)
	return err
}

// GetGroups sends GET_GROUPS and returns the full group list.
func (c *Client) GetGroups(timeout time.Duration) ([]string, error) {
	if err := c.send(&wire.Message{Type: wire.TypeGetGroups, ID: c.ID}); err != nil {
		return nil, err
	}
	reply, err := c.awaitReply(wire.TypeGetGroupsOK, timeout)
	if err != nil {
		return nil, err
	}
	return reply.Groups, nil
}

// JoinedGroups sends JOINED_GROUPS and returns the groups this client
// belongs to.
func (c *Client) JoinedGroups(timeout time.Duration) ([]string, error) {
	if err := c.send(&wire.Message{Type: wire.TypeJoinedGroups, ID: c.ID}); err != nil {
		return nil, err
	}
	reply, err := c.awaitReply(wire.TypeJoinedGroupsOK, timeout)
	if err != nil {
		return nil, err
	}
	return reply.Groups, nil
}

// StartVote sends START_VOTE and blocks for START_VOTE_OK.
func (c *Client) StartVote(group, topic string, options []string, timeout time.Duration) error {
	if err := c.send(&wire.Message{
		Type:    wire.TypeStartVote,
		ID:      c.ID,
		Group:   group,
		Topic:   topic,
		Options: options,
		Timeout: timeout.Seconds(),
	}); err != nil {
		return err
	}
	_, err := c.awaitReply(wire.TypeStartVoteOK, timeout)
	return err
}

// awaitReply blocks until a reply of the given type arrives, or timeout
// elapses. Any other message types received in the meantime are
// dispatched through the normal handlers so the delivery loop stays
// consistent whether or not the caller is mid-request.
func (c *Client) awaitReply(want wire.Type, timeout time.Duration) (*wire.Message, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, wire.BUF)
	for time.Now().Before(deadline) {
		if err := c.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
			return nil, err
		}
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		m, err := wire.Decode(buf[:n])
		if err != nil {
			continue
		}
		if m.Type == want {
			return m, nil
		}
		c.handleAsync(m)
	}
	return nil, fmt.Errorf("clientsdk: timed out waiting for %s", want)
}

// Listen runs the client's receive loop until stop is closed, dispatching
// VOTE/VOTE_RESULT/NEW_LEADER messages to the registered callbacks. VOTE
// deliveries are acked later, by CastVote.
func (c *Client) Listen(stop <-chan struct{}) {
	buf := make([]byte, wire.BUF)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			return
		}
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		m, err := wire.Decode(buf[:n])
		if err != nil {
			continue
		}
		c.handleAsync(m)
	}
}

func (c *Client) handleAsync(m *wire.Message) {
	switch m.Type {
	case wire.TypeVote:
		c.onVoteDatagram(m)
	case wire.TypeVoteResult:
		if c.OnVoteResult != nil {
			c.OnVoteResult(m.VoteID, m.Group, m.Topic, m.Winner)
		}
	case wire.TypeNewLeader:
		c.SetLeader(m.ID)
		if c.OnNewLeader != nil {
			c.OnNewLeader(m.ID)
		}
	}
}

// onVoteDatagram implements spec.md §4.5 "Client delivery": in-order
// delivery with a per-(group,sender) holdback buffer. It sends no
// VOTE_ACK itself: the ack carries the caller's ballot and is sent only
// when the application calls CastVote for the delivered vote.
func (c *Client) onVoteDatagram(m *wire.Message) {
	c.deliveryMu.Lock()
	defer c.deliveryMu.Unlock()

	group, sender := m.Group, m.Sender
	if _, ok := c.lastSeq[group]; !ok {
		c.lastSeq[group] = map[string]int64{}
	}
	if _, ok := c.lastSeq[group][sender]; !ok {
		c.lastSeq[group][sender] = -1
	}
	if _, ok := c.holdback[group]; !ok {
		c.holdback[group] = map[string]map[uint64]*wire.Message{}
	}
	if _, ok := c.holdback[group][sender]; !ok {
		c.holdback[group][sender] = map[uint64]*wire.Message{}
	}

	next := c.lastSeq[group][sender] + 1
	seq := int64(m.S)

	switch {
	case seq == next:
		c.deliver(m)
		c.lastSeq[group][sender] = seq
		for {
			nextSeq := uint64(c.lastSeq[group][sender] + 1)
			buffered, ok := c.holdback[group][sender][nextSeq]
			if !ok {
				break
			}
			delete(c.holdback[group][sender], nextSeq)
			c.deliver(buffered)
			c.lastSeq[group][sender]++
		}
	case seq > next:
		c.holdback[group][sender][m.S] = m
	default:
		// Duplicate: already delivered, drop silently.
	}
}

func (c *Client) deliver(m *wire.Message) {
	if c.OnVote != nil {
		c.OnVote(VoteDelivery{
			VoteID:  m.VoteID,
			Group:   m.Group,
			Topic:   m.Topic,
			Options: m.Options,
			Seq:     m.S,
			Sender:  m.Sender,
		})
	}
}

// CastVote sends a VOTE_ACK for the given (group, seq) datagram, casting
// ballot as this client's choice.
func (c *Client) CastVote(voteID, group string, seq uint64, sender, ballot string) error {
	leader := sender
	addr, err := net.ResolveUDPAddr("udp4", leader)
	if err != nil {
		return fmt.Errorf("clientsdk: resolve sender addr: %w", err)
	}
	b, err := wire.Encode(&wire.Message{
		Type:   wire.TypeVoteAck,
		VoteID: voteID,
		Group:  group,
		S:      seq,
		ID:     c.ID,
		Vote:   ballot,
	})
	if err != nil {
		return err
	}
	_, err = c.conn.WriteToUDP(b, addr)
	return err
}
