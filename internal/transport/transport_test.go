package transport

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/votecast/coordinator-service/internal/wire"
)

func newTestPair(t *testing.T) (a, b *Transport) {
	t.Helper()
	a, err := New(zap.NewNop(), "127.0.0.1", 0, "239.7.7.7:0")
	if err != nil {
		t.Fatalf("New (a): %v", err)
	}
	t.Cleanup(a.Close)

	b, err = New(zap.NewNop(), "127.0.0.1", 0, "239.7.7.7:0")
	if err != nil {
		t.Fatalf("New (b): %v", err)
	}
	t.Cleanup(b.Close)
	return a, b
}

func TestSendRecvUnicastRoundTrip(t *testing.T) {
	a, b := newTestPair(t)

	msg := &wire.Message{Type: wire.TypeHeartbeat, ID: "sender"}
	if err := a.Send(b.LocalAddr(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		dg, err := b.RecvUnicast()
		if err != nil {
			t.Fatalf("RecvUnicast: %v", err)
		}
		if dg == nil {
			continue // timeout tick, keep polling within our own deadline
		}
		decoded, err := wire.Decode(dg.Data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if decoded.Type != wire.TypeHeartbeat || decoded.ID != "sender" {
			t.Fatalf("unexpected message: %+v", decoded)
		}
		return
	}
	t.Fatalf("did not receive the unicast datagram within the test deadline")
}

func TestLocalAddrIsNonEmpty(t *testing.T) {
	a, _ := newTestPair(t)
	if a.LocalAddr() == "" {
		t.Fatalf("expected a non-empty bound local address")
	}
}
