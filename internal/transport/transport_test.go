package transport

import (
	"context"
	"testing"
	"time"

	"github.com/go-i2p/i2pcore/internal/i2np"
	"github.com/go-i2p/i2pcore/internal/identity"
)

func TestSendWithNoSenderReturnsErrNoSession(t *testing.T) {
	r := NewRegistry()
	msg := &i2np.Message{Type: i2np.TypeData}
	if err := r.Send(context.Background(), identity.IdentHash{1}, msg); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestSendForwardsToRegisteredSender(t *testing.T) {
	r := NewRegistry()
	var gotTo identity.IdentHash
	var gotMsg *i2np.Message
	r.SetSender(SenderFunc(func(ctx context.Context, to identity.IdentHash, msg *i2np.Message) error {
		gotTo = to
		gotMsg = msg
		return nil
	}))

	msg := &i2np.Message{Type: i2np.TypeData, MsgID: 42}
	if err := r.Send(context.Background(), identity.IdentHash{9}, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotTo != (identity.IdentHash{9}) || gotMsg.MsgID != 42 {
		t.Fatal("sender did not receive the expected arguments")
	}
}

func TestDispatchWithNoHandlerIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Dispatch(identity.IdentHash{1}, &i2np.Message{})
}

func TestDispatchForwardsToRegisteredHandler(t *testing.T) {
	r := NewRegistry()
	delivered := make(chan identity.IdentHash, 1)
	r.SetHandler(func(from identity.IdentHash, msg *i2np.Message) {
		delivered <- from
	})
	r.Dispatch(identity.IdentHash{3}, &i2np.Message{})
	select {
	case from := <-delivered:
		if from != (identity.IdentHash{3}) {
			t.Fatalf("unexpected sender: %v", from)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestPeerLimiterAllowsUpToBurstThenBlocks(t *testing.T) {
	l := NewPeerLimiter(1, 3)
	peer := identity.IdentHash{1}
	for i := 0; i < 3; i++ {
		if !l.Allow(peer) {
			t.Fatalf("expected burst slot %d to be allowed", i)
		}
	}
	if l.Allow(peer) {
		t.Fatal("expected burst to be exhausted")
	}
}

func TestPeerLimiterIsPerPeer(t *testing.T) {
	l := NewPeerLimiter(1, 1)
	a := identity.IdentHash{1}
	b := identity.IdentHash{2}
	if !l.Allow(a) {
		t.Fatal("expected first message from peer a to be allowed")
	}
	if !l.Allow(b) {
		t.Fatal("expected peer b's independent burst to be unaffected by peer a")
	}
	if l.Allow(a) {
		t.Fatal("expected peer a's burst to already be exhausted")
	}
}

func TestPeerLimiterForgetResetsState(t *testing.T) {
	l := NewPeerLimiter(1, 1)
	peer := identity.IdentHash{1}
	l.Allow(peer)
	if l.Allow(peer) {
		t.Fatal("expected burst to be exhausted before Forget")
	}
	l.Forget(peer)
	if !l.Allow(peer) {
		t.Fatal("expected a fresh limiter after Forget")
	}
}
