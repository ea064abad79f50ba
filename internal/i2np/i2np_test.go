package i2np

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-i2p/i2pcore/internal/identity"
)

func TestMessageRoundTrip(t *testing.T) {
	ids := NewIDGenerator()
	now := time.Now().UTC().Truncate(time.Millisecond)
	msg := NewMessage(ids, TypeData, []byte("hello tunnel"), now, time.Minute)

	encoded, err := msg.Marshal(0)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	parsed, err := Parse(encoded, now, time.Minute)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Type != msg.Type || parsed.MsgID != msg.MsgID {
		t.Fatal("header fields changed across round trip")
	}
	if !bytes.Equal(parsed.Payload, msg.Payload) {
		t.Fatal("payload changed across round trip")
	}
}

func TestMessageReservesLeadingBytes(t *testing.T) {
	ids := NewIDGenerator()
	now := time.Now().UTC()
	msg := NewMessage(ids, TypeData, []byte("payload"), now, time.Minute)

	encoded, err := msg.Marshal(4)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(encoded) != 4+HeaderSize+len("payload") {
		t.Fatalf("unexpected encoded length %d", len(encoded))
	}
	parsed, err := Parse(encoded[4:], now, time.Minute)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(parsed.Payload) != "payload" {
		t.Fatalf("payload = %q", parsed.Payload)
	}
}

func TestParseRejectsShortBuffer(t *testing.T) {
	if _, err := Parse([]byte{1, 2, 3}, time.Now(), time.Minute); err != ErrBufferTooShort {
		t.Fatalf("expected ErrBufferTooShort, got %v", err)
	}
}

func TestParseRejectsSizeExceedingBuffer(t *testing.T) {
	ids := NewIDGenerator()
	now := time.Now().UTC()
	msg := NewMessage(ids, TypeData, []byte("0123456789"), now, time.Minute)
	encoded, err := msg.Marshal(0)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	truncated := encoded[:len(encoded)-3]
	if _, err := Parse(truncated, now, time.Minute); err != ErrSizeExceedsBuffer {
		t.Fatalf("expected ErrSizeExceedsBuffer, got %v", err)
	}
}

func TestParseRejectsChecksumMismatch(t *testing.T) {
	ids := NewIDGenerator()
	now := time.Now().UTC()
	msg := NewMessage(ids, TypeData, []byte("0123456789"), now, time.Minute)
	encoded, err := msg.Marshal(0)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	encoded[len(encoded)-1] ^= 0xff
	if _, err := Parse(encoded, now, time.Minute); err != ErrChecksumMismatch {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestParseRejectsExpiredMessage(t *testing.T) {
	ids := NewIDGenerator()
	past := time.Now().Add(-time.Hour).UTC()
	msg := NewMessage(ids, TypeData, []byte("stale"), past, time.Second)
	encoded, err := msg.Marshal(0)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := Parse(encoded, time.Now(), time.Minute); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestIDGeneratorIsMonotonic(t *testing.T) {
	ids := NewIDGenerator()
	first := ids.Next()
	second := ids.Next()
	if second <= first {
		t.Fatalf("expected increasing ids, got %d then %d", first, second)
	}
}

func TestReplyUsesSuppliedMsgID(t *testing.T) {
	now := time.Now().UTC()
	reply := NewReply(TypeTunnelBuildReply, 777, []byte("reply"), now, time.Minute)
	if reply.MsgID != 777 {
		t.Fatalf("MsgID = %d, want 777", reply.MsgID)
	}
}

func TestDatabaseStoreRoundTrip(t *testing.T) {
	store := &DatabaseStore{
		Key:           identity.IdentHash{1, 2, 3},
		DataType:      DatabaseStoreLeaseSet,
		ReplyToken:    99,
		ReplyTunnelID: 42,
		ReplyGateway:  identity.IdentHash{4, 5, 6},
		Data:          []byte("leaseset bytes"),
	}
	encoded := store.Marshal()
	parsed, err := ParseDatabaseStore(encoded)
	if err != nil {
		t.Fatalf("ParseDatabaseStore: %v", err)
	}
	if parsed.Key != store.Key || parsed.ReplyToken != store.ReplyToken || parsed.ReplyTunnelID != store.ReplyTunnelID {
		t.Fatal("field mismatch after round trip")
	}
	if !bytes.Equal(parsed.Data, store.Data) {
		t.Fatal("data mismatch after round trip")
	}
}

func TestDatabaseStoreWithoutReplyToken(t *testing.T) {
	store := &DatabaseStore{Key: identity.IdentHash{7}, DataType: DatabaseStoreRouterInfo, Data: []byte("ri bytes")}
	parsed, err := ParseDatabaseStore(store.Marshal())
	if err != nil {
		t.Fatalf("ParseDatabaseStore: %v", err)
	}
	if parsed.ReplyToken != 0 {
		t.Fatal("expected zero reply token to round trip as zero")
	}
}

func TestDatabaseLookupRoundTrip(t *testing.T) {
	lookup := &DatabaseLookup{
		Key:           identity.IdentHash{1},
		From:          identity.IdentHash{2},
		LookupType:    LookupLeaseSet,
		ReplyTunnelID: 5,
		Excluded:      []identity.IdentHash{{3}, {4}},
	}
	parsed, err := ParseDatabaseLookup(lookup.Marshal())
	if err != nil {
		t.Fatalf("ParseDatabaseLookup: %v", err)
	}
	if parsed.LookupType != lookup.LookupType || len(parsed.Excluded) != 2 {
		t.Fatal("field mismatch after round trip")
	}
}

func TestDatabaseSearchReplyRoundTrip(t *testing.T) {
	reply := &DatabaseSearchReply{
		Key:   identity.IdentHash{1},
		From:  identity.IdentHash{2},
		Peers: []identity.IdentHash{{3}, {4}, {5}},
	}
	parsed, err := ParseDatabaseSearchReply(reply.Marshal())
	if err != nil {
		t.Fatalf("ParseDatabaseSearchReply: %v", err)
	}
	if len(parsed.Peers) != 3 {
		t.Fatalf("expected 3 peers, got %d", len(parsed.Peers))
	}
}

func TestDeliveryStatusRoundTrip(t *testing.T) {
	ds := &DeliveryStatus{MsgID: 123, Timestamp: time.Now().UTC().Truncate(time.Millisecond)}
	parsed, err := ParseDeliveryStatus(ds.Marshal())
	if err != nil {
		t.Fatalf("ParseDeliveryStatus: %v", err)
	}
	if parsed.MsgID != ds.MsgID || !parsed.Timestamp.Equal(ds.Timestamp) {
		t.Fatal("field mismatch after round trip")
	}
}

func TestPoolRecyclesMessages(t *testing.T) {
	pool := NewPool()
	m := pool.Get()
	m.Type = TypeData
	m.MsgID = 5
	pool.Put(m)
	m2 := pool.Get()
	if m2.MsgID != 0 {
		t.Fatal("expected recycled message to be zeroed")
	}
}
