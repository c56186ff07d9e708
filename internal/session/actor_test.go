package session

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/papo-chat/papo/internal/bus"
	"github.com/papo-chat/papo/internal/cache"
	"github.com/papo-chat/papo/internal/status"
	"github.com/papo-chat/papo/internal/store"
	"github.com/papo-chat/papo/internal/wa"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// The engine adapter must keep satisfying the gateway contract as the
// engine's API shifts between pinned versions.
var _ Gateway = (*wa.Adapter)(nil)

type fakeGateway struct {
	events chan wa.Event

	mu       sync.Mutex
	connects int
	receipts map[string][]string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		events:   make(chan wa.Event, 64),
		receipts: make(map[string][]string),
	}
}

func (g *fakeGateway) Events() <-chan wa.Event { return g.events }

func (g *fakeGateway) Connect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connects++
	return nil
}

func (g *fakeGateway) connectCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connects
}

func (g *fakeGateway) IsLoggedIn() bool { return true }

func (g *fakeGateway) MarkRead(chatJID, senderJID string, msgIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.receipts[senderJID] = append(g.receipts[senderJID], msgIDs...)
	return nil
}

func (g *fakeGateway) SetTyping(string, bool) error     { return nil }
func (g *fakeGateway) SubscribePresence(string) error   { return nil }
func (g *fakeGateway) DeclineCall(string, string) error { return nil }

func testDB(t *testing.T, unlock bool) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "papo.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	if unlock {
		if err := db.Unlock("test-passphrase"); err != nil {
			t.Fatalf("unlocking: %v", err)
		}
	}
	return db
}

type testRig struct {
	gw      *fakeGateway
	db      *store.DB
	cache   *cache.Cache
	bus     *bus.Bus
	machine *status.Machine
	actor   *Actor
}

func startActor(t *testing.T, db *store.DB) *testRig {
	t.Helper()
	r := &testRig{
		gw:    newFakeGateway(),
		db:    db,
		cache: cache.New(),
		bus:   bus.New(),
	}
	r.machine = status.NewMachine(r.bus)
	r.actor = New(r.gw, r.db, r.cache, r.bus, r.machine, zap.NewNop())
	if err := r.actor.Start(); err != nil {
		t.Fatalf("starting actor: %v", err)
	}
	t.Cleanup(r.actor.Stop)
	return r
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func liveMsg(chatJID, msgID, body string, ts int64, fromMe bool) *store.Message {
	status := "received"
	if fromMe {
		status = "sent"
	}
	return &store.Message{
		ChatJID:   chatJID,
		MsgID:     msgID,
		SenderJID: chatJID,
		Body:      body,
		Kind:      "text",
		FromMe:    fromMe,
		Status:    status,
		Timestamp: ts,
	}
}

func TestLiveMessageFlowsToCacheStoreAndBus(t *testing.T) {
	r := startActor(t, testDB(t, true))
	const chat = "5511999999999@s.whatsapp.net"

	ch, unsub := r.bus.Subscribe("message.", 10)
	defer unsub()

	// Open window so live messages become resident.
	r.cache.OpenWindow(chat)

	r.gw.events <- wa.MessageReceived{Msg: liveMsg(chat, "M1", "oi", 1000, false)}

	select {
	case evt := <-ch:
		if evt.Kind != "message.received" {
			t.Errorf("event kind = %q", evt.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no bus event")
	}

	msgs, atTail := r.cache.Snapshot(chat)
	if len(msgs) != 1 || msgs[0].Body != "oi" {
		t.Fatalf("cache snapshot = %+v", msgs)
	}
	if !atTail {
		t.Error("window should be at tail")
	}
	if conv, ok := r.cache.GetConversation(chat); !ok || conv.UnreadCount != 1 {
		t.Errorf("conversation = %+v ok=%v, want unread 1", conv, ok)
	}

	waitFor(t, "durable message", func() bool {
		m, err := r.db.GetMessage(chat, "M1")
		return err == nil && m != nil && m.Body == "oi"
	})
	waitFor(t, "watermark advance", func() bool {
		wm, ok, err := r.db.Watermark(chat)
		return err == nil && ok && wm.Timestamp == 1000 && wm.MsgID == "M1"
	})
}

func TestReceiptUpdatesCacheAndStore(t *testing.T) {
	r := startActor(t, testDB(t, true))
	const chat = "5511999999999@s.whatsapp.net"

	r.cache.OpenWindow(chat)
	r.gw.events <- wa.MessageReceived{Msg: liveMsg(chat, "M1", "saiu", 1000, true)}

	waitFor(t, "message stored", func() bool {
		m, err := r.db.GetMessage(chat, "M1")
		return err == nil && m != nil
	})

	r.gw.events <- wa.MessageStatusChanged{ChatJID: chat, MsgIDs: []string{"M1"}, Status: "read"}

	waitFor(t, "cache status", func() bool {
		msgs, _ := r.cache.Snapshot(chat)
		return len(msgs) == 1 && msgs[0].Status == "read"
	})
	waitFor(t, "durable status", func() bool {
		m, err := r.db.GetMessage(chat, "M1")
		return err == nil && m.Status == "read"
	})
}

func TestHistoryIngestSkipsRowsBelowWatermark(t *testing.T) {
	db := testDB(t, true)
	const chat = "5511999999999@s.whatsapp.net"

	if err := db.SetWatermark(chat, store.Cursor{Timestamp: 2000, MsgID: "OLD2"}); err != nil {
		t.Fatal(err)
	}

	r := startActor(t, db)
	r.gw.events <- wa.HistoryConversation{
		Conversation: store.Conversation{JID: chat, LastActivity: 3000},
		Messages: []*store.Message{
			liveMsg(chat, "OLD1", "already stored", 1000, false),
			liveMsg(chat, "NEW1", "fresh", 3000, false),
		},
	}

	waitFor(t, "history ingest", func() bool {
		m, err := r.db.GetMessage(chat, "NEW1")
		return err == nil && m != nil
	})

	if m, _ := r.db.GetMessage(chat, "OLD1"); m != nil {
		t.Error("row at or below watermark should have been skipped")
	}
	waitFor(t, "watermark advance", func() bool {
		wm, ok, err := r.db.Watermark(chat)
		return err == nil && ok && wm.Timestamp == 3000
	})
}

func TestPresenceIsCacheOnly(t *testing.T) {
	r := startActor(t, testDB(t, true))
	const contact = "5511888888888@s.whatsapp.net"

	r.gw.events <- wa.PresenceUpdate{ContactJID: contact, Available: true}

	waitFor(t, "presence applied", func() bool {
		p, ok := r.cache.Presence(contact)
		return ok && p.Available != nil && *p.Available
	})
}

func TestReconnectAfterDisconnect(t *testing.T) {
	r := startActor(t, testDB(t, true))

	r.gw.events <- wa.ConnectionChanged{State: wa.ConnConnected}
	waitFor(t, "connected", func() bool { return r.machine.Current() == status.Connected })

	r.gw.events <- wa.ConnectionChanged{State: wa.ConnDisconnected, Reason: "stream error"}
	waitFor(t, "second connect attempt", func() bool { return r.gw.connectCount() >= 2 })

	r.gw.events <- wa.ConnectionChanged{State: wa.ConnConnected}
	waitFor(t, "reconnected", func() bool { return r.machine.Current() == status.Connected })
}

func TestLoggedOutStopsReconnecting(t *testing.T) {
	r := startActor(t, testDB(t, true))

	ch, unsub := r.bus.Subscribe("session.logged_out", 10)
	defer unsub()

	r.gw.events <- wa.ConnectionChanged{State: wa.ConnConnected}
	waitFor(t, "connected", func() bool { return r.machine.Current() == status.Connected })

	before := r.gw.connectCount()
	r.gw.events <- wa.ConnectionChanged{State: wa.ConnLoggedOut, Reason: "device removed"}

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no logged_out event")
	}
	if r.machine.Current() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", r.machine.Current())
	}
	time.Sleep(50 * time.Millisecond)
	if r.gw.connectCount() != before {
		t.Error("logout must not trigger reconnect attempts")
	}
}

func TestMarkConversationRead(t *testing.T) {
	db := testDB(t, true)
	const chat = "5511999999999@s.whatsapp.net"

	for i, id := range []string{"M1", "M2"} {
		msg := liveMsg(chat, id, "msg", int64(1000+i), false)
		if err := db.AppendMessage(msg); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.UpsertConversation(&store.Conversation{JID: chat, LastActivity: 1001}); err != nil {
		t.Fatal(err)
	}

	r := startActor(t, db)
	r.cache.UpsertConversation(store.Conversation{JID: chat, UnreadCount: 2})

	if err := r.actor.MarkConversationRead(chat); err != nil {
		t.Fatal(err)
	}

	if conv, _ := r.cache.GetConversation(chat); conv.UnreadCount != 0 {
		t.Errorf("cache unread = %d, want 0", conv.UnreadCount)
	}
	r.gw.mu.Lock()
	got := len(r.gw.receipts[chat])
	r.gw.mu.Unlock()
	if got != 2 {
		t.Errorf("receipts sent = %d, want 2", got)
	}
	waitFor(t, "durable read state", func() bool {
		unread, err := r.db.UnreadInbound(chat)
		return err == nil && len(unread) == 0
	})
}

// A store whose key never unlocked fails every sealed write with a
// DecryptionError; the writer must stop and flag the session instead of
// retrying forever.
func TestKeyFailureIsFatal(t *testing.T) {
	r := startActor(t, testDB(t, false))
	const chat = "5511999999999@s.whatsapp.net"

	ch, unsub := r.bus.Subscribe("session.fatal", 10)
	defer unsub()

	r.gw.events <- wa.MessageReceived{Msg: liveMsg(chat, "M1", "oi", 1000, false)}

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no session.fatal event")
	}
	waitFor(t, "degraded state", func() bool { return r.machine.Current() == status.Degraded })
}
