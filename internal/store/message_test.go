package store

import (
	"fmt"
	"testing"
)

func seedRun(t *testing.T, db *DB, chatJID string, n int) {
	t.Helper()
	msgs := make([]*Message, 0, n)
	for i := 1; i <= n; i++ {
		msgs = append(msgs, &Message{
			ChatJID:   chatJID,
			MsgID:     fmt.Sprintf("M%04d", i),
			SenderJID: chatJID,
			Body:      fmt.Sprintf("message %d", i),
			Kind:      "text",
			Status:    "received",
			Timestamp: int64(1000 + i),
		})
	}
	if err := db.AppendMessages(msgs); err != nil {
		t.Fatal(err)
	}
}

func TestAppendMessageContentImmutable(t *testing.T) {
	db := testDB(t)
	const chat = "a@s.whatsapp.net"

	orig := &Message{
		ChatJID: chat, MsgID: "M1", SenderJID: chat,
		Body: "original", Kind: "text", Status: "sent", Timestamp: 1000,
	}
	if err := db.AppendMessage(orig); err != nil {
		t.Fatal(err)
	}

	// Re-ingesting the same identifier merges status but never content.
	dup := &Message{
		ChatJID: chat, MsgID: "M1", SenderJID: chat,
		Body: "rewritten", Kind: "text", Status: "delivered", Timestamp: 9999,
	}
	if err := db.AppendMessage(dup); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetMessage(chat, "M1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Body != "original" {
		t.Errorf("body = %q, re-ingestion must not rewrite content", got.Body)
	}
	if got.Timestamp != 1000 {
		t.Errorf("timestamp = %d, re-ingestion must not move the message", got.Timestamp)
	}
	if got.Status != "delivered" {
		t.Errorf("status = %q, want merged delivered", got.Status)
	}
}

func TestQueryRangeNewestWhenUnanchored(t *testing.T) {
	db := testDB(t)
	const chat = "a@s.whatsapp.net"
	seedRun(t, db, chat, 50)

	rows, err := db.QueryRange(chat, Cursor{}, Before, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 10 {
		t.Fatalf("got %d rows, want 10", len(rows))
	}
	if rows[0].MsgID != "M0041" || rows[9].MsgID != "M0050" {
		t.Errorf("edges = %s..%s, want M0041..M0050", rows[0].MsgID, rows[9].MsgID)
	}
	for i := 1; i < len(rows); i++ {
		if !CursorOf(&rows[i-1]).Less(CursorOf(&rows[i])) {
			t.Fatal("rows must always come back ascending")
		}
	}
}

func TestQueryRangeOldestWhenUnanchoredForward(t *testing.T) {
	db := testDB(t)
	const chat = "a@s.whatsapp.net"
	seedRun(t, db, chat, 50)

	rows, err := db.QueryRange(chat, Cursor{}, After, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 10 || rows[0].MsgID != "M0001" {
		t.Fatalf("got %d rows starting at %s, want 10 from M0001", len(rows), rows[0].MsgID)
	}
}

func TestQueryRangeStrictlyBeyondAnchor(t *testing.T) {
	db := testDB(t)
	const chat = "a@s.whatsapp.net"
	seedRun(t, db, chat, 50)

	anchor := Cursor{Timestamp: 1025, MsgID: "M0025"}

	older, err := db.QueryRange(chat, anchor, Before, 5)
	if err != nil {
		t.Fatal(err)
	}
	if older[len(older)-1].MsgID != "M0024" {
		t.Errorf("newest older row = %s, want M0024 (anchor excluded)", older[len(older)-1].MsgID)
	}

	newer, err := db.QueryRange(chat, anchor, After, 5)
	if err != nil {
		t.Fatal(err)
	}
	if newer[0].MsgID != "M0026" {
		t.Errorf("oldest newer row = %s, want M0026 (anchor excluded)", newer[0].MsgID)
	}
}

// Two messages sharing a timestamp are ordered by msg_id; the anchor
// comparison must honor the tiebreak.
func TestQueryRangeTimestampTiebreak(t *testing.T) {
	db := testDB(t)
	const chat = "a@s.whatsapp.net"

	for _, id := range []string{"A", "B", "C"} {
		err := db.AppendMessage(&Message{
			ChatJID: chat, MsgID: id, SenderJID: chat,
			Body: id, Kind: "text", Status: "received", Timestamp: 1000,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	rows, err := db.QueryRange(chat, Cursor{Timestamp: 1000, MsgID: "B"}, Before, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].MsgID != "A" {
		t.Errorf("rows = %v, want exactly [A]", rows)
	}

	rows, err = db.QueryRange(chat, Cursor{Timestamp: 1000, MsgID: "B"}, After, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].MsgID != "C" {
		t.Errorf("rows = %v, want exactly [C]", rows)
	}
}

func TestQueryRangeEmptyAtBoundary(t *testing.T) {
	db := testDB(t)
	const chat = "a@s.whatsapp.net"
	seedRun(t, db, chat, 5)

	rows, err := db.QueryRange(chat, Cursor{Timestamp: 1001, MsgID: "M0001"}, Before, 10)
	if err != nil {
		t.Fatalf("boundary must not be an error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows before the first message", len(rows))
	}
}

func TestUpdateStatus(t *testing.T) {
	db := testDB(t)
	const chat = "a@s.whatsapp.net"
	seedRun(t, db, chat, 3)

	if err := db.UpdateStatus(chat, []string{"M0001", "M0003"}, "read"); err != nil {
		t.Fatal(err)
	}
	for id, want := range map[string]string{"M0001": "read", "M0002": "received", "M0003": "read"} {
		got, err := db.GetMessage(chat, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != want {
			t.Errorf("%s status = %q, want %q", id, got.Status, want)
		}
	}
}

func TestUnreadInbound(t *testing.T) {
	db := testDB(t)
	const chat = "a@s.whatsapp.net"

	msgs := []*Message{
		{ChatJID: chat, MsgID: "IN1", SenderJID: "x@s.whatsapp.net", Body: "a", Kind: "text", Status: "received", Timestamp: 1},
		{ChatJID: chat, MsgID: "OUT1", SenderJID: chat, Body: "b", Kind: "text", FromMe: true, Status: "sent", Timestamp: 2},
		{ChatJID: chat, MsgID: "IN2", SenderJID: "y@s.whatsapp.net", Body: "c", Kind: "text", Status: "delivered", Timestamp: 3},
		{ChatJID: chat, MsgID: "IN3", SenderJID: "x@s.whatsapp.net", Body: "d", Kind: "text", Status: "read", Timestamp: 4},
	}
	if err := db.AppendMessages(msgs); err != nil {
		t.Fatal(err)
	}

	unread, err := db.UnreadInbound(chat)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 2 {
		t.Fatalf("unread = %v, want IN1 and IN2", unread)
	}
	if unread[0].MsgID != "IN1" || unread[1].MsgID != "IN2" {
		t.Errorf("order = %v, want oldest first", unread)
	}
}

// Re-delivery after a reconnect must never regress receipt progression:
// a message already read stays read, a delivered one only moves to read.
func TestAppendMessageStatusNeverRegresses(t *testing.T) {
	db := testDB(t)
	const chat = "a@s.whatsapp.net"

	redeliver := func(id, status string) {
		t.Helper()
		if err := db.AppendMessage(&Message{
			ChatJID: chat, MsgID: id, SenderJID: chat,
			Body: "oi", Kind: "text", Status: status, Timestamp: 1000,
		}); err != nil {
			t.Fatal(err)
		}
	}
	status := func(id string) string {
		t.Helper()
		got, err := db.GetMessage(chat, id)
		if err != nil {
			t.Fatal(err)
		}
		return got.Status
	}

	redeliver("M1", "received")
	if err := db.UpdateStatus(chat, []string{"M1"}, "read"); err != nil {
		t.Fatal(err)
	}
	redeliver("M1", "received")
	if got := status("M1"); got != "read" {
		t.Errorf("status = %q, re-delivery must not downgrade read", got)
	}

	redeliver("M2", "delivered")
	redeliver("M2", "received")
	if got := status("M2"); got != "delivered" {
		t.Errorf("status = %q, re-delivery must not downgrade delivered", got)
	}
	redeliver("M2", "read")
	if got := status("M2"); got != "read" {
		t.Errorf("status = %q, read must still upgrade delivered", got)
	}
}
