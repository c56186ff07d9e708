package store

import "testing"

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	const chat = "a@s.whatsapp.net"

	msgs := []*Message{
		{ChatJID: chat, MsgID: "M1", SenderJID: chat, Body: "vamos almoçar amanhã?", Kind: "text", Status: "received", Timestamp: 1},
		{ChatJID: chat, MsgID: "M2", SenderJID: chat, Body: "reunião às 15h", Kind: "text", Status: "received", Timestamp: 2},
		{ChatJID: chat, MsgID: "M3", SenderJID: chat, Body: "ALMOÇAR confirmado", Kind: "text", Status: "received", Timestamp: 3},
	}
	if err := db.AppendMessages(msgs); err != nil {
		t.Fatal(err)
	}

	got, err := db.SearchMessages("almoçar", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2 (case-insensitive)", len(got))
	}
	// Newest first.
	if got[0].Message.MsgID != "M3" || got[1].Message.MsgID != "M1" {
		t.Errorf("order = %s, %s; want M3, M1", got[0].Message.MsgID, got[1].Message.MsgID)
	}
	if got[0].Snippet == "" {
		t.Error("snippet missing")
	}
}

func TestSearchMessagesScopedToChat(t *testing.T) {
	db := testDB(t)

	msgs := []*Message{
		{ChatJID: "a@s.whatsapp.net", MsgID: "M1", SenderJID: "a@s.whatsapp.net", Body: "projeto papo", Kind: "text", Status: "received", Timestamp: 1},
		{ChatJID: "b@s.whatsapp.net", MsgID: "M2", SenderJID: "b@s.whatsapp.net", Body: "projeto outro", Kind: "text", Status: "received", Timestamp: 2},
	}
	if err := db.AppendMessages(msgs); err != nil {
		t.Fatal(err)
	}

	got, err := db.SearchMessages("projeto", "a@s.whatsapp.net", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Message.ChatJID != "a@s.whatsapp.net" {
		t.Errorf("got %v, want only chat a", got)
	}
}

func TestSearchContacts(t *testing.T) {
	db := testDB(t)

	contacts := []Contact{
		{JID: "1@s.whatsapp.net", Name: "Maria Silva", PhoneNumber: "+5511999990001"},
		{JID: "2@s.whatsapp.net", PushName: "mariana", PhoneNumber: "+5511999990002"},
		{JID: "3@s.whatsapp.net", Name: "João", PhoneNumber: "+5511999990003"},
	}
	if err := db.BulkUpsertContacts(contacts); err != nil {
		t.Fatal(err)
	}

	got, err := db.SearchContacts("maria", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("got %d contacts, want 2 (name + push name match)", len(got))
	}
}
