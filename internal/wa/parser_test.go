package wa

import (
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func liveMessage(t *testing.T, content *waE2E.Message) *events.Message {
	t.Helper()
	chat, err := types.ParseJID("5511999999999@s.whatsapp.net")
	if err != nil {
		t.Fatalf("parsing JID: %v", err)
	}
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat},
			ID:            "MSG001",
			PushName:      "Alice",
			Timestamp:     time.UnixMilli(1700000000000),
		},
		Message: content,
	}
}

func TestParseLiveMessageText(t *testing.T) {
	msg, att := ParseLiveMessage(liveMessage(t, &waE2E.Message{
		Conversation: proto.String("hello there"),
	}))
	if msg == nil {
		t.Fatal("expected a parsed message")
	}
	if att != nil {
		t.Fatalf("text message should have no attachment, got %+v", att)
	}
	if msg.Body != "hello there" || msg.Kind != KindText {
		t.Errorf("got body=%q kind=%q", msg.Body, msg.Kind)
	}
	if msg.Timestamp != 1700000000000 {
		t.Errorf("timestamp = %d, want 1700000000000", msg.Timestamp)
	}
	if msg.Status != "received" {
		t.Errorf("status = %q, want received", msg.Status)
	}
}

func TestParseLiveMessageImageCaption(t *testing.T) {
	msg, att := ParseLiveMessage(liveMessage(t, &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			Caption:  proto.String("look at this"),
			Mimetype: proto.String("image/jpeg"),
		},
	}))
	if msg.Kind != KindImage || msg.Body != "look at this" {
		t.Errorf("got kind=%q body=%q", msg.Kind, msg.Body)
	}
	if att == nil || att.MimeType != "image/jpeg" {
		t.Fatalf("attachment = %+v, want image/jpeg", att)
	}
	if att.ChatJID != msg.ChatJID || att.MsgID != msg.MsgID {
		t.Error("attachment not linked to message identifiers")
	}
}

func TestParseLiveMessageVoiceNote(t *testing.T) {
	msg, att := ParseLiveMessage(liveMessage(t, &waE2E.Message{
		AudioMessage: &waE2E.AudioMessage{
			PTT:      proto.Bool(true),
			Mimetype: proto.String("audio/ogg"),
		},
	}))
	if msg.Kind != KindVoice {
		t.Errorf("kind = %q, want %q", msg.Kind, KindVoice)
	}
	if att == nil || att.Kind != KindVoice {
		t.Errorf("attachment = %+v", att)
	}
}

func TestParseLiveMessageUnwrapsEphemeral(t *testing.T) {
	msg, _ := ParseLiveMessage(liveMessage(t, &waE2E.Message{
		EphemeralMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{Conversation: proto.String("disappearing")},
		},
	}))
	if msg == nil || msg.Body != "disappearing" || msg.Kind != KindText {
		t.Fatalf("got %+v", msg)
	}
}

func TestParseLiveMessageNilContent(t *testing.T) {
	msg, att := ParseLiveMessage(liveMessage(t, nil))
	if msg != nil || att != nil {
		t.Errorf("expected nil for empty content, got msg=%+v att=%+v", msg, att)
	}
}

func TestParseHistoryMessage(t *testing.T) {
	wmsg := &waWeb.WebMessageInfo{
		Key: &waCommon.MessageKey{
			ID:     proto.String("HIST001"),
			FromMe: proto.Bool(true),
		},
		Message:          &waE2E.Message{Conversation: proto.String("from the archive")},
		MessageTimestamp: proto.Uint64(1699990000),
		Status:           waWeb.WebMessageInfo_READ.Enum(),
	}

	msg := ParseHistoryMessage("5511999999999@s.whatsapp.net", wmsg)
	if msg == nil {
		t.Fatal("expected a parsed message")
	}
	if !msg.FromMe || msg.Status != "read" {
		t.Errorf("got fromMe=%v status=%q", msg.FromMe, msg.Status)
	}
	if msg.Timestamp != 1699990000000 {
		t.Errorf("timestamp = %d, want millis", msg.Timestamp)
	}
	if msg.Body != "from the archive" {
		t.Errorf("body = %q", msg.Body)
	}
}

func TestParseHistoryMessageGroupParticipant(t *testing.T) {
	wmsg := &waWeb.WebMessageInfo{
		Key: &waCommon.MessageKey{
			ID:          proto.String("HIST002"),
			FromMe:      proto.Bool(false),
			Participant: proto.String("5511888888888@s.whatsapp.net"),
		},
		Message:          &waE2E.Message{Conversation: proto.String("group chatter")},
		MessageTimestamp: proto.Uint64(1699990001),
	}

	msg := ParseHistoryMessage("123456789@g.us", wmsg)
	if msg == nil {
		t.Fatal("expected a parsed message")
	}
	if msg.SenderJID != "5511888888888@s.whatsapp.net" {
		t.Errorf("senderJID = %q", msg.SenderJID)
	}
	if msg.Status != "received" {
		t.Errorf("status = %q", msg.Status)
	}
}

func TestParseHistoryMessageWithoutID(t *testing.T) {
	wmsg := &waWeb.WebMessageInfo{
		Key:     &waCommon.MessageKey{},
		Message: &waE2E.Message{Conversation: proto.String("nameless")},
	}
	if msg := ParseHistoryMessage("x@s.whatsapp.net", wmsg); msg != nil {
		t.Errorf("expected nil for missing ID, got %+v", msg)
	}
}

func TestHistoryStatusMapping(t *testing.T) {
	cases := []struct {
		fromMe bool
		st     waWeb.WebMessageInfo_Status
		want   string
	}{
		{true, waWeb.WebMessageInfo_PENDING, "sent"},
		{true, waWeb.WebMessageInfo_SERVER_ACK, "sent"},
		{true, waWeb.WebMessageInfo_DELIVERY_ACK, "delivered"},
		{true, waWeb.WebMessageInfo_READ, "read"},
		{true, waWeb.WebMessageInfo_PLAYED, "read"},
		{false, waWeb.WebMessageInfo_READ, "received"},
	}
	for _, tc := range cases {
		if got := historyStatus(tc.fromMe, tc.st); got != tc.want {
			t.Errorf("historyStatus(%v, %v) = %q, want %q", tc.fromMe, tc.st, got, tc.want)
		}
	}
}

func TestIsGroupJID(t *testing.T) {
	if !isGroupJID("123456@g.us") {
		t.Error("group JID not detected")
	}
	if isGroupJID("5511999999999@s.whatsapp.net") {
		t.Error("direct JID misdetected as group")
	}
}
