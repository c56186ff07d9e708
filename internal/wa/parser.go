package wa

import (
	"strings"

	"github.com/papo-chat/papo/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types/events"
)

// Message kinds recognized by the rest of the system.
const (
	KindText     = "text"
	KindImage    = "image"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindVoice    = "voice"
	KindDocument = "document"
	KindSticker  = "sticker"
	KindLocation = "location"
	KindContact  = "contact"
	KindUnknown  = "unknown"
)

// ParseLiveMessage converts a live engine message event into a stored
// message and, for media kinds, an attachment record.
func ParseLiveMessage(evt *events.Message) (*store.Message, *store.Attachment) {
	content := unwrap(evt.Message)
	if content == nil {
		return nil, nil
	}

	body, kind, att := extractContent(content)

	msg := &store.Message{
		ChatJID:    evt.Info.Chat.String(),
		MsgID:      evt.Info.ID,
		SenderJID:  evt.Info.Sender.String(),
		SenderName: evt.Info.PushName,
		Body:       body,
		Kind:       kind,
		FromMe:     evt.Info.IsFromMe,
		Status:     initialStatus(evt.Info.IsFromMe),
		Timestamp:  evt.Info.Timestamp.UnixMilli(),
	}
	if att != nil {
		att.ChatJID = msg.ChatJID
		att.MsgID = msg.MsgID
	}
	return msg, att
}

// ParseHistoryMessage converts one history-sync web message into a stored
// message. Messages with no renderable content return nil.
func ParseHistoryMessage(chatJID string, wmsg *waWeb.WebMessageInfo) *store.Message {
	content := unwrap(wmsg.GetMessage())
	if content == nil {
		return nil
	}
	key := wmsg.GetKey()
	if key.GetID() == "" {
		return nil
	}

	body, kind, _ := extractContent(content)

	senderJID := chatJID
	if key.GetFromMe() {
		senderJID = ""
	} else if p := key.GetParticipant(); p != "" {
		senderJID = p
	}

	return &store.Message{
		ChatJID:    chatJID,
		MsgID:      key.GetID(),
		SenderJID:  senderJID,
		SenderName: wmsg.GetPushName(),
		Body:       body,
		Kind:       kind,
		FromMe:     key.GetFromMe(),
		Status:     historyStatus(key.GetFromMe(), wmsg.GetStatus()),
		Timestamp:  int64(wmsg.GetMessageTimestamp()) * 1000,
	}
}

// unwrap strips ephemeral and view-once envelopes down to the inner message.
func unwrap(msg *waE2E.Message) *waE2E.Message {
	if msg == nil {
		return nil
	}
	if eph := msg.GetEphemeralMessage(); eph != nil && eph.GetMessage() != nil {
		return unwrap(eph.GetMessage())
	}
	if vo := msg.GetViewOnceMessage(); vo != nil && vo.GetMessage() != nil {
		return unwrap(vo.GetMessage())
	}
	if vo := msg.GetViewOnceMessageV2(); vo != nil && vo.GetMessage() != nil {
		return unwrap(vo.GetMessage())
	}
	return msg
}

func extractContent(msg *waE2E.Message) (body, kind string, att *store.Attachment) {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation(), KindText, nil

	case msg.GetExtendedTextMessage().GetText() != "":
		return msg.GetExtendedTextMessage().GetText(), KindText, nil

	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		return img.GetCaption(), KindImage, &store.Attachment{Kind: KindImage, MimeType: img.GetMimetype()}

	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		return vid.GetCaption(), KindVideo, &store.Attachment{Kind: KindVideo, MimeType: vid.GetMimetype()}

	case msg.GetAudioMessage() != nil:
		aud := msg.GetAudioMessage()
		kind := KindAudio
		if aud.GetPTT() {
			kind = KindVoice
		}
		return "", kind, &store.Attachment{Kind: kind, MimeType: aud.GetMimetype()}

	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		body := doc.GetCaption()
		if body == "" {
			body = doc.GetFileName()
		}
		return body, KindDocument, &store.Attachment{Kind: KindDocument, MimeType: doc.GetMimetype()}

	case msg.GetStickerMessage() != nil:
		stk := msg.GetStickerMessage()
		return "", KindSticker, &store.Attachment{Kind: KindSticker, MimeType: stk.GetMimetype()}

	case msg.GetLocationMessage() != nil:
		return msg.GetLocationMessage().GetName(), KindLocation, nil

	case msg.GetContactMessage() != nil:
		return msg.GetContactMessage().GetDisplayName(), KindContact, nil

	default:
		return "", KindUnknown, nil
	}
}

func initialStatus(fromMe bool) string {
	if fromMe {
		return "sent"
	}
	return "received"
}

func historyStatus(fromMe bool, st waWeb.WebMessageInfo_Status) string {
	if !fromMe {
		return "received"
	}
	switch st {
	case waWeb.WebMessageInfo_READ, waWeb.WebMessageInfo_PLAYED:
		return "read"
	case waWeb.WebMessageInfo_DELIVERY_ACK:
		return "delivered"
	default:
		return "sent"
	}
}

func isGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}
