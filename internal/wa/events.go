package wa

import (
	"time"

	"github.com/papo-chat/papo/internal/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// Event is one inbound protocol event, normalized to internal types. The
// session loop is the single consumer; variants arrive in engine delivery
// order and are never reordered or batched together.
type Event interface {
	isEvent()
}

// MessageReceived carries one live inbound or echoed outbound message.
type MessageReceived struct {
	Msg        *store.Message
	Attachment *store.Attachment // nil for plain text
	IsGroup    bool
}

// HistoryConversation carries one conversation's metadata and messages from
// a history sync.
type HistoryConversation struct {
	Conversation store.Conversation
	HasUnread    bool // authoritative unread count present
	Messages     []*store.Message
}

// MessageStatusChanged reports a delivery/read receipt for stored messages.
type MessageStatusChanged struct {
	ChatJID   string
	SenderJID string
	MsgIDs    []string
	Status    string // delivered, read
}

// PresenceUpdate reports a contact's availability, last-writer-wins.
type PresenceUpdate struct {
	ContactJID string
	Available  bool
	LastSeen   time.Time
}

// TypingChanged reports a typing indicator change in a conversation.
type TypingChanged struct {
	ChatJID   string
	SenderJID string
	Typing    bool
}

// ConnState is the engine connection state reported by ConnectionChanged.
type ConnState string

const (
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnLoggedOut    ConnState = "logged_out"
)

// ConnectionChanged reports an engine connection state change.
type ConnectionChanged struct {
	State  ConnState
	Reason string
}

// ContactsSynced carries contact names learned from a history sync.
type ContactsSynced struct {
	Contacts []store.Contact
}

// CallOffer reports an incoming call.
type CallOffer struct {
	CallID  string
	FromJID string
}

// CallEnded reports a terminated call.
type CallEnded struct {
	CallID  string
	FromJID string
	Reason  string
}

func (MessageReceived) isEvent()      {}
func (HistoryConversation) isEvent()  {}
func (MessageStatusChanged) isEvent() {}
func (PresenceUpdate) isEvent()       {}
func (TypingChanged) isEvent()        {}
func (ConnectionChanged) isEvent()    {}
func (ContactsSynced) isEvent()       {}
func (CallOffer) isEvent()            {}
func (CallEnded) isEvent()            {}

// translate converts a raw whatsmeow event into zero or more internal
// events. Malformed or irrelevant engine events are logged and dropped
// here; the session keeps running.
func translate(rawEvt any, logger *zap.Logger) []Event {
	switch evt := rawEvt.(type) {
	case *events.Message:
		msg, att := ParseLiveMessage(evt)
		if msg == nil || msg.MsgID == "" || msg.ChatJID == "" {
			logger.Warn("dropping message event without identifiers")
			return nil
		}
		return []Event{MessageReceived{Msg: msg, Attachment: att, IsGroup: evt.Info.IsGroup}}

	case *events.HistorySync:
		return translateHistorySync(evt)

	case *events.Receipt:
		var status string
		switch evt.Type {
		case types.ReceiptTypeDelivered:
			status = "delivered"
		case types.ReceiptTypeRead:
			status = "read"
		default:
			return nil
		}
		if len(evt.MessageIDs) == 0 {
			logger.Warn("dropping receipt without message IDs", zap.String("chat", evt.Chat.String()))
			return nil
		}
		return []Event{MessageStatusChanged{
			ChatJID:   evt.Chat.String(),
			SenderJID: evt.Sender.String(),
			MsgIDs:    evt.MessageIDs,
			Status:    status,
		}}

	case *events.Presence:
		return []Event{PresenceUpdate{
			ContactJID: evt.From.String(),
			Available:  !evt.Unavailable,
			LastSeen:   evt.LastSeen,
		}}

	case *events.ChatPresence:
		return []Event{TypingChanged{
			ChatJID:   evt.Chat.String(),
			SenderJID: evt.Sender.String(),
			Typing:    evt.State == types.ChatPresenceComposing,
		}}

	case *events.Connected:
		return []Event{ConnectionChanged{State: ConnConnected}}

	case *events.Disconnected:
		return []Event{ConnectionChanged{State: ConnDisconnected, Reason: "engine disconnected"}}

	case *events.LoggedOut:
		return []Event{ConnectionChanged{State: ConnLoggedOut, Reason: evt.Reason.String()}}

	case *events.CallOffer:
		return []Event{CallOffer{CallID: evt.CallID, FromJID: evt.From.String()}}

	case *events.CallTerminate:
		return []Event{CallEnded{CallID: evt.CallID, FromJID: evt.From.String(), Reason: evt.Reason}}

	default:
		return nil
	}
}

func translateHistorySync(evt *events.HistorySync) []Event {
	data := evt.Data
	if data == nil {
		return nil
	}

	var out []Event
	if pushnames := data.GetPushnames(); len(pushnames) > 0 {
		var contacts []store.Contact
		for _, pn := range pushnames {
			if pn.GetID() == "" {
				continue
			}
			contacts = append(contacts, store.Contact{
				JID:      pn.GetID(),
				PushName: pn.GetPushname(),
			})
		}
		if len(contacts) > 0 {
			out = append(out, ContactsSynced{Contacts: contacts})
		}
	}

	for _, conv := range data.GetConversations() {
		chatJID := conv.GetID()
		if chatJID == "" {
			continue
		}

		meta := store.Conversation{
			JID:         chatJID,
			Name:        conv.GetName(),
			IsGroup:     isGroupJID(chatJID),
			Pinned:      conv.GetPinned() > 0,
			Archived:    conv.GetArchived(),
			UnreadCount: int(conv.GetUnreadCount()),
		}

		var msgs []*store.Message
		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil {
				continue
			}
			parsed := ParseHistoryMessage(chatJID, wmsg)
			if parsed == nil {
				continue
			}
			msgs = append(msgs, parsed)
			if parsed.Timestamp > meta.LastActivity {
				meta.LastActivity = parsed.Timestamp
			}
		}

		out = append(out, HistoryConversation{
			Conversation: meta,
			HasUnread:    conv.UnreadCount != nil,
			Messages:     msgs,
		})
	}
	return out
}
