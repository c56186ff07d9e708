package store

// Conversation represents a chat thread, direct or group.
type Conversation struct {
	JID          string
	Name         string
	IsGroup      bool
	Muted        bool
	Pinned       bool
	Archived     bool
	UnreadCount  int
	LastActivity int64 // unix millis of the most recent message
}

// Contact represents a known contact.
type Contact struct {
	JID         string
	Name        string
	PushName    string
	PhoneNumber string
}

// Message represents a single message in a conversation. Content is
// immutable once persisted; only status fields may change.
type Message struct {
	ID         int64
	ChatJID    string
	MsgID      string
	SenderJID  string
	SenderName string
	Body       string
	Kind       string // text, image, video, audio, document, sticker, contact, location, unknown
	FromMe     bool
	Status     string // received, read, sending, sent, delivered, failed
	Timestamp  int64  // unix millis
}

// Cursor identifies a position in a conversation's total order.
// Ordering is (Timestamp, MsgID); MsgID breaks timestamp ties.
type Cursor struct {
	Timestamp int64
	MsgID     string
}

// IsZero reports whether the cursor is unset.
func (c Cursor) IsZero() bool {
	return c.Timestamp == 0 && c.MsgID == ""
}

// CursorOf returns the total-order cursor of a message.
func CursorOf(m *Message) Cursor {
	return Cursor{Timestamp: m.Timestamp, MsgID: m.MsgID}
}

// Less reports whether c sorts strictly before other in the total order.
func (c Cursor) Less(other Cursor) bool {
	if c.Timestamp != other.Timestamp {
		return c.Timestamp < other.Timestamp
	}
	return c.MsgID < other.MsgID
}

// Direction selects which side of an anchor QueryRange reads.
type Direction int

const (
	// Before reads messages strictly older than the anchor.
	Before Direction = iota
	// After reads messages strictly newer than the anchor.
	After
)

// Attachment references a message's binary payload. The payload itself
// lives outside the database; only the reference is stored.
type Attachment struct {
	ChatJID   string
	MsgID     string
	Kind      string // image, video, audio, document, sticker
	MimeType  string
	Path      string // local payload location, empty until downloaded
	ThumbPath string
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatJID      string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}

// SearchResult holds a message matched by a body search.
type SearchResult struct {
	Message Message
	Snippet string
}
