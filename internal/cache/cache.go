// Package cache holds the authoritative in-memory snapshot of conversations,
// presence, and the resident message window per open conversation. It sits
// between the session event loop (which applies protocol mutations) and the
// pagination layer (which grows and trims windows from the persistent store).
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/papo-chat/papo/internal/store"
)

// PresenceState is a contact's last known availability. Last-writer-wins,
// never persisted: it resets to unknown on restart.
type PresenceState struct {
	Available *bool
	LastSeen  time.Time
}

// Cache is the in-memory runtime state. Conversation and presence entries
// live for the process lifetime; only message windows are bounded.
//
// Each conversation's window has its own mutex, so the session loop and that
// conversation's pagination controller serialize against each other without
// blocking unrelated conversations.
type Cache struct {
	mu       sync.RWMutex
	convs    map[string]*store.Conversation
	presence map[string]PresenceState
	windows  map[string]*lockedWindow
}

type lockedWindow struct {
	mu sync.Mutex
	w  *window
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		convs:    make(map[string]*store.Conversation),
		presence: make(map[string]PresenceState),
		windows:  make(map[string]*lockedWindow),
	}
}

// UpsertConversation merges conversation metadata. Empty names do not
// clobber known ones and last activity only moves forward. Unread counts
// are managed through IncrementUnread/ResetUnread/SetUnread.
func (c *Cache) UpsertConversation(meta store.Conversation) store.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.convs[meta.JID]
	if !ok {
		cp := meta
		c.convs[meta.JID] = &cp
		return cp
	}
	if meta.Name != "" {
		cur.Name = meta.Name
	}
	cur.IsGroup = meta.IsGroup
	cur.Muted = meta.Muted
	cur.Pinned = meta.Pinned
	cur.Archived = meta.Archived
	if meta.LastActivity > cur.LastActivity {
		cur.LastActivity = meta.LastActivity
	}
	return *cur
}

// GetConversation returns a copy of a conversation's metadata.
func (c *Cache) GetConversation(jid string) (store.Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cur, ok := c.convs[jid]
	if !ok {
		return store.Conversation{}, false
	}
	return *cur, true
}

// Conversations returns all non-archived conversations in listing order:
// pinned first, then most recent activity.
func (c *Cache) Conversations() []store.Conversation {
	c.mu.RLock()
	out := make([]store.Conversation, 0, len(c.convs))
	for _, cur := range c.convs {
		if cur.Archived {
			continue
		}
		out = append(out, *cur)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].LastActivity > out[j].LastActivity
	})
	return out
}

// IncrementUnread bumps a conversation's unread counter.
func (c *Cache) IncrementUnread(jid string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.convs[jid]
	if !ok {
		return 0
	}
	cur.UnreadCount++
	return cur.UnreadCount
}

// ResetUnread clears a conversation's unread counter.
func (c *Cache) ResetUnread(jid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.convs[jid]; ok {
		cur.UnreadCount = 0
	}
}

// SetUnread sets the unread counter to an authoritative value.
func (c *Cache) SetUnread(jid string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.convs[jid]; ok {
		cur.UnreadCount = count
	}
}

// ApplyPresence replaces a contact's presence state, last-writer-wins.
func (c *Cache) ApplyPresence(jid string, p PresenceState) {
	c.mu.Lock()
	c.presence[jid] = p
	c.mu.Unlock()
}

// Presence returns a contact's last known presence.
func (c *Cache) Presence(jid string) (PresenceState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.presence[jid]
	return p, ok
}

func (c *Cache) getWindow(jid string) *lockedWindow {
	c.mu.Lock()
	defer c.mu.Unlock()
	lw, ok := c.windows[jid]
	if !ok {
		lw = &lockedWindow{w: newWindow()}
		c.windows[jid] = lw
	}
	return lw
}

func (c *Cache) lookupWindow(jid string) (*lockedWindow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lw, ok := c.windows[jid]
	return lw, ok
}

// AppendLive inserts a live message into a conversation's window if the
// window currently ends at the tail of the conversation. A window detached
// from the tail holds the message aside until it reattaches. Conversations
// without an open window are untouched; their history is loaded on open.
func (c *Cache) AppendLive(m store.Message) (appended bool, trimmed int) {
	lw, ok := c.lookupWindow(m.ChatJID)
	if !ok {
		return false, 0
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.appendLive(m)
}

// OpenWindow ensures a conversation has a resident window, so live messages
// arriving while the initial history query runs are captured and merged by
// the seed. Idempotent.
func (c *Cache) OpenWindow(jid string) {
	c.getWindow(jid)
}

// SeedWindow populates a conversation's window with the merge of stored rows
// and anything already resident (live messages newer than the durable
// watermark), keeping the newest limit messages. Returns the new snapshot,
// or ok=false when the window was dropped while the load ran.
func (c *Cache) SeedWindow(jid string, rows []store.Message, limit int) (msgs []store.Message, ok bool) {
	lw, ok := c.lookupWindow(jid)
	if !ok {
		return nil, false
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.w.seed(rows, limit)
	return lw.w.snapshot(), true
}

// ExtendBefore prepends older messages loaded from the store. The extension
// is applied atomically and only if anchor still matches the oldest resident
// message; a stale anchor or a window dropped while the load ran discards
// the extension whole with ok=false.
func (c *Cache) ExtendBefore(jid string, anchor store.Cursor, older []store.Message) (added, trimmed int, ok bool) {
	lw, ok := c.lookupWindow(jid)
	if !ok {
		return 0, 0, false
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.extendBefore(anchor, older)
}

// ExtendAfter appends newer messages loaded from the store; mirror of
// ExtendBefore. tailReached marks the window as ending at the newest known
// message again.
func (c *Cache) ExtendAfter(jid string, anchor store.Cursor, newer []store.Message, tailReached bool) (added, trimmed int, ok bool) {
	lw, ok := c.lookupWindow(jid)
	if !ok {
		return 0, 0, false
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.extendAfter(anchor, newer, tailReached)
}

// ApplyStatus updates status fields of resident messages.
func (c *Cache) ApplyStatus(jid string, msgIDs []string, status string) int {
	lw, ok := c.lookupWindow(jid)
	if !ok {
		return 0
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.applyStatus(msgIDs, status)
}

// Snapshot returns a copy of a conversation's resident window and whether
// the window ends at the conversation tail.
func (c *Cache) Snapshot(jid string) (msgs []store.Message, atTail bool) {
	c.mu.RLock()
	lw, ok := c.windows[jid]
	c.mu.RUnlock()
	if !ok {
		return nil, true
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.snapshot(), lw.w.atTail
}

// DropWindow releases a conversation's resident window, e.g. when its
// pagination controller is torn down. Durable history is unaffected.
func (c *Cache) DropWindow(jid string) {
	c.mu.Lock()
	delete(c.windows, jid)
	c.mu.Unlock()
}
