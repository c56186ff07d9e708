package cache

import (
	"sort"

	"github.com/papo-chat/papo/internal/store"
)

// Window bounds. A conversation's resident window starts with InitialLoad
// messages, grows by PageSize per scroll request, and never holds more than
// MaxResident after a completed load/trim.
const (
	InitialLoad = 120
	PageSize    = 70
	MaxResident = 600
)

// window is the resident slice of one conversation's messages, always a
// contiguous run of the conversation total order, ascending by
// (timestamp, msg_id). atTail means the last element is the newest known
// message, so live messages may be appended directly. While the window is
// detached from the tail, live arrivals are held in pending and merged back
// in when the window reattaches, so reattaching never leaves a gap between
// the stored rows and the live tail.
type window struct {
	msgs    []store.Message
	pending []store.Message
	atTail  bool
}

func newWindow() *window {
	return &window{atTail: true}
}

func msgLess(a, b *store.Message) bool {
	return store.CursorOf(a).Less(store.CursorOf(b))
}

// appendLive inserts a live message, keeping order. Returns false without
// appending when the window is detached from the tail (the message is held
// in pending instead) or when the message is already resident. Overflow
// trims from the oldest end.
func (w *window) appendLive(m store.Message) (appended bool, trimmed int) {
	if !w.atTail {
		w.hold(m)
		return false, 0
	}
	for i := range w.msgs {
		if w.msgs[i].MsgID == m.MsgID {
			return false, 0
		}
	}
	// Common case: strictly newer than everything resident.
	if n := len(w.msgs); n == 0 || msgLess(&w.msgs[n-1], &m) {
		w.msgs = append(w.msgs, m)
	} else {
		// Late arrival with an older timestamp: insert at its ordered slot.
		i := sort.Search(len(w.msgs), func(i int) bool { return msgLess(&m, &w.msgs[i]) })
		w.msgs = append(w.msgs, store.Message{})
		copy(w.msgs[i+1:], w.msgs[i:])
		w.msgs[i] = m
	}
	trimmed = w.trimFront()
	return true, trimmed
}

// hold stashes a live arrival while the window is detached. Bounded like
// the window itself; overflow drops the oldest held message.
func (w *window) hold(m store.Message) {
	for i := range w.pending {
		if w.pending[i].MsgID == m.MsgID {
			return
		}
	}
	w.pending = append(w.pending, m)
	if over := len(w.pending) - MaxResident; over > 0 {
		w.pending = append([]store.Message(nil), w.pending[over:]...)
	}
}

// flushPending folds held live arrivals into the resident slice once the
// window is back at the tail.
func (w *window) flushPending() int {
	if len(w.pending) == 0 {
		return 0
	}
	added := 0
	for _, m := range w.pending {
		dup := false
		for i := range w.msgs {
			if w.msgs[i].MsgID == m.MsgID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		i := sort.Search(len(w.msgs), func(i int) bool { return msgLess(&m, &w.msgs[i]) })
		w.msgs = append(w.msgs, store.Message{})
		copy(w.msgs[i+1:], w.msgs[i:])
		w.msgs[i] = m
		added++
	}
	w.pending = nil
	return added
}

// seed replaces the window's contents with the merge of the given rows and
// whatever is already resident or held, deduplicated by msg_id, keeping only
// the newest limit messages. The result is at the tail by construction.
func (w *window) seed(rows []store.Message, limit int) {
	seen := make(map[string]struct{}, len(rows)+len(w.msgs)+len(w.pending))
	merged := make([]store.Message, 0, len(rows)+len(w.msgs)+len(w.pending))
	take := func(m store.Message) {
		if _, ok := seen[m.MsgID]; ok {
			return
		}
		seen[m.MsgID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range rows {
		take(m)
	}
	for _, m := range w.msgs {
		take(m)
	}
	for _, m := range w.pending {
		take(m)
	}
	sort.Slice(merged, func(i, j int) bool { return msgLess(&merged[i], &merged[j]) })
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	w.msgs = merged
	w.pending = nil
	w.atTail = true
}

// extendBefore prepends older messages. The anchor must still be the oldest
// resident message; a stale anchor means a competing mutation won and the
// extension is discarded whole. Overflow trims from the newest end, which
// detaches the window from the tail.
func (w *window) extendBefore(anchor store.Cursor, older []store.Message) (added, trimmed int, ok bool) {
	if len(w.msgs) == 0 || store.CursorOf(&w.msgs[0]) != anchor {
		return 0, 0, false
	}
	if len(older) == 0 {
		return 0, 0, true
	}
	w.msgs = append(older, w.msgs...)
	if over := len(w.msgs) - MaxResident; over > 0 {
		w.msgs = w.msgs[:len(w.msgs)-over]
		w.atTail = false
		trimmed = over
	}
	return len(older), trimmed, true
}

// extendAfter appends newer messages; mirror of extendBefore. tailReached
// marks the window as ending at the newest known message again and folds
// any live arrivals held while detached back into the window.
func (w *window) extendAfter(anchor store.Cursor, newer []store.Message, tailReached bool) (added, trimmed int, ok bool) {
	if len(w.msgs) == 0 || store.CursorOf(&w.msgs[len(w.msgs)-1]) != anchor {
		return 0, 0, false
	}
	w.msgs = append(w.msgs, newer...)
	added = len(newer)
	if tailReached {
		w.atTail = true
		added += w.flushPending()
	}
	trimmed = w.trimFront()
	return added, trimmed, true
}

// trimFront evicts the oldest messages until the resident bound holds.
func (w *window) trimFront() int {
	over := len(w.msgs) - MaxResident
	if over <= 0 {
		return 0
	}
	w.msgs = append([]store.Message(nil), w.msgs[over:]...)
	return over
}

// applyStatus updates status fields of resident and held messages in place.
func (w *window) applyStatus(ids []string, status string) int {
	changed := 0
	for _, id := range ids {
		for i := range w.msgs {
			if w.msgs[i].MsgID == id {
				w.msgs[i].Status = status
				changed++
				break
			}
		}
		for i := range w.pending {
			if w.pending[i].MsgID == id {
				w.pending[i].Status = status
				break
			}
		}
	}
	return changed
}

// snapshot returns a copy of the resident messages.
func (w *window) snapshot() []store.Message {
	out := make([]store.Message, len(w.msgs))
	copy(out, w.msgs)
	return out
}
