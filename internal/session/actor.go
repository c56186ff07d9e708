package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/papo-chat/papo/internal/bus"
	"github.com/papo-chat/papo/internal/cache"
	"github.com/papo-chat/papo/internal/status"
	"github.com/papo-chat/papo/internal/store"
	"github.com/papo-chat/papo/internal/wa"
	"go.uber.org/zap"
)

// Gateway is the slice of the protocol adapter the actor needs. Satisfied
// by *wa.Adapter; tests substitute a fake.
type Gateway interface {
	Events() <-chan wa.Event
	Connect() error
	IsLoggedIn() bool
	MarkRead(chatJID, senderJID string, msgIDs []string) error
	SetTyping(chatJID string, typing bool) error
	SubscribePresence(contactJID string) error
	DeclineCall(fromJID, callID string) error
}

// Actor is the single consumer of the gateway event stream. Each event is
// applied to the runtime cache synchronously, its durable portion enqueued
// on the writer, and a notification published on the bus — in that order,
// one event at a time, so consumers never observe effects out of order.
type Actor struct {
	gw      Gateway
	db      *store.DB
	cache   *cache.Cache
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	writer  *writer

	cancel       context.CancelFunc
	wg           sync.WaitGroup
	reconnecting atomic.Bool
	failed       atomic.Bool
}

func New(gw Gateway, db *store.DB, c *cache.Cache, b *bus.Bus, m *status.Machine, logger *zap.Logger) *Actor {
	a := &Actor{
		gw:      gw,
		db:      db,
		cache:   c,
		bus:     b,
		machine: m,
		logger:  logger,
	}
	a.writer = newWriter(db, b, logger.Named("writer"), a.fatal)
	return a
}

// Start launches the event loop and the write queue, then begins the first
// connection attempt. It does not block on the connection.
func (a *Actor) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.writer.run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.loop(ctx)
	}()

	if err := a.machine.Transition(status.Connecting, "startup"); err != nil {
		a.logger.Warn("status transition rejected", zap.Error(err))
	}
	if err := a.gw.Connect(); err != nil {
		a.logger.Warn("initial connect failed", zap.Error(err))
		a.scheduleReconnect(ctx)
	}
	return nil
}

// Stop shuts the loops down and waits for queued writes to drain.
func (a *Actor) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

func (a *Actor) loop(ctx context.Context) {
	events := a.gw.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			a.handle(ctx, evt)
		}
	}
}

func (a *Actor) handle(ctx context.Context, evt wa.Event) {
	switch e := evt.(type) {
	case wa.MessageReceived:
		a.onMessage(e)
	case wa.HistoryConversation:
		a.onHistory(e)
	case wa.MessageStatusChanged:
		a.onStatusChanged(e)
	case wa.ContactsSynced:
		a.onContacts(e)
	case wa.PresenceUpdate:
		a.onPresence(e)
	case wa.TypingChanged:
		a.publish("conversation.typing", e)
	case wa.ConnectionChanged:
		a.onConnection(ctx, e)
	case wa.CallOffer:
		a.publish("call.offer", e)
	case wa.CallEnded:
		a.publish("call.ended", e)
	default:
		a.logger.Warn("unhandled gateway event", zap.Any("event", evt))
	}
}

func (a *Actor) onMessage(e wa.MessageReceived) {
	msg := e.Msg

	// A sender's push name only names direct conversations; group subjects
	// arrive through history sync.
	name := ""
	if !e.IsGroup && !msg.FromMe {
		name = msg.SenderName
	}
	meta := a.cache.UpsertConversation(store.Conversation{
		JID:          msg.ChatJID,
		Name:         name,
		IsGroup:      e.IsGroup,
		LastActivity: msg.Timestamp,
	})
	if !msg.FromMe {
		meta.UnreadCount = a.cache.IncrementUnread(msg.ChatJID)
	}
	a.cache.AppendLive(*msg)

	cur := store.CursorOf(msg)
	msgCopy := *msg
	att := e.Attachment
	a.writer.enqueue(writeOp{
		desc:      "append message",
		chatJID:   msg.ChatJID,
		watermark: &cur,
		apply: func(db *store.DB) error {
			if err := db.UpsertConversation(&store.Conversation{
				JID:          msgCopy.ChatJID,
				Name:         name,
				IsGroup:      meta.IsGroup,
				LastActivity: msgCopy.Timestamp,
			}); err != nil {
				return err
			}
			if err := db.AppendMessage(&msgCopy); err != nil {
				return err
			}
			if att != nil {
				if err := db.SaveAttachment(att); err != nil {
					return err
				}
			}
			if !msgCopy.FromMe {
				return db.IncrementUnread(msgCopy.ChatJID)
			}
			return nil
		},
	})

	a.publish("message.received", msgCopy)
}

func (a *Actor) onHistory(e wa.HistoryConversation) {
	conv := e.Conversation
	a.cache.UpsertConversation(conv)
	if e.HasUnread {
		a.cache.SetUnread(conv.JID, conv.UnreadCount)
	}

	// Rows at or below the durable watermark are already stored; their
	// content never changes, so re-ingestion skips them.
	msgs := e.Messages
	if wm, ok, err := a.db.Watermark(conv.JID); err == nil && ok {
		filtered := msgs[:0:0]
		for _, m := range msgs {
			if wm.Less(store.CursorOf(m)) {
				filtered = append(filtered, m)
			}
		}
		msgs = filtered
	}

	var cur *store.Cursor
	if len(msgs) > 0 {
		last := store.CursorOf(msgs[len(msgs)-1])
		for _, m := range msgs {
			if c := store.CursorOf(m); last.Less(c) {
				last = c
			}
		}
		cur = &last
	}

	hasUnread := e.HasUnread
	a.writer.enqueue(writeOp{
		desc:      "ingest history",
		chatJID:   conv.JID,
		watermark: cur,
		apply: func(db *store.DB) error {
			if err := db.UpsertConversation(&conv); err != nil {
				return err
			}
			if hasUnread {
				if err := db.SetUnreadCount(conv.JID, conv.UnreadCount); err != nil {
					return err
				}
			}
			return db.AppendMessages(msgs)
		},
	})

	a.publish("conversation.updated", conv)
}

func (a *Actor) onContacts(e wa.ContactsSynced) {
	contacts := e.Contacts
	a.writer.enqueue(writeOp{
		desc: "sync contacts",
		apply: func(db *store.DB) error {
			return db.BulkUpsertContacts(contacts)
		},
	})
	a.publish("contacts.synced", len(contacts))
}

func (a *Actor) onStatusChanged(e wa.MessageStatusChanged) {
	a.cache.ApplyStatus(e.ChatJID, e.MsgIDs, e.Status)

	a.writer.enqueue(writeOp{
		desc:    "update message status",
		chatJID: e.ChatJID,
		apply: func(db *store.DB) error {
			return db.UpdateStatus(e.ChatJID, e.MsgIDs, e.Status)
		},
	})

	a.publish("message.status_changed", e)
}

// onPresence applies last-writer-wins in arrival order. Presence is
// deliberately not durable; it is stale the moment the daemon restarts.
func (a *Actor) onPresence(e wa.PresenceUpdate) {
	avail := e.Available
	a.cache.ApplyPresence(e.ContactJID, cache.PresenceState{
		Available: &avail,
		LastSeen:  e.LastSeen,
	})
	a.publish("presence.updated", e)
}

func (a *Actor) onConnection(ctx context.Context, e wa.ConnectionChanged) {
	switch e.State {
	case wa.ConnConnected:
		if err := a.machine.Transition(status.Connected, ""); err != nil {
			a.logger.Warn("status transition rejected", zap.Error(err))
		}
	case wa.ConnDisconnected:
		if a.failed.Load() {
			return
		}
		if err := a.machine.Transition(status.Degraded, e.Reason); err != nil {
			a.logger.Warn("status transition rejected", zap.Error(err))
		}
		a.scheduleReconnect(ctx)
	case wa.ConnLoggedOut:
		if err := a.machine.Transition(status.Disconnected, e.Reason); err != nil {
			a.logger.Warn("status transition rejected", zap.Error(err))
		}
		a.publish("session.logged_out", e.Reason)
	}
}

// scheduleReconnect retries the connection with exponential backoff until
// it succeeds or the actor stops. At most one reconnector runs at a time.
func (a *Actor) scheduleReconnect(ctx context.Context) {
	if !a.reconnecting.CompareAndSwap(false, true) {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.reconnecting.Store(false)

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Second
		bo.MaxInterval = 2 * time.Minute
		bo.MaxElapsedTime = 0

		err := backoff.Retry(func() error {
			if err := a.machine.Transition(status.Connecting, "reconnecting"); err != nil {
				a.logger.Debug("status transition rejected", zap.Error(err))
			}
			if err := a.gw.Connect(); err != nil {
				a.logger.Warn("reconnect attempt failed", zap.Error(err))
				return err
			}
			return nil
		}, backoff.WithContext(bo, ctx))
		if err != nil && ctx.Err() == nil {
			a.logger.Error("reconnect abandoned", zap.Error(err))
		}
	}()
}

// fatal marks the session unrecoverable. Used for store key failures: the
// daemon stays up so the state is inspectable, but nothing else is written.
func (a *Actor) fatal(err error) {
	if !a.failed.CompareAndSwap(false, true) {
		return
	}
	if terr := a.machine.Transition(status.Degraded, err.Error()); terr != nil {
		a.logger.Warn("status transition rejected", zap.Error(terr))
	}
	a.publish("session.fatal", err.Error())
}

// MarkConversationRead clears the unread state locally and sends read
// receipts upstream, grouped by sender for group chats.
func (a *Actor) MarkConversationRead(chatJID string) error {
	unread, err := a.db.UnreadInbound(chatJID)
	if err != nil {
		return err
	}

	a.cache.ResetUnread(chatJID)
	var ids []string
	for _, um := range unread {
		ids = append(ids, um.MsgID)
	}
	a.cache.ApplyStatus(chatJID, ids, "read")

	a.writer.enqueue(writeOp{
		desc:    "mark conversation read",
		chatJID: chatJID,
		apply: func(db *store.DB) error {
			return db.MarkConversationRead(chatJID)
		},
	})

	bySender := make(map[string][]string)
	for _, um := range unread {
		bySender[um.SenderJID] = append(bySender[um.SenderJID], um.MsgID)
	}
	for sender, msgIDs := range bySender {
		if err := a.gw.MarkRead(chatJID, sender, msgIDs); err != nil {
			a.logger.Warn("read receipt failed",
				zap.String("chat", chatJID), zap.Error(err))
		}
	}

	a.publish("conversation.read", chatJID)
	return nil
}

// SetTyping forwards the local typing indicator.
func (a *Actor) SetTyping(chatJID string, typing bool) error {
	return a.gw.SetTyping(chatJID, typing)
}

// SubscribePresence starts presence delivery for a contact, typically when
// its conversation is opened.
func (a *Actor) SubscribePresence(contactJID string) error {
	return a.gw.SubscribePresence(contactJID)
}

// DeclineCall rejects an incoming call offer.
func (a *Actor) DeclineCall(fromJID, callID string) error {
	return a.gw.DeclineCall(fromJID, callID)
}

func (a *Actor) publish(kind string, payload any) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
