// Package outbox gives outgoing messages a durable queue: a send survives a
// daemon crash between the user's action and the engine acknowledging it.
package outbox

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/papo-chat/papo/internal/bus"
	"github.com/papo-chat/papo/internal/cache"
	"github.com/papo-chat/papo/internal/store"
	"go.uber.org/zap"
)

// TextSender submits a text message to the engine under a caller-chosen
// message ID, so receipts and the echo event correlate with the queued
// entry.
type TextSender interface {
	SendText(ctx context.Context, chatJID, clientMsgID, text string) (time.Time, error)
}

// Sender drains the outbox through the gateway. Progression is visible
// immediately: the optimistic message enters the cache and the store as
// "sending" and settles to "sent" or "failed".
type Sender struct {
	db     *store.DB
	cache  *cache.Cache
	sender TextSender
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

const (
	pollInterval = 500 * time.Millisecond
	sendTimeout  = 30 * time.Second
)

func NewSender(db *store.DB, c *cache.Cache, sender TextSender, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:     db,
		cache:  c,
		sender: sender,
		bus:    b,
		logger: logger,
	}
}

// Enqueue queues a text message for sending and applies the optimistic
// message to the cache and the store. Returns the client message ID used on
// the wire.
func (s *Sender) Enqueue(chatJID, body string) (string, error) {
	clientMsgID := newMessageID()

	if err := s.db.QueueOutbox(clientMsgID, chatJID, body); err != nil {
		return "", err
	}

	now := time.Now().UnixMilli()
	msg := store.Message{
		ChatJID:   chatJID,
		MsgID:     clientMsgID,
		Body:      body,
		Kind:      "text",
		FromMe:    true,
		Status:    "queued",
		Timestamp: now,
	}
	if err := s.db.AppendMessage(&msg); err != nil {
		return "", err
	}
	s.cache.UpsertConversation(store.Conversation{JID: chatJID, LastActivity: now})
	s.cache.AppendLive(msg)

	s.publish("outbox.queued", map[string]string{
		"chat_jid":      chatJID,
		"client_msg_id": clientMsgID,
	})
	return clientMsgID, nil
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for an in-flight pass to finish.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		s.send(ctx, entry)
	}
}

func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sending",
			zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		return
	}
	s.setStatus(entry, "sending")

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	ts, err := s.sender.SendText(sendCtx, entry.ChatJID, entry.ClientMsgID, entry.Body)
	cancel()

	if err != nil {
		s.logger.Error("failed to send message",
			zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
		s.setStatus(entry, "failed")
		s.publish("outbox.failed", map[string]string{
			"chat_jid":      entry.ChatJID,
			"client_msg_id": entry.ClientMsgID,
			"error":         err.Error(),
		})
		return
	}

	// The engine accepted our ID as the wire ID, so it doubles as the
	// server message ID.
	if err := s.db.MarkOutboxSent(entry.ClientMsgID, entry.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sent",
			zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	s.setStatus(entry, "sent")

	s.logger.Info("message sent",
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.Time("server_ts", ts))
	s.publish("outbox.sent", map[string]string{
		"chat_jid":      entry.ChatJID,
		"client_msg_id": entry.ClientMsgID,
	})
}

func (s *Sender) setStatus(entry store.OutboxEntry, status string) {
	if err := s.db.UpdateStatus(entry.ChatJID, []string{entry.ClientMsgID}, status); err != nil {
		s.logger.Warn("optimistic message status update failed",
			zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	s.cache.ApplyStatus(entry.ChatJID, []string{entry.ClientMsgID}, status)
}

func (s *Sender) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// newMessageID builds a wire-safe client message ID in the engine's usual
// uppercase hex shape.
func newMessageID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
