package wa

import (
	"context"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/papo-chat/papo/internal/profile"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// Adapter wraps the protocol engine behind a narrow command surface and a
// single ordered event stream. It never mutates application state itself;
// the session loop consumes Events() and decides what everything means.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *zap.Logger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

const eventBuffer = 256

// NewAdapter opens the engine's own credential store for the given profile
// and prepares a disconnected client. Reconnection is owned by the session
// loop, so the engine's automatic reconnect is disabled.
func NewAdapter(ctx context.Context, profileName string, logger *zap.Logger) (*Adapter, error) {
	dbPath, err := profile.EnginePath(profileName)
	if err != nil {
		return nil, fmt.Errorf("resolving engine store path: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", dbPath)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, zapWALog{logger.Named("engine.store")})
	if err != nil {
		return nil, fmt.Errorf("opening engine store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("loading engine device: %w", err)
	}

	a := &Adapter{
		container: container,
		logger:    logger,
		events:    make(chan Event, eventBuffer),
		done:      make(chan struct{}),
	}

	a.client = whatsmeow.NewClient(device, zapWALog{logger.Named("engine")})
	a.client.EnableAutoReconnect = false
	a.client.AddEventHandler(a.dispatch)
	return a, nil
}

// Events returns the ordered stream of normalized engine events. The
// channel is never closed; consumers stop via their own context.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// dispatch feeds translated events into the stream in engine order. The
// blocking send is intentional: dropping here would silently lose protocol
// state, so backpressure propagates to the engine instead.
func (a *Adapter) dispatch(rawEvt any) {
	for _, evt := range translate(rawEvt, a.logger) {
		select {
		case a.events <- evt:
		case <-a.done:
			return
		}
	}
}

// HasSession reports whether engine credentials exist for this profile.
func (a *Adapter) HasSession() bool {
	return a.client.Store.ID != nil
}

// IsLoggedIn reports whether the client is connected and authenticated.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.IsLoggedIn()
}

// Connect starts a single connection attempt. Retry policy lives with the
// caller.
func (a *Adapter) Connect() error {
	if a.client.IsConnected() {
		return nil
	}
	return a.client.Connect()
}

// Disconnect tears down the current connection without discarding
// credentials.
func (a *Adapter) Disconnect() {
	a.client.Disconnect()
}

// Logout invalidates the engine credentials and disconnects.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// Close disconnects and releases the engine store. Safe to call more than
// once.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		a.client.Disconnect()
		err = a.container.Close()
	})
	return err
}

// PhoneNumber returns the logged-in account's number, or empty when there
// is no session.
func (a *Adapter) PhoneNumber() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

// SendText submits a text message using the caller-chosen message ID so the
// echo event can be matched to the pending outbox entry. It returns the
// server-assigned timestamp.
func (a *Adapter) SendText(ctx context.Context, chatJID, clientMsgID, text string) (time.Time, error) {
	jid, err := types.ParseJID(chatJID)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing chat JID %q: %w", chatJID, err)
	}

	resp, err := a.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	}, whatsmeow.SendRequestExtra{ID: clientMsgID})
	if err != nil {
		return time.Time{}, err
	}
	return resp.Timestamp, nil
}

// MarkRead sends read receipts for the given messages.
func (a *Adapter) MarkRead(chatJID, senderJID string, msgIDs []string) error {
	if len(msgIDs) == 0 {
		return nil
	}
	chat, err := types.ParseJID(chatJID)
	if err != nil {
		return fmt.Errorf("parsing chat JID %q: %w", chatJID, err)
	}
	sender := chat
	if senderJID != "" {
		if sender, err = types.ParseJID(senderJID); err != nil {
			return fmt.Errorf("parsing sender JID %q: %w", senderJID, err)
		}
	}
	return a.client.MarkRead(context.Background(), msgIDs, time.Now(), chat, sender)
}

// SetTyping publishes the local typing indicator for a conversation.
func (a *Adapter) SetTyping(chatJID string, typing bool) error {
	jid, err := types.ParseJID(chatJID)
	if err != nil {
		return fmt.Errorf("parsing chat JID %q: %w", chatJID, err)
	}
	state := types.ChatPresencePaused
	if typing {
		state = types.ChatPresenceComposing
	}
	return a.client.SendChatPresence(context.Background(), jid, state, types.ChatPresenceMediaText)
}

// SetOnline publishes the account-level availability.
func (a *Adapter) SetOnline(available bool) error {
	if available {
		return a.client.SendPresence(context.Background(), types.PresenceAvailable)
	}
	return a.client.SendPresence(context.Background(), types.PresenceUnavailable)
}

// SubscribePresence asks the engine to start delivering presence updates
// for one contact. Updates arrive as PresenceUpdate events.
func (a *Adapter) SubscribePresence(contactJID string) error {
	jid, err := types.ParseJID(contactJID)
	if err != nil {
		return fmt.Errorf("parsing contact JID %q: %w", contactJID, err)
	}
	return a.client.SubscribePresence(context.Background(), jid)
}

// DeclineCall rejects an incoming call offer.
func (a *Adapter) DeclineCall(fromJID, callID string) error {
	from, err := types.ParseJID(fromJID)
	if err != nil {
		return fmt.Errorf("parsing caller JID %q: %w", fromJID, err)
	}
	return a.client.RejectCall(context.Background(), from, callID)
}

// zapWALog adapts the engine's logging interface onto zap.
type zapWALog struct {
	l *zap.Logger
}

func (z zapWALog) Errorf(msg string, args ...any) { z.l.Error(fmt.Sprintf(msg, args...)) }
func (z zapWALog) Warnf(msg string, args ...any)  { z.l.Warn(fmt.Sprintf(msg, args...)) }
func (z zapWALog) Infof(msg string, args ...any)  { z.l.Info(fmt.Sprintf(msg, args...)) }
func (z zapWALog) Debugf(msg string, args ...any) { z.l.Debug(fmt.Sprintf(msg, args...)) }
func (z zapWALog) Sub(module string) waLog.Logger { return zapWALog{z.l.Named(module)} }
