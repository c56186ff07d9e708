package pager

import (
	"sync"
	"time"

	"github.com/papo-chat/papo/internal/bus"
	"github.com/papo-chat/papo/internal/cache"
	"go.uber.org/zap"
)

// PresenceSubscriber requests presence delivery for a contact when their
// conversation is opened. Wired to the session actor.
type PresenceSubscriber interface {
	SubscribePresence(contactJID string) error
}

// SelectionChanged is the bus payload published when the active
// conversation changes.
type SelectionChanged struct {
	ChatJID      string
	Programmatic bool
}

// Manager owns one pagination controller per open conversation and the
// selection state.
type Manager struct {
	store    Store
	cache    *cache.Cache
	bus      *bus.Bus
	logger   *zap.Logger
	presence PresenceSubscriber

	Selection *cache.Selection

	mu          sync.Mutex
	controllers map[string]*Controller
}

func NewManager(st Store, c *cache.Cache, b *bus.Bus, presence PresenceSubscriber, logger *zap.Logger) *Manager {
	return &Manager{
		store:       st,
		cache:       c,
		bus:         b,
		logger:      logger,
		presence:    presence,
		Selection:   cache.NewSelection(),
		controllers: make(map[string]*Controller),
	}
}

// Open returns the conversation's controller, creating it on first open.
func (m *Manager) Open(chatJID string) *Controller {
	m.mu.Lock()
	ctrl, ok := m.controllers[chatJID]
	if !ok {
		// The resident window must exist before the initial query starts,
		// so live messages arriving during the query land in it and the
		// seed merge keeps them.
		m.cache.OpenWindow(chatJID)
		ctrl = newController(chatJID, m.store, m.cache, m.bus, m.logger.With(zap.String("chat", chatJID)))
		m.controllers[chatJID] = ctrl
	}
	m.mu.Unlock()

	if !ok && m.presence != nil {
		if err := m.presence.SubscribePresence(chatJID); err != nil {
			m.logger.Debug("presence subscription failed",
				zap.String("chat", chatJID), zap.Error(err))
		}
	}
	return ctrl
}

// Get returns an open conversation's controller, if any.
func (m *Manager) Get(chatJID string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctrl, ok := m.controllers[chatJID]
	return ctrl, ok
}

// Close tears down an open conversation: the controller stops applying
// results and the resident window is released. Durable history stays.
func (m *Manager) Close(chatJID string) {
	m.mu.Lock()
	ctrl, ok := m.controllers[chatJID]
	delete(m.controllers, chatJID)
	m.mu.Unlock()

	if ok {
		ctrl.Close()
		m.cache.DropWindow(chatJID)
	}
}

// CloseAll tears down every open conversation, e.g. on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ctrls := m.controllers
	m.controllers = make(map[string]*Controller)
	m.mu.Unlock()

	for jid, ctrl := range ctrls {
		ctrl.Close()
		m.cache.DropWindow(jid)
	}
}

// Select makes a conversation current. Programmatic selections (restore on
// startup, jump from a notification) carry a one-shot token a consumer can
// use to tell them apart from user clicks.
func (m *Manager) Select(chatJID string, programmatic bool) {
	if programmatic {
		m.Selection.MarkProgrammatic(chatJID)
	}
	m.Selection.Set(chatJID)
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "conversation.selected",
			Timestamp: time.Now(),
			Payload:   SelectionChanged{ChatJID: chatJID, Programmatic: programmatic},
		})
	}
}
