package pager

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/papo-chat/papo/internal/bus"
	"github.com/papo-chat/papo/internal/cache"
	"github.com/papo-chat/papo/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Store is the slice of the persistent store the pager reads from.
type Store interface {
	QueryRange(chatJID string, anchor store.Cursor, dir store.Direction, limit int) ([]store.Message, error)
}

// WindowChanged is the bus payload published after a window mutation.
type WindowChanged struct {
	ChatJID  string
	Reason   string // initial, before, after
	Added    int
	Trimmed  int
	AtTail   bool
	Boundary bool // the load ran into the edge of stored history
}

// Controller pages one conversation's window through the store. Concurrent
// loads in the same direction coalesce into a single query; results are
// applied to the cache as atomic anchor-validated extensions, so a result
// that raced with a window change is discarded whole rather than applied
// partially.
type Controller struct {
	chatJID string
	store   Store
	cache   *cache.Cache
	bus     *bus.Bus
	logger  *zap.Logger

	flight      singleflight.Group
	initialized atomic.Bool
	closed      atomic.Bool
}

func newController(chatJID string, st Store, c *cache.Cache, b *bus.Bus, logger *zap.Logger) *Controller {
	return &Controller{
		chatJID: chatJID,
		store:   st,
		cache:   c,
		bus:     b,
		logger:  logger,
	}
}

// LoadInitial fills the window with the newest messages. Idempotent: once
// the window is seeded, later calls are no-ops. The seed merges stored rows
// with any live messages already resident, so nothing that arrived while
// the query ran is lost.
func (p *Controller) LoadInitial(ctx context.Context) error {
	if p.initialized.Load() {
		return nil
	}
	_, err, _ := p.flight.Do("initial", func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := p.store.QueryRange(p.chatJID, store.Cursor{}, store.Before, cache.InitialLoad)
		if err != nil {
			return nil, err
		}
		if p.closed.Load() {
			return nil, nil
		}
		snap, ok := p.cache.SeedWindow(p.chatJID, rows, cache.InitialLoad)
		if !ok {
			// Window dropped while the query ran.
			return nil, nil
		}
		p.initialized.Store(true)
		p.publish(WindowChanged{
			ChatJID: p.chatJID,
			Reason:  "initial",
			Added:   len(snap),
			AtTail:  true,
		})
		return nil, nil
	})
	return err
}

// LoadBefore extends the window with up to a page of messages older than
// anchor. An empty result means the start of stored history; that is not an
// error. On store failure the window is unchanged and the error is
// retryable.
func (p *Controller) LoadBefore(ctx context.Context, anchor store.Cursor) error {
	_, err, _ := p.flight.Do("before", func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := p.store.QueryRange(p.chatJID, anchor, store.Before, cache.PageSize)
		if err != nil {
			return nil, err
		}
		if p.closed.Load() {
			return nil, nil
		}
		added, trimmed, ok := p.cache.ExtendBefore(p.chatJID, anchor, rows)
		if !ok {
			// The window edge moved while the query ran; the stale
			// extension is discarded whole.
			p.logger.Debug("discarding stale backward extension",
				zap.String("chat", p.chatJID))
			return nil, nil
		}
		_, atTail := p.cache.Snapshot(p.chatJID)
		p.publish(WindowChanged{
			ChatJID:  p.chatJID,
			Reason:   "before",
			Added:    added,
			Trimmed:  trimmed,
			AtTail:   atTail,
			Boundary: len(rows) == 0,
		})
		return nil, nil
	})
	return err
}

// LoadAfter extends the window with up to a page of messages newer than
// anchor, used after backward paging detached the window from the tail.
func (p *Controller) LoadAfter(ctx context.Context, anchor store.Cursor) error {
	_, err, _ := p.flight.Do("after", func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := p.store.QueryRange(p.chatJID, anchor, store.After, cache.PageSize)
		if err != nil {
			return nil, err
		}
		if p.closed.Load() {
			return nil, nil
		}
		tailReached := len(rows) < cache.PageSize
		added, trimmed, ok := p.cache.ExtendAfter(p.chatJID, anchor, rows, tailReached)
		if !ok {
			p.logger.Debug("discarding stale forward extension",
				zap.String("chat", p.chatJID))
			return nil, nil
		}
		_, atTail := p.cache.Snapshot(p.chatJID)
		p.publish(WindowChanged{
			ChatJID:  p.chatJID,
			Reason:   "after",
			Added:    added,
			Trimmed:  trimmed,
			AtTail:   atTail,
			Boundary: len(rows) == 0,
		})
		return nil, nil
	})
	return err
}

// Snapshot returns the current window contents.
func (p *Controller) Snapshot() ([]store.Message, bool) {
	return p.cache.Snapshot(p.chatJID)
}

// Close marks the controller dead. In-flight query results arriving
// afterwards are discarded without touching the cache.
func (p *Controller) Close() {
	p.closed.Store(true)
}

func (p *Controller) publish(wc WindowChanged) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(bus.Event{Kind: "window.changed", Timestamp: time.Now(), Payload: wc})
}
