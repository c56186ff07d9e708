package session

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/papo-chat/papo/internal/bus"
	"github.com/papo-chat/papo/internal/store"
	"go.uber.org/zap"
)

// writeOp is one durable unit of work. Ops are applied strictly in enqueue
// order by a single goroutine, which is what gives every conversation its
// write ordering.
type writeOp struct {
	desc      string
	chatJID   string
	apply     func(*store.DB) error
	watermark *store.Cursor // advanced after apply succeeds
}

// writer drains the ordered op queue into the store. Transient failures are
// retried with exponential backoff while the queue backs up behind them;
// the cache already reflects the op, so the bus signals the durability gap
// with sync.pending until the queue drains again.
type writer struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	queue  chan writeOp
	fatal  func(error)

	pending bool
}

const writerQueueSize = 1024

func newWriter(db *store.DB, b *bus.Bus, logger *zap.Logger, onFatal func(error)) *writer {
	return &writer{
		db:     db,
		bus:    b,
		logger: logger,
		queue:  make(chan writeOp, writerQueueSize),
		fatal:  onFatal,
	}
}

// enqueue blocks when the queue is full; dropping a durable write is never
// acceptable, so backpressure reaches the event loop instead.
func (w *writer) enqueue(op writeOp) {
	w.queue <- op
}

func (w *writer) run(ctx context.Context) {
	for {
		select {
		case op := <-w.queue:
			w.process(ctx, op)
		case <-ctx.Done():
			w.drain()
			return
		}
	}
}

// drain applies whatever is already queued, one attempt each, so a clean
// shutdown does not abandon acknowledged events.
func (w *writer) drain() {
	for {
		select {
		case op := <-w.queue:
			if err := w.applyOnce(op); err != nil {
				w.logger.Error("dropping write during shutdown",
					zap.String("op", op.desc),
					zap.String("chat", op.chatJID),
					zap.Error(err))
			}
		default:
			return
		}
	}
}

func (w *writer) process(ctx context.Context, op writeOp) {
	err := w.applyOnce(op)
	if err == nil {
		w.settle()
		return
	}

	var de *store.DecryptionError
	if errors.As(err, &de) {
		w.logger.Error("store key failure, stopping writes",
			zap.String("op", op.desc), zap.Error(err))
		w.fatal(err)
		return
	}

	w.logger.Warn("store write failed, retrying",
		zap.String("op", op.desc),
		zap.String("chat", op.chatJID),
		zap.Error(err))
	if !w.pending {
		w.pending = true
		w.publish("sync.pending", op.desc)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until shutdown

	err = backoff.Retry(func() error {
		err := w.applyOnce(op)
		var de *store.DecryptionError
		if errors.As(err, &de) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		if errors.As(err, &de) {
			w.fatal(err)
			return
		}
		// Context canceled mid-retry; drain() handles the rest.
		w.logger.Error("write abandoned", zap.String("op", op.desc), zap.Error(err))
		return
	}
	w.settle()
}

func (w *writer) applyOnce(op writeOp) error {
	if err := op.apply(w.db); err != nil {
		return err
	}
	if op.watermark != nil {
		if err := w.db.SetWatermark(op.chatJID, *op.watermark); err != nil {
			w.logger.Warn("watermark advance failed",
				zap.String("chat", op.chatJID), zap.Error(err))
		}
	}
	return nil
}

// settle publishes sync.resolved once a previously backed-up queue is empty
// again.
func (w *writer) settle() {
	if w.pending && len(w.queue) == 0 {
		w.pending = false
		w.publish("sync.resolved", "")
	}
}

func (w *writer) publish(kind, payload string) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
