package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/papo-chat/papo/internal/bus"
	"github.com/papo-chat/papo/internal/cache"
	"github.com/papo-chat/papo/internal/lock"
	"github.com/papo-chat/papo/internal/outbox"
	"github.com/papo-chat/papo/internal/pager"
	"github.com/papo-chat/papo/internal/status"
	"github.com/papo-chat/papo/internal/store"
	"go.uber.org/zap"
)

type stubPresence struct{}

func (stubPresence) SubscribePresence(string) error { return nil }

type stubTextSender struct{}

func (stubTextSender) SendText(context.Context, string, string, string) (time.Time, error) {
	return time.Now(), nil
}

// TestDaemonComponentsLifecycle wires the daemon's components together by
// hand, the way registerLifecycle does, and drives a message through the
// outbox and back out of a paged window.
func TestDaemonComponentsLifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	chatJID := "5511999999999@s.whatsapp.net"

	lk, err := lock.Acquire(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(tmpDir, "papo.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.Unlock(""); err != nil {
		t.Fatal(err)
	}

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	c := cache.New()
	manager := pager.NewManager(db, c, b, stubPresence{}, logger)
	sender := outbox.NewSender(db, c, stubTextSender{}, b, logger)

	if machine.Current() != status.Disconnected {
		t.Fatalf("initial state = %v, want Disconnected", machine.Current())
	}

	sentCh, unsub := b.Subscribe("outbox.sent", 8)
	defer unsub()

	sender.Start(context.Background())
	defer sender.Stop()

	id, err := sender.Enqueue(chatJID, "oi, tudo bem?")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("Enqueue returned empty message ID")
	}

	select {
	case <-sentCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for outbox.sent")
	}

	ctrl := manager.Open(chatJID)
	if err := ctrl.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs, atTail := ctrl.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("window has %d messages, want 1", len(msgs))
	}
	if !atTail {
		t.Fatal("freshly loaded window should be at tail")
	}
	if msgs[0].MsgID != id {
		t.Fatalf("window message ID = %q, want %q", msgs[0].MsgID, id)
	}
	if msgs[0].Status != "sent" {
		t.Fatalf("message status = %q, want sent", msgs[0].Status)
	}

	manager.CloseAll()
	if _, ok := manager.Get(chatJID); ok {
		t.Fatal("controller still registered after CloseAll")
	}
}
