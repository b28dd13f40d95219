package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"mellium.im/xmpp/jid"

	"chatcore/internal/config"
	"chatcore/internal/routing"
	"chatcore/internal/transport"
	chaterrors "chatcore/pkg/errors"
	"chatcore/pkg/logger"
)

type nullSender struct{}

func (nullSender) Send(account string, msg transport.OutgoingMessage) error { return nil }

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := &config.Config{
		WindowMode:    config.WindowNever,
		MaxRows:       100,
		KeyUpLines:    10,
		ScanBatchSize: 2,
	}
	c := New(cfg, nil, nullSender{}, logger.New(logger.DevelopmentMode))
	go c.Run()
	t.Cleanup(c.Stop)
	return c
}

func incoming(text, id string) transport.InboundStanza {
	return transport.InboundStanza{
		Account:   "acc1",
		JID:       jid.MustParse("romeo@example.org"),
		Type:      transport.TypeChat,
		MessageID: id,
		Timestamp: time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC),
		Text:      text,
	}
}

func TestStanzaRaisesPendingEvent(t *testing.T) {
	c := newTestCore(t)
	c.AddAccount("acc1", "example.org")

	if !c.HandleStanza(incoming("hello", "m1")) {
		t.Fatal("stanza did not raise an event")
	}
	evs := c.PendingEvents("acc1", "romeo@example.org")
	if len(evs) != 1 || evs[0].Text != "hello" {
		t.Fatalf("pending = %+v", evs)
	}
	if c.PendingCount("acc1") != 1 {
		t.Fatal("account pending count wrong")
	}
}

func TestOpenConversationDrainsPending(t *testing.T) {
	c := newTestCore(t)
	c.AddAccount("acc1", "example.org")
	c.HandleStanza(incoming("hello", "m1"))

	c.OpenConversation("acc1", "romeo@example.org", transport.TypeChat)

	if c.PendingCount("acc1") != 0 {
		t.Fatal("pending events not drained")
	}
	var found bool
	c.do(func() {
		s := c.sessions.Get("acc1", "romeo@example.org", "")
		found = s != nil && s.Control() != nil &&
			s.Control().Log.FindByMessageID("m1") != nil
	})
	if !found {
		t.Fatal("drained event not in the conversation log")
	}

	// A later stanza with the control open but unfocused queues again.
	if !c.HandleStanza(incoming("more", "m2")) {
		t.Fatal("unfocused control must still raise events")
	}
}

func TestSendCreatesSession(t *testing.T) {
	c := newTestCore(t)
	c.AddAccount("acc1", "example.org")

	if err := c.SendMessage("acc1", "romeo@example.org", transport.TypeChat, "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	var thread string
	c.do(func() {
		if s := c.sessions.Get("acc1", "romeo@example.org", ""); s != nil {
			thread = s.ThreadID
		}
	})
	if len(thread) != 32 {
		t.Fatalf("thread id = %q", thread)
	}
}

func TestCloseConversation(t *testing.T) {
	c := newTestCore(t)
	c.AddAccount("acc1", "example.org")
	c.OpenConversation("acc1", "romeo@example.org", transport.TypeChat)

	if got := c.CloseConversation("acc1", "romeo@example.org", transport.TypeChat); got != routing.CloseProceed {
		t.Fatalf("close = %v, want proceed", got)
	}
	// Closing a window that does not exist is a no-op proceed.
	if got := c.CloseConversation("acc1", "nobody@example.org", transport.TypeChat); got != routing.CloseProceed {
		t.Fatalf("close missing = %v, want proceed", got)
	}
}

func TestLoadHistoryUnknownConversation(t *testing.T) {
	c := newTestCore(t)
	c.AddAccount("acc1", "example.org")

	_, err := c.LoadHistory("acc1", "nobody@example.org", 10)
	if !errors.Is(err, chaterrors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDispatchSerializesCallers(t *testing.T) {
	c := newTestCore(t)
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.do(func() { counter++ })
			}
		}()
	}
	wg.Wait()

	var got int
	c.do(func() { got = counter })
	if got != 800 {
		t.Fatalf("counter = %d, want 800", got)
	}
}

func TestRecalibrateAllYieldsBetweenBatches(t *testing.T) {
	c := newTestCore(t)
	c.AddAccount("acc1", "example.org")
	c.AddAccount("acc2", "example.net")
	for _, j := range []string{"a@example.org", "b@example.org", "c@example.org"} {
		c.AddRosterContact("acc1", j)
	}
	c.AddMetacontact("acc1", "a@example.org", "acc1", "b@example.org", 0, false)

	// Must complete without blocking the loop; interleave stanza work.
	c.RecalibrateAll()
	if !c.HandleStanza(incoming("mid-scan", "m1")) {
		t.Fatal("stanza lost during scan")
	}

	// Give the self-enqueued batches a moment to drain.
	deadline := time.After(2 * time.Second)
	for {
		var idle bool
		c.do(func() { idle = len(c.tasks) == 0 })
		if idle {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scan never drained")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
