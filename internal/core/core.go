// Package core assembles the conversation engine and serializes every
// mutation onto one dispatch loop. Identity, logs, sessions and routing are
// lock-free because nothing touches them off this loop.
package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"chatcore/internal/config"
	"chatcore/internal/conversation"
	"chatcore/internal/events"
	"chatcore/internal/identity"
	"chatcore/internal/routing"
	"chatcore/internal/session"
	"chatcore/internal/transport"
	chaterrors "chatcore/pkg/errors"
	"chatcore/pkg/logger"
)

type Core struct {
	cfg *config.Config
	log *logger.Logger

	bus      *events.Registry
	registry *identity.Registry
	meta     *identity.MetaManager
	roster   *identity.Roster
	table    *routing.Table
	mailbox  *routing.Mailbox
	sessions *session.Manager

	tasks     chan func()
	stopChan  chan struct{}
	stopOnce  sync.Once
	isRunning int32
}

func New(cfg *config.Config, arch session.Archiver, sender transport.Sender, l *logger.Logger) *Core {
	bus := events.NewRegistry()
	registry := identity.NewRegistry(l)
	meta := identity.NewMetaManager(registry, cfg.MergeAccounts)
	roster := identity.NewRoster(registry, meta, bus, l)
	table := routing.NewTable(cfg.WindowMode, nil, l)
	mailbox := routing.NewMailbox(bus)

	return &Core{
		cfg:      cfg,
		log:      l.Named("core"),
		bus:      bus,
		registry: registry,
		meta:     meta,
		roster:   roster,
		table:    table,
		mailbox:  mailbox,
		sessions: session.NewManager(session.Deps{
			Registry: registry,
			Meta:     meta,
			Roster:   roster,
			Table:    table,
			Mailbox:  mailbox,
			Archive:  arch,
			Config:   cfg,
			Bus:      bus,
			Sender:   sender,
			Log:      l,
		}),
		tasks:    make(chan func(), 256),
		stopChan: make(chan struct{}),
	}
}

// Run is the dispatch loop. It returns after Stop, once queued work has
// drained.
func (c *Core) Run() {
	atomic.StoreInt32(&c.isRunning, 1)
	defer atomic.StoreInt32(&c.isRunning, 0)

	for {
		select {
		case fn := <-c.tasks:
			fn()
		case <-c.stopChan:
			for {
				select {
				case fn := <-c.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Stop shuts the loop down. Safe to call more than once.
func (c *Core) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// do runs fn on the loop and waits for it.
func (c *Core) do(fn func()) {
	done := make(chan struct{})
	select {
	case c.tasks <- func() { fn(); close(done) }:
	case <-c.stopChan:
		return
	}
	select {
	case <-done:
	case <-c.stopChan:
	}
}

// enqueue submits fn without waiting. Used from inside the loop to yield
// between work batches.
func (c *Core) enqueue(fn func()) {
	select {
	case c.tasks <- fn:
	default:
		go func() {
			select {
			case c.tasks <- fn:
			case <-c.stopChan:
			}
		}()
	}
}

// Bus exposes the event registry for read-only consumers such as the
// bridge stream and the redis mirror.
func (c *Core) Bus() *events.Registry { return c.bus }

// Mode returns the configured windowing policy.
func (c *Core) Mode() config.WindowMode { return c.cfg.WindowMode }

// AddAccount registers an account on the loop.
func (c *Core) AddAccount(account, hostname string) {
	c.do(func() { c.registry.AddAccount(account, hostname) })
}

// UpdateContact applies a presence/roster update and recalibrates the
// contact's metacontact family.
func (c *Core) UpdateContact(account string, contact *identity.Contact) {
	c.do(func() {
		c.registry.AddContact(account, contact)
		if family := c.meta.Family(account, contact.JID); len(family) > 1 {
			c.roster.RecalibrateFamily(family, account)
		}
	})
}

// AddRosterContact adds a contact row (and its family) to the roster.
func (c *Core) AddRosterContact(account, jid string) {
	c.do(func() { c.roster.AddContact(account, jid) })
}

// AddMetacontact links jid under the brother's family tag.
func (c *Core) AddMetacontact(brotherAccount, brotherJID, account, jid string, order int, hasOrder bool) {
	c.do(func() {
		c.meta.AddMetacontact(brotherAccount, brotherJID, account, jid, order, hasOrder)
		c.roster.RemoveContact(account, jid)
		c.roster.AddContact(account, jid)
	})
}

// HandleStanza routes one inbound stanza and reports whether it raised a
// pending event.
func (c *Core) HandleStanza(st transport.InboundStanza) bool {
	var raised bool
	c.do(func() { _, raised = c.sessions.HandleIncoming(st) })
	return raised
}

// OpenConversation materializes a control for the conversation and drains
// its pending events into the log: opening the window is reading it.
func (c *Core) OpenConversation(account, jid string, typ transport.MessageType) {
	c.do(func() {
		s := c.sessions.GetOrCreate(account, jid, "", typ)
		ctrl := c.sessions.OpenControl(s)
		pending := c.mailbox.GetEvents(account, jid)
		for _, ev := range pending {
			if ctrl.Log.FindByMessageID(ev.MessageID) != nil {
				continue
			}
			ctrl.Log.Add(conversation.Message{
				Text:      ev.Text,
				Kind:      conversation.KindIncoming,
				Name:      ev.Resource,
				Timestamp: ev.Timestamp,
				MessageID: ev.MessageID,
				CorrectID: ev.CorrectID,
				Subject:   ev.Subject,
				LogID:     ev.LogID,
			})
		}
		if len(pending) > 0 {
			c.mailbox.RemoveEvents(account, jid)
		}
	})
}

// SendMessage delivers text on the conversation's session, creating the
// session when this is the first exchange.
func (c *Core) SendMessage(account, jid string, typ transport.MessageType, text string) error {
	var err error
	c.do(func() {
		s := c.sessions.GetOrCreate(account, jid, "", typ)
		err = s.Send(text)
	})
	return err
}

// LoadHistory pages older archive rows into the conversation's log.
func (c *Core) LoadHistory(account, jid string, n int) (int, error) {
	var loaded int
	var err error
	c.do(func() {
		s := c.sessions.Get(account, jid, "")
		if s == nil {
			err = fmt.Errorf("conversation %s/%s: %w", account, jid, chaterrors.ErrNotFound)
			return
		}
		loaded, err = s.LoadHistory(n)
	})
	return loaded, err
}

// CloseConversation asks the conversation's window to close and reports the
// sessions' collective answer.
func (c *Core) CloseConversation(account, jid string, typ transport.MessageType) routing.CloseDecision {
	decision := routing.CloseProceed
	c.do(func() {
		key := c.table.KeyFor(account, jid, "", typ)
		decision = c.table.CloseWindow(key)
	})
	return decision
}

// PendingEvents snapshots the mailbox for one conversation.
func (c *Core) PendingEvents(account, jid string, types ...string) []*routing.ChatEvent {
	var out []*routing.ChatEvent
	c.do(func() { out = c.mailbox.GetEvents(account, jid, types...) })
	return out
}

// PendingCount reports how many events are queued for an account.
func (c *Core) PendingCount(account string) int {
	var n int
	c.do(func() { n = c.mailbox.CountAccount(account) })
	return n
}

// ChangeConversationJID rebinds a conversation end to end, typically after
// a MUC nickname reassignment.
func (c *Core) ChangeConversationJID(account, oldJID, newJID string) {
	c.do(func() { c.sessions.ChangeJID(account, oldJID, newJID) })
}

// RecalibrateAll re-elects every metacontact family, one contact batch per
// loop turn so stanza handling interleaves with the scan.
func (c *Core) RecalibrateAll() {
	c.do(func() {
		c.recalibrateStep(c.registry.Scanner(c.cfg.ScanBatchSize))
	})
}

func (c *Core) recalibrateStep(scanner *identity.BatchScanner) {
	batch, ok := scanner.Next()
	if !ok {
		return
	}
	for _, item := range batch {
		if family := c.meta.Family(item.Account, item.JID); len(family) > 1 {
			c.roster.RecalibrateFamily(family, item.Account)
		}
	}
	c.enqueue(func() { c.recalibrateStep(scanner) })
}
