package routing

import (
	"time"

	"chatcore/internal/events"
)

// ChatEvent is one pending notification: an inbound message that arrived
// with no open control to display it. It carries enough data to materialize
// a control later.
type ChatEvent struct {
	Account   string    `json:"account"`
	JID       string    `json:"jid"` // full JID when the resource matters
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Subject   string    `json:"subject,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Resource  string    `json:"resource,omitempty"`
	LogID     string    `json:"log_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	CorrectID string    `json:"correct_id,omitempty"`
}

func (e *ChatEvent) EventAccount() string { return e.Account }
func (e *ChatEvent) EventJID() string     { return e.JID }

// Mailbox queues pending events per (account, jid) until a control consumes
// them. Removal is idempotent.
type Mailbox struct {
	bus    *events.Registry
	queues map[string]map[string][]*ChatEvent
}

func NewMailbox(bus *events.Registry) *Mailbox {
	return &Mailbox{
		bus:    bus,
		queues: make(map[string]map[string][]*ChatEvent),
	}
}

// AddEvent queues an event and notifies badge listeners.
func (m *Mailbox) AddEvent(account, jid string, event *ChatEvent) {
	if m.queues[account] == nil {
		m.queues[account] = make(map[string][]*ChatEvent)
	}
	m.queues[account][jid] = append(m.queues[account][jid], event)
	m.bus.Publish(events.TopicEventAdded, event)
}

// GetEvents returns the queued events for (account, jid), optionally
// filtered by type.
func (m *Mailbox) GetEvents(account, jid string, types ...string) []*ChatEvent {
	queue := m.queues[account][jid]
	if len(types) == 0 {
		return append([]*ChatEvent(nil), queue...)
	}
	var out []*ChatEvent
	for _, ev := range queue {
		for _, t := range types {
			if ev.Type == t {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

// RemoveEvents drops queued events for (account, jid), optionally filtered
// by type. Removing from an empty queue is a no-op.
func (m *Mailbox) RemoveEvents(account, jid string, types ...string) {
	queue := m.queues[account][jid]
	if len(queue) == 0 {
		return
	}
	var kept []*ChatEvent
	var removed []*ChatEvent
	for _, ev := range queue {
		if len(types) == 0 || matchesType(ev, types) {
			removed = append(removed, ev)
		} else {
			kept = append(kept, ev)
		}
	}
	if len(removed) == 0 {
		return
	}
	if len(kept) == 0 {
		delete(m.queues[account], jid)
	} else {
		m.queues[account][jid] = kept
	}
	for _, ev := range removed {
		m.bus.Publish(events.TopicEventRemoved, ev)
	}
}

func matchesType(ev *ChatEvent, types []string) bool {
	for _, t := range types {
		if ev.Type == t {
			return true
		}
	}
	return false
}

// ChangeJID moves a queue under a new jid key, used on rebind.
func (m *Mailbox) ChangeJID(account, oldJID, newJID string) {
	queue := m.queues[account][oldJID]
	if len(queue) == 0 {
		return
	}
	delete(m.queues[account], oldJID)
	if m.queues[account] == nil {
		m.queues[account] = make(map[string][]*ChatEvent)
	}
	for _, ev := range queue {
		ev.JID = newJID
	}
	m.queues[account][newJID] = append(m.queues[account][newJID], queue...)
}

// Count returns the number of pending events for (account, jid).
func (m *Mailbox) Count(account, jid string) int {
	return len(m.queues[account][jid])
}

// CountAccount returns the number of pending events for an account.
func (m *Mailbox) CountAccount(account string) int {
	total := 0
	for _, queue := range m.queues[account] {
		total += len(queue)
	}
	return total
}
