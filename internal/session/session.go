// Package session holds the per-conversation state machine: thread
// continuity, the archive/event decision for every incoming stanza, and the
// binding between a conversation and its display control.
package session

import (
	"math/rand"
	"time"

	"mellium.im/xmpp/jid"

	"chatcore/internal/archive"
	"chatcore/internal/conversation"
	"chatcore/internal/identity"
	"chatcore/internal/routing"
	"chatcore/internal/transport"
	"chatcore/pkg/logger"
)

// Archiver is the slice of the sqlite archive the session layer needs.
type Archiver interface {
	Insert(rec archive.Record) (string, error)
	MarkRead(account, jid string) error
	HistoryPage(account, jid string, before time.Time, limit int) ([]archive.Record, error)
}

// Session is one (account, jid, thread) conversation.
type Session struct {
	Account string
	JID     string // bare JID, or full JID for MUC private chats
	Type    transport.MessageType

	ThreadID string
	// ReceivedThreadID is set when the thread id was taken from a peer
	// stanza rather than generated locally.
	ReceivedThreadID bool

	resource    string
	lastSend    time.Time
	lastReceive time.Time
	draft       string

	contact *identity.Contact
	control *routing.Control
	recall  *RecallRing

	mgr *Manager
	log *logger.Logger
}

const threadIDLength = 32

var threadLetters = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

// newThreadID returns 32 random ASCII letters. Collisions are accepted as
// negligible; this is not a secret.
func newThreadID(rng *rand.Rand) string {
	buf := make([]byte, threadIDLength)
	for i := range buf {
		buf[i] = threadLetters[rng.Intn(len(threadLetters))]
	}
	return string(buf)
}

// Resource returns the peer resource the session is currently pinned to.
func (s *Session) Resource() string { return s.resource }

// LastSend returns when we last sent a message on this session.
func (s *Session) LastSend() time.Time { return s.lastSend }

// LastReceive returns when the peer last sent a message on this session.
func (s *Session) LastReceive() time.Time { return s.lastReceive }

// Contact returns the resolved roster contact for the peer.
func (s *Session) Contact() *identity.Contact { return s.contact }

// Control returns the bound display control, or nil.
func (s *Session) Control() *routing.Control { return s.control }

// Recall returns the session's typed-message recall ring.
func (s *Session) Recall() *RecallRing { return s.recall }

// SetDraft stores unsent input; a non-empty draft turns window close
// requests into minimize.
func (s *Session) SetDraft(text string) { s.draft = text }

// AllowShutdown implements routing.SessionRef.
func (s *Session) AllowShutdown() routing.CloseDecision {
	if s.draft != "" {
		return routing.CloseMinimize
	}
	return routing.CloseProceed
}

// SetResource implements routing.SessionRef.
func (s *Session) SetResource(resource string) {
	s.resource = resource
}

// Loggable reports whether this conversation is archived. Delivery is
// unaffected either way.
func (s *Session) Loggable() bool {
	// The conversation JID of a groupchat private chat is a full JID;
	// the do-not-log list holds bare JIDs.
	bare := s.JID
	if j, err := jid.Parse(s.JID); err == nil {
		bare = j.Bare().String()
	}
	return !s.mgr.cfg.NoLog(s.Account, bare)
}

// BindControl attaches a display control and registers the session as its
// shutdown authority.
func (s *Session) BindControl(ctrl *routing.Control) {
	ctrl.Session = s
	ctrl.Resource = s.resource
	s.control = ctrl
}

// UnbindControl detaches the display control without touching session state.
func (s *Session) UnbindControl() {
	if s.control != nil {
		s.control.Session = nil
		s.control = nil
	}
}

// HandleIncoming applies one inbound stanza to the session and reports
// whether a pending event was raised for it.
func (s *Session) HandleIncoming(st transport.InboundStanza) bool {
	s.updateResource(st)

	if st.Marker == transport.MarkerDisplayed && st.MarkerID != "" && s.control != nil {
		s.control.Log.SetReadMarker(st.MarkerID)
	}

	// Chatstate-only stanzas never become events and are never archived.
	if st.Text == "" && st.Subject == "" {
		return false
	}

	ts := st.Timestamp
	if ts.IsZero() {
		ts = s.mgr.clock.Now()
	}
	s.lastReceive = ts

	kind := archive.KindIncoming
	if st.IsCarbonCopy {
		kind = archive.KindOutgoing
	}
	logID := s.archiveStanza(st, kind, ts)

	switch {
	case s.control != nil && s.control.Focused:
		s.appendToControl(st, conversation.KindIncoming, ts, logID)
		s.markRead()
		return false

	case st.IsCarbonCopy:
		// Our own message echoed from another device: everything already
		// pending for this peer is implicitly read.
		if s.control != nil {
			s.appendToControl(st, conversation.KindOutgoing, ts, logID)
		}
		s.mgr.mailbox.RemoveEvents(s.Account, s.JID)
		s.markRead()
		return false

	default:
		if s.control != nil {
			s.appendToControl(st, conversation.KindIncomingQueue, ts, logID)
		}
		s.mgr.mailbox.AddEvent(s.Account, s.JID, &routing.ChatEvent{
			Account:   s.Account,
			JID:       s.JID,
			Type:      string(st.Type),
			Text:      st.Text,
			Subject:   st.Subject,
			Timestamp: ts,
			Resource:  st.Resource,
			LogID:     logID,
			MessageID: st.MessageID,
			CorrectID: st.CorrectID,
		})
		return true
	}
}

// Send delivers text to the peer, stamps the thread id, archives the copy
// and mirrors it into the bound control.
func (s *Session) Send(text string) error {
	now := s.mgr.clock.Now()
	msgID := s.mgr.newMessageID()
	err := s.mgr.sender.Send(s.Account, transport.OutgoingMessage{
		JID:      s.peerJID(),
		Type:     s.Type,
		ThreadID: s.ThreadID,
		Text:     text,
	})
	if err != nil {
		return err
	}
	s.lastSend = now
	s.draft = ""
	s.recall.Push(text)

	logID := ""
	if s.Loggable() && s.mgr.archive != nil {
		logID, _ = s.mgr.archive.Insert(archive.Record{
			Account:   s.Account,
			JID:       s.JID,
			Kind:      archive.KindOutgoing,
			Type:      string(s.Type),
			Text:      text,
			MessageID: msgID,
			Timestamp: now,
			Read:      true,
		})
	}
	if s.control != nil {
		s.control.Log.Add(conversation.Message{
			Text:      text,
			Kind:      conversation.KindOutgoing,
			Name:      s.Account,
			Timestamp: now,
			MessageID: msgID,
			LogID:     logID,
		})
	}
	return nil
}

// LoadHistory pulls up to n archive rows older than the log's first message
// and splices them in as history. It returns how many rows were loaded.
func (s *Session) LoadHistory(n int) (int, error) {
	if s.control == nil || s.mgr.archive == nil {
		return 0, nil
	}
	before := s.control.Log.FirstMessageTimestamp()
	if before.IsZero() {
		before = s.mgr.clock.Now()
	}
	page, err := s.mgr.archive.HistoryPage(s.Account, s.JID, before, n)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, rec := range page {
		kind := conversation.KindIncoming
		name := s.displayName(rec.Resource)
		if rec.Kind == archive.KindOutgoing {
			kind = conversation.KindOutgoing
			name = rec.Account
		}
		res := s.control.Log.AddHistory(conversation.Message{
			Text:      rec.Text,
			Kind:      kind,
			Name:      name,
			Timestamp: rec.Timestamp,
			MessageID: rec.MessageID,
			Subject:   rec.Subject,
			LogID:     rec.LogID,
		})
		if res == conversation.Inserted || res == conversation.InsertedOutOfOrder {
			loaded++
		}
	}
	return loaded, nil
}

// updateResource pins the session to the stanza's resource, rebinding the
// control and the roster representation in place rather than recreating
// them.
func (s *Session) updateResource(st transport.InboundStanza) {
	if st.Resource == "" || st.Resource == s.resource {
		return
	}
	s.resource = st.Resource
	s.contact = s.mgr.registry.ResolveForStanza(s.Account, st.Bare(), st.Resource, st.Nickname)
	if s.control != nil {
		s.control.Resource = st.Resource
	}
	if s.mgr.meta != nil && s.mgr.roster != nil {
		if family := s.mgr.meta.Family(s.Account, st.Bare()); len(family) > 1 {
			s.mgr.roster.RecalibrateFamily(family, s.Account)
		}
	}
	s.log.Debugf("session %s/%s repinned to resource %s", s.Account, s.JID, st.Resource)
}

func (s *Session) archiveStanza(st transport.InboundStanza, kind string, ts time.Time) string {
	if !s.Loggable() || s.mgr.archive == nil {
		return ""
	}
	logID, err := s.mgr.archive.Insert(archive.Record{
		Account:   s.Account,
		JID:       s.JID,
		Resource:  st.Resource,
		Kind:      kind,
		Type:      string(st.Type),
		Text:      st.Text,
		Subject:   st.Subject,
		MessageID: st.MessageID,
		Timestamp: ts,
		Read:      kind == archive.KindOutgoing,
	})
	if err != nil {
		s.log.Errorf("archive write failed for %s/%s: %v", s.Account, s.JID, err)
		return ""
	}
	return logID
}

func (s *Session) appendToControl(st transport.InboundStanza, kind conversation.Kind, ts time.Time, logID string) {
	s.control.Log.Add(conversation.Message{
		Text:      st.Text,
		Kind:      kind,
		Name:      s.displayName(st.Resource),
		Timestamp: ts,
		MessageID: st.MessageID,
		CorrectID: st.CorrectID,
		Subject:   st.Subject,
		LogID:     logID,
		Displayed: st.Marker == transport.MarkerDisplayed,
	})
	if win := s.mgr.table.GetWindow(s.control.JID, s.Account); win != nil {
		win.SetLastMessageTime(s.Account, s.control.JID, ts)
	}
}

func (s *Session) markRead() {
	if s.Loggable() && s.mgr.archive != nil {
		if err := s.mgr.archive.MarkRead(s.Account, s.JID); err != nil {
			s.log.Errorf("archive mark-read failed for %s/%s: %v", s.Account, s.JID, err)
		}
	}
}

func (s *Session) displayName(resource string) string {
	if s.contact != nil && s.contact.Name != "" {
		return s.contact.Name
	}
	if s.Type == transport.TypePM && resource != "" {
		return resource
	}
	return s.JID
}

// peerJID is the delivery address: the pinned full JID when one is known,
// the bare JID otherwise.
func (s *Session) peerJID() jid.JID {
	full := s.JID
	if s.contact != nil && s.contact.Resource != "" {
		full = s.contact.FullJID()
	}
	j, err := jid.Parse(full)
	if err != nil {
		j, _ = jid.Parse(s.JID)
	}
	return j
}
