package session

import (
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/config"
	"chatcore/internal/conversation"
	"chatcore/internal/events"
	"chatcore/internal/identity"
	"chatcore/internal/routing"
	"chatcore/internal/transport"
	"chatcore/pkg/logger"
)

// Deps bundles everything the session layer talks to.
type Deps struct {
	Registry *identity.Registry
	Meta     *identity.MetaManager
	Roster   *identity.Roster
	Table    *routing.Table
	Mailbox  *routing.Mailbox
	Archive  Archiver
	Config   *config.Config
	Bus      *events.Registry
	Sender   transport.Sender
	Clock    transport.Clock
	Log      *logger.Logger
}

// Manager owns every live session, keyed by account and conversation JID.
// One JID can carry several sessions when the peer runs parallel threads.
type Manager struct {
	registry *identity.Registry
	meta     *identity.MetaManager
	roster   *identity.Roster
	table    *routing.Table
	mailbox  *routing.Mailbox
	archive  Archiver
	cfg      *config.Config
	bus      *events.Registry
	sender   transport.Sender
	clock    transport.Clock
	rng      *rand.Rand
	log      *logger.Logger

	// account -> conversation jid -> sessions
	sessions map[string]map[string][]*Session
}

func NewManager(d Deps) *Manager {
	if d.Clock == nil {
		d.Clock = transport.SystemClock{}
	}
	return &Manager{
		registry: d.Registry,
		meta:     d.Meta,
		roster:   d.Roster,
		table:    d.Table,
		mailbox:  d.Mailbox,
		archive:  d.Archive,
		cfg:      d.Config,
		bus:      d.Bus,
		sender:   d.Sender,
		clock:    d.Clock,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      d.Log.Named("session"),
		sessions: make(map[string]map[string][]*Session),
	}
}

func (m *Manager) newMessageID() string {
	return uuid.NewString()
}

// New creates a session. A non-empty threadID is reused verbatim as a
// peer-initiated thread; otherwise chat-type sessions get a fresh random
// thread id and normal-type sessions carry none.
func (m *Manager) New(account, convJID, threadID string, typ transport.MessageType) *Session {
	s := &Session{
		Account: account,
		JID:     convJID,
		Type:    typ,
		mgr:     m,
		recall:  NewRecallRing(m.cfg.KeyUpLines),
		log:     m.log,
	}
	if threadID != "" {
		s.ThreadID = threadID
		s.ReceivedThreadID = true
	} else if typ == transport.TypeChat || typ == transport.TypePM {
		s.ThreadID = newThreadID(m.rng)
	}

	bare, resource := splitConversationJID(convJID)
	s.resource = resource
	s.contact = m.registry.ResolveForStanza(account, bare, resource, "")

	if m.sessions[account] == nil {
		m.sessions[account] = make(map[string][]*Session)
	}
	m.sessions[account][convJID] = append(m.sessions[account][convJID], s)
	m.log.Debugf("new %s session %s/%s thread=%q", typ, account, convJID, s.ThreadID)
	return s
}

// Get returns the session matching a thread id, or with an empty threadID
// the first session of the conversation. Nil when nothing matches.
func (m *Manager) Get(account, convJID, threadID string) *Session {
	list := m.sessions[account][convJID]
	if threadID == "" {
		if len(list) > 0 {
			return list[0]
		}
		return nil
	}
	for _, s := range list {
		if s.ThreadID == threadID {
			return s
		}
	}
	return nil
}

// GetOrCreate continues an existing session where thread semantics allow it.
// A peer thread id is adopted onto a locally started session rather than
// forking a second conversation.
func (m *Manager) GetOrCreate(account, convJID, threadID string, typ transport.MessageType) *Session {
	list := m.sessions[account][convJID]
	if threadID != "" {
		for _, s := range list {
			if s.ThreadID == threadID {
				return s
			}
		}
	}
	for _, s := range list {
		if !s.ReceivedThreadID {
			if threadID != "" {
				s.ThreadID = threadID
				s.ReceivedThreadID = true
			}
			return s
		}
	}
	return m.New(account, convJID, threadID, typ)
}

// Remove drops a session, detaching its control first.
func (m *Manager) Remove(s *Session) {
	s.UnbindControl()
	list := m.sessions[s.Account][s.JID]
	for i, cur := range list {
		if cur == s {
			m.sessions[s.Account][s.JID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(m.sessions[s.Account][s.JID]) == 0 {
		delete(m.sessions[s.Account], s.JID)
	}
}

// SessionsFor returns the live sessions of one conversation.
func (m *Manager) SessionsFor(account, convJID string) []*Session {
	return append([]*Session(nil), m.sessions[account][convJID]...)
}

// HandleIncoming routes one inbound stanza to its session, creating the
// session on first contact. MUC private chats are keyed by full JID so
// every occupant gets its own conversation. It returns the session and
// whether a pending event was raised.
func (m *Manager) HandleIncoming(st transport.InboundStanza) (*Session, bool) {
	convJID := st.Bare()
	typ := st.Type
	if st.IsMUCPM {
		convJID = st.Full()
		typ = transport.TypePM
	}
	s := m.GetOrCreate(st.Account, convJID, st.ThreadID, typ)
	raised := s.HandleIncoming(st)
	return s, raised
}

// OpenControl materializes a display control for the session: a fresh
// ordered log bound into the routed window.
func (m *Manager) OpenControl(s *Session) *routing.Control {
	if s.control != nil {
		return s.control
	}
	// MUC private chats already carry the occupant resource in s.JID, so
	// the routing key never needs a separate resource component.
	win := m.table.GetOrCreate(s.Account, s.JID, "", s.Type)
	ctrl := &routing.Control{
		Account:  s.Account,
		JID:      s.JID,
		Resource: s.resource,
		Type:     s.Type,
		Log: conversation.NewLog(s.Account, s.JID,
			s.Type == transport.TypeGroupchat, m.cfg.MaxRows, m.bus, m.log),
	}
	s.BindControl(ctrl)
	win.AddControl(ctrl)
	return ctrl
}

// ChangeJID rebinds a whole conversation to a new JID: sessions, pending
// events, roster contact and routed window move together.
func (m *Manager) ChangeJID(account, oldJID, newJID string) {
	if list, ok := m.sessions[account][oldJID]; ok {
		for _, s := range list {
			s.JID = newJID
		}
		delete(m.sessions[account], oldJID)
		m.sessions[account][newJID] = append(m.sessions[account][newJID], list...)
	}
	m.mailbox.ChangeJID(account, oldJID, newJID)
	m.registry.ChangeContactJID(oldJID, newJID, account)
	m.table.ChangeKey(oldJID, newJID, account)
}

func splitConversationJID(convJID string) (bare, resource string) {
	if i := strings.IndexByte(convJID, '/'); i >= 0 {
		return convJID[:i], convJID[i+1:]
	}
	return convJID, ""
}
