// Package transport defines the boundary types exchanged with the XMPP wire
// layer. The core never parses XML; it consumes stanzas already decoded into
// these structs and hands outgoing messages back through the Sender interface.
package transport

import (
	"time"

	"mellium.im/xmpp/jid"
)

// MessageType is the subset of XMPP message types the core routes.
type MessageType string

const (
	TypeChat      MessageType = "chat"
	TypeNormal    MessageType = "normal"
	TypeGroupchat MessageType = "groupchat"
	TypePM        MessageType = "pm"
)

// Marker is a chat marker carried on an inbound stanza.
type Marker string

const (
	MarkerNone      Marker = ""
	MarkerReceived  Marker = "received"
	MarkerDisplayed Marker = "displayed"
)

// InboundStanza is one decoded incoming message stanza.
type InboundStanza struct {
	Account   string
	JID       jid.JID // bare JID of the peer
	Resource  string
	Type      MessageType
	ThreadID  string
	MessageID string
	CorrectID string
	Timestamp time.Time
	Text      string
	Subject   string
	Nickname  string

	// IsCarbonCopy marks an echoed copy of a message we sent from
	// another device.
	IsCarbonCopy bool
	IsMUCPM      bool

	Marker Marker
	// MarkerID is the message id a displayed/received marker refers to.
	MarkerID string
}

// Bare returns the peer's bare JID as a string.
func (s InboundStanza) Bare() string {
	return s.JID.Bare().String()
}

// Full returns the full JID string, or the bare JID when the stanza carries
// no resource.
func (s InboundStanza) Full() string {
	if s.Resource == "" {
		return s.Bare()
	}
	return s.Bare() + "/" + s.Resource
}

// OutgoingMessage is handed to the wire layer for delivery.
type OutgoingMessage struct {
	JID       jid.JID
	Type      MessageType
	ThreadID  string
	Text      string
	XHTML     string
	CorrectID string
	Label     string
}

// Sender delivers outgoing messages to the wire transport.
type Sender interface {
	Send(account string, msg OutgoingMessage) error
}

// Clock abstracts time for components that stamp rows.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
