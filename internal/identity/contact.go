// Package identity resolves inbound and outbound addresses to canonical
// contacts: highest-priority resource selection, metacontact families and
// big-brother election, and the roster display model built from them.
package identity

import "strings"

// Show is a contact's presence show state.
type Show string

const (
	ShowNotInRoster Show = "not in roster"
	ShowError       Show = "error"
	ShowOffline     Show = "offline"
	ShowInvisible   Show = "invisible"
	ShowDND         Show = "dnd"
	ShowXA          Show = "xa"
	ShowAway        Show = "away"
	ShowChat        Show = "chat"
	ShowOnline      Show = "online"
	ShowRequested   Show = "requested"
	ShowMessage     Show = "message"
)

var showRanks = map[Show]int{
	ShowNotInRoster: 0,
	ShowError:       1,
	ShowOffline:     2,
	ShowInvisible:   3,
	ShowDND:         4,
	ShowXA:          5,
	ShowAway:        6,
	ShowChat:        7,
	ShowOnline:      8,
	ShowRequested:   9,
	ShowMessage:     10,
}

// Rank returns the ordering rank of a show state; unknown states rank lowest.
func (s Show) Rank() int {
	return showRanks[s]
}

// IsOffline reports whether the show state counts as offline for
// big-brother election.
func (s Show) IsOffline() bool {
	return s.Rank() < showRanks[ShowInvisible]
}

// Contact is one (bare JID, resource) entry of an account's roster.
type Contact struct {
	JID      string // bare JID, or room JID for groupchat contacts
	Resource string
	Priority int
	Show     Show
	Status   string
	Name     string
	Groups   []string

	// Transient marks a synthesized "not in contact list" entry that must
	// never be persisted to the roster.
	Transient bool
}

// FullJID returns jid/resource, or the bare JID when no resource is set.
func (c *Contact) FullJID() string {
	if c.Resource == "" {
		return c.JID
	}
	return c.JID + "/" + c.Resource
}

// Copy returns a shallow copy with its own groups slice.
func (c *Contact) Copy() *Contact {
	clone := *c
	clone.Groups = append([]string(nil), c.Groups...)
	return &clone
}

// ContactKey identifies one contact for routing purposes.
type ContactKey struct {
	Account  string
	JID      string
	Resource string
}

// IsTransport reports whether a bare JID addresses a gateway component
// (no localpart).
func IsTransport(bareJID string) bool {
	return !strings.Contains(bareJID, "@")
}

// ServerOf returns the domain part of a bare JID.
func ServerOf(bareJID string) string {
	if idx := strings.IndexByte(bareJID, '@'); idx >= 0 {
		return bareJID[idx+1:]
	}
	return bareJID
}
