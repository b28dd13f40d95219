package identity

import (
	"chatcore/internal/events"
	"chatcore/pkg/logger"
)

type rosterKey struct {
	account string
	jid     string
}

// RosterRow is one display entry: either a top-level contact or a family
// member shown under its big brother.
type RosterRow struct {
	Account       string
	JID           string
	ParentAccount string
	ParentJID     string
}

// TopLevel reports whether the row has no big brother above it.
func (r *RosterRow) TopLevel() bool {
	return r.ParentJID == ""
}

// RosterChange is the payload published on roster.changed.
type RosterChange struct {
	Account string `json:"account"`
	JID     string `json:"jid"`
	Action  string `json:"action"` // added | removed
}

func (c RosterChange) EventAccount() string { return c.Account }
func (c RosterChange) EventJID() string     { return c.JID }

// Roster is the display-structure model: which contact rows exist and which
// member sits on top of each metacontact family. Family updates always do a
// full remove-then-reinsert so a deposed big brother can never linger as a
// top-level row.
type Roster struct {
	registry *Registry
	meta     *MetaManager
	bus      *events.Registry
	log      *logger.Logger
	rows     map[rosterKey]*RosterRow
}

func NewRoster(registry *Registry, meta *MetaManager, bus *events.Registry, log *logger.Logger) *Roster {
	return &Roster{
		registry: registry,
		meta:     meta,
		bus:      bus,
		log:      log.Named("roster"),
		rows:     make(map[rosterKey]*RosterRow),
	}
}

// Row returns the display row for (account, jid), or nil.
func (r *Roster) Row(account, jid string) *RosterRow {
	return r.rows[rosterKey{account, jid}]
}

// AddContact inserts the display row(s) for a contact. A family member
// triggers a full family reinsert.
func (r *Roster) AddContact(account, jid string) {
	family := r.meta.Family(account, jid)
	if family == nil {
		r.addEntity(account, jid, "", "")
		return
	}
	r.removeFamily(family, account)
	r.addFamily(family, account)
}

// RemoveContact removes the display row(s) for a contact. Removing a family
// member reinserts the remainder of the family so a new big brother is
// elected.
func (r *Roster) RemoveContact(account, jid string) {
	family := r.meta.Family(account, jid)
	if family == nil {
		r.removeEntity(account, jid)
		r.reinsertChildren(account, jid)
		return
	}
	r.removeFamily(family, account)
	rest := make(Family, 0, len(family))
	for _, member := range family {
		if member.Account == account && member.JID == jid {
			continue
		}
		rest = append(rest, member)
	}
	if len(rest) > 0 {
		r.addFamily(rest, account)
	}
}

// reinsertChildren rebuilds rows that were displayed under a removed top
// row. Happens when a member was untagged before its row went away, so the
// family lookup no longer covers the old siblings.
func (r *Roster) reinsertChildren(account, jid string) {
	var children []rosterKey
	for key, row := range r.rows {
		if row.ParentAccount == account && row.ParentJID == jid {
			children = append(children, key)
		}
	}
	for _, key := range children {
		r.removeEntity(key.account, key.jid)
	}
	for _, key := range children {
		r.AddContact(key.account, key.jid)
	}
}

// RecalibrateFamily re-elects the family's big brother and, if the current
// top row is no longer the winner, atomically rebuilds the whole family
// display. Incremental patching is deliberately not attempted.
func (r *Roster) RecalibrateFamily(family Family, account string) {
	_, bb, ok := r.meta.NearbyFamilyAndBigBrother(family, account)
	if !ok {
		return
	}
	row := r.Row(bb.Account, bb.JID)
	if row == nil || row.TopLevel() {
		return
	}
	// The elected member is currently displayed under somebody else.
	r.removeFamily(family, account)
	r.addFamily(family, account)
}

// addFamily inserts the big brother first and every other nearby member
// under it. Returns the inserted rows, big brother first.
func (r *Roster) addFamily(family Family, account string) []*RosterRow {
	nearby, bb, ok := r.meta.NearbyFamilyAndBigBrother(family, account)
	if !ok {
		return nil
	}
	inserted := []*RosterRow{r.addEntity(bb.Account, bb.JID, "", "")}
	for _, member := range nearby {
		if member.Account == bb.Account && member.JID == bb.JID {
			continue
		}
		if r.registry.FirstContact(member.Account, member.JID) == nil {
			// Corresponding account is not connected.
			continue
		}
		inserted = append(inserted,
			r.addEntity(member.Account, member.JID, bb.Account, bb.JID))
	}
	return inserted
}

// removeFamily removes children first, then the old top row, whichever
// member that happens to be.
func (r *Roster) removeFamily(family Family, account string) {
	nearby := r.meta.NearbyFamily(family, account)
	var topAccount, topJID string
	for _, member := range nearby {
		row := r.Row(member.Account, member.JID)
		if row == nil {
			// Family might not be up to date; only remove what is
			// actually displayed.
			continue
		}
		if row.TopLevel() {
			topAccount, topJID = member.Account, member.JID
			continue
		}
		r.removeEntity(member.Account, member.JID)
	}
	if topJID != "" {
		r.removeEntity(topAccount, topJID)
	}
}

func (r *Roster) addEntity(account, jid, parentAccount, parentJID string) *RosterRow {
	row := &RosterRow{
		Account:       account,
		JID:           jid,
		ParentAccount: parentAccount,
		ParentJID:     parentJID,
	}
	r.rows[rosterKey{account, jid}] = row
	r.bus.Publish(events.TopicRosterChanged,
		RosterChange{Account: account, JID: jid, Action: "added"})
	return row
}

func (r *Roster) removeEntity(account, jid string) {
	if _, ok := r.rows[rosterKey{account, jid}]; !ok {
		return
	}
	delete(r.rows, rosterKey{account, jid})
	r.bus.Publish(events.TopicRosterChanged,
		RosterChange{Account: account, JID: jid, Action: "removed"})
}
