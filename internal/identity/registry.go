package identity

import (
	"strings"

	"chatcore/pkg/logger"
)

type accountContacts struct {
	hostname string
	// bare JID -> one contact per resource
	contacts map[string][]*Contact
	// room JID -> nick -> contact
	gcContacts map[string]map[string]*Contact
}

// Registry holds every known contact of every connected account. It replaces
// ambient per-account dictionaries with an injected service object; all
// lookups take explicit account/jid arguments.
type Registry struct {
	log      *logger.Logger
	accounts map[string]*accountContacts
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		log:      log.Named("contacts"),
		accounts: make(map[string]*accountContacts),
	}
}

// AddAccount registers a connected account and its server hostname.
func (r *Registry) AddAccount(account, hostname string) {
	if _, ok := r.accounts[account]; ok {
		return
	}
	r.accounts[account] = &accountContacts{
		hostname:   hostname,
		contacts:   make(map[string][]*Contact),
		gcContacts: make(map[string]map[string]*Contact),
	}
}

// RemoveAccount drops an account and all its contacts.
func (r *Registry) RemoveAccount(account string) {
	delete(r.accounts, account)
}

// Accounts returns the registered account names.
func (r *Registry) Accounts() []string {
	names := make([]string, 0, len(r.accounts))
	for name := range r.accounts {
		names = append(names, name)
	}
	return names
}

// Hostname returns the server hostname configured for the account.
func (r *Registry) Hostname(account string) string {
	if acct, ok := r.accounts[account]; ok {
		return acct.hostname
	}
	return ""
}

// AddContact inserts a contact; a second contact with the same resource
// replaces the first.
func (r *Registry) AddContact(account string, contact *Contact) {
	acct, ok := r.accounts[account]
	if !ok {
		return
	}
	existing := acct.contacts[contact.JID]
	for i, c := range existing {
		if c.Resource == contact.Resource {
			existing[i] = contact
			return
		}
	}
	acct.contacts[contact.JID] = append(existing, contact)
}

// RemoveContact removes one resource contact of a bare JID.
func (r *Registry) RemoveContact(account string, contact *Contact) {
	acct, ok := r.accounts[account]
	if !ok {
		return
	}
	existing := acct.contacts[contact.JID]
	for i, c := range existing {
		if c == contact || c.Resource == contact.Resource {
			acct.contacts[contact.JID] = append(existing[:i], existing[i+1:]...)
			break
		}
	}
	if len(acct.contacts[contact.JID]) == 0 {
		delete(acct.contacts, contact.JID)
	}
}

// GetContacts returns every resource contact known for the bare JID.
func (r *Registry) GetContacts(account, bareJID string) []*Contact {
	acct, ok := r.accounts[account]
	if !ok {
		return nil
	}
	return acct.contacts[bareJID]
}

// GetContact returns the contact for a specific resource. With an empty
// resource it behaves like HighestPriority.
func (r *Registry) GetContact(account, bareJID, resource string) *Contact {
	if resource == "" {
		return r.HighestPriority(account, bareJID)
	}
	for _, c := range r.GetContacts(account, bareJID) {
		if c.Resource == resource {
			return c
		}
	}
	return nil
}

// FirstContact returns the first known contact for the bare JID.
func (r *Registry) FirstContact(account, bareJID string) *Contact {
	contacts := r.GetContacts(account, bareJID)
	if len(contacts) == 0 {
		return nil
	}
	return contacts[0]
}

// HighestPriority returns the resource contact with the numerically highest
// priority. Ties keep the earliest inserted contact. A JID containing a
// slash is also tried as room/nick, since private chat contacts are keyed
// by full JID.
func (r *Registry) HighestPriority(account, bareJID string) *Contact {
	contacts := r.GetContacts(account, bareJID)
	if len(contacts) == 0 && strings.Contains(bareJID, "/") {
		room, nick, _ := strings.Cut(bareJID, "/")
		return r.GetGroupchatContact(account, room, nick)
	}
	return highestPriority(contacts)
}

func highestPriority(contacts []*Contact) *Contact {
	if len(contacts) == 0 {
		return nil
	}
	prim := contacts[0]
	for _, c := range contacts[1:] {
		if c.Priority > prim.Priority {
			prim = c
		}
	}
	return prim
}

// ChangeContactJID rebinds every contact stored under oldJID to newJID.
func (r *Registry) ChangeContactJID(oldJID, newJID, account string) {
	acct, ok := r.accounts[account]
	if !ok {
		return
	}
	contacts, ok := acct.contacts[oldJID]
	if !ok {
		return
	}
	delete(acct.contacts, oldJID)
	for _, c := range contacts {
		c.JID = newJID
	}
	acct.contacts[newJID] = append(acct.contacts[newJID], contacts...)
}

// JIDList returns every bare JID known for the account.
func (r *Registry) JIDList(account string) []string {
	acct, ok := r.accounts[account]
	if !ok {
		return nil
	}
	jids := make([]string, 0, len(acct.contacts))
	for jid := range acct.contacts {
		jids = append(jids, jid)
	}
	return jids
}

// AddGroupchatContact stores a room occupant keyed by room JID and nick.
func (r *Registry) AddGroupchatContact(account string, contact *Contact, nick string) {
	acct, ok := r.accounts[account]
	if !ok {
		return
	}
	if acct.gcContacts[contact.JID] == nil {
		acct.gcContacts[contact.JID] = make(map[string]*Contact)
	}
	acct.gcContacts[contact.JID][nick] = contact
}

// GetGroupchatContact returns the occupant contact for room/nick.
func (r *Registry) GetGroupchatContact(account, roomJID, nick string) *Contact {
	acct, ok := r.accounts[account]
	if !ok {
		return nil
	}
	return acct.gcContacts[roomJID][nick]
}

// SynthesizeTransient creates and registers a transient contact for a JID
// that is not in the roster, so an inbound message can still be displayed.
// The contact is flagged and never written back to the server roster.
func (r *Registry) SynthesizeTransient(account, bareJID, nickname string) *Contact {
	name := nickname
	if name == "" {
		name = bareJID
	}
	contact := &Contact{
		JID:       bareJID,
		Name:      name,
		Show:      ShowNotInRoster,
		Groups:    []string{"Not in contact list"},
		Transient: true,
	}
	r.AddContact(account, contact)
	r.log.Debugf("synthesized transient contact %s on %s", bareJID, account)
	return contact
}

// ResolveForStanza picks the display contact for an inbound message, in
// priority order: exact resource match, an invisible-resource copy when
// other resources are online, the highest priority contact, and finally a
// synthesized transient contact.
func (r *Registry) ResolveForStanza(account, bareJID, resource, nickname string) *Contact {
	var contact *Contact
	if resource != "" {
		contact = r.GetContact(account, bareJID, resource)
	}
	if contact != nil {
		return contact
	}

	highest := r.HighestPriority(account, bareJID)
	all := r.GetContacts(account, bareJID)

	// A message from an unlisted resource while the JID is otherwise
	// known means an invisible resource: register an offline copy.
	fromInvisible := len(all) > 1 ||
		(len(all) == 1 && all[0].Resource != "" && all[0].Show != ShowOffline)
	if fromInvisible && strings.Contains(bareJID, "@") && highest != nil {
		contact = highest.Copy()
		contact.Resource = resource
		contact.Priority = 0
		contact.Show = ShowOffline
		contact.Status = ""
		r.AddContact(account, contact)
		return contact
	}

	if highest != nil {
		return highest
	}
	return r.SynthesizeTransient(account, bareJID, nickname)
}
