package identity

import (
	"sort"
)

// MetaMember is one member of a metacontact family.
type MetaMember struct {
	Account string
	JID     string
	Tag     string
	// Order is a user-assigned preference; HasOrder distinguishes an
	// explicit zero from no order at all.
	Order    int
	HasOrder bool
}

// Family is the full membership of one metacontact tag across accounts.
type Family []MetaMember

// Contains reports whether the family has a member for (account, jid).
func (f Family) Contains(account, jid string) bool {
	for _, m := range f {
		if m.Account == account && m.JID == jid {
			return true
		}
	}
	return false
}

// MetaManager stores metacontact tags and elects big brothers. Election is a
// pure function of the family membership and the registry's contact states,
// so repeated calls without intervening mutation return the same member.
type MetaManager struct {
	registry      *Registry
	mergeAccounts bool
	// account -> tag -> members
	tags map[string]map[string][]MetaMember
}

func NewMetaManager(registry *Registry, mergeAccounts bool) *MetaManager {
	return &MetaManager{
		registry:      registry,
		mergeAccounts: mergeAccounts,
		tags:          make(map[string]map[string][]MetaMember),
	}
}

func (m *MetaManager) tagOf(account, jid string) string {
	for tag, members := range m.tags[account] {
		for _, member := range members {
			if member.JID == jid {
				return tag
			}
		}
	}
	return ""
}

func (m *MetaManager) ensureAccount(account string) {
	if m.tags[account] == nil {
		m.tags[account] = make(map[string][]MetaMember)
	}
}

// AddMetacontact tags (account, jid) as the same person as
// (brotherAccount, brotherJID). The jid is removed from any previous tag
// first; a jid belongs to at most one family.
func (m *MetaManager) AddMetacontact(brotherAccount, brotherJID, account, jid string, order int, hasOrder bool) {
	m.ensureAccount(brotherAccount)
	m.ensureAccount(account)

	tag := m.tagOf(brotherAccount, brotherJID)
	if tag == "" {
		tag = brotherJID
		m.tags[brotherAccount][tag] = []MetaMember{
			{Account: brotherAccount, JID: brotherJID, Tag: tag},
		}
	}

	for m.tagOf(account, jid) != "" {
		m.RemoveMetacontact(account, jid)
	}

	member := MetaMember{Account: account, JID: jid, Tag: tag, Order: order, HasOrder: hasOrder}
	m.tags[account][tag] = append(m.tags[account][tag], member)
}

// RemoveMetacontact removes (account, jid) from its family, if any.
func (m *MetaManager) RemoveMetacontact(account, jid string) {
	for tag, members := range m.tags[account] {
		for i, member := range members {
			if member.JID == jid {
				m.tags[account][tag] = append(members[:i], members[i+1:]...)
				if len(m.tags[account][tag]) == 0 {
					delete(m.tags[account], tag)
				}
				return
			}
		}
	}
}

// Family returns the family containing (account, jid) across all accounts,
// or nil when the jid is untagged.
func (m *MetaManager) Family(account, jid string) Family {
	tag := m.tagOf(account, jid)
	if tag == "" {
		return nil
	}
	var family Family
	for acct, tags := range m.tags {
		for _, member := range tags[tag] {
			member.Account = acct
			family = append(family, member)
		}
	}
	sort.Slice(family, func(i, j int) bool {
		if family[i].Account != family[j].Account {
			return family[i].Account < family[j].Account
		}
		return family[i].JID < family[j].JID
	})
	return family
}

// HasBrother reports whether (account, jid) shares its family with another
// member.
func (m *MetaManager) HasBrother(account, jid string) bool {
	return len(m.Family(account, jid)) > 1
}

// NearbyFamily returns the part of the family grouped with the given
// account. With merged accounts the whole family is nearby; otherwise it is
// split account-wise.
func (m *MetaManager) NearbyFamily(family Family, account string) Family {
	if m.mergeAccounts {
		return family
	}
	var nearby Family
	for _, member := range family {
		if member.Account == account {
			nearby = append(nearby, member)
		}
	}
	return nearby
}

// BigBrother elects the canonical display member of a family. The family
// must be non-empty.
func (m *MetaManager) BigBrother(family Family) MetaMember {
	sorted := append(Family(nil), family...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return m.compare(sorted[i], sorted[j]) < 0
	})
	return sorted[len(sorted)-1]
}

// NearbyFamilyAndBigBrother combines NearbyFamily and BigBrother; ok is
// false when no member of the family is nearby.
func (m *MetaManager) NearbyFamilyAndBigBrother(family Family, account string) (Family, MetaMember, bool) {
	nearby := m.NearbyFamily(family, account)
	if len(nearby) == 0 {
		return nil, MetaMember{}, false
	}
	return nearby, m.BigBrother(nearby), true
}

// IsBigBrother reports whether (account, jid) is the elected member of its
// nearby family.
func (m *MetaManager) IsBigBrother(account, jid string) bool {
	family := m.Family(account, jid)
	if family == nil {
		return false
	}
	nearby := m.NearbyFamily(family, account)
	if len(nearby) == 0 {
		return false
	}
	bb := m.BigBrother(nearby)
	return bb.JID == jid && bb.Account == account
}

// compare orders two family members; the greater one wins the election.
func (m *MetaManager) compare(a, b MetaMember) int {
	contactA := m.registry.HighestPriority(a.Account, a.JID)
	contactB := m.registry.HighestPriority(b.Account, b.JID)

	// A member whose jid is not in our roster never wins over a known one.
	if contactA == nil && contactB != nil {
		return -1
	}
	if contactB == nil && contactA != nil {
		return 1
	}

	var showA, showB, prioA, prioB int
	if contactA != nil {
		showA, prioA = contactA.Show.Rank(), contactA.Priority
	}
	if contactB != nil {
		showB, prioB = contactB.Show.Rank(), contactB.Priority
	}

	// If only one is offline, it is always second.
	if !rankIsOffline(showA) && rankIsOffline(showB) {
		return 1
	}
	if !rankIsOffline(showB) && rankIsOffline(showA) {
		return -1
	}

	if a.HasOrder && b.HasOrder {
		if a.Order != b.Order {
			if a.Order > b.Order {
				return 1
			}
			return -1
		}
	} else if a.HasOrder {
		return 1
	} else if b.HasOrder {
		return -1
	}

	transportA := IsTransport(a.JID)
	transportB := IsTransport(b.JID)
	if transportB && !transportA {
		return 1
	}
	if transportA && !transportB {
		return -1
	}

	if showA != showB {
		if showA > showB {
			return 1
		}
		return -1
	}
	if prioA != prioB {
		if prioA > prioB {
			return 1
		}
		return -1
	}

	// Prefer the member hosted on its own account's server.
	homeA := ServerOf(a.JID) == m.registry.Hostname(a.Account)
	homeB := ServerOf(b.JID) == m.registry.Hostname(b.Account)
	if homeA && !homeB {
		return 1
	}
	if homeB && !homeA {
		return -1
	}

	if a.JID != b.JID {
		if a.JID > b.JID {
			return 1
		}
		return -1
	}
	if a.Account != b.Account {
		if a.Account > b.Account {
			return 1
		}
		return -1
	}
	return 0
}

func rankIsOffline(rank int) bool {
	return rank < showRanks[ShowInvisible]
}
