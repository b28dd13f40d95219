package identity

import (
	"reflect"
	"testing"

	"chatcore/internal/events"
	"chatcore/pkg/logger"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(logger.New(logger.DevelopmentMode))
	r.AddAccount("acc1", "example.org")
	r.AddAccount("acc2", "example.net")
	return r
}

func addContact(r *Registry, account, jid, resource string, priority int, show Show) *Contact {
	c := &Contact{JID: jid, Resource: resource, Priority: priority, Show: show}
	r.AddContact(account, c)
	return c
}

func TestHighestPriority(t *testing.T) {
	r := newTestRegistry(t)
	addContact(r, "acc1", "romeo@example.org", "phone", 5, ShowOnline)
	laptop := addContact(r, "acc1", "romeo@example.org", "laptop", 10, ShowAway)
	addContact(r, "acc1", "romeo@example.org", "tablet", 10, ShowOnline)

	got := r.HighestPriority("acc1", "romeo@example.org")
	if got != laptop {
		t.Fatalf("HighestPriority = %v, want laptop contact (stable tie-break)", got)
	}
	if r.HighestPriority("acc1", "nobody@example.org") != nil {
		t.Fatal("expected nil for unknown jid")
	}
}

func TestHighestPriorityRoomNickFallback(t *testing.T) {
	r := newTestRegistry(t)
	occupant := &Contact{JID: "room@muc.example.org", Resource: "juliet"}
	r.AddGroupchatContact("acc1", occupant, "juliet")

	got := r.HighestPriority("acc1", "room@muc.example.org/juliet")
	if got != occupant {
		t.Fatalf("room/nick fallback = %v, want occupant", got)
	}
}

func TestSynthesizeTransient(t *testing.T) {
	r := newTestRegistry(t)
	c := r.ResolveForStanza("acc1", "stranger@example.com", "", "Stranger")
	if c == nil || !c.Transient {
		t.Fatalf("expected transient contact, got %+v", c)
	}
	if c.Show != ShowNotInRoster {
		t.Fatalf("transient show = %q, want %q", c.Show, ShowNotInRoster)
	}
	// The transient entry is registered so later messages reuse it.
	if again := r.ResolveForStanza("acc1", "stranger@example.com", "", ""); again != c {
		t.Fatal("transient contact not reused")
	}
}

func TestResolveForStanzaInvisibleResource(t *testing.T) {
	r := newTestRegistry(t)
	addContact(r, "acc1", "romeo@example.org", "phone", 5, ShowOnline)

	c := r.ResolveForStanza("acc1", "romeo@example.org", "ghost", "")
	if c == nil {
		t.Fatal("expected synthesized resource copy")
	}
	if c.Resource != "ghost" || c.Show != ShowOffline || c.Priority != 0 {
		t.Fatalf("invisible-resource copy = %+v", c)
	}
}

func TestBigBrotherDeterministic(t *testing.T) {
	r := newTestRegistry(t)
	meta := NewMetaManager(r, true)
	addContact(r, "acc1", "romeo@example.org", "", 10, ShowOnline)
	addContact(r, "acc2", "romeo@example.net", "", 20, ShowOffline)
	meta.AddMetacontact("acc1", "romeo@example.org", "acc2", "romeo@example.net", 0, false)

	family := meta.Family("acc1", "romeo@example.org")
	if len(family) != 2 {
		t.Fatalf("family size = %d, want 2", len(family))
	}

	// Online member beats the offline one regardless of priority.
	bb := meta.BigBrother(family)
	if bb.JID != "romeo@example.org" {
		t.Fatalf("big brother = %s, want romeo@example.org", bb.JID)
	}

	// P5: repeated election without mutation is stable.
	if again := meta.BigBrother(family); again != bb {
		t.Fatalf("election not deterministic: %v vs %v", bb, again)
	}
}

func TestBigBrotherShowAndPriority(t *testing.T) {
	r := newTestRegistry(t)
	meta := NewMetaManager(r, true)
	addContact(r, "acc1", "a@example.org", "", 5, ShowOnline)
	addContact(r, "acc1", "b@example.org", "", 10, ShowOnline)
	meta.AddMetacontact("acc1", "a@example.org", "acc1", "b@example.org", 0, false)

	bb := meta.BigBrother(meta.Family("acc1", "a@example.org"))
	if bb.JID != "b@example.org" {
		t.Fatalf("big brother = %s, want higher priority b@example.org", bb.JID)
	}
}

func TestFamilyMergeScenario(t *testing.T) {
	// Scenario E: merging two families yields one family with exactly one
	// big brother, reachable from either member.
	r := newTestRegistry(t)
	meta := NewMetaManager(r, true)
	addContact(r, "acc1", "a@example.org", "", 0, ShowOnline)
	addContact(r, "acc1", "b@example.org", "", 0, ShowOnline)
	addContact(r, "acc2", "c@example.net", "", 0, ShowOnline)

	meta.AddMetacontact("acc1", "a@example.org", "acc2", "c@example.net", 0, false)
	// Drag b onto a: b joins a's family, leaving any previous tag.
	meta.AddMetacontact("acc1", "a@example.org", "acc1", "b@example.org", 0, false)

	famA := meta.Family("acc1", "a@example.org")
	famB := meta.Family("acc1", "b@example.org")
	if len(famA) != 3 {
		t.Fatalf("merged family size = %d, want 3", len(famA))
	}
	if !reflect.DeepEqual(famA, famB) {
		t.Fatalf("family lookup differs by member: %v vs %v", famA, famB)
	}

	bbs := map[string]bool{}
	for _, member := range famA {
		if meta.IsBigBrother(member.Account, member.JID) {
			bbs[member.Account+"/"+member.JID] = true
		}
	}
	if len(bbs) != 1 {
		t.Fatalf("big brother count = %d (%v), want exactly 1", len(bbs), bbs)
	}
}

func TestNearbyFamilySplitByAccount(t *testing.T) {
	r := newTestRegistry(t)
	meta := NewMetaManager(r, false)
	addContact(r, "acc1", "a@example.org", "", 0, ShowOnline)
	addContact(r, "acc2", "b@example.net", "", 0, ShowOnline)
	meta.AddMetacontact("acc1", "a@example.org", "acc2", "b@example.net", 0, false)

	family := meta.Family("acc1", "a@example.org")
	nearby := meta.NearbyFamily(family, "acc1")
	if len(nearby) != 1 || nearby[0].JID != "a@example.org" {
		t.Fatalf("nearby family = %v, want only acc1 member", nearby)
	}
}

func TestRosterFamilyReinsert(t *testing.T) {
	r := newTestRegistry(t)
	meta := NewMetaManager(r, true)
	bus := events.NewRegistry()
	roster := NewRoster(r, meta, bus, logger.New(logger.DevelopmentMode))

	a := addContact(r, "acc1", "a@example.org", "", 0, ShowOnline)
	addContact(r, "acc1", "b@example.org", "", 0, ShowOffline)
	meta.AddMetacontact("acc1", "a@example.org", "acc1", "b@example.org", 0, false)

	roster.AddContact("acc1", "a@example.org")
	if row := roster.Row("acc1", "a@example.org"); row == nil || !row.TopLevel() {
		t.Fatalf("a should be the top-level row, got %+v", row)
	}
	if row := roster.Row("acc1", "b@example.org"); row == nil || row.TopLevel() {
		t.Fatalf("b should sit under a, got %+v", row)
	}

	// a goes offline, b comes online: the election flips and recalibrate
	// must rebuild the family with b on top.
	a.Show = ShowOffline
	r.GetContact("acc1", "b@example.org", "").Show = ShowOnline
	roster.RecalibrateFamily(meta.Family("acc1", "a@example.org"), "acc1")

	if row := roster.Row("acc1", "b@example.org"); row == nil || !row.TopLevel() {
		t.Fatalf("b should be top-level after recalibrate, got %+v", row)
	}
	if row := roster.Row("acc1", "a@example.org"); row == nil || row.TopLevel() {
		t.Fatalf("a should be demoted under b, got %+v", row)
	}
}

func TestRosterRemoveFamilyMember(t *testing.T) {
	r := newTestRegistry(t)
	meta := NewMetaManager(r, true)
	roster := NewRoster(r, meta, events.NewRegistry(), logger.New(logger.DevelopmentMode))

	addContact(r, "acc1", "a@example.org", "", 0, ShowOnline)
	addContact(r, "acc1", "b@example.org", "", 0, ShowOffline)
	meta.AddMetacontact("acc1", "a@example.org", "acc1", "b@example.org", 0, false)
	roster.AddContact("acc1", "a@example.org")

	meta.RemoveMetacontact("acc1", "a@example.org")
	roster.RemoveContact("acc1", "a@example.org")

	if roster.Row("acc1", "a@example.org") != nil {
		t.Fatal("a still displayed after removal")
	}
	if row := roster.Row("acc1", "b@example.org"); row == nil || !row.TopLevel() {
		t.Fatalf("b should remain as its own top-level row, got %+v", row)
	}
}

func TestBatchScanner(t *testing.T) {
	r := newTestRegistry(t)
	for _, jid := range []string{"a@x.org", "b@x.org", "c@x.org", "d@x.org", "e@x.org"} {
		addContact(r, "acc1", jid, "", 0, ShowOnline)
	}

	s := r.Scanner(2)
	var sizes []int
	total := 0
	for {
		batch, ok := s.Next()
		if !ok {
			break
		}
		sizes = append(sizes, len(batch))
		total += len(batch)
	}
	if total != 5 {
		t.Fatalf("scanned %d items, want 5", total)
	}
	if !reflect.DeepEqual(sizes, []int{2, 2, 1}) {
		t.Fatalf("batch sizes = %v, want [2 2 1]", sizes)
	}
	if _, ok := s.Next(); ok {
		t.Fatal("exhausted scanner returned another batch")
	}
}
