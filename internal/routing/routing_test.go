package routing

import (
	"testing"
	"time"

	"chatcore/internal/config"
	"chatcore/internal/events"
	"chatcore/internal/transport"
	"chatcore/pkg/logger"
)

var testLogger = logger.New(logger.DevelopmentMode)

func TestKeyForPolicies(t *testing.T) {
	tests := []struct {
		mode     config.WindowMode
		resource string
		want     string
	}{
		{config.WindowNever, "", "acc1romeo@example.org"},
		{config.WindowNever, "phone", "acc1romeo@example.org/phone"},
		{config.WindowAlways, "", "main"},
		{config.WindowAlwaysWithRoster, "", "roster"},
		{config.WindowPerAccount, "", "acc1"},
		{config.WindowPerType, "", "chat"},
	}
	for _, tc := range tests {
		table := NewTable(tc.mode, nil, testLogger)
		got := table.KeyFor("acc1", "romeo@example.org", tc.resource, transport.TypeChat)
		if got != tc.want {
			t.Errorf("mode %s: key = %q, want %q", tc.mode, got, tc.want)
		}
	}
}

func TestGetOrCreateShares(t *testing.T) {
	table := NewTable(config.WindowAlways, nil, testLogger)
	w1 := table.GetOrCreate("acc1", "a@example.org", "", transport.TypeChat)
	w2 := table.GetOrCreate("acc2", "b@example.org", "", transport.TypeGroupchat)
	if w1 != w2 {
		t.Fatal("always mode must share one window")
	}

	table = NewTable(config.WindowPerAccount, nil, testLogger)
	w1 = table.GetOrCreate("acc1", "a@example.org", "", transport.TypeChat)
	w2 = table.GetOrCreate("acc2", "b@example.org", "", transport.TypeChat)
	if w1 == w2 {
		t.Fatal("per-account mode must split by account")
	}
}

func newControl(account, jid string, session SessionRef) *Control {
	return &Control{
		Account: account,
		JID:     jid,
		Type:    transport.TypeChat,
		Session: session,
	}
}

type stubSession struct {
	decision CloseDecision
	resource string
}

func (s *stubSession) AllowShutdown() CloseDecision { return s.decision }
func (s *stubSession) SetResource(r string)         { s.resource = r }

func TestChangeKeyForcesOutOccupant(t *testing.T) {
	table := NewTable(config.WindowAlways, nil, testLogger)
	win := table.GetOrCreate("acc1", "old@example.org", "", transport.TypeChat)

	moving := newControl("acc1", "old@example.org", &stubSession{decision: CloseCancel})
	occupant := newControl("acc1", "new@example.org", &stubSession{decision: CloseCancel})
	win.AddControl(moving)
	win.AddControl(occupant)
	win.SetLastMessageTime("acc1", "old@example.org", time.Unix(42, 0))

	table.ChangeKey("old@example.org", "new@example.org", "acc1")

	got := win.GetControl("new@example.org", "acc1")
	if got != moving {
		t.Fatal("moving control did not take over the destination key")
	}
	if win.HasControl("old@example.org", "acc1") {
		t.Fatal("old key still occupied")
	}
	// The occupant was closed forcibly despite its Cancel answer.
	if win.NbControls() != 1 {
		t.Fatalf("control count = %d, want 1", win.NbControls())
	}
	if !win.LastMessageTime("acc1", "new@example.org").Equal(time.Unix(42, 0)) {
		t.Fatal("last-message time not carried over")
	}
}

func TestChangeKeyMovesWindowInNeverMode(t *testing.T) {
	table := NewTable(config.WindowNever, nil, testLogger)
	win := table.GetOrCreate("acc1", "room@muc.org/oldnick", "", transport.TypePM)
	win.AddControl(newControl("acc1", "room@muc.org/oldnick", nil))

	table.ChangeKey("room@muc.org/oldnick", "room@muc.org/newnick", "acc1")

	if table.Window("acc1room@muc.org/oldnick") != nil {
		t.Fatal("old window key still registered")
	}
	moved := table.Window("acc1room@muc.org/newnick")
	if moved != win {
		t.Fatal("window not moved to new key")
	}
	if !win.HasControl("room@muc.org/newnick", "acc1") {
		t.Fatal("control not rebound")
	}
}

func TestCloseWindowThreeWay(t *testing.T) {
	tests := []struct {
		name     string
		decision CloseDecision
		want     CloseDecision
		kept     bool
	}{
		{"proceed", CloseProceed, CloseProceed, false},
		{"cancel", CloseCancel, CloseCancel, true},
		{"minimize", CloseMinimize, CloseMinimize, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			table := NewTable(config.WindowAlways, nil, testLogger)
			win := table.GetOrCreate("acc1", "a@example.org", "", transport.TypeChat)
			ctrl := newControl("acc1", "a@example.org", &stubSession{decision: tc.decision})
			win.AddControl(ctrl)

			got := table.CloseWindow(win.Key)
			if got != tc.want {
				t.Fatalf("CloseWindow = %v, want %v", got, tc.want)
			}
			if kept := table.Window(win.Key) != nil; kept != tc.kept {
				t.Fatalf("window kept = %v, want %v", kept, tc.kept)
			}
			if tc.decision == CloseMinimize && !ctrl.Minimized {
				t.Fatal("control not minimized")
			}
		})
	}
}

func TestSearchControlPrefersFullJID(t *testing.T) {
	table := NewTable(config.WindowAlways, nil, testLogger)
	win := table.GetOrCreate("acc1", "a@example.org", "", transport.TypeChat)
	bare := newControl("acc1", "a@example.org", nil)
	full := newControl("acc1", "a@example.org/phone", nil)
	win.AddControl(bare)
	win.AddControl(full)

	if got := table.SearchControl("a@example.org", "acc1", "phone"); got != full {
		t.Fatal("full-JID control should win")
	}
	if got := table.SearchControl("a@example.org", "acc1", "tablet"); got != bare {
		t.Fatal("unknown resource should fall back to bare control")
	}
}

func TestMailbox(t *testing.T) {
	bus := events.NewRegistry()
	var added, removed int
	subAdd := bus.Subscribe(events.TopicEventAdded, func(string, interface{}) { added++ })
	defer subAdd.Unsubscribe()
	subRem := bus.Subscribe(events.TopicEventRemoved, func(string, interface{}) { removed++ })
	defer subRem.Unsubscribe()

	m := NewMailbox(bus)
	m.AddEvent("acc1", "a@example.org", &ChatEvent{Account: "acc1", JID: "a@example.org", Type: "chat"})
	m.AddEvent("acc1", "a@example.org", &ChatEvent{Account: "acc1", JID: "a@example.org", Type: "pm"})

	if got := len(m.GetEvents("acc1", "a@example.org")); got != 2 {
		t.Fatalf("event count = %d, want 2", got)
	}
	if got := len(m.GetEvents("acc1", "a@example.org", "chat")); got != 1 {
		t.Fatalf("filtered count = %d, want 1", got)
	}

	m.RemoveEvents("acc1", "a@example.org", "chat")
	if got := m.Count("acc1", "a@example.org"); got != 1 {
		t.Fatalf("count after removal = %d, want 1", got)
	}

	// Removal is idempotent.
	m.RemoveEvents("acc1", "a@example.org", "chat")
	m.RemoveEvents("acc1", "nobody@example.org")
	if added != 2 || removed != 1 {
		t.Fatalf("bus fired add=%d remove=%d, want 2/1", added, removed)
	}
}

func TestMailboxChangeJID(t *testing.T) {
	m := NewMailbox(events.NewRegistry())
	m.AddEvent("acc1", "old@example.org", &ChatEvent{Account: "acc1", JID: "old@example.org", Type: "chat"})
	m.ChangeJID("acc1", "old@example.org", "new@example.org")

	if m.Count("acc1", "old@example.org") != 0 {
		t.Fatal("old queue not emptied")
	}
	evs := m.GetEvents("acc1", "new@example.org")
	if len(evs) != 1 || evs[0].JID != "new@example.org" {
		t.Fatalf("moved events = %+v", evs)
	}
}
