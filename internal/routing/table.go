// Package routing maps contacts to windows under one of five windowing
// policies and queues pending notification events until a control consumes
// them.
package routing

import (
	"chatcore/internal/config"
	"chatcore/internal/transport"
	"chatcore/pkg/logger"
)

// Key constants for the shared-window modes.
const (
	mainWindowKey   = "main"
	rosterWindowKey = "roster"
)

// Geometry is the saved size/position applied when a window is created.
type Geometry struct {
	Width     int
	Height    int
	X         int
	Y         int
	Maximized bool
}

// GeometryStore persists per-key window geometry. Implementations live with
// the host configuration; the in-memory store is the default.
type GeometryStore interface {
	Get(key string) (Geometry, bool)
	Put(key string, g Geometry)
}

// MemoryGeometryStore keeps geometry for the process lifetime only.
type MemoryGeometryStore struct {
	m map[string]Geometry
}

func NewMemoryGeometryStore() *MemoryGeometryStore {
	return &MemoryGeometryStore{m: make(map[string]Geometry)}
}

func (s *MemoryGeometryStore) Get(key string) (Geometry, bool) {
	g, ok := s.m[key]
	return g, ok
}

func (s *MemoryGeometryStore) Put(key string, g Geometry) {
	s.m[key] = g
}

// Table is the window routing table. The policy is configuration-selected
// once, not per call.
type Table struct {
	mode     config.WindowMode
	windows  map[string]*Window
	geometry GeometryStore
	log      *logger.Logger
}

func NewTable(mode config.WindowMode, geometry GeometryStore, log *logger.Logger) *Table {
	if geometry == nil {
		geometry = NewMemoryGeometryStore()
	}
	return &Table{
		mode:     mode,
		windows:  make(map[string]*Window),
		geometry: geometry,
		log:      log.Named("routing"),
	}
}

func (t *Table) Mode() config.WindowMode { return t.mode }

// KeyFor is a pure function of the policy and the contact coordinates.
func (t *Table) KeyFor(account, jid, resource string, typ transport.MessageType) string {
	switch t.mode {
	case config.WindowNever:
		key := account + jid
		if resource != "" {
			key += "/" + resource
		}
		return key
	case config.WindowAlways:
		return mainWindowKey
	case config.WindowAlwaysWithRoster:
		return rosterWindowKey
	case config.WindowPerAccount:
		return account
	case config.WindowPerType:
		return string(typ)
	}
	return mainWindowKey
}

// GetWindow returns the window owning a control for (jid, account), or nil.
func (t *Table) GetWindow(jid, account string) *Window {
	for _, win := range t.windows {
		if win.HasControl(jid, account) {
			return win
		}
	}
	return nil
}

// HasWindow reports whether any window owns (jid, account).
func (t *Table) HasWindow(jid, account string) bool {
	return t.GetWindow(jid, account) != nil
}

// Window returns the window stored under a routing key, or nil.
func (t *Table) Window(key string) *Window {
	return t.windows[key]
}

// Windows returns every live window.
func (t *Table) Windows() []*Window {
	out := make([]*Window, 0, len(t.windows))
	for _, win := range t.windows {
		out = append(out, win)
	}
	return out
}

// GetOrCreate returns the window for the routing key of the given contact,
// creating it with its saved geometry if absent.
func (t *Table) GetOrCreate(account, jid, resource string, typ transport.MessageType) *Window {
	key := t.KeyFor(account, jid, resource, typ)
	if win, ok := t.windows[key]; ok {
		return win
	}

	winAccount := ""
	winType := transport.MessageType("")
	switch t.mode {
	case config.WindowPerAccount:
		winAccount = account
	case config.WindowPerType, config.WindowNever:
		winType = typ
	}

	win := newWindow(key, winAccount, winType)
	if g, ok := t.geometry.Get(t.geometryKey(key)); ok {
		win.Geometry = g
	}
	t.windows[key] = win
	t.log.Debugf("created window %s", key)
	return win
}

// geometryKey picks the persisted-geometry bucket per policy: shared modes
// save one geometry, per-account and per-type modes one per key.
func (t *Table) geometryKey(key string) string {
	switch t.mode {
	case config.WindowAlways, config.WindowAlwaysWithRoster:
		return "msgwin"
	default:
		return "msgwin:" + key
	}
}

// SaveGeometry persists a window's current geometry.
func (t *Table) SaveGeometry(win *Window) {
	t.geometry.Put(t.geometryKey(win.Key), win.Geometry)
}

// GetControl returns, amongst all windows, the control for (jid, account).
func (t *Table) GetControl(jid, account string) *Control {
	if win := t.GetWindow(jid, account); win != nil {
		return win.GetControl(jid, account)
	}
	return nil
}

// SearchControl looks for a control bound to the full JID first, then the
// bare JID.
func (t *Table) SearchControl(jid, account, resource string) *Control {
	if resource != "" {
		if ctrl := t.GetControl(jid+"/"+resource, account); ctrl != nil {
			return ctrl
		}
	}
	return t.GetControl(jid, account)
}

// ChangeKey rebinds (oldJID, account) to newJID, moving the window map
// entry in never-merge mode and the control entry always. The destination's
// occupant, if any, is force-closed.
func (t *Table) ChangeKey(oldJID, newJID, account string) {
	win := t.GetWindow(oldJID, account)
	if win == nil {
		return
	}
	if t.mode == config.WindowNever {
		oldKey := account + oldJID
		if existing, ok := t.windows[oldKey]; ok {
			newKey := account + newJID
			if occupant, occupied := t.windows[newKey]; occupied && occupant != existing {
				t.closeWindow(occupant, true)
			}
			t.windows[newKey] = existing
			existing.Key = newKey
			delete(t.windows, oldKey)
		}
	}
	win.ChangeKey(oldJID, newJID, account)
}

// CloseWindow asks every bound session for permission and destroys the
// window only when all of them proceed. A single Cancel vetoes the close; a
// Minimize downgrades the window without destroying session state.
func (t *Table) CloseWindow(key string) CloseDecision {
	win, ok := t.windows[key]
	if !ok {
		return CloseProceed
	}
	return t.closeWindow(win, false)
}

func (t *Table) closeWindow(win *Window, force bool) CloseDecision {
	if !force {
		minimized := false
		for _, ctrl := range win.Controls() {
			if ctrl.Session == nil {
				continue
			}
			switch ctrl.Session.AllowShutdown() {
			case CloseCancel:
				return CloseCancel
			case CloseMinimize:
				minimized = true
			}
		}
		if minimized {
			for _, ctrl := range win.Controls() {
				ctrl.Minimized = true
			}
			return CloseMinimize
		}
	}
	t.SaveGeometry(win)
	delete(t.windows, win.Key)
	return CloseProceed
}
