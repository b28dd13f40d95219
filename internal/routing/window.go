package routing

import (
	"time"

	"chatcore/internal/conversation"
	"chatcore/internal/transport"
)

// CloseDecision is a session's answer to a shutdown request.
type CloseDecision int

const (
	CloseProceed CloseDecision = iota
	CloseCancel
	CloseMinimize
)

// SessionRef lets a window ask its bound sessions whether shutdown is
// allowed without depending on the session package.
type SessionRef interface {
	AllowShutdown() CloseDecision
	SetResource(resource string)
}

// Control is one conversation surface bound into a window. Rendering is
// external; the control owns the log and exposes state the router needs.
type Control struct {
	Account  string
	JID      string
	Resource string
	Type     transport.MessageType
	Log      *conversation.Log
	Session  SessionRef

	Focused bool
	// Minimized keeps the control alive in the background after a vetoed
	// close.
	Minimized bool
}

// Window is one routing bucket: the set of controls grouped under a single
// routing key.
type Window struct {
	Key      string
	Account  string                // set in per-account mode
	Type     transport.MessageType // set in per-type and never modes
	Geometry Geometry

	// account -> jid -> control
	controls        map[string]map[string]*Control
	lastMessageTime map[string]map[string]time.Time
}

func newWindow(key, account string, typ transport.MessageType) *Window {
	return &Window{
		Key:             key,
		Account:         account,
		Type:            typ,
		controls:        make(map[string]map[string]*Control),
		lastMessageTime: make(map[string]map[string]time.Time),
	}
}

// HasControl reports whether the window owns a control for (jid, account).
func (w *Window) HasControl(jid, account string) bool {
	return w.controls[account][jid] != nil
}

// GetControl returns the control for (jid, account), or nil.
func (w *Window) GetControl(jid, account string) *Control {
	return w.controls[account][jid]
}

// AddControl binds a control into the window.
func (w *Window) AddControl(ctrl *Control) {
	if w.controls[ctrl.Account] == nil {
		w.controls[ctrl.Account] = make(map[string]*Control)
	}
	w.controls[ctrl.Account][ctrl.JID] = ctrl
}

// Controls returns every bound control.
func (w *Window) Controls() []*Control {
	var out []*Control
	for _, byJID := range w.controls {
		for _, ctrl := range byJID {
			out = append(out, ctrl)
		}
	}
	return out
}

// NbControls returns the number of bound controls.
func (w *Window) NbControls() int {
	n := 0
	for _, byJID := range w.controls {
		n += len(byJID)
	}
	return n
}

// RemoveControl detaches a control. Unless forced, the bound session is
// asked first; a Minimize answer keeps the control in the background and a
// Cancel answer leaves it untouched.
func (w *Window) RemoveControl(ctrl *Control, force bool) CloseDecision {
	if !force && ctrl.Session != nil {
		switch ctrl.Session.AllowShutdown() {
		case CloseCancel:
			return CloseCancel
		case CloseMinimize:
			ctrl.Minimized = true
			return CloseMinimize
		}
	}
	delete(w.controls[ctrl.Account], ctrl.JID)
	delete(w.lastMessageTime[ctrl.Account], ctrl.JID)
	return CloseProceed
}

// ChangeKey rebinds a control from oldJID to newJID. An occupant at the
// destination is closed first, forcibly; its pending state is discarded
// (last write wins).
func (w *Window) ChangeKey(oldJID, newJID, account string) {
	ctrl := w.controls[account][oldJID]
	if ctrl == nil {
		return
	}
	if occupant := w.controls[account][newJID]; occupant != nil {
		w.RemoveControl(occupant, true)
	}
	delete(w.controls[account], oldJID)
	ctrl.JID = newJID
	w.controls[account][newJID] = ctrl

	if t, ok := w.lastMessageTime[account][oldJID]; ok {
		delete(w.lastMessageTime[account], oldJID)
		w.lastMessageTime[account][newJID] = t
	}
}

// SetLastMessageTime records when (jid, account) last received a message.
func (w *Window) SetLastMessageTime(account, jid string, t time.Time) {
	if w.lastMessageTime[account] == nil {
		w.lastMessageTime[account] = make(map[string]time.Time)
	}
	w.lastMessageTime[account][jid] = t
}

// LastMessageTime returns when (jid, account) last received a message.
func (w *Window) LastMessageTime(account, jid string) time.Time {
	return w.lastMessageTime[account][jid]
}
