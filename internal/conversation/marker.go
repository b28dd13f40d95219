package conversation

import (
	"time"

	"chatcore/internal/events"
)

// The read marker state machine. A marker row marks the newest row the peer
// confirmed reading; it must never regress and never sit behind a newer
// incoming message.

// SetReadMarker records a displayed receipt for the row addressed by id and
// recomputes marker placement. An unknown id is ignored.
func (l *Log) SetReadMarker(id string) {
	row := l.FindByMessageID(id)
	if row == nil {
		return
	}
	row.Displayed = true
	l.updateReadMarker(row.Timestamp)
}

// MarkerTimestamp returns the current marker row's timestamp; ok is false
// when no marker is shown.
func (l *Log) MarkerTimestamp() (time.Time, bool) {
	for _, row := range l.rows {
		if row.Type == RowReadMarker {
			return row.Timestamp, true
		}
	}
	return time.Time{}, false
}

// updateReadMarker runs the marker transitions for the row at the given
// timestamp: drop a marker the conversation moved past, drop a stale marker
// superseded by a newer displayed row, then place a fresh marker after a
// displayed chat row unless a newer incoming message exists.
func (l *Log) updateReadMarker(current time.Time) {
	markerShown := false

	for i, row := range l.rows {
		if row.Type != RowReadMarker {
			continue
		}
		markerShown = true

		if l.lastIncoming.After(row.Timestamp) {
			// Last incoming message is newer than the marker.
			l.removeMarkerAt(i)
			markerShown = false
			break
		}
		if l.lastIncoming.After(current) {
			break
		}
		if current.After(row.Timestamp) {
			if cur := l.firstRowAt(current); cur != nil && cur.Displayed {
				// The current row carries a displayed receipt, so
				// the existing marker is out of date.
				l.removeMarkerAt(i)
				markerShown = false
			}
		}
		break
	}

	if l.lastIncoming.After(current) {
		// Never place a marker behind a newer incoming message. The row
		// being processed may itself be the newest incoming one, so the
		// comparison is strict.
		return
	}
	if markerShown {
		return
	}

	cur := l.firstRowAt(current)
	if cur == nil || cur.Type != RowChat {
		return
	}
	if cur.Displayed {
		l.insertReadMarker(current)
	}
}

func (l *Log) insertReadMarker(t time.Time) {
	ip := bisectRight(l.timestamps, t)
	l.spliceRow(ip, &Row{Type: RowReadMarker, Timestamp: t})
	l.publishMarker(t, true)
}

func (l *Log) removeMarkerAt(index int) {
	t := l.rows[index].Timestamp
	l.removeAt(index)
	l.publishMarker(t, false)
}

// MarkerEvent is the payload published on marker.changed.
type MarkerEvent struct {
	Account   string    `json:"account"`
	JID       string    `json:"jid"`
	Timestamp time.Time `json:"timestamp"`
	Shown     bool      `json:"shown"`
}

func (e MarkerEvent) EventAccount() string { return e.Account }
func (e MarkerEvent) EventJID() string     { return e.JID }

func (l *Log) publishMarker(t time.Time, shown bool) {
	l.bus.Publish(events.TopicMarkerChanged, MarkerEvent{
		Account:   l.account,
		JID:       l.jid,
		Timestamp: t,
		Shown:     shown,
	})
}
