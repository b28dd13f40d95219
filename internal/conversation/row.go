// Package conversation maintains one conversation's ordered row sequence:
// timestamp-ordered insertion with out-of-order and history placement,
// message-id deduplication, correction chains, visual row merging, read
// marker placement and date-row-aware pruning.
package conversation

import (
	"time"
)

// RowType distinguishes the row variants of a conversation.
type RowType string

const (
	RowChat       RowType = "chat"
	RowDate       RowType = "date"
	RowReadMarker RowType = "read_marker"
	RowInfo       RowType = "info"
	RowStatus     RowType = "status"
)

// Kind classifies a chat message row.
type Kind string

const (
	KindIncoming      Kind = "incoming"
	KindIncomingQueue Kind = "incoming_queue"
	KindOutgoing      Kind = "outgoing"
	KindError         Kind = "error"
	KindStatus        Kind = "status"
	KindInfo          Kind = "info"
)

// IsChat reports whether the kind produces a chat row that participates in
// dedup, merging and read-marker computation.
func (k Kind) IsChat() bool {
	switch k {
	case KindIncoming, KindIncomingQueue, KindOutgoing:
		return true
	}
	return false
}

func (k Kind) isIncoming() bool {
	return k == KindIncoming || k == KindIncomingQueue
}

// Message is the caller-supplied input for one insertion.
type Message struct {
	Text           string
	Kind           Kind
	Name           string
	Timestamp      time.Time
	MessageID      string
	CorrectID      string
	Subject        string
	LogID          string
	Displayed      bool
	AdditionalData map[string]string
}

// Row is one entry of the conversation log.
type Row struct {
	Type           RowType
	Timestamp      time.Time
	Kind           Kind
	Name           string
	MessageID      string
	Text           string
	Subject        string
	LogID          string
	AdditionalData map[string]string

	// Merged collapses the row visually with its predecessor.
	Merged bool
	// Displayed is set once the peer confirmed reading this row.
	Displayed bool
	// Receipt is set once delivery was acknowledged.
	Receipt bool
	Err     string

	// Every message id the row has carried, oldest first. Corrections
	// reassign MessageID but stay addressable through the chain.
	ids []string
	// corrections holds superseded texts, oldest first.
	corrections []string
}

// Corrections returns the superseded texts of the row, oldest first.
func (r *Row) Corrections() []string {
	return append([]string(nil), r.corrections...)
}

const dayFormat = "Mon, 02 Jan 2006"

func dayOf(t time.Time) string {
	return t.Format(dayFormat)
}

// midnightOf truncates a timestamp to the start of its calendar day, the
// timestamp a date separator row carries.
func midnightOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

const minuteFormat = "15:04"

// mergeable reports whether two rows collapse visually: both chat rows of
// the same kind within the same clock minute.
func mergeable(a, b *Row) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Type != RowChat || b.Type != RowChat {
		return false
	}
	return a.Kind == b.Kind &&
		a.Timestamp.Format(minuteFormat) == b.Timestamp.Format(minuteFormat)
}
