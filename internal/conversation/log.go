package conversation

import (
	"sort"
	"time"

	"chatcore/internal/events"
	"chatcore/pkg/logger"
)

// InsertResult reports what an insertion attempt did.
type InsertResult int

const (
	Inserted InsertResult = iota
	InsertedOutOfOrder
	Duplicate
	Corrected
	CorrectionDropped
)

// RowEvent is the payload published for row.inserted / row.corrected /
// marker.changed.
type RowEvent struct {
	Account   string    `json:"account"`
	JID       string    `json:"jid"`
	Type      RowType   `json:"type"`
	Kind      Kind      `json:"kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Name      string    `json:"name,omitempty"`
	Merged    bool      `json:"merged,omitempty"`
}

func (e RowEvent) EventAccount() string { return e.Account }
func (e RowEvent) EventJID() string     { return e.JID }

// Log is one conversation's ordered row sequence. All mutation happens on
// the core's event loop; the type is not safe for concurrent use.
type Log struct {
	account     string
	jid         string
	isGroupchat bool
	maxRows     int

	// AutoScroll mirrors whether the view is pinned to the end; pruning
	// only happens while it is.
	AutoScroll bool

	log *logger.Logger
	bus *events.Registry

	// rows and timestamps always have identical length; timestamps is the
	// sorted index binary-searched for placement.
	rows       []*Row
	timestamps []time.Time

	insertedIDs map[string]struct{}
	// byID resolves any id a row has ever carried, so correction chains
	// stay addressable while corrections race with reassignment.
	byID map[string]*Row

	firstDate string
	lastDate  string

	// firstMessageTimestamp anchors history-mode placement: the oldest
	// chat row seen so far.
	firstMessageTimestamp time.Time
	lastIncoming          time.Time
}

func NewLog(account, jid string, isGroupchat bool, maxRows int, bus *events.Registry, log *logger.Logger) *Log {
	if maxRows < 1 {
		maxRows = 100
	}
	return &Log{
		account:     account,
		jid:         jid,
		isGroupchat: isGroupchat,
		maxRows:     maxRows,
		AutoScroll:  true,
		log:         log.Named("conversation"),
		bus:         bus,
		insertedIDs: make(map[string]struct{}),
		byID:        make(map[string]*Row),
	}
}

func (l *Log) Account() string { return l.account }
func (l *Log) JID() string     { return l.jid }

// Len returns the number of rows, derived rows included.
func (l *Log) Len() int { return len(l.rows) }

// Rows returns a snapshot of the row sequence.
func (l *Log) Rows() []*Row {
	return append([]*Row(nil), l.rows...)
}

// FirstMessageTimestamp returns the history anchor; zero when no chat row
// was inserted yet.
func (l *Log) FirstMessageTimestamp() time.Time { return l.firstMessageTimestamp }

// Add inserts a live message: appended at the end unless its timestamp
// precedes the last row, in which case it is placed by binary search.
func (l *Log) Add(msg Message) InsertResult {
	return l.addMessage(msg, false)
}

// AddHistory inserts a message from backscroll paging near the front,
// anchored before the oldest chat message seen so far.
func (l *Log) AddHistory(msg Message) InsertResult {
	return l.addMessage(msg, true)
}

func (l *Log) addMessage(msg Message, history bool) InsertResult {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	if msg.CorrectID != "" && msg.Kind.IsChat() {
		return l.applyCorrection(msg.CorrectID, msg)
	}

	if msg.MessageID != "" {
		if _, dup := l.insertedIDs[msg.MessageID]; dup {
			l.log.Debugf("rejecting insertion of duplicate message id %s", msg.MessageID)
			return Duplicate
		}
		l.insertedIDs[msg.MessageID] = struct{}{}
	}

	row := &Row{
		Timestamp:      msg.Timestamp,
		Kind:           msg.Kind,
		Name:           msg.Name,
		MessageID:      msg.MessageID,
		Text:           msg.Text,
		Subject:        msg.Subject,
		LogID:          msg.LogID,
		Displayed:      msg.Displayed,
		AdditionalData: msg.AdditionalData,
	}
	if msg.Kind == KindStatus || msg.Kind == KindInfo || msg.Subject != "" {
		if msg.Kind == KindStatus {
			row.Type = RowStatus
		} else {
			row.Type = RowInfo
		}
	} else {
		row.Type = RowChat
	}
	if msg.MessageID != "" {
		row.ids = []string{msg.MessageID}
		l.byID[msg.MessageID] = row
	}

	outOfOrder := l.insertRow(row, history)

	if row.Type == RowChat {
		l.mergeNeighbors(row)
		l.updateReadMarker(row.Timestamp)
	}

	if l.AutoScroll && len(l.rows) > l.maxRows {
		l.prune()
	}

	l.bus.Publish(events.TopicRowInserted, l.rowEvent(row))

	if outOfOrder {
		return InsertedOutOfOrder
	}
	return Inserted
}

// insertRow places the row and maintains the date separators and anchor
// bookkeeping. Reports whether the out-of-order path was taken.
func (l *Log) insertRow(row *Row, history bool) bool {
	t := row.Timestamp
	currentDate := dayOf(t)

	switch {
	case l.isOutOfOrder(t, history):
		ip := bisectLeft(l.timestamps, t)
		dcp := ip - 1
		if dcp > len(l.timestamps)-1 {
			dcp = len(l.timestamps) - 1
		}
		if dcp < 0 || dayOf(l.timestamps[dcp]) != currentDate {
			l.spliceRow(ip, l.dateRow(t))
			ip++
		}
		l.noteIncoming(row)
		l.spliceRow(ip, row)
		return true

	case history:
		if currentDate != l.firstDate {
			l.spliceRow(0, l.dateRow(t))
		}
		l.firstDate = currentDate
		if row.Kind.IsChat() {
			l.firstMessageTimestamp = t
		}
		l.noteIncoming(row)
		l.spliceRow(1, row)
		if l.lastDate == "" {
			l.lastDate = currentDate
		}
		return false

	default:
		if currentDate != l.lastDate {
			l.spliceRow(len(l.rows), l.dateRow(t))
		}
		if l.firstDate == "" {
			l.firstDate = currentDate
		}
		if row.Kind.IsChat() && l.firstMessageTimestamp.IsZero() {
			l.firstMessageTimestamp = t
		}
		l.noteIncoming(row)
		l.lastDate = currentDate
		l.spliceRow(len(l.rows), row)
		return false
	}
}

// isOutOfOrder decides the placement branch. In history mode a timestamp
// strictly newer than the anchor is out of order; an equal timestamp falls
// through to the plain history branch and lands adjacent to the anchor. In
// live mode any timestamp older than the last row is out of order.
func (l *Log) isOutOfOrder(t time.Time, history bool) bool {
	if history {
		if !l.firstMessageTimestamp.IsZero() {
			return t.After(l.firstMessageTimestamp)
		}
		return false
	}
	if len(l.timestamps) > 0 {
		return t.Before(l.timestamps[len(l.timestamps)-1])
	}
	return false
}

func (l *Log) noteIncoming(row *Row) {
	if row.Kind.isIncoming() && row.Timestamp.After(l.lastIncoming) {
		l.lastIncoming = row.Timestamp
	}
}

func (l *Log) dateRow(t time.Time) *Row {
	return &Row{Type: RowDate, Timestamp: midnightOf(t), Text: dayOf(t)}
}

func (l *Log) spliceRow(index int, row *Row) {
	l.rows = append(l.rows, nil)
	copy(l.rows[index+1:], l.rows[index:])
	l.rows[index] = row

	l.timestamps = append(l.timestamps, time.Time{})
	copy(l.timestamps[index+1:], l.timestamps[index:])
	l.timestamps[index] = row.Timestamp
}

func (l *Log) removeAt(index int) {
	l.rows = append(l.rows[:index], l.rows[index+1:]...)
	l.timestamps = append(l.timestamps[:index], l.timestamps[index+1:]...)
}

// bisectLeft returns the first index whose timestamp is not before t.
func bisectLeft(ts []time.Time, t time.Time) int {
	return sort.Search(len(ts), func(i int) bool { return !ts[i].Before(t) })
}

// bisectRight returns the first index whose timestamp is after t.
func bisectRight(ts []time.Time, t time.Time) int {
	return sort.Search(len(ts), func(i int) bool { return ts[i].After(t) })
}

func (l *Log) indexOf(row *Row) int {
	for i, r := range l.rows {
		if r == row {
			return i
		}
	}
	return -1
}

// firstRowAt returns the first row carrying the given timestamp, mirroring
// a list index lookup on the sorted timestamp sequence.
func (l *Log) firstRowAt(t time.Time) *Row {
	i := bisectLeft(l.timestamps, t)
	if i < len(l.timestamps) && l.timestamps[i].Equal(t) {
		return l.rows[i]
	}
	return nil
}

// mergeNeighbors recomputes the merged flag for the inserted row's
// immediate neighbors only. Group chats never merge.
func (l *Log) mergeNeighbors(row *Row) {
	if l.isGroupchat {
		return
	}
	i := l.indexOf(row)
	if i < 0 {
		return
	}
	var prev, next *Row
	if i > 0 {
		prev = l.rows[i-1]
	}
	if i+1 < len(l.rows) {
		next = l.rows[i+1]
	}
	if mergeable(row, next) {
		next.Merged = true
	}
	if mergeable(row, prev) {
		row.Merged = true
		if mergeable(row, next) {
			next.Merged = true
		}
	}
}

// applyCorrection replaces the target row's text, archives the old text on
// the correction stack, reassigns the row's message id to the new one and
// clears the merged flag. An unresolvable target drops the correction.
func (l *Log) applyCorrection(correctID string, msg Message) InsertResult {
	row, ok := l.byID[correctID]
	if !ok || row.Type != RowChat {
		l.log.Debugf("dropping correction for unknown message id %s", correctID)
		return CorrectionDropped
	}

	row.corrections = append(row.corrections, row.Text)
	row.Text = msg.Text
	row.Name = msg.Name
	if msg.AdditionalData != nil {
		row.AdditionalData = msg.AdditionalData
	}
	// A corrected message never stays visually merged; edits must be
	// obvious.
	row.Merged = false

	if msg.MessageID != "" && msg.MessageID != row.MessageID {
		row.MessageID = msg.MessageID
		row.ids = append(row.ids, msg.MessageID)
		l.byID[msg.MessageID] = row
		l.insertedIDs[msg.MessageID] = struct{}{}
	}

	l.bus.Publish(events.TopicRowCorrected, l.rowEvent(row))
	return Corrected
}

// FindByMessageID returns the chat row currently addressed by the id. A row
// whose id was reassigned by a correction is only found under its newest id.
func (l *Log) FindByMessageID(id string) *Row {
	for _, row := range l.rows {
		if row.MessageID == id {
			return row
		}
	}
	return nil
}

// FirstChatRow returns the oldest chat row, used to re-anchor after pruning.
func (l *Log) FirstChatRow() *Row {
	for _, row := range l.rows {
		if row.Type == RowChat {
			return row
		}
	}
	return nil
}

// SetReceipt flags the row addressed by id as delivered.
func (l *Log) SetReceipt(id string) {
	if row := l.FindByMessageID(id); row != nil {
		row.Receipt = true
	}
}

// SetError attaches an error to the row addressed by id. The row is
// unmerged so the error is visible.
func (l *Log) SetError(id, text string) {
	if row := l.FindByMessageID(id); row != nil {
		row.Err = text
		row.Merged = false
	}
}

// Clear drops every row and resets the bookkeeping.
func (l *Log) Clear() {
	l.rows = nil
	l.timestamps = nil
	l.insertedIDs = make(map[string]struct{})
	l.byID = make(map[string]*Row)
	l.firstDate = ""
	l.lastDate = ""
	l.firstMessageTimestamp = time.Time{}
	l.lastIncoming = time.Time{}
}

func (l *Log) rowEvent(row *Row) RowEvent {
	return RowEvent{
		Account:   l.account,
		JID:       l.jid,
		Type:      row.Type,
		Kind:      row.Kind,
		Timestamp: row.Timestamp,
		MessageID: row.MessageID,
		Text:      row.Text,
		Name:      row.Name,
		Merged:    row.Merged,
	}
}
