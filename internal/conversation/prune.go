package conversation

import "time"

// prune removes oldest rows until the log fits maxRows again, keeping date
// separators coherent: never two consecutive date rows at the front, never
// a date row whose only follower was just removed, and the history anchor
// re-pointed at whatever chat row is oldest afterwards.
func (l *Log) prune() {
	l.PruneToLimit(l.maxRows)
}

// PruneToLimit removes oldest rows while the log holds more than max rows.
func (l *Log) PruneToLimit(max int) {
	for len(l.rows) > max {
		if len(l.rows) < 2 {
			return
		}
		row1, row2 := l.rows[0], l.rows[1]

		if row1.Type == RowDate && row2.Type == RowDate {
			// Two leading date rows: the first is redundant.
			l.removeAt(0)
			l.firstDate = dayOf(row2.Timestamp)
			continue
		}

		if row1.Type == RowDate {
			// Keep the date row, drop its follower instead.
			l.forgetIDs(row2)
			l.removeAt(1)
			l.reanchorFirstMessage(nil)
			continue
		}

		l.forgetIDs(row1)
		l.removeAt(0)
		if l.rows[0].Type == RowChat {
			l.reanchorFirstMessage(l.rows[0])
		} else {
			l.reanchorFirstMessage(nil)
		}
	}
}

func (l *Log) forgetIDs(row *Row) {
	for _, id := range row.ids {
		delete(l.insertedIDs, id)
		delete(l.byID, id)
	}
}

// reanchorFirstMessage repoints the history anchor; with a nil hint it
// rescans for the oldest remaining chat row.
func (l *Log) reanchorFirstMessage(hint *Row) {
	if hint != nil {
		l.firstMessageTimestamp = hint.Timestamp
		return
	}
	if chat := l.FirstChatRow(); chat != nil {
		l.firstMessageTimestamp = chat.Timestamp
	} else {
		l.firstMessageTimestamp = time.Time{}
	}
}
